package store

import (
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/hashicorp/go-msgpack/v2/codec"
)

var entriesBucket = []byte("entries")

// record is the on-disk shape of a bolt entry
type record struct {
	Value     string
	UpdatedAt int64
}

// BoltStore persists a replica's entries in a bolt file
type BoltStore struct {
	db     *bolt.DB
	handle *codec.MsgpackHandle
}

// OpenBoltStore opens (or creates) the bolt file at path
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db, handle: &codec.MsgpackHandle{}}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) (string, error) {
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(entriesBucket).Get([]byte(key))
		if raw == nil {
			return ErrKeyNotFound
		}
		return s.decode(raw, &rec)
	})
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

func (s *BoltStore) Put(_ context.Context, key, value string) error {
	raw, err := s.encode(&record{Value: value, UpdatedAt: time.Now().UnixNano()})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(key), raw)
	})
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(key))
	})
}

func (s *BoltStore) Contains(_ context.Context, key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(entriesBucket).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Keys iterates the bucket; bolt keeps keys byte-sorted.
func (s *BoltStore) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) encode(rec *record) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, s.handle).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf, nil
}

func (s *BoltStore) decode(raw []byte, rec *record) error {
	if err := codec.NewDecoderBytes(raw, s.handle).Decode(rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
