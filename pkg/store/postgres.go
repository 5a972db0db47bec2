package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS kv_entries (
	replica_id INTEGER NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (replica_id, key)
)`

// PostgresStore keeps a replica's entries in a shared Postgres table, partitioned by replica id
type PostgresStore struct {
	db        *sql.DB
	replicaID int
}

// OpenPostgresStore connects through the pgx stdlib driver and ensures the table exists
func OpenPostgresStore(ctx context.Context, dsn string, replicaID int) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return initPostgresStore(ctx, db, replicaID)
}

// initPostgresStore takes ownership of db and closes it if the store cannot be set up
func initPostgresStore(ctx context.Context, db *sql.DB, replicaID int) (*PostgresStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := NewPostgresStore(ctx, db, replicaID)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection pool
func NewPostgresStore(ctx context.Context, db *sql.DB, replicaID int) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, createEntriesTable); err != nil {
		return nil, fmt.Errorf("create kv_entries: %w", err)
	}
	return &PostgresStore{db: db, replicaID: replicaID}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE replica_id = $1 AND key = $2`,
		s.replicaID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (replica_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (replica_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.replicaID, key, value,
	)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE replica_id = $1 AND key = $2`,
		s.replicaID, key,
	)
	return err
}

func (s *PostgresStore) Contains(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM kv_entries WHERE replica_id = $1 AND key = $2)`,
		s.replicaID, key,
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE replica_id = $1 ORDER BY key`,
		s.replicaID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
