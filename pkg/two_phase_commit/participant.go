package twophasecommit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/baxromumarov/2pc-kvstore/pkg/store"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
)

// resolvedHistory bounds how many committed and aborted transaction ids a
// participant remembers
const resolvedHistory = 4096

// Initiator runs the commit protocol for a transaction
type Initiator interface {
	Initiate(ctx context.Context, tx *protocol.Transaction) bool
}

// Participant owns one replica of the store and votes on transactions
type Participant struct {
	id     int
	store  store.Store
	logger hclog.Logger

	mu           sync.Mutex
	reservations map[string]string            // key -> transaction id
	transactions map[string]*TransactionState // transaction id -> state
	committed    *lru.Cache                   // recently applied transaction ids
	aborted      *lru.Cache                   // recently aborted transaction ids

	coordMu     sync.RWMutex
	coordinator Initiator
}

// TransactionState holds a prepared transaction on a participant
type TransactionState struct {
	ID         string
	Operation  protocol.Operation
	Key        string
	PreparedAt time.Time
}

// NewParticipant creates a participant owning s
func NewParticipant(id int, s store.Store, logger hclog.Logger) *Participant {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	// lru.New only fails for a non-positive size
	committed, _ := lru.New(resolvedHistory)
	aborted, _ := lru.New(resolvedHistory)

	return &Participant{
		id:           id,
		store:        s,
		logger:       logger.Named("participant").With("participant", id),
		reservations: make(map[string]string),
		transactions: make(map[string]*TransactionState),
		committed:    committed,
		aborted:      aborted,
	}
}

// SetCoordinator attaches the coordinator writes are delegated to
func (p *Participant) SetCoordinator(c Initiator) {
	p.coordMu.Lock()
	defer p.coordMu.Unlock()
	p.coordinator = c
}

func (p *Participant) getCoordinator() Initiator {
	p.coordMu.RLock()
	defer p.coordMu.RUnlock()
	return p.coordinator
}

// ID returns the participant's stable identifier
func (p *Participant) ID() int {
	return p.id
}

// Prepare votes on tx without touching the store. A READY vote reserves the
// key for tx until commit or abort.
func (p *Participant) Prepare(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !tx.Operation.IsWrite() {
		p.logger.Warn("refusing prepare for non-write operation", "tx", tx.ID, "op", tx.Operation)
		return protocol.AckFail, nil
	}

	// a prepare that arrives after the round was aborted must not reserve the key
	if p.aborted.Contains(tx.ID) {
		p.logger.Info("refusing prepare for aborted transaction", "tx", tx.ID, "key", tx.Key)
		return protocol.AckFail, nil
	}

	if holder, ok := p.reservations[tx.Key]; ok {
		if holder == tx.ID {
			// retried prepare
			return protocol.AckReady, nil
		}
		p.logger.Info("key reserved by another transaction", "tx", tx.ID, "key", tx.Key, "holder", holder)
		return protocol.AckFail, nil
	}

	if tx.Operation == protocol.OpDelete {
		present, err := p.store.Contains(ctx, tx.Key)
		if err != nil {
			return protocol.AckFail, fmt.Errorf("check key %s: %w", tx.Key, err)
		}
		if !present {
			p.logger.Info("delete of absent key cannot be applied", "tx", tx.ID, "key", tx.Key)
			return protocol.AckFail, nil
		}
	}

	p.reservations[tx.Key] = tx.ID
	p.transactions[tx.ID] = &TransactionState{
		ID:         tx.ID,
		Operation:  tx.Operation,
		Key:        tx.Key,
		PreparedAt: time.Now(),
	}

	p.logger.Debug("prepared transaction", "tx", tx.ID, "op", tx.Operation, "key", tx.Key)
	return protocol.AckReady, nil
}

// Commit applies a prepared tx to the store. Committing the same transaction
// again leaves the store unchanged and still acknowledges READY. A commit for a
// transaction this participant never prepared, or already aborted, votes FAIL.
func (p *Participant) Commit(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !tx.Operation.IsWrite() {
		p.logger.Warn("refusing commit for non-write operation", "tx", tx.ID, "op", tx.Operation)
		return protocol.AckFail, nil
	}

	if p.committed.Contains(tx.ID) {
		p.logger.Debug("transaction already applied", "tx", tx.ID)
		return protocol.AckReady, nil
	}

	state, ok := p.transactions[tx.ID]
	if !ok || state.Key != tx.Key || state.Operation != tx.Operation {
		p.logger.Warn("refusing commit for unprepared transaction", "tx", tx.ID, "key", tx.Key, "aborted", p.aborted.Contains(tx.ID))
		return protocol.AckFail, nil
	}

	var err error
	if tx.Operation == protocol.OpPut {
		err = p.store.Put(ctx, tx.Key, tx.ValueOrEmpty())
	} else {
		err = p.store.Delete(ctx, tx.Key)
	}
	if err != nil {
		p.logger.Error("failed to apply transaction", "tx", tx.ID, "error", err)
		return protocol.AckFail, fmt.Errorf("apply %s %s: %w", tx.Operation, tx.Key, err)
	}

	p.releaseLocked(tx)
	p.committed.Add(tx.ID, state.PreparedAt)

	p.logger.Debug("committed transaction", "tx", tx.ID, "op", tx.Operation, "key", tx.Key)
	return protocol.AckReady, nil
}

// Abort releases the reservation made for tx, if any, and refuses any later
// prepare of the same transaction. Aborting an applied transaction is a no-op.
func (p *Participant) Abort(_ context.Context, tx *protocol.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.committed.Contains(tx.ID) {
		p.logger.Warn("abort for already applied transaction", "tx", tx.ID)
		return nil
	}
	p.aborted.Add(tx.ID, time.Now())

	if _, exists := p.transactions[tx.ID]; !exists {
		p.logger.Debug("abort for unknown transaction", "tx", tx.ID)
		return nil
	}

	p.releaseLocked(tx)
	p.logger.Info("aborted transaction", "tx", tx.ID, "key", tx.Key)
	return nil
}

// releaseLocked drops the reservation of tx. Caller must hold p.mu.
func (p *Participant) releaseLocked(tx *protocol.Transaction) {
	if state, ok := p.transactions[tx.ID]; ok {
		if p.reservations[state.Key] == tx.ID {
			delete(p.reservations, state.Key)
		}
		delete(p.transactions, tx.ID)
	}
}

// Pending returns the ids of transactions prepared but not yet resolved
func (p *Participant) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.transactions))
	for id := range p.transactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClientRequest is the client-facing entry point. Reads are served from the
// local replica only; writes go through the coordinator.
func (p *Participant) ClientRequest(ctx context.Context, op protocol.Operation, key string, value *string) (protocol.Result, error) {
	switch op {
	case protocol.OpGet:
		v, err := p.store.Get(ctx, key)
		if errors.Is(err, store.ErrKeyNotFound) {
			return protocol.Result{Status: protocol.StatusInvalidKey}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
		if err != nil {
			return protocol.Result{Status: protocol.StatusFail}, err
		}
		p.logger.Debug("served get", "key", key)
		return protocol.Result{Status: protocol.StatusValue, Value: v}, nil

	case protocol.OpDelete:
		present, err := p.store.Contains(ctx, key)
		if err != nil {
			return protocol.Result{Status: protocol.StatusFail}, err
		}
		if !present {
			return protocol.Result{Status: protocol.StatusInvalidKey}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}

	case protocol.OpPut:
		if value == nil {
			value = protocol.StringPtr("")
		}

	default:
		return protocol.Result{Status: protocol.StatusFail}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}

	coord := p.getCoordinator()
	if coord == nil {
		return protocol.Result{Status: protocol.StatusFail}, ErrNoCoordinator
	}

	tx := protocol.NewTransaction(op, key, value)
	if !coord.Initiate(ctx, tx) {
		p.logger.Info("write failed", "tx", tx.ID, "op", op, "key", key)
		return protocol.Result{Status: protocol.StatusFail}, fmt.Errorf("%w: transaction %s", ErrProtocolAborted, tx.ID)
	}

	p.logger.Info("write committed", "tx", tx.ID, "op", op, "key", key)
	return protocol.Result{Status: protocol.StatusSuccess}, nil
}
