package twophasecommit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	DefaultWorkers      = 10
	DefaultRetryBackoff = time.Second
	DefaultCallTimeout  = 5 * time.Second
)

// Config configures a Coordinator. Zero values fall back to the defaults above.
type Config struct {
	Workers      int
	RetryBackoff time.Duration
	CallTimeout  time.Duration
	Logger       hclog.Logger
	Metrics      *metrics.Metrics
}

// Coordinator drives two-phase commit across the registered participants
type Coordinator struct {
	mu     sync.RWMutex
	roster []rosterEntry // sorted by id

	workers      int
	retryBackoff time.Duration
	callTimeout  time.Duration
	logger       hclog.Logger
	metrics      *metrics.Metrics
}

type rosterEntry struct {
	id     int
	handle ParticipantHandle
}

// Outcome is the detailed report of one protocol run
type Outcome struct {
	TransactionID string
	Committed     bool
	Phase         protocol.Phase
	PrepareVotes  []Vote
	CommitVotes   []Vote
	// Aborted lists the participants that were sent a compensating abort
	Aborted []int
	Err     error
}

// NewCoordinator creates a new 2PC coordinator with an empty roster
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		workers:      cfg.Workers,
		retryBackoff: cfg.RetryBackoff,
		callTimeout:  cfg.CallTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}

	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	if c.retryBackoff <= 0 {
		c.retryBackoff = DefaultRetryBackoff
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	if c.logger == nil {
		c.logger = hclog.NewNullLogger()
	}
	c.logger = c.logger.Named("coordinator")

	return c
}

// RegisterParticipant puts handle at slot id. Registering the same id again
// replaces the previous handle.
func (c *Coordinator) RegisterParticipant(handle ParticipantHandle, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := sort.Search(len(c.roster), func(i int) bool { return c.roster[i].id >= id })
	if i < len(c.roster) && c.roster[i].id == id {
		c.roster[i].handle = handle
		return
	}

	c.roster = append(c.roster, rosterEntry{})
	copy(c.roster[i+1:], c.roster[i:])
	c.roster[i] = rosterEntry{id: id, handle: handle}

	c.logger.Info("registered participant", "participant", id)
}

// Participants returns the roster ids in order
func (c *Coordinator) Participants() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]int, len(c.roster))
	for i, e := range c.roster {
		ids[i] = e.id
	}
	return ids
}

func (c *Coordinator) snapshot() []rosterEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.roster)
}

// Initiate runs the protocol for tx and reports whether every participant committed
func (c *Coordinator) Initiate(ctx context.Context, tx *protocol.Transaction) bool {
	return c.Execute(ctx, tx).Committed
}

// Execute runs the full protocol for tx. Transport failures are folded into the
// returned Outcome; Execute never panics on participant faults.
func (c *Coordinator) Execute(ctx context.Context, tx *protocol.Transaction) *Outcome {
	start := time.Now()
	defer c.measureSince([]string{"twopc", "round"}, start)

	if tx == nil {
		return c.fail(&Outcome{}, &protocol.Transaction{}, fmt.Errorf("%w: %w", ErrProtocolAborted, ErrNilTransaction))
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	out := &Outcome{TransactionID: tx.ID}
	logger := c.logger.With("tx", tx.ID, "op", tx.Operation, "key", tx.Key)

	if !tx.Operation.IsWrite() {
		return c.fail(out, tx, fmt.Errorf("%w: %w: %s", ErrProtocolAborted, ErrUnknownOperation, tx.Operation))
	}

	entries := c.snapshot()
	if len(entries) == 0 {
		logger.Warn("no participants registered")
		return c.fail(out, tx, fmt.Errorf("%w: %w", ErrProtocolAborted, ErrNoParticipants))
	}

	// Phase 1: Prepare
	tx.Phase = protocol.PhasePreparing
	logger.Info("broadcasting prepare", "participants", len(entries))
	out.PrepareVotes = c.broadcast(ctx, entries, *tx, prepareCall, ErrPrepareRejected)

	ready, failures := split(entries, out.PrepareVotes)
	if len(failures) > 0 {
		c.incr([]string{"twopc", "prepare", "rejected"})
		logger.Info("prepare failed, rolling back", "ready", len(ready), "failed", len(failures), "error", errors.Join(failures...))

		// a participant that timed out may still reserve the key once its prepare lands
		out.Aborted = c.rollback(ctx, mayHoldReservation(entries, out.PrepareVotes), tx)
		return c.fail(out, tx, fmt.Errorf("%w: %w", ErrProtocolAborted, errors.Join(failures...)))
	}

	// Phase 2: Commit
	tx.Phase = protocol.PhaseCommitting
	// the decision is made; the caller going away must not stop it reaching every replica
	logger.Info("all participants ready, broadcasting commit")
	out.CommitVotes = c.broadcast(context.WithoutCancel(ctx), entries, *tx, commitCall, ErrCommitFailed)

	committed, failures := split(entries, out.CommitVotes)
	if len(failures) > 0 {
		c.incr([]string{"twopc", "commit", "failed"})
		logger.Error("commit failed after unanimous prepare, replicas may diverge",
			"committed", len(committed), "failed", len(failures), "error", errors.Join(failures...))

		// release reservations still held by the participants that did not commit
		_, stuck := splitEntries(entries, out.CommitVotes)
		out.Aborted = c.rollback(ctx, stuck, tx)
		return c.fail(out, tx, fmt.Errorf("%w: %w", ErrProtocolAborted, errors.Join(failures...)))
	}

	tx.Phase = protocol.PhaseCommitted
	out.Phase = tx.Phase
	out.Committed = true
	c.incr([]string{"twopc", "round", "committed"})
	logger.Info("transaction committed", "participants", len(entries), "elapsed", time.Since(start))

	return out
}

// rollback sends abort to entries and returns the ids it addressed. Aborts
// still go out when the caller's context is already cancelled.
func (c *Coordinator) rollback(ctx context.Context, entries []rosterEntry, tx *protocol.Transaction) []int {
	if len(entries) == 0 {
		return nil
	}

	votes := c.broadcast(context.WithoutCancel(ctx), entries, *tx, abortCall, ErrProtocolAborted)

	ids := make([]int, 0, len(votes))
	for _, v := range votes {
		ids = append(ids, v.ParticipantID)
		if !v.Ready() {
			c.logger.Warn("abort failed", "tx", tx.ID, "participant", v.ParticipantID, "error", v.Err)
		}
	}
	return ids
}

func (c *Coordinator) fail(out *Outcome, tx *protocol.Transaction, err error) *Outcome {
	tx.Phase = protocol.PhaseAborted
	out.Phase = tx.Phase
	out.Err = err
	c.incr([]string{"twopc", "round", "aborted"})
	return out
}

// split returns the entries that voted READY and the errors of those that did not
func split(entries []rosterEntry, votes []Vote) ([]rosterEntry, []error) {
	ready := make([]rosterEntry, 0, len(entries))
	var failures []error
	for i, v := range votes {
		if v.Ready() {
			ready = append(ready, entries[i])
			continue
		}
		failures = append(failures, v.Err)
	}
	return ready, failures
}

// splitEntries partitions entries by vote without collecting errors
func splitEntries(entries []rosterEntry, votes []Vote) (ready, notReady []rosterEntry) {
	for i, v := range votes {
		if v.Ready() {
			ready = append(ready, entries[i])
		} else {
			notReady = append(notReady, entries[i])
		}
	}
	return ready, notReady
}

// mayHoldReservation returns every entry except those that explicitly voted FAIL.
// Unreachable participants are included since their prepare may still land.
func mayHoldReservation(entries []rosterEntry, votes []Vote) []rosterEntry {
	var out []rosterEntry
	for i, v := range votes {
		if v.Ready() || errors.Is(v.Err, ErrParticipantUnavailable) {
			out = append(out, entries[i])
		}
	}
	return out
}

func (c *Coordinator) incr(key []string) {
	if c.metrics != nil {
		c.metrics.IncrCounter(key, 1)
	}
}

func (c *Coordinator) measureSince(key []string, start time.Time) {
	if c.metrics != nil {
		c.metrics.MeasureSince(key, start)
	}
}
