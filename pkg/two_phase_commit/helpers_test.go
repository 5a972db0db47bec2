package twophasecommit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/baxromumarov/2pc-kvstore/pkg/store"
	"github.com/hashicorp/go-hclog"
)

func testConfig() Config {
	return Config{
		RetryBackoff: 5 * time.Millisecond,
		CallTimeout:  500 * time.Millisecond,
		Logger:       hclog.NewNullLogger(),
	}
}

// newCluster wires n in-process participants (ids 1..n) to one coordinator
func newCluster(t *testing.T, n int) (*Coordinator, []*Participant) {
	t.Helper()

	coord := NewCoordinator(testConfig())
	participants := make([]*Participant, n)
	for i := 0; i < n; i++ {
		p := NewParticipant(i+1, store.NewMemoryStore(), hclog.NewNullLogger())
		p.SetCoordinator(coord)
		coord.RegisterParticipant(p, p.ID())
		participants[i] = p
	}
	return coord, participants
}

// scriptedHandle answers prepare/commit with per-attempt scripts and counts calls
type scriptedHandle struct {
	id      int
	prepare func(attempt int) (protocol.Ack, error)
	commit  func(attempt int) (protocol.Ack, error)

	mu       sync.Mutex
	prepares int
	commits  int
	aborts   int
}

func (h *scriptedHandle) ID() int { return h.id }

func (h *scriptedHandle) Prepare(_ context.Context, _ *protocol.Transaction) (protocol.Ack, error) {
	h.mu.Lock()
	h.prepares++
	n := h.prepares
	h.mu.Unlock()

	if h.prepare == nil {
		return protocol.AckReady, nil
	}
	return h.prepare(n)
}

func (h *scriptedHandle) Commit(_ context.Context, _ *protocol.Transaction) (protocol.Ack, error) {
	h.mu.Lock()
	h.commits++
	n := h.commits
	h.mu.Unlock()

	if h.commit == nil {
		return protocol.AckReady, nil
	}
	return h.commit(n)
}

func (h *scriptedHandle) Abort(_ context.Context, _ *protocol.Transaction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborts++
	return nil
}

func (h *scriptedHandle) counts() (prepares, commits, aborts int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prepares, h.commits, h.aborts
}

// abortSpy wraps a real participant and counts abort calls
type abortSpy struct {
	*Participant
	mu     sync.Mutex
	aborts int
}

func (s *abortSpy) Abort(ctx context.Context, tx *protocol.Transaction) error {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	return s.Participant.Abort(ctx, tx)
}

func (s *abortSpy) abortCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

func always(ack protocol.Ack, err error) func(int) (protocol.Ack, error) {
	return func(int) (protocol.Ack, error) { return ack, err }
}

func mustGet(t *testing.T, p *Participant, key string) (string, bool) {
	t.Helper()
	v, err := p.store.Get(context.Background(), key)
	if err != nil {
		return "", false
	}
	return v, true
}
