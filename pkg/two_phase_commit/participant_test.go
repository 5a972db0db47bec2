package twophasecommit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/baxromumarov/2pc-kvstore/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyInitiator records the transactions handed to it
type spyInitiator struct {
	mu     sync.Mutex
	result bool
	phases []protocol.Phase
	txs    []protocol.Transaction
}

func (s *spyInitiator) Initiate(_ context.Context, tx *protocol.Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, tx.Phase)
	s.txs = append(s.txs, *tx)
	return s.result
}

func (s *spyInitiator) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

func putTx(id, key, value string) *protocol.Transaction {
	tx := protocol.NewTransaction(protocol.OpPut, key, protocol.StringPtr(value))
	tx.ID = id
	return tx
}

func deleteTx(id, key string) *protocol.Transaction {
	tx := protocol.NewTransaction(protocol.OpDelete, key, nil)
	tx.ID = id
	return tx
}

func TestParticipantPrepareCommit(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)
	tx := putTx("tx-1", "Alice", "NYC")

	ack, err := p.Prepare(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckReady, ack)
	assert.Equal(t, []string{"tx-1"}, p.Pending())

	// prepare must not touch the store
	_, ok := mustGet(t, p, "Alice")
	assert.False(t, ok)

	ack, err = p.Commit(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckReady, ack)
	assert.Empty(t, p.Pending())

	v, ok := mustGet(t, p, "Alice")
	assert.True(t, ok)
	assert.Equal(t, "NYC", v)
}

func TestParticipantCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)

	put := putTx("tx-put", "Alice", "NYC")
	ack, err := p.Prepare(ctx, put)
	require.NoError(t, err)
	require.Equal(t, protocol.AckReady, ack)
	for i := 0; i < 2; i++ {
		ack, err := p.Commit(ctx, put)
		require.NoError(t, err)
		assert.Equal(t, protocol.AckReady, ack)

		v, ok := mustGet(t, p, "Alice")
		assert.True(t, ok)
		assert.Equal(t, "NYC", v)
	}

	del := deleteTx("tx-del", "Alice")
	ack, err = p.Prepare(ctx, del)
	require.NoError(t, err)
	require.Equal(t, protocol.AckReady, ack)
	for i := 0; i < 2; i++ {
		ack, err := p.Commit(ctx, del)
		require.NoError(t, err)
		assert.Equal(t, protocol.AckReady, ack)

		_, ok := mustGet(t, p, "Alice")
		assert.False(t, ok)
	}
}

func TestParticipantRepeatedCommitDoesNotOverwriteLaterWrite(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)

	first := putTx("tx-1", "k", "v1")
	second := putTx("tx-2", "k", "v2")

	for _, tx := range []*protocol.Transaction{first, second} {
		ack, err := p.Prepare(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, protocol.AckReady, ack)
		ack, err = p.Commit(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, protocol.AckReady, ack)
	}

	// a late retry of tx-1's commit is acknowledged without re-applying it
	ack, err := p.Commit(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckReady, ack)

	v, ok := mustGet(t, p, "k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestParticipantRefusesUnpreparedCommit(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)

	ack, err := p.Commit(ctx, putTx("never-prepared", "k", "v"))
	require.NoError(t, err)
	assert.Equal(t, protocol.AckFail, ack)

	_, ok := mustGet(t, p, "k")
	assert.False(t, ok)
}

func TestParticipantAbortRefusesLatePrepare(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)
	tx := putTx("tx-late", "k", "v")

	// the abort overtakes the prepare it is meant to cancel
	require.NoError(t, p.Abort(ctx, tx))

	ack, err := p.Prepare(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, protocol.AckFail, ack)
	assert.Empty(t, p.Pending())

	ack, _ = p.Commit(ctx, tx)
	assert.Equal(t, protocol.AckFail, ack)

	// the key is free for the next transaction
	ack, _ = p.Prepare(ctx, putTx("tx-next", "k", "w"))
	assert.Equal(t, protocol.AckReady, ack)
}

func TestParticipantAbortAfterCommitIsNoop(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)
	tx := putTx("tx-1", "k", "v")

	_, _ = p.Prepare(ctx, tx)
	ack, _ := p.Commit(ctx, tx)
	require.Equal(t, protocol.AckReady, ack)

	require.NoError(t, p.Abort(ctx, tx))

	v, ok := mustGet(t, p, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	ack, _ = p.Commit(ctx, tx)
	assert.Equal(t, protocol.AckReady, ack)
}

func TestParticipantReservationConflict(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)

	first := putTx("tx-a", "k", "a")
	second := putTx("tx-b", "k", "b")

	ack, _ := p.Prepare(ctx, first)
	require.Equal(t, protocol.AckReady, ack)

	ack, _ = p.Prepare(ctx, second)
	assert.Equal(t, protocol.AckFail, ack, "key is reserved by tx-a")

	// a retried prepare of the holder is still READY
	ack, _ = p.Prepare(ctx, first)
	assert.Equal(t, protocol.AckReady, ack)

	require.NoError(t, p.Abort(ctx, first))
	assert.Empty(t, p.Pending())

	ack, _ = p.Prepare(ctx, second)
	assert.Equal(t, protocol.AckReady, ack)
}

func TestParticipantAbortUnknownIsNoop(t *testing.T) {
	p := NewParticipant(1, store.NewMemoryStore(), nil)
	assert.NoError(t, p.Abort(context.Background(), putTx("never-prepared", "k", "v")))
}

func TestParticipantPrepareDeleteOfAbsentKey(t *testing.T) {
	p := NewParticipant(1, store.NewMemoryStore(), nil)

	ack, err := p.Prepare(context.Background(), deleteTx("tx-1", "ghost"))
	require.NoError(t, err)
	assert.Equal(t, protocol.AckFail, ack)
	assert.Empty(t, p.Pending())
}

func TestParticipantRefusesReads(t *testing.T) {
	ctx := context.Background()
	p := NewParticipant(1, store.NewMemoryStore(), nil)
	tx := protocol.NewTransaction(protocol.OpGet, "k", nil)

	ack, _ := p.Prepare(ctx, tx)
	assert.Equal(t, protocol.AckFail, ack)
	ack, _ = p.Commit(ctx, tx)
	assert.Equal(t, protocol.AckFail, ack)
}

func TestClientRequestGetUnknownKey(t *testing.T) {
	p := NewParticipant(1, store.NewMemoryStore(), nil)

	res, err := p.ClientRequest(context.Background(), protocol.OpGet, "Bob", nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, protocol.StatusInvalidKey, res.Status)
	assert.Equal(t, "Invalid key", res.String())
}

func TestClientRequestDeleteShortCircuit(t *testing.T) {
	spy := &spyInitiator{result: true}
	p := NewParticipant(1, store.NewMemoryStore(), nil)
	p.SetCoordinator(spy)

	res, err := p.ClientRequest(context.Background(), protocol.OpDelete, "ghost", nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, protocol.StatusInvalidKey, res.Status)
	assert.Zero(t, spy.calls(), "protocol must not run for a locally absent key")
}

func TestClientRequestPutDelegatesToCoordinator(t *testing.T) {
	spy := &spyInitiator{result: true}
	p := NewParticipant(1, store.NewMemoryStore(), nil)
	p.SetCoordinator(spy)

	res, err := p.ClientRequest(context.Background(), protocol.OpPut, "Alice", protocol.StringPtr("NYC"))
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, res.Status)
	assert.Equal(t, "success", res.String())

	require.Equal(t, 1, spy.calls())
	assert.Equal(t, protocol.PhaseInitial, spy.phases[0])
	assert.Equal(t, protocol.OpPut, spy.txs[0].Operation)
	assert.Equal(t, "NYC", spy.txs[0].ValueOrEmpty())

	spy.result = false
	res, err = p.ClientRequest(context.Background(), protocol.OpPut, "Alice", protocol.StringPtr("LA"))
	assert.ErrorIs(t, err, ErrProtocolAborted)
	assert.Equal(t, protocol.StatusFail, res.Status)
}

func TestClientRequestWithoutCoordinator(t *testing.T) {
	p := NewParticipant(1, store.NewMemoryStore(), nil)

	_, err := p.ClientRequest(context.Background(), protocol.OpPut, "k", protocol.StringPtr("v"))
	assert.ErrorIs(t, err, ErrNoCoordinator)

	_, err = p.ClientRequest(context.Background(), protocol.Operation("LIST"), "k", nil)
	assert.True(t, errors.Is(err, ErrUnknownOperation))
}

// The boot/delete/read scenario end to end through the in-process cluster
func TestClientRequestDeleteThenGet(t *testing.T) {
	ctx := context.Background()
	_, participants := newCluster(t, 5)

	res, err := participants[0].ClientRequest(ctx, protocol.OpPut, "Sonal", protocol.StringPtr("Boston"))
	require.NoError(t, err)
	require.Equal(t, protocol.StatusSuccess, res.Status)

	for _, p := range participants {
		res, err := p.ClientRequest(ctx, protocol.OpGet, "Sonal", nil)
		require.NoError(t, err)
		assert.Equal(t, "Boston", res.Value)
	}

	res, err = participants[0].ClientRequest(ctx, protocol.OpDelete, "Sonal", nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, res.Status)

	for _, p := range participants {
		res, err := p.ClientRequest(ctx, protocol.OpGet, "Sonal", nil)
		assert.ErrorIs(t, err, ErrInvalidKey)
		assert.Equal(t, protocol.StatusInvalidKey, res.Status)
	}
}
