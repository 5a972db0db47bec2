package twophasecommit

import (
	"context"
	"fmt"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

// ParticipantHandle is a roster entry the coordinator drives. Implementations
// exist in-process (*Participant) and over the wire (pkg/transport).
type ParticipantHandle interface {
	ID() int
	Prepare(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error)
	Commit(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error)
	Abort(ctx context.Context, tx *protocol.Transaction) error
}

// Vote is the final result of one participant in one broadcast round
type Vote struct {
	ParticipantID int
	Ack           protocol.Ack
	Attempts      int
	Err           error
}

// Ready reports whether the participant acknowledged the request
func (v Vote) Ready() bool {
	return v.Ack == protocol.AckReady && v.Err == nil
}

type rpcCall func(ctx context.Context, h ParticipantHandle, tx *protocol.Transaction) (protocol.Ack, error)

func prepareCall(ctx context.Context, h ParticipantHandle, tx *protocol.Transaction) (protocol.Ack, error) {
	return h.Prepare(ctx, tx)
}

func commitCall(ctx context.Context, h ParticipantHandle, tx *protocol.Transaction) (protocol.Ack, error) {
	return h.Commit(ctx, tx)
}

func abortCall(ctx context.Context, h ParticipantHandle, tx *protocol.Transaction) (protocol.Ack, error) {
	if err := h.Abort(ctx, tx); err != nil {
		return protocol.AckFail, err
	}
	return protocol.AckReady, nil
}

// broadcast runs call against every roster entry in parallel and returns once
// every participant has a final vote. votes[i] belongs to entries[i]; the slice
// is owned by the caller's round.
func (c *Coordinator) broadcast(ctx context.Context, entries []rosterEntry, tx protocol.Transaction, call rpcCall, rejected error) []Vote {
	votes := make([]Vote, len(entries))

	limit := c.workers
	if limit < len(entries) {
		limit = len(entries)
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, e := range entries {
		g.Go(func() error {
			votes[i] = c.callWithRetry(ctx, e, tx, call, rejected)
			return nil
		})
	}

	_ = g.Wait()
	return votes
}

// callWithRetry makes one attempt and, on error or FAIL, exactly one more
// after the backoff interval.
func (c *Coordinator) callWithRetry(ctx context.Context, e rosterEntry, tx protocol.Transaction, call rpcCall, rejected error) Vote {
	vote := Vote{ParticipantID: e.id}

	for attempt := 1; attempt <= 2; attempt++ {
		vote.Attempts = attempt

		ack, err := c.attempt(ctx, e.handle, tx, call)
		switch {
		case err != nil:
			vote.Ack = protocol.AckFail
			vote.Err = &VoteError{ParticipantID: vote.ParticipantID, Err: fmt.Errorf("%w: %w", ErrParticipantUnavailable, err)}
		case ack != protocol.AckReady:
			vote.Ack = protocol.AckFail
			vote.Err = &VoteError{ParticipantID: vote.ParticipantID, Err: rejected}
		default:
			vote.Ack = protocol.AckReady
			vote.Err = nil
			return vote
		}

		if attempt == 2 {
			break
		}

		c.logger.Debug("retrying participant", "participant", vote.ParticipantID, "tx", tx.ID, "error", vote.Err)

		select {
		case <-time.After(c.retryBackoff):
		case <-ctx.Done():
			return vote
		}
	}

	return vote
}

// attempt bounds a single call by the per-call timeout. A handle that ignores
// its context is abandoned when the deadline passes and counts as a failure.
func (c *Coordinator) attempt(ctx context.Context, h ParticipantHandle, tx protocol.Transaction, call rpcCall) (protocol.Ack, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	type reply struct {
		ack protocol.Ack
		err error
	}

	// buffered so an abandoned call can still complete
	done := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{ack: protocol.AckFail, err: fmt.Errorf("participant panicked: %v", r)}
			}
		}()

		// every attempt gets its own copy; participants never see coordinator-side phase changes
		snapshot := tx
		ack, err := call(callCtx, h, &snapshot)
		done <- reply{ack: ack, err: err}
	}()

	select {
	case r := <-done:
		return r.ack, r.err
	case <-callCtx.Done():
		return protocol.AckFail, callCtx.Err()
	}
}
