package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	twophasecommit "github.com/baxromumarov/2pc-kvstore/pkg/two_phase_commit"
)

var (
	_ twophasecommit.ParticipantHandle = (*ParticipantClient)(nil)
	_ twophasecommit.Initiator         = (*CoordinatorClient)(nil)
)

// ParticipantClient drives a remote participant over HTTP
type ParticipantClient struct {
	id     int
	addr   string
	client *HTTPClient
}

// NewParticipantClient creates a roster handle for the participant at addr
func NewParticipantClient(id int, addr string, client *HTTPClient) *ParticipantClient {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &ParticipantClient{id: id, addr: addr, client: client}
}

func (p *ParticipantClient) ID() int { return p.id }

// Addr returns the participant's HTTP address
func (p *ParticipantClient) Addr() string { return p.addr }

func (p *ParticipantClient) Prepare(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error) {
	resp, err := p.client.Prepare(ctx, p.addr, &protocol.PrepareRequest{Transaction: *tx})
	if err != nil {
		return protocol.AckFail, err
	}
	return ackOf(resp)
}

func (p *ParticipantClient) Commit(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error) {
	resp, err := p.client.Commit(ctx, p.addr, &protocol.CommitRequest{Transaction: *tx})
	if err != nil {
		return protocol.AckFail, err
	}
	return ackOf(resp)
}

func (p *ParticipantClient) Abort(ctx context.Context, tx *protocol.Transaction) error {
	resp, err := p.client.Abort(ctx, p.addr, &protocol.AbortRequest{Transaction: *tx})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("abort rejected by participant %d: %s", p.id, resp.Error)
	}
	return nil
}

// ackOf turns a malformed ack into an error so it is never mistaken for a vote
func ackOf(resp *protocol.AckResponse) (protocol.Ack, error) {
	switch resp.Ack {
	case protocol.AckReady, protocol.AckFail:
		return resp.Ack, nil
	default:
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("unexpected ack %q", resp.Ack)
		}
		return protocol.AckFail, errors.New(msg)
	}
}

// CoordinatorClient lets a participant process delegate writes to a remote coordinator
type CoordinatorClient struct {
	addr   string
	client *HTTPClient
}

// NewCoordinatorClient creates an Initiator backed by the coordinator at addr
func NewCoordinatorClient(addr string, client *HTTPClient) *CoordinatorClient {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &CoordinatorClient{addr: addr, client: client}
}

// Initiate reports false on any transport error; the caller cannot tell a
// lost coordinator from an aborted round.
func (c *CoordinatorClient) Initiate(ctx context.Context, tx *protocol.Transaction) bool {
	resp, err := c.client.Initiate(ctx, c.addr, &protocol.InitiateRequest{Transaction: *tx})
	if err != nil {
		tx.Phase = protocol.PhaseAborted
		return false
	}

	if resp.TransactionID != "" {
		tx.ID = resp.TransactionID
	}
	if resp.Committed {
		tx.Phase = protocol.PhaseCommitted
	} else {
		tx.Phase = protocol.PhaseAborted
	}
	return resp.Committed
}
