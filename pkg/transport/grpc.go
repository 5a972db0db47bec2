package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	twophasecommit "github.com/baxromumarov/2pc-kvstore/pkg/two_phase_commit"
	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	codecName              = "json"
	participantServiceName = "kvstore.Participant"
)

// jsonCodec carries the protocol structs as JSON so no generated code is needed
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type idRequest struct{}

var participantServiceDesc = grpc.ServiceDesc{
	ServiceName: participantServiceName,
	HandlerType: (*twophasecommit.ParticipantHandle)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Prepare",
			Handler: unaryHandler("Prepare", func(ctx context.Context, h twophasecommit.ParticipantHandle, req *protocol.PrepareRequest) (any, error) {
				ack, err := h.Prepare(ctx, &req.Transaction)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return &protocol.AckResponse{Ack: ack}, nil
			}),
		},
		{
			MethodName: "Commit",
			Handler: unaryHandler("Commit", func(ctx context.Context, h twophasecommit.ParticipantHandle, req *protocol.CommitRequest) (any, error) {
				ack, err := h.Commit(ctx, &req.Transaction)
				if err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return &protocol.AckResponse{Ack: ack}, nil
			}),
		},
		{
			MethodName: "Abort",
			Handler: unaryHandler("Abort", func(ctx context.Context, h twophasecommit.ParticipantHandle, req *protocol.AbortRequest) (any, error) {
				if err := h.Abort(ctx, &req.Transaction); err != nil {
					return nil, status.Error(codes.Internal, err.Error())
				}
				return &protocol.AbortResponse{Success: true}, nil
			}),
		},
		{
			MethodName: "ID",
			Handler: unaryHandler("ID", func(_ context.Context, h twophasecommit.ParticipantHandle, _ *idRequest) (any, error) {
				return &protocol.IDResponse{ID: h.ID()}, nil
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req any](method string, fn func(context.Context, twophasecommit.ParticipantHandle, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + participantServiceName + "/" + method

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		h := srv.(twophasecommit.ParticipantHandle)
		if interceptor == nil {
			return fn(ctx, h, in)
		}

		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, h, req.(*Req))
		})
	}
}

// RegisterParticipantServer exposes h as the kvstore.Participant service
func RegisterParticipantServer(s *grpc.Server, h twophasecommit.ParticipantHandle) {
	s.RegisterService(&participantServiceDesc, h)
}

// GRPCServer serves the participant protocol over gRPC
type GRPCServer struct {
	addr   string
	server *grpc.Server
	logger hclog.Logger
}

// NewGRPCServer creates a gRPC front for h
func NewGRPCServer(addr string, h twophasecommit.ParticipantHandle, logger hclog.Logger) *GRPCServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	s := grpc.NewServer()
	RegisterParticipantServer(s, h)

	return &GRPCServer{
		addr:   addr,
		server: s,
		logger: logger.Named("grpc").With("participant", h.ID()),
	}
}

// Start listens on the configured address and blocks until the server stops
func (s *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info("starting server", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop drains in-flight calls and stops the server
func (s *GRPCServer) Stop() {
	s.server.GracefulStop()
}

var _ twophasecommit.ParticipantHandle = (*GRPCParticipantClient)(nil)

// GRPCParticipantClient drives a remote participant over gRPC
type GRPCParticipantClient struct {
	id   int
	addr string
	conn *grpc.ClientConn
}

// DialParticipant creates a lazily connected gRPC handle for the participant at addr
func DialParticipant(id int, addr string) (*GRPCParticipantClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &GRPCParticipantClient{id: id, addr: addr, conn: conn}, nil
}

func (c *GRPCParticipantClient) ID() int { return c.id }

// Addr returns the participant's gRPC address
func (c *GRPCParticipantClient) Addr() string { return c.addr }

func (c *GRPCParticipantClient) Prepare(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error) {
	var resp protocol.AckResponse
	if err := c.invoke(ctx, "Prepare", &protocol.PrepareRequest{Transaction: *tx}, &resp); err != nil {
		return protocol.AckFail, err
	}
	return ackOf(&resp)
}

func (c *GRPCParticipantClient) Commit(ctx context.Context, tx *protocol.Transaction) (protocol.Ack, error) {
	var resp protocol.AckResponse
	if err := c.invoke(ctx, "Commit", &protocol.CommitRequest{Transaction: *tx}, &resp); err != nil {
		return protocol.AckFail, err
	}
	return ackOf(&resp)
}

func (c *GRPCParticipantClient) Abort(ctx context.Context, tx *protocol.Transaction) error {
	var resp protocol.AbortResponse
	return c.invoke(ctx, "Abort", &protocol.AbortRequest{Transaction: *tx}, &resp)
}

// RemoteID asks the participant for the id it was started with
func (c *GRPCParticipantClient) RemoteID(ctx context.Context) (int, error) {
	var resp protocol.IDResponse
	if err := c.invoke(ctx, "ID", &idRequest{}, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// Close releases the underlying connection
func (c *GRPCParticipantClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCParticipantClient) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+participantServiceName+"/"+method, req, resp)
}

// GRPCHealthChecker probes participants through the ID method, for rosters
// that only expose gRPC
type GRPCHealthChecker struct {
	mu      sync.Mutex
	clients map[string]*GRPCParticipantClient
}

// NewGRPCHealthChecker creates a checker that keeps one connection per address
func NewGRPCHealthChecker() *GRPCHealthChecker {
	return &GRPCHealthChecker{clients: make(map[string]*GRPCParticipantClient)}
}

func (g *GRPCHealthChecker) HealthCheck(ctx context.Context, addr string) (*protocol.HealthResponse, error) {
	client, err := g.client(addr)
	if err != nil {
		return nil, err
	}

	id, err := client.RemoteID(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check %s: %w", addr, err)
	}
	return &protocol.HealthResponse{Status: "OK", Address: addr, Role: protocol.RoleParticipant, ID: id}, nil
}

func (g *GRPCHealthChecker) client(addr string) (*GRPCParticipantClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[addr]; ok {
		return c, nil
	}
	c, err := DialParticipant(0, addr)
	if err != nil {
		return nil, err
	}
	g.clients[addr] = c
	return c, nil
}

// Close releases every cached connection
func (g *GRPCHealthChecker) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for addr, c := range g.clients {
		_ = c.Close()
		delete(g.clients, addr)
	}
}
