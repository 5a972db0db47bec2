package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	twophasecommit "github.com/baxromumarov/2pc-kvstore/pkg/two_phase_commit"
	"github.com/hashicorp/go-hclog"
)

// ParticipantService is what a participant process exposes over the wire
type ParticipantService interface {
	twophasecommit.ParticipantHandle
	ClientRequest(ctx context.Context, op protocol.Operation, key string, value *string) (protocol.Result, error)
}

// CoordinatorService runs the commit protocol for remote initiators
type CoordinatorService interface {
	Execute(ctx context.Context, tx *protocol.Transaction) *twophasecommit.Outcome
}

// HTTPServer handles incoming HTTP requests for a participant or coordinator
type HTTPServer struct {
	addr   string
	role   string
	mux    *http.ServeMux
	server *http.Server
	logger hclog.Logger

	participant ParticipantService
	coordinator CoordinatorService
	status      func() *protocol.ClusterStatusResponse
}

// NewParticipantServer creates the HTTP front of a participant
func NewParticipantServer(addr string, p ParticipantService, logger hclog.Logger) *HTTPServer {
	s := newHTTPServer(addr, protocol.RoleParticipant, logger)
	s.participant = p
	s.logger = s.logger.With("participant", p.ID())
	s.setupParticipantRoutes()
	return s
}

// NewCoordinatorServer creates the HTTP front of a coordinator. status may be
// nil, in which case /cluster/status is unavailable.
func NewCoordinatorServer(addr string, c CoordinatorService, status func() *protocol.ClusterStatusResponse, logger hclog.Logger) *HTTPServer {
	s := newHTTPServer(addr, protocol.RoleCoordinator, logger)
	s.coordinator = c
	s.status = status
	s.setupCoordinatorRoutes()
	return s
}

func newHTTPServer(addr, role string, logger hclog.Logger) *HTTPServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HTTPServer{
		addr:   addr,
		role:   role,
		mux:    http.NewServeMux(),
		logger: logger.Named("http"),
	}
}

func (s *HTTPServer) setupParticipantRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/id", s.handleID)
	s.mux.HandleFunc("/prepare", s.handlePrepare)
	s.mux.HandleFunc("/commit", s.handleCommit)
	s.mux.HandleFunc("/abort", s.handleAbort)
	s.mux.HandleFunc("/request", s.handleRequest)
}

func (s *HTTPServer) setupCoordinatorRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/initiate", s.handleInitiate)
	s.mux.HandleFunc("/cluster/status", s.handleClusterStatus)
}

// Handler exposes the routes, mainly for httptest
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server and blocks until it stops
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting server", "addr", s.addr, "role", s.role)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth responds to health check requests
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := protocol.HealthResponse{
		Status:  "OK",
		Address: s.addr,
		Role:    s.role,
	}
	if s.participant != nil {
		resp.ID = s.participant.ID()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, protocol.IDResponse{ID: s.participant.ID()})
}

// handlePrepare handles prepare phase requests. A refusal is a normal answer,
// only local faults are reported as 5xx.
func (s *HTTPServer) handlePrepare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.PrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAckResponse(w, protocol.AckFail, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.logger.Debug("received prepare", "tx", req.Transaction.ID)

	ack, err := s.participant.Prepare(r.Context(), &req.Transaction)
	if err != nil {
		sendAckResponse(w, protocol.AckFail, err.Error(), http.StatusInternalServerError)
		return
	}
	sendAckResponse(w, ack, "", ackStatus(ack))
}

// handleCommit handles commit requests
func (s *HTTPServer) handleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAckResponse(w, protocol.AckFail, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.logger.Debug("received commit", "tx", req.Transaction.ID)

	ack, err := s.participant.Commit(r.Context(), &req.Transaction)
	if err != nil {
		sendAckResponse(w, protocol.AckFail, err.Error(), http.StatusInternalServerError)
		return
	}
	sendAckResponse(w, ack, "", ackStatus(ack))
}

func ackStatus(ack protocol.Ack) int {
	if ack == protocol.AckReady {
		return http.StatusOK
	}
	return http.StatusConflict
}

func sendAckResponse(w http.ResponseWriter, ack protocol.Ack, errMsg string, httpStatus int) {
	writeJSON(w, httpStatus, protocol.AckResponse{Ack: ack, Error: errMsg})
}

// handleAbort handles abort requests
func (s *HTTPServer) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAbortResponse(w, false, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.logger.Debug("received abort", "tx", req.Transaction.ID)

	if err := s.participant.Abort(r.Context(), &req.Transaction); err != nil {
		sendAbortResponse(w, false, err.Error(), http.StatusInternalServerError)
		return
	}

	sendAbortResponse(w, true, "", http.StatusOK)
}

func sendAbortResponse(w http.ResponseWriter, success bool, errMsg string, httpStatus int) {
	writeJSON(w, httpStatus, protocol.AbortResponse{Success: success, Error: errMsg})
}

// handleRequest is the client entry point: GET, PUT or DELETE
func (s *HTTPServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ClientResponse{
			Result: protocol.Result{Status: protocol.StatusFail},
			Error:  "Invalid request body",
		})
		return
	}

	op, err := protocol.ParseOperation(string(req.Operation))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ClientResponse{
			Result: protocol.Result{Status: protocol.StatusFail},
			Error:  err.Error(),
		})
		return
	}

	result, err := s.participant.ClientRequest(r.Context(), op, req.Key, req.Value)
	resp := protocol.ClientResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}

	// every outcome, including a failed write, is an application answer
	writeJSON(w, http.StatusOK, resp)
}

// handleInitiate runs the protocol for a transaction built by a participant
func (s *HTTPServer) handleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req protocol.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.InitiateResponse{Error: "Invalid request body"})
		return
	}

	tx := req.Transaction
	out := s.coordinator.Execute(r.Context(), &tx)

	resp := protocol.InitiateResponse{
		TransactionID: out.TransactionID,
		Committed:     out.Committed,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.status == nil {
		http.Error(w, "Cluster status not configured", http.StatusInternalServerError)
		return
	}

	info := s.status()
	if info == nil {
		http.Error(w, "Cluster status unavailable", http.StatusServiceUnavailable)
		return
	}
	if info.Generated.IsZero() {
		info.Generated = time.Now()
	}

	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, httpStatus int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}
