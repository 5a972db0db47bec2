package protocol

import "time"

// Transaction is a single write request travelling through the commit protocol.
// Phase is advanced by the coordinator only.
type Transaction struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`
	Key       string    `json:"key"`
	Value     *string   `json:"value,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
}

// NewTransaction creates a transaction in the INITIAL phase
func NewTransaction(op Operation, key string, value *string) *Transaction {
	return &Transaction{
		Operation: op,
		Key:       key,
		Value:     value,
		Phase:     PhaseInitial,
	}
}

// ValueOrEmpty returns the value or "" when the transaction carries none
func (t *Transaction) ValueOrEmpty() string {
	if t.Value == nil {
		return ""
	}
	return *t.Value
}

// StringPtr is a helper for optional values
func StringPtr(s string) *string {
	return &s
}

// Result is the tagged outcome of a client request
type Result struct {
	Status ResultStatus `json:"status"`
	Value  string       `json:"value,omitempty"`
}

// String renders the result the way the console prints it
func (r Result) String() string {
	switch r.Status {
	case StatusValue:
		return r.Value
	case StatusSuccess:
		return "success"
	case StatusInvalidKey:
		return "Invalid key"
	default:
		return "fail"
	}
}

// PrepareRequest is sent by the coordinator to every participant
type PrepareRequest struct {
	Transaction Transaction `json:"transaction"`
}

// CommitRequest is sent by the coordinator once every participant is ready
type CommitRequest struct {
	Transaction Transaction `json:"transaction"`
}

// AbortRequest releases whatever a participant reserved during prepare
type AbortRequest struct {
	Transaction Transaction `json:"transaction"`
}

// AckResponse is returned for prepare and commit
type AckResponse struct {
	Ack   Ack    `json:"ack"`
	Error string `json:"error,omitempty"`
}

// AbortResponse is returned for abort
type AbortResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// IDResponse carries a participant's identifier
type IDResponse struct {
	ID int `json:"id"`
}

// ClientRequest is the client-facing entry point on a participant
type ClientRequest struct {
	Operation Operation `json:"operation"`
	Key       string    `json:"key"`
	Value     *string   `json:"value,omitempty"`
}

// ClientResponse wraps the tagged result of a client request
type ClientResponse struct {
	Result Result `json:"result"`
	Error  string `json:"error,omitempty"`
}

// InitiateRequest asks the coordinator to run the protocol for a transaction
type InitiateRequest struct {
	Transaction Transaction `json:"transaction"`
}

// InitiateResponse is the outcome of a protocol run
type InitiateResponse struct {
	TransactionID string `json:"transaction_id"`
	Committed     bool   `json:"committed"`
	Error         string `json:"error,omitempty"`
}

// HealthResponse is returned by health check endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Address string `json:"address"`
	Role    string `json:"role"`
	ID      int    `json:"id,omitempty"`
}

// MemberStatus describes one roster entry as seen by the coordinator
type MemberStatus struct {
	ID       int       `json:"id"`
	Address  string    `json:"address"`
	Alive    bool      `json:"alive"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// ClusterStatusResponse is returned by the coordinator's status endpoint
type ClusterStatusResponse struct {
	Members   []MemberStatus     `json:"members"`
	Counters  map[string]float64 `json:"counters,omitempty"`
	Generated time.Time          `json:"generated_at"`
}

// Roles reported by health checks
const (
	RoleCoordinator = "COORDINATOR"
	RoleParticipant = "PARTICIPANT"
)
