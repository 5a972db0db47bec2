package protocol

import (
	"fmt"
	"strings"
)

// Operation is the client operation carried by a transaction
type Operation string

const (
	OpGet    Operation = "GET"
	OpPut    Operation = "PUT"
	OpDelete Operation = "DELETE"
)

// ParseOperation accepts GET, PUT, DELETE and the console shorthand DEL, case-insensitively.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GET":
		return OpGet, nil
	case "PUT":
		return OpPut, nil
	case "DEL", "DELETE":
		return OpDelete, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// IsWrite reports whether the operation has to go through the commit protocol
func (o Operation) IsWrite() bool {
	return o == OpPut || o == OpDelete
}

// Phase represents the protocol phase of a transaction
type Phase string

const (
	PhaseInitial    Phase = "INITIAL"
	PhasePreparing  Phase = "PREPARING"
	PhaseCommitting Phase = "COMMITTING"
	PhaseCommitted  Phase = "COMMITTED"
	PhaseAborted    Phase = "ABORTED"
)

// Terminal reports whether no further transition is possible
func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseAborted
}

// Ack is a participant's answer to prepare or commit
type Ack string

const (
	AckReady Ack = "READY"
	AckFail  Ack = "FAIL"
)

// ResultStatus tags the outcome of a client request
type ResultStatus string

const (
	StatusValue      ResultStatus = "VALUE"
	StatusSuccess    ResultStatus = "SUCCESS"
	StatusFail       ResultStatus = "FAIL"
	StatusInvalidKey ResultStatus = "INVALID_KEY"
)
