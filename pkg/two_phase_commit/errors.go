package twophasecommit

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned for GET or DELETE on a key the local replica does not hold
	ErrInvalidKey = errors.New("invalid key")
	// ErrUnknownOperation is returned for operations other than GET, PUT and DELETE
	ErrUnknownOperation = errors.New("unknown operation")

	ErrParticipantUnavailable = errors.New("participant unavailable")
	ErrPrepareRejected        = errors.New("prepare rejected")
	ErrCommitFailed           = errors.New("commit failed")
	ErrProtocolAborted        = errors.New("protocol aborted")
	ErrNoParticipants         = errors.New("no participants registered")
	ErrNoCoordinator          = errors.New("no coordinator attached")
	ErrNilTransaction         = errors.New("nil transaction")
)

// VoteError attributes a final failure to one participant
type VoteError struct {
	ParticipantID int
	Err           error
}

func (e *VoteError) Error() string {
	return fmt.Sprintf("participant %d: %v", e.ParticipantID, e.Err)
}

func (e *VoteError) Unwrap() error {
	return e.Err
}
