// Package hitl implements the human-in-the-loop approval gate.
package hitl

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestNotPending rejects responses to requests that already have a
	// terminal status. The terminal status of a request is set exactly once.
	ErrRequestNotPending = errors.New("hitl request is not pending")

	// ErrUnknownAction rejects response actions outside approve/reject/amend.
	ErrUnknownAction = errors.New("unknown hitl action")

	// ErrInvalidOversightLevel rejects oversight levels outside high/medium/low.
	ErrInvalidOversightLevel = errors.New("invalid oversight level")
)

// GateError wraps a failure while operating on an approval request.
type GateError struct {
	Op        string
	RequestID string
	Err       error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("hitl gate %s failed for request %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}
