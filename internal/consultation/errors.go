package consultation

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a consultation id is unknown.
var ErrNotFound = errors.New("consultation not found")

// ValidationError rejects bad input at Start or SendFollowUp. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports an operation the current state forbids.
// The consultation is left unchanged.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while consultation is %s", e.Op, e.State)
}

// InferenceError is a failed or timed out agent call. The coordinator turns it
// into an agent-attributed transcript message; it never fails the round.
type InferenceError struct {
	AgentID  string
	Attempts int
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("agent %s failed after %d attempt(s): %v", e.AgentID, e.Attempts, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// InsufficientDataError means there are no opinions to compute a verdict from.
type InsufficientDataError struct{}

func (e *InsufficientDataError) Error() string { return "no opinions yet, verdict unavailable" }
