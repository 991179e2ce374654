package dispatch

import (
	"errors"
	"fmt"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/model"
)

// ValidationError reports a malformed submission. It is returned
// synchronously and the request never enters the state machine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	// ErrUnknownRequest is shared with the arbiter so errors.Is matches
	// failures from both layers.
	ErrUnknownRequest = arbiter.ErrUnknownRequest
	// ErrNoCandidates is the cause of requests that exhausted escalation.
	ErrNoCandidates = errors.New("no candidates after escalation")
	// ErrDeadlineExceeded is the cause of requests that ran out of time.
	ErrDeadlineExceeded = errors.New("request deadline exceeded")
	// ErrTerminal is returned when cancelling a request that already ended.
	ErrTerminal = errors.New("request already in a terminal state")
	// ErrClosed is returned once the manager is shut down.
	ErrClosed = errors.New("dispatch manager closed")
)

// causeError maps a terminal cause to its error, nil for success.
func causeError(c model.Cause) error {
	switch c {
	case model.CauseNoCandidates:
		return ErrNoCandidates
	case model.CauseDeadlineExceeded:
		return ErrDeadlineExceeded
	case model.CauseShutdown:
		return ErrClosed
	}
	return nil
}
