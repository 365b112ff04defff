package api

import (
	"errors"
	"fmt"
)

var (
	// ErrInstanceNotFound is returned when no instance exists for an id.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceCompleted is returned when an operation targets an
	// instance that already reached a terminal status. Raising an event
	// or terminating such an instance is a no-op reported through this
	// error rather than a failure of the caller.
	ErrInstanceCompleted = errors.New("instance already completed")

	// ErrWorkflowNotFound is returned when a workflow name has no
	// registered program.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrActivityNotFound is returned when a scheduled activity has no
	// registered implementation.
	ErrActivityNotFound = errors.New("activity not registered")

	// ErrDuplicateCompletion is returned by history stores when a
	// completion fact for the same scheduled operation was already
	// recorded. Callers treat it as success; it is how redundant
	// dispatches collapse into an exactly-once workflow effect.
	ErrDuplicateCompletion = errors.New("completion already recorded")
)

// ActivityError is an activity failure as observed at the workflow call
// site. It is reconstructed from the recorded completion fact, so the
// underlying error chain is not preserved across replay.
type ActivityError struct {
	Activity string
	Message  string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %s", e.Activity, e.Message)
}

// transientError marks an activity failure as retryable by the dispatcher.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err to mark it as a transient activity failure. The
// dispatcher retries transient failures with bounded backoff before
// recording a permanent one. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked
// with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
