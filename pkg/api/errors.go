package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no run exists for an instance id.
	ErrNotFound = errors.New("run not found")

	// ErrNotWaiting is returned by Resume when the run is not halted
	// at the suspension node.
	ErrNotWaiting = errors.New("run is not awaiting external input")

	// ErrRunLocked is returned when another executor currently holds
	// the lease for an instance id.
	ErrRunLocked = errors.New("run is locked by another executor")
)

// StoreError wraps a checkpoint-store failure. It is an infrastructure
// error, distinct from a workflow-level failure: the run's own status
// is untouched and the caller may retry the Start/Resume call.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("checkpoint store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a retryable store failure.
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err is a retryable persistence failure.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
