package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation ID does not exist in the
	// store.
	ErrNotFound = errors.New("operation not found")

	// ErrStoreClosed is returned by store operations after Close.
	ErrStoreClosed = errors.New("operation store is closed")

	// ErrReplayInProgress is returned when a replay pass is requested while
	// another is already running (single-flight guard).
	ErrReplayInProgress = errors.New("replay already in progress")

	// ErrTransportClosed is returned when sending on a disconnected channel
	// would be an error rather than a silent drop (internal use).
	ErrTransportClosed = errors.New("transport is closed")
)

// PersistenceError wraps a failure of the durable store's backend (quota
// exceeded, connection refused, missing schema). It is surfaced to the
// caller of the store and never auto-retried by the store itself.
type PersistenceError struct {
	// Op names the failing store operation, e.g. "enqueue".
	Op string

	// Backend identifies the store implementation, e.g. "redis".
	Backend string

	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("opstore %s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err for the given backend and operation.
func NewPersistenceError(backend, op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Backend: backend, Err: err}
}

// IsPersistenceError reports whether err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
