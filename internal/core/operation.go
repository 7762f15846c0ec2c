package core

import (
	"context"
	"time"
)

// OperationStatus represents the lifecycle state of a queued operation.
type OperationStatus string

const (
	// StatusPending means the operation is waiting for a replay pass.
	StatusPending OperationStatus = "pending"

	// StatusInFlight means a replay pass is currently executing the operation.
	StatusInFlight OperationStatus = "in-flight"

	// StatusFailed means the last replay attempt failed; the operation stays
	// queued and is eligible for the next replay pass.
	StatusFailed OperationStatus = "failed"
)

// QueuedOperation is a recorded HTTP mutation intent awaiting network replay.
// It is immutable after enqueue except for Status, Attempts and UpdatedAt.
type QueuedOperation struct {
	// ID is assigned by the store. IDs are monotonically increasing within a
	// store, which gives FIFO replay ordering for free.
	ID int64 `json:"id"`

	// URL is the target endpoint captured at enqueue time.
	URL string `json:"url"`

	// Method is the HTTP verb to replay with.
	Method string `json:"method"`

	// Headers are replayed verbatim.
	Headers map[string]string `json:"headers,omitempty"`

	// Body is the serialized request payload. Nil means no body.
	Body []byte `json:"body,omitempty"`

	// Type is a free-form operation category (e.g. "check-in", "booking").
	// Stores index on it so the UI can show per-category queues.
	Type string `json:"type"`

	// Status tracks the replay lifecycle.
	Status OperationStatus `json:"status"`

	// Attempts counts failed replay passes. Drives the dead-letter policy
	// and the "needs attention" UI indicator.
	Attempts int `json:"attempts"`

	// Timestamp is when the operation was enqueued.
	Timestamp time.Time `json:"timestamp"`

	// UpdatedAt is the time of the last status change.
	UpdatedAt time.Time `json:"updatedAt"`
}

// OperationInput is the caller-supplied part of a queued operation.
// The store assigns ID, Timestamp and the initial status.
type OperationInput struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Type    string
}

// OperationStore is the durable store for pending mutations (the offline
// queue). Implementations must keep insertion order observable via ListAll
// and must make Count cheap - no full materialization.
type OperationStore interface {
	// Enqueue persists a new operation with StatusPending and returns its
	// store-assigned ID. Persistence failures are returned as a
	// *PersistenceError - never swallowed, so the caller can surface the
	// failure instead of silently dropping a user action.
	Enqueue(ctx context.Context, in OperationInput) (int64, error)

	// ListAll returns all stored operations oldest first.
	ListAll(ctx context.Context) ([]*QueuedOperation, error)

	// ListByType returns the operations of one category, oldest first.
	ListByType(ctx context.Context, opType string) ([]*QueuedOperation, error)

	// Remove deletes an operation. Removing an unknown ID is a no-op, which
	// makes double-removal races harmless.
	Remove(ctx context.Context, id int64) error

	// UpdateStatus transitions an operation's status and bumps UpdatedAt.
	// A transition to StatusFailed also increments Attempts.
	// Returns ErrNotFound if the ID does not exist.
	UpdateStatus(ctx context.Context, id int64, status OperationStatus) error

	// Count returns the number of stored operations.
	Count(ctx context.Context) (int, error)

	// Clear removes all operations.
	Clear(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
