package opstore

import (
	"context"
	"sync"
	"time"

	"github.com/pawsuite/kennelsync/internal/core"
)

// MemoryStore implements core.OperationStore in process memory.
// Useful for tests and for hosts that accept losing the queue on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	ops    []*core.QueuedOperation // insertion order
	byID   map[int64]*core.QueuedOperation
	nextID int64
	closed bool
}

// NewMemoryStore creates an empty in-memory operation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int64]*core.QueuedOperation),
		nextID: 1,
	}
}

// Enqueue persists a new operation and returns its assigned ID.
func (s *MemoryStore) Enqueue(ctx context.Context, in core.OperationInput) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, core.NewPersistenceError("memory", "enqueue", core.ErrStoreClosed)
	}

	now := time.Now().UTC()
	op := &core.QueuedOperation{
		ID:        s.nextID,
		URL:       in.URL,
		Method:    in.Method,
		Headers:   copyHeaders(in.Headers),
		Body:      append([]byte(nil), in.Body...),
		Type:      in.Type,
		Status:    core.StatusPending,
		Timestamp: now,
		UpdatedAt: now,
	}
	s.nextID++

	s.ops = append(s.ops, op)
	s.byID[op.ID] = op
	return op.ID, nil
}

// ListAll returns all operations oldest first.
func (s *MemoryStore) ListAll(ctx context.Context) ([]*core.QueuedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.NewPersistenceError("memory", "listAll", core.ErrStoreClosed)
	}

	out := make([]*core.QueuedOperation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, cloneOp(op))
	}
	return out, nil
}

// ListByType returns operations of one category, oldest first.
func (s *MemoryStore) ListByType(ctx context.Context, opType string) ([]*core.QueuedOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, core.NewPersistenceError("memory", "listByType", core.ErrStoreClosed)
	}

	var out []*core.QueuedOperation
	for _, op := range s.ops {
		if op.Type == opType {
			out = append(out, cloneOp(op))
		}
	}
	return out, nil
}

// Remove deletes an operation. Unknown IDs are a no-op.
func (s *MemoryStore) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewPersistenceError("memory", "remove", core.ErrStoreClosed)
	}

	if _, ok := s.byID[id]; !ok {
		return nil
	}
	delete(s.byID, id)
	for i, op := range s.ops {
		if op.ID == id {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			break
		}
	}
	return nil
}

// UpdateStatus transitions an operation's status. A transition to
// StatusFailed increments the attempt counter.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, status core.OperationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewPersistenceError("memory", "updateStatus", core.ErrStoreClosed)
	}

	op, ok := s.byID[id]
	if !ok {
		return core.ErrNotFound
	}
	op.Status = status
	op.UpdatedAt = time.Now().UTC()
	if status == core.StatusFailed {
		op.Attempts++
	}
	return nil
}

// Count returns the number of stored operations.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, core.NewPersistenceError("memory", "count", core.ErrStoreClosed)
	}
	return len(s.ops), nil
}

// Clear removes all operations.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.NewPersistenceError("memory", "clear", core.ErrStoreClosed)
	}
	s.ops = nil
	s.byID = make(map[int64]*core.QueuedOperation)
	return nil
}

// Close marks the store closed. Further operations fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func cloneOp(op *core.QueuedOperation) *core.QueuedOperation {
	c := *op
	c.Headers = copyHeaders(op.Headers)
	c.Body = append([]byte(nil), op.Body...)
	return &c
}

// MemoryStoreFactory implements the Factory interface for the in-memory
// backend.
type MemoryStoreFactory struct{}

// Type returns the type identifier for this factory.
func (f *MemoryStoreFactory) Type() string {
	return "memory"
}

// Validate validates the memory-specific configuration. The memory backend
// has no required fields.
func (f *MemoryStoreFactory) Validate(config Config) error {
	return nil
}

// Create creates a new in-memory operation store.
func (f *MemoryStoreFactory) Create(config Config) (core.OperationStore, error) {
	return NewMemoryStore(), nil
}

func init() {
	RegisterFactory(&MemoryStoreFactory{})
}
