package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pawsuite/kennelsync/internal/core"
)

// Binding declares what a realtime event type does to the cache: which
// mutation kind it is and which list collections (or snapshot key) it
// touches.
type Binding struct {
	Kind core.EventKind

	// Collections are the list caches affected by entity events.
	Collections []string

	// SlotPrefix enables single-entity slot maintenance: updates write the
	// slot "<SlotPrefix><id>" and deletes remove it. Empty disables slot
	// maintenance for the event type.
	SlotPrefix string

	// SnapshotKey derives the snapshot slot from the event payload. Required
	// for KindSnapshotUpdated bindings, ignored otherwise.
	SnapshotKey func(payload json.RawMessage) (string, error)
}

// Dispatcher applies realtime events to the entity cache. All updaters are
// idempotent: receiving the same event twice (transport redelivery plus the
// cross-process relay) leaves the cache in the same state as receiving it
// once.
type Dispatcher struct {
	cache *EntityCache

	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewDispatcher creates a dispatcher over the given cache.
func NewDispatcher(c *EntityCache) *Dispatcher {
	return &Dispatcher{
		cache:    c,
		bindings: make(map[string]Binding),
	}
}

// Bind registers the cache semantics of an event type. Binding the same type
// twice replaces the earlier binding.
func (d *Dispatcher) Bind(eventType string, b Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[eventType] = b
}

// Dispatch applies one event to the cache. Events with no binding and events
// with malformed payloads are logged and skipped; they never disturb the
// cache or the caller.
func (d *Dispatcher) Dispatch(ev core.Event) {
	d.mu.RLock()
	binding, ok := d.bindings[ev.Type]
	d.mu.RUnlock()

	if !ok {
		return
	}

	switch binding.Kind {
	case core.KindEntityCreated:
		id, err := extractID(ev.Payload)
		if err != nil {
			log.Printf("[CACHE] Skipping %s: %v", ev.Type, err)
			return
		}
		for _, col := range binding.Collections {
			d.cache.InsertIntoList(col, Entity{ID: id, Data: ev.Payload})
		}

	case core.KindEntityUpdated:
		id, err := extractID(ev.Payload)
		if err != nil {
			log.Printf("[CACHE] Skipping %s: %v", ev.Type, err)
			return
		}
		for _, col := range binding.Collections {
			d.cache.UpdateInList(col, id, ev.Payload)
		}
		if binding.SlotPrefix != "" {
			d.cache.SetEntity(binding.SlotPrefix+id, Entity{ID: id, Data: ev.Payload})
		}

	case core.KindEntityDeleted:
		id, err := extractID(ev.Payload)
		if err != nil {
			log.Printf("[CACHE] Skipping %s: %v", ev.Type, err)
			return
		}
		for _, col := range binding.Collections {
			d.cache.RemoveFromList(col, id)
		}
		if binding.SlotPrefix != "" {
			d.cache.DeleteEntity(binding.SlotPrefix + id)
		}

	case core.KindSnapshotUpdated:
		if binding.SnapshotKey == nil {
			log.Printf("[CACHE] Skipping %s: snapshot binding has no key function", ev.Type)
			return
		}
		key, err := binding.SnapshotKey(ev.Payload)
		if err != nil {
			log.Printf("[CACHE] Skipping %s: %v", ev.Type, err)
			return
		}
		d.cache.SetSnapshot(key, ev.Payload)

	case core.KindUnknown:
		// Bound but explicitly unclassified; treat like an unbound type.

	default:
		log.Printf("[CACHE] No updater for event kind %d (type %s)", binding.Kind, ev.Type)
	}
}

// extractID pulls the entity identifier out of an event payload. String and
// numeric ids are both accepted; numeric ids keep their wire form.
func extractID(payload json.RawMessage) (string, error) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("malformed payload: %w", err)
	}
	if len(probe.ID) == 0 || string(probe.ID) == "null" {
		return "", fmt.Errorf("payload has no id")
	}

	var s string
	if err := json.Unmarshal(probe.ID, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("payload has empty id")
		}
		return s, nil
	}
	return string(probe.ID), nil
}
