package cache

import (
	"encoding/json"
	"sync"
)

// Entity is one cached record: an identifier plus its JSON body. The cache
// never interprets Data beyond the id.
type Entity struct {
	ID   string
	Data json.RawMessage
}

// ChangeHandler is notified with the name of the changed scope (a list
// collection, an entity slot or a snapshot key). Handlers must not block.
type ChangeHandler func(scope string)

// EntityCache holds the client's working set: ordered list caches per
// collection, single-entity slots and aggregate snapshot slots. Mutations go
// through the dispatcher so realtime events keep the cache consistent without
// refetching.
type EntityCache struct {
	mu        sync.RWMutex
	lists     map[string][]Entity
	entities  map[string]Entity
	snapshots map[string]json.RawMessage

	handlerMu sync.Mutex
	handlers  map[int]ChangeHandler
	handlerID int
}

// NewEntityCache creates an empty cache.
func NewEntityCache() *EntityCache {
	return &EntityCache{
		lists:     make(map[string][]Entity),
		entities:  make(map[string]Entity),
		snapshots: make(map[string]json.RawMessage),
		handlers:  make(map[int]ChangeHandler),
	}
}

// OnChange registers a change handler and returns a function that removes it.
func (c *EntityCache) OnChange(handler ChangeHandler) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	id := c.handlerID
	c.handlerID++
	c.handlers[id] = handler

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.handlers, id)
	}
}

func (c *EntityCache) notify(scope string) {
	c.handlerMu.Lock()
	handlers := make([]ChangeHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.handlerMu.Unlock()

	for _, h := range handlers {
		h(scope)
	}
}

// SetList replaces a collection's list cache wholesale.
func (c *EntityCache) SetList(collection string, entities []Entity) {
	c.mu.Lock()
	c.lists[collection] = append([]Entity(nil), entities...)
	c.mu.Unlock()
	c.notify(collection)
}

// List returns a copy of a collection's list cache and whether it exists.
func (c *EntityCache) List(collection string) ([]Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list, ok := c.lists[collection]
	if !ok {
		return nil, false
	}
	return append([]Entity(nil), list...), true
}

// UpdateInList replaces the entity with the given id in place. It never
// inserts; updating an absent entity reports false and changes nothing.
func (c *EntityCache) UpdateInList(collection, id string, data json.RawMessage) bool {
	c.mu.Lock()
	list, ok := c.lists[collection]
	if !ok {
		c.mu.Unlock()
		return false
	}
	updated := false
	for i := range list {
		if list[i].ID == id {
			list[i].Data = data
			updated = true
			break
		}
	}
	c.mu.Unlock()

	if updated {
		c.notify(collection)
	}
	return updated
}

// InsertIntoList appends an entity unless its id is already present, which
// makes replayed create events idempotent.
func (c *EntityCache) InsertIntoList(collection string, e Entity) bool {
	c.mu.Lock()
	list := c.lists[collection]
	for i := range list {
		if list[i].ID == e.ID {
			c.mu.Unlock()
			return false
		}
	}
	c.lists[collection] = append(list, e)
	c.mu.Unlock()

	c.notify(collection)
	return true
}

// RemoveFromList deletes the entity with the given id from one collection.
func (c *EntityCache) RemoveFromList(collection, id string) bool {
	c.mu.Lock()
	list, ok := c.lists[collection]
	if !ok {
		c.mu.Unlock()
		return false
	}
	removed := false
	for i := range list {
		if list[i].ID == id {
			c.lists[collection] = append(list[:i], list[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()

	if removed {
		c.notify(collection)
	}
	return removed
}

// SetEntity stores an entity in a single-entity slot.
func (c *EntityCache) SetEntity(slot string, e Entity) {
	c.mu.Lock()
	c.entities[slot] = e
	c.mu.Unlock()
	c.notify(slot)
}

// Entity returns the entity in a slot and whether it exists.
func (c *EntityCache) Entity(slot string) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[slot]
	return e, ok
}

// DeleteEntity clears a single-entity slot.
func (c *EntityCache) DeleteEntity(slot string) {
	c.mu.Lock()
	_, ok := c.entities[slot]
	delete(c.entities, slot)
	c.mu.Unlock()
	if ok {
		c.notify(slot)
	}
}

// SetSnapshot replaces an aggregate snapshot slot wholesale.
func (c *EntityCache) SetSnapshot(key string, data json.RawMessage) {
	c.mu.Lock()
	c.snapshots[key] = data
	c.mu.Unlock()
	c.notify(key)
}

// Snapshot returns an aggregate snapshot and whether it exists.
func (c *EntityCache) Snapshot(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.snapshots[key]
	return data, ok
}

// Clear drops everything from the cache.
func (c *EntityCache) Clear() {
	c.mu.Lock()
	c.lists = make(map[string][]Entity)
	c.entities = make(map[string]Entity)
	c.snapshots = make(map[string]json.RawMessage)
	c.mu.Unlock()
	c.notify("*")
}
