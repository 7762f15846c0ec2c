package fanout

import (
	"context"
	"sync"

	"github.com/pawsuite/kennelsync/internal/core"
)

// Bus is an in-process broadcast hub. Each participating context attaches via
// NewContext; events published on one handle are delivered to every other
// handle but never echoed back to the publisher. Used in tests and by hosts
// that run all their contexts inside one process.
type Bus struct {
	mu       sync.Mutex
	contexts map[int]*BusContext
	nextID   int
}

// NewBus creates an empty broadcast hub.
func NewBus() *Bus {
	return &Bus{contexts: make(map[int]*BusContext)}
}

// NewContext attaches a new participant to the bus.
func (b *Bus) NewContext() *BusContext {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &BusContext{
		bus:      b,
		id:       b.nextID,
		handlers: make(map[int]core.EventHandler),
	}
	b.contexts[c.id] = c
	b.nextID++
	return c
}

func (b *Bus) broadcast(from int, ev core.Event) {
	b.mu.Lock()
	targets := make([]*BusContext, 0, len(b.contexts))
	for id, c := range b.contexts {
		if id != from {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.deliver(ev)
	}
}

func (b *Bus) detach(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.contexts, id)
}

// BusContext is one participant's handle on a Bus. It implements core.Fanout.
type BusContext struct {
	bus *Bus
	id  int

	mu        sync.Mutex
	handlers  map[int]core.EventHandler
	handlerID int
	closed    bool
}

// Publish broadcasts an event to every other context on the bus.
func (c *BusContext) Publish(ctx context.Context, ev core.Event) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	c.bus.broadcast(c.id, ev)
	return nil
}

// Subscribe registers a handler for events published by other contexts.
func (c *BusContext) Subscribe(handler core.EventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.handlerID
	c.handlerID++
	c.handlers[id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

func (c *BusContext) deliver(ev core.Event) {
	c.mu.Lock()
	handlers := make([]core.EventHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Close detaches the context from the bus.
func (c *BusContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.detach(c.id)
	return nil
}
