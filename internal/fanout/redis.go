package fanout

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pawsuite/kennelsync/internal/core"
)

// RedisFanout relays events between same-tenant processes over a Redis
// pub/sub channel. Every instance carries a random origin ID stamped into
// published envelopes; the subscriber drops envelopes carrying its own origin
// so a process never reacts to its own publishes.
type RedisFanout struct {
	client  *redis.Client
	channel string
	origin  string

	mu        sync.Mutex
	handlers  map[int]core.EventHandler
	handlerID int
	closed    bool

	pubsub *redis.PubSub
	done   chan struct{}
}

type envelope struct {
	Origin  string          `json:"origin"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisFanout creates a fanout relay on the channel for the given tenant
// and starts the subscriber.
func NewRedisFanout(client *redis.Client, tenantID string) (*RedisFanout, error) {
	f := &RedisFanout{
		client:   client,
		channel:  "kennelsync:events:" + tenantID,
		origin:   uuid.NewString(),
		handlers: make(map[int]core.EventHandler),
		done:     make(chan struct{}),
	}

	ctx := context.Background()
	f.pubsub = client.Subscribe(ctx, f.channel)

	// Confirm the subscription before returning so no publish from another
	// process slips past during startup.
	if _, err := f.pubsub.Receive(ctx); err != nil {
		f.pubsub.Close()
		return nil, err
	}

	go f.receiveLoop()
	return f, nil
}

func (f *RedisFanout) receiveLoop() {
	defer close(f.done)

	for msg := range f.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("[FANOUT] Dropping malformed relay message: %v", err)
			continue
		}
		if env.Origin == f.origin {
			continue
		}

		f.dispatch(core.Event{Type: env.Type, Payload: env.Payload})
	}
}

func (f *RedisFanout) dispatch(ev core.Event) {
	f.mu.Lock()
	handlers := make([]core.EventHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Publish broadcasts an event to all other processes of the tenant.
func (f *RedisFanout) Publish(ctx context.Context, ev core.Event) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil
	}

	data, err := json.Marshal(envelope{
		Origin:  f.origin,
		Type:    ev.Type,
		Payload: ev.Payload,
	})
	if err != nil {
		return err
	}

	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		// Relay loss degrades the experience but must not fail the host's
		// own event handling.
		log.Printf("[FANOUT] Publish failed: %v", err)
	}
	return nil
}

// Subscribe registers a handler for events published by other processes.
func (f *RedisFanout) Subscribe(handler core.EventHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.handlerID
	f.handlerID++
	f.handlers[id] = handler

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

// Close tears down the subscription. The Redis client is owned by the caller
// and stays open.
func (f *RedisFanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	err := f.pubsub.Close()
	<-f.done
	return err
}
