package core

import "context"

// Transport maintains a live event channel to the server with reconnect and
// heartbeat handled internally. Implementations: websocket (bidirectional),
// SSE (receive-only fallback).
type Transport interface {
	// Connect establishes the channel. Calling it while connected or
	// connecting is a no-op.
	Connect(ctx context.Context) error

	// Send serializes and transmits a message if the channel is open, and
	// silently drops it otherwise. Realtime pushes are not durable state;
	// the operation store is.
	Send(ctx context.Context, v interface{}) error

	// On registers a handler for every received event and returns a function
	// that removes exactly that subscription.
	On(handler EventHandler) func()

	// State returns a snapshot for UI display.
	State() ConnectionState

	// Disconnect closes the channel and halts reconnection and heartbeat.
	Disconnect() error
}

// Fanout relays events between same-tenant processes so only one of them
// needs a live transport connection. Implementations must degrade to a no-op
// when the broadcast primitive is unavailable rather than failing the host.
type Fanout interface {
	// Publish broadcasts an event to all other contexts. The publishing
	// context does not receive its own events back.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers a handler for events published by other contexts
	// and returns an unsubscribe function.
	Subscribe(handler EventHandler) func()

	// Close tears down the relay.
	Close() error
}

// DeadLetterSink receives operations evicted from the queue after exhausting
// their replay attempts.
type DeadLetterSink interface {
	Publish(ctx context.Context, op *QueuedOperation) error
	Close() error
}
