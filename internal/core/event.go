package core

import "encoding/json"

// Event is a realtime message pushed from the server (or relayed between
// processes). Type is a dot-namespaced string such as "booking.updated";
// Payload is opaque JSON specific to the type.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventKind classifies an event type by the cache mutation it implies.
// The dispatcher switches exhaustively over kinds so a new kind cannot be
// added without deciding its cache semantics.
type EventKind int

const (
	// KindUnknown is an event with no registered cache semantics. Dispatch
	// ignores it (forward compatible with newer servers).
	KindUnknown EventKind = iota

	// KindEntityCreated appends to list caches unless the id already exists.
	KindEntityCreated

	// KindEntityUpdated replaces an entity in place; never inserts.
	KindEntityUpdated

	// KindEntityDeleted removes the entity from all caches.
	KindEntityDeleted

	// KindSnapshotUpdated replaces an aggregate slot wholesale by composite
	// key (e.g. occupancy for a date).
	KindSnapshotUpdated
)

// normalizeEnvelope is the wire shape pushed by the server. Some deployments
// send {"type","data"} and some {"type","payload"}; both decode here.
type normalizeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Data    json.RawMessage `json:"data"`
}

// DecodeEvent parses a wire message into the normalized Event form.
func DecodeEvent(raw []byte) (Event, error) {
	var env normalizeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, err
	}
	payload := env.Payload
	if payload == nil {
		payload = env.Data
	}
	return Event{Type: env.Type, Payload: payload}, nil
}

// EventHandler receives dispatched events. Handlers must not block.
type EventHandler func(Event)

// ConnState mirrors the underlying transport's ready state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// ConnectionState is a snapshot of the realtime channel for UI display.
type ConnectionState struct {
	State     ConnState
	BackoffMs int64
}
