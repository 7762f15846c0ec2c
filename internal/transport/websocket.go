package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/pawsuite/kennelsync/internal/core"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultDialTimeout       = 10 * time.Second
)

// WSTransport is the primary realtime channel: a WebSocket connection with
// automatic reconnection, heartbeat and fan-in event handlers. All methods
// are safe for concurrent use.
type WSTransport struct {
	url        string
	httpClient *http.Client
	heartbeat  time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	state       core.ConnState
	intentional bool
	generation  int

	handlerMu sync.Mutex
	handlers  map[int]core.EventHandler
	handlerID int

	backoff *reconnector
}

// WSOption configures a WSTransport.
type WSOption func(*WSTransport)

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) WSOption {
	return func(t *WSTransport) { t.httpClient = c }
}

// WithHeartbeatInterval overrides the keepalive ping interval.
func WithHeartbeatInterval(d time.Duration) WSOption {
	return func(t *WSTransport) { t.heartbeat = d }
}

// NewWSTransport creates a WebSocket transport for the given URL. It does not
// connect; call Connect.
func NewWSTransport(url string, opts ...WSOption) *WSTransport {
	t := &WSTransport{
		url:       url,
		heartbeat: defaultHeartbeatInterval,
		state:     core.StateDisconnected,
		handlers:  make(map[int]core.EventHandler),
		backoff:   newReconnector(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect establishes the WebSocket connection. Calling it while connected or
// connecting is a no-op.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != core.StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.state = core.StateConnecting
	t.intentional = false
	gen := t.generation
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, t.url, &websocket.DialOptions{
		HTTPClient: t.httpClient,
	})
	if err != nil {
		t.mu.Lock()
		stale := t.generation != gen
		if !stale {
			t.state = core.StateDisconnected
		}
		intentional := t.intentional
		t.mu.Unlock()

		if !stale && !intentional {
			t.scheduleReconnect()
		}
		return err
	}

	t.mu.Lock()
	if t.generation != gen || t.intentional {
		// Disconnect won the race; discard the fresh connection.
		t.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	t.conn = conn
	t.state = core.StateConnected
	t.mu.Unlock()

	t.backoff.reset()
	log.Printf("[REALTIME] Connected to %s", t.url)

	go t.readLoop(conn, gen)
	go t.heartbeatLoop(conn, gen)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			t.onConnectionLost(conn, gen, err)
			return
		}

		ev, err := core.DecodeEvent(data)
		if err != nil {
			log.Printf("[REALTIME] Dropping malformed message: %v", err)
			continue
		}
		t.dispatch(ev)
	}
}

func (t *WSTransport) heartbeatLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	ping, _ := json.Marshal(map[string]string{"type": "ping"})
	for range ticker.C {
		t.mu.Lock()
		live := t.conn == conn && t.generation == gen
		t.mu.Unlock()
		if !live {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, ping)
		cancel()
		if err != nil {
			// readLoop sees the broken connection and handles reconnect.
			return
		}
	}
}

func (t *WSTransport) onConnectionLost(conn *websocket.Conn, gen int, err error) {
	t.mu.Lock()
	if t.conn != conn || t.generation != gen {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = core.StateDisconnected
	intentional := t.intentional
	t.mu.Unlock()

	if intentional {
		return
	}

	log.Printf("[REALTIME] Connection lost: %v", err)
	t.scheduleReconnect()
}

func (t *WSTransport) scheduleReconnect() {
	delay := t.backoff.next()
	log.Printf("[REALTIME] Reconnecting in %s", delay.Round(time.Millisecond))

	time.AfterFunc(delay, func() {
		t.mu.Lock()
		intentional := t.intentional
		t.mu.Unlock()
		if intentional {
			return
		}
		if err := t.Connect(context.Background()); err != nil {
			log.Printf("[REALTIME] Reconnect attempt failed: %v", err)
		}
	})
}

func (t *WSTransport) dispatch(ev core.Event) {
	t.handlerMu.Lock()
	handlers := make([]core.EventHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.handlerMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Send serializes and transmits a message if the channel is open, and
// silently drops it otherwise.
func (t *WSTransport) Send(ctx context.Context, v interface{}) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == core.StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// On registers a handler for every received event and returns a function that
// removes exactly that subscription.
func (t *WSTransport) On(handler core.EventHandler) func() {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()

	id := t.handlerID
	t.handlerID++
	t.handlers[id] = handler

	return func() {
		t.handlerMu.Lock()
		defer t.handlerMu.Unlock()
		delete(t.handlers, id)
	}
}

// State returns a snapshot of the connection for UI display.
func (t *WSTransport) State() core.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return core.ConnectionState{
		State:     t.state,
		BackoffMs: t.backoff.pending().Milliseconds(),
	}
}

// Disconnect closes the channel and halts reconnection and heartbeat.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	t.intentional = true
	t.generation++
	conn := t.conn
	t.conn = nil
	t.state = core.StateDisconnected
	t.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}
