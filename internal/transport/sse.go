package transport

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pawsuite/kennelsync/internal/core"
)

const defaultStaleTimeout = 45 * time.Second

// SSETransport is the receive-only fallback channel: a long-lived HTTP
// response parsed as server-sent events. Send is a silent no-op since the
// channel is one-directional. A watchdog tears down connections that stop
// delivering data so the reconnect loop can replace them.
type SSETransport struct {
	url        string
	httpClient *http.Client
	stale      time.Duration

	mu          sync.Mutex
	cancel      context.CancelFunc
	state       core.ConnState
	intentional bool
	generation  int
	lastData    time.Time

	handlerMu sync.Mutex
	handlers  map[int]core.EventHandler
	handlerID int

	backoff *reconnector
}

// SSEOption configures an SSETransport.
type SSEOption func(*SSETransport)

// WithSSEHTTPClient sets the HTTP client used for the event stream request.
func WithSSEHTTPClient(c *http.Client) SSEOption {
	return func(t *SSETransport) { t.httpClient = c }
}

// WithStaleTimeout overrides how long a silent stream is tolerated before the
// watchdog recycles the connection.
func WithStaleTimeout(d time.Duration) SSEOption {
	return func(t *SSETransport) { t.stale = d }
}

// NewSSETransport creates an SSE transport for the given URL. It does not
// connect; call Connect.
func NewSSETransport(url string, opts ...SSEOption) *SSETransport {
	t := &SSETransport{
		url:        url,
		httpClient: http.DefaultClient,
		stale:      defaultStaleTimeout,
		state:      core.StateDisconnected,
		handlers:   make(map[int]core.EventHandler),
		backoff:    newReconnector(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens the event stream. Calling it while connected or connecting is
// a no-op.
func (t *SSETransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != core.StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.state = core.StateConnecting
	t.intentional = false
	gen := t.generation
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		t.fail(gen)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.fail(gen)
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.fail(gen)
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.generation != gen || t.intentional {
		t.mu.Unlock()
		cancel()
		resp.Body.Close()
		return nil
	}
	t.cancel = cancel
	t.state = core.StateConnected
	t.lastData = time.Now()
	t.mu.Unlock()

	t.backoff.reset()
	log.Printf("[REALTIME] Event stream open at %s", t.url)

	go t.readLoop(streamCtx, resp, gen)
	go t.watchdog(streamCtx, gen)
	return nil
}

func (t *SSETransport) fail(gen int) {
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
}

func (t *SSETransport) readLoop(ctx context.Context, resp *http.Response, gen int) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// data: lines accumulate until the blank line that ends the event; a
	// multi-line data field joins with newlines per the SSE format.
	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		t.mu.Lock()
		t.lastData = time.Now()
		t.mu.Unlock()

		if line == "" {
			if len(data) == 0 {
				continue
			}
			payload := strings.Join(data, "\n")
			data = data[:0]

			ev, err := core.DecodeEvent([]byte(payload))
			if err != nil {
				log.Printf("[REALTIME] Dropping malformed stream event: %v", err)
				continue
			}
			t.dispatch(ev)
			continue
		}

		// Comments (": keepalive") and event/id fields are ignored.
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("event stream closed by server")
	}
	t.onStreamLost(gen, err)
}

func (t *SSETransport) watchdog(ctx context.Context, gen int) {
	ticker := time.NewTicker(t.stale / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			live := t.generation == gen && t.state == core.StateConnected
			silent := time.Since(t.lastData) > t.stale
			cancel := t.cancel
			t.mu.Unlock()

			if !live {
				return
			}
			if silent && cancel != nil {
				log.Printf("[REALTIME] Event stream stale, recycling connection")
				cancel()
				return
			}
		}
	}
}

func (t *SSETransport) onStreamLost(gen int, err error) {
	t.mu.Lock()
	if t.generation != gen {
		t.mu.Unlock()
		return
	}
	t.cancel = nil
	t.state = core.StateDisconnected
	intentional := t.intentional
	t.mu.Unlock()

	if intentional {
		return
	}

	log.Printf("[REALTIME] Event stream lost: %v", err)
	t.scheduleReconnect()
}

func (t *SSETransport) scheduleReconnect() {
	delay := t.backoff.next()
	log.Printf("[REALTIME] Reconnecting event stream in %s", delay.Round(time.Millisecond))

	time.AfterFunc(delay, func() {
		t.mu.Lock()
		intentional := t.intentional
		t.mu.Unlock()
		if intentional {
			return
		}
		if err := t.Connect(context.Background()); err != nil {
			log.Printf("[REALTIME] Stream reconnect attempt failed: %v", err)
		}
	})
}

func (t *SSETransport) dispatch(ev core.Event) {
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

// Send is a silent no-op; the event stream is receive-only.
func (t *SSETransport) Send(ctx context.Context, v interface{}) error {
	return nil
}

// On registers a handler for every received event and returns a function that
// removes exactly that subscription.
func (t *SSETransport) On(handler core.EventHandler) func() {
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
func (t *SSETransport) State() core.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return core.ConnectionState{
		State:     t.state,
		BackoffMs: t.backoff.pending().Milliseconds(),
	}
}

// Disconnect closes the stream and halts reconnection.
func (t *SSETransport) Disconnect() error {
	t.mu.Lock()
	t.intentional = true
	t.generation++
	cancel := t.cancel
	t.cancel = nil
	t.state = core.StateDisconnected
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}
