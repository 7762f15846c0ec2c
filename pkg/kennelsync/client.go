// Package kennelsync is the client-side synchronization core for kennel
// management front ends: a durable offline operation queue, a realtime event
// channel with automatic reconnection, a cross-process event relay and an
// idempotent entity cache kept fresh by both.
package kennelsync

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/pawsuite/kennelsync/internal/cache"
	"github.com/pawsuite/kennelsync/internal/connectivity"
	"github.com/pawsuite/kennelsync/internal/core"
	"github.com/pawsuite/kennelsync/internal/fanout"
	"github.com/pawsuite/kennelsync/internal/opstore"
	"github.com/pawsuite/kennelsync/internal/replay"
	"github.com/pawsuite/kennelsync/internal/transport"
)

// Re-exported core types so hosts never import internal packages.
type (
	Event           = core.Event
	EventKind       = core.EventKind
	EventHandler    = core.EventHandler
	OperationInput  = core.OperationInput
	QueuedOperation = core.QueuedOperation
	OperationStatus = core.OperationStatus
	ConnectionState = core.ConnectionState
	ConnState       = core.ConnState
	Binding         = cache.Binding
	Entity          = cache.Entity
	EntityCache     = cache.EntityCache
	ReplayResult    = replay.Result
)

const (
	KindUnknown         = core.KindUnknown
	KindEntityCreated   = core.KindEntityCreated
	KindEntityUpdated   = core.KindEntityUpdated
	KindEntityDeleted   = core.KindEntityDeleted
	KindSnapshotUpdated = core.KindSnapshotUpdated

	StatusPending  = core.StatusPending
	StatusInFlight = core.StatusInFlight
	StatusFailed   = core.StatusFailed

	StateDisconnected = core.StateDisconnected
	StateConnecting   = core.StateConnecting
	StateConnected    = core.StateConnected
)

// Re-exported sentinel errors.
var (
	ErrNotFound         = core.ErrNotFound
	ErrReplayInProgress = core.ErrReplayInProgress
)

// Client wires the synchronization components together behind one facade.
// Construct with New, then Start. All methods are safe for concurrent use.
type Client struct {
	cfg *Config

	store       core.OperationStore
	cache       *cache.EntityCache
	dispatcher  *cache.Dispatcher
	coordinator *replay.Coordinator
	relay       core.Fanout
	monitor     *connectivity.Monitor
	deadLetter  core.DeadLetterSink
	httpClient  *http.Client

	// relayClient is the Redis connection owned by the client when the relay
	// was built from config rather than injected.
	relayClient *redis.Client

	mu             sync.Mutex
	transport      core.Transport
	transportWired bool
	started        bool
	closed         bool
	unsubscribe    []func()

	eventMu   sync.Mutex
	eventSubs map[int]core.EventHandler
	eventID   int

	depthMu   sync.Mutex
	depthSubs map[int]func(int)
	depthID   int
}

// Option customizes a Client, mostly by injecting component implementations
// in place of the config-driven defaults. Tests lean on these heavily.
type Option func(*Client)

// WithStore injects an operation store, bypassing the config-driven factory.
func WithStore(s core.OperationStore) Option {
	return func(c *Client) { c.store = s }
}

// WithTransport injects a realtime transport, bypassing Dial.
func WithTransport(t core.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithFanout injects a cross-process relay.
func WithFanout(f core.Fanout) Option {
	return func(c *Client) { c.relay = f }
}

// WithHTTPClient sets the HTTP client used for replay and probing.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithProbe overrides the connectivity probe.
func WithProbe(p connectivity.ProbeFunc) Option {
	return func(c *Client) {
		c.monitor = connectivity.NewMonitor(p,
			connectivity.WithInterval(c.cfg.Connectivity.ProbeInterval))
	}
}

// WithDeadLetter injects a dead-letter sink.
func WithDeadLetter(s core.DeadLetterSink) Option {
	return func(c *Client) { c.deadLetter = s }
}

// WithBindings registers cache semantics for multiple event types at
// construction time. Equivalent to calling Bind per type.
func WithBindings(bindings map[string]Binding) Option {
	return func(c *Client) {
		for t, b := range bindings {
			c.dispatcher.Bind(t, b)
		}
	}
}

// New creates a client from the configuration. Nil cfg means DefaultConfig.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:       cfg,
		cache:     cache.NewEntityCache(),
		eventSubs: make(map[int]core.EventHandler),
		depthSubs: make(map[int]func(int)),
	}
	c.dispatcher = cache.NewDispatcher(c.cache)

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Replay.RequestTimeout}
	}

	if c.store == nil {
		store, err := opstore.Create(cfg.Store.toOpstoreConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create operation store: %w", err)
		}
		c.store = store
	}

	if c.deadLetter == nil && cfg.DeadLetter.Enabled {
		sink, err := replay.NewKafkaDeadLetter(cfg.DeadLetter.Brokers, cfg.DeadLetter.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to create dead-letter sink: %w", err)
		}
		c.deadLetter = sink
	}

	coordOpts := []replay.Option{
		replay.WithHTTPClient(c.httpClient),
		replay.WithRateLimit(cfg.Replay.RatePerSecond, cfg.Replay.Burst),
		replay.WithMaxAttempts(cfg.Replay.MaxAttempts),
		replay.WithQueueDepthHook(c.notifyDepthValue),
	}
	if cfg.Replay.DrainInterval > 0 {
		coordOpts = append(coordOpts, replay.WithDrainInterval(cfg.Replay.DrainInterval))
	}
	if c.deadLetter != nil {
		coordOpts = append(coordOpts, replay.WithDeadLetter(c.deadLetter))
	}
	c.coordinator = replay.NewCoordinator(c.store, coordOpts...)

	if c.relay == nil {
		c.relay = c.buildRelay(cfg)
	}

	if c.monitor == nil {
		var probe connectivity.ProbeFunc
		if cfg.Connectivity.ProbeURL != "" {
			probe = connectivity.HTTPProbe(cfg.Connectivity.ProbeURL, c.httpClient)
		}
		var monOpts []connectivity.Option
		if cfg.Connectivity.ProbeInterval > 0 {
			monOpts = append(monOpts, connectivity.WithInterval(cfg.Connectivity.ProbeInterval))
		}
		c.monitor = connectivity.NewMonitor(probe, monOpts...)
	}

	return c, nil
}

// buildRelay constructs the cross-process relay from config. Relay problems
// degrade to a no-op instead of failing the client; sync still works, other
// processes just will not piggyback on this one's connection.
func (c *Client) buildRelay(cfg *Config) core.Fanout {
	if !cfg.Fanout.Enabled {
		return fanout.NewNoop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Fanout.Endpoint,
		Password: cfg.Fanout.Password,
		DB:       cfg.Fanout.DB,
	})

	relay, err := fanout.NewRedisFanout(client, cfg.Fanout.TenantID)
	if err != nil {
		log.Printf("[FANOUT] Relay unavailable, continuing without it: %v", err)
		client.Close()
		return fanout.NewNoop()
	}

	c.relayClient = client
	return relay
}

// Start connects the realtime channel (when enabled), launches the
// connectivity monitor and the background drain loop, and runs one initial
// replay pass to flush anything queued by a previous session.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.unsub(c.relay.Subscribe(c.handleRelayed))

	if c.cfg.Realtime.Enabled {
		c.connectTransport(ctx)
	}

	c.unsub(c.monitor.OnOnline(func() {
		go func() {
			if _, err := c.Replay(context.Background()); err != nil && err != core.ErrReplayInProgress {
				log.Printf("[REPLAY] Recovery pass failed: %v", err)
			}
		}()
		if c.cfg.Realtime.Enabled {
			go c.connectTransport(context.Background())
		}
	}))

	c.monitor.Start()
	c.coordinator.Start()

	go func() {
		if _, err := c.Replay(ctx); err != nil && err != core.ErrReplayInProgress {
			log.Printf("[REPLAY] Startup pass failed: %v", err)
		}
	}()

	return nil
}

// connectTransport dials (or reconnects) the realtime channel. Failure is
// non-fatal: the queue keeps working and the next connectivity recovery
// retries.
func (c *Client) connectTransport(ctx context.Context) {
	c.mu.Lock()
	t := c.transport
	wired := c.transportWired
	if t != nil {
		c.transportWired = true
	}
	c.mu.Unlock()

	if t != nil {
		if !wired {
			c.unsub(t.On(c.handleTransportEvent))
		}
		if err := t.Connect(ctx); err != nil {
			log.Printf("[REALTIME] Connect failed: %v", err)
		}
		return
	}

	wsURL := channelURL(c.cfg.Realtime.WebSocketURL, c.cfg.Realtime)
	sseURL := channelURL(c.cfg.Realtime.SSEURL, c.cfg.Realtime)
	t, err := transport.Dial(ctx, wsURL, sseURL, c.httpClient, c.cfg.Realtime.HeartbeatInterval)
	if err != nil {
		log.Printf("[REALTIME] No channel available: %v", err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Disconnect()
		return
	}
	c.transport = t
	c.transportWired = true
	c.mu.Unlock()

	c.unsub(t.On(c.handleTransportEvent))
}

// channelURL appends the tenant and token query parameters the server uses
// to scope and authorize the stream.
func channelURL(raw string, rt RealtimeConfig) string {
	if raw == "" || (rt.TenantID == "" && rt.Token == "") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if rt.TenantID != "" {
		q.Set("tenantId", rt.TenantID)
	}
	if rt.Token != "" {
		q.Set("token", rt.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) unsub(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = append(c.unsubscribe, fn)
}

// handleTransportEvent processes an event from the server: apply it to the
// cache, relay it to sibling processes and notify host subscribers.
func (c *Client) handleTransportEvent(ev core.Event) {
	c.dispatcher.Dispatch(ev)
	if err := c.relay.Publish(context.Background(), ev); err != nil {
		log.Printf("[FANOUT] Relay publish failed: %v", err)
	}
	c.notifyEvent(ev)
}

// handleRelayed processes an event relayed from a sibling process. It is not
// re-published, so relays never loop.
func (c *Client) handleRelayed(ev core.Event) {
	c.dispatcher.Dispatch(ev)
	c.notifyEvent(ev)
}

func (c *Client) notifyEvent(ev core.Event) {
	c.eventMu.Lock()
	subs := make([]core.EventHandler, 0, len(c.eventSubs))
	for _, h := range c.eventSubs {
		subs = append(subs, h)
	}
	c.eventMu.Unlock()

	for _, h := range subs {
		h(ev)
	}
}

func (c *Client) notifyDepthValue(n int) {
	c.depthMu.Lock()
	subs := make([]func(int), 0, len(c.depthSubs))
	for _, fn := range c.depthSubs {
		subs = append(subs, fn)
	}
	c.depthMu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}

func (c *Client) notifyDepth(ctx context.Context) {
	n, err := c.store.Count(ctx)
	if err != nil {
		return
	}
	c.notifyDepthValue(n)
}

// Enqueue records a mutation intent in the durable queue and returns its
// store-assigned ID. Persistence failures surface to the caller so the host
// can tell the user the action was not saved.
func (c *Client) Enqueue(ctx context.Context, in OperationInput) (int64, error) {
	id, err := c.store.Enqueue(ctx, in)
	if err != nil {
		return 0, err
	}
	c.notifyDepth(ctx)
	return id, nil
}

// Replay runs one drain pass over the queue. Returns ErrReplayInProgress if
// a pass is already running.
func (c *Client) Replay(ctx context.Context) (ReplayResult, error) {
	return c.coordinator.Replay(ctx)
}

// QueueDepth returns the number of queued operations.
func (c *Client) QueueDepth(ctx context.Context) (int, error) {
	return c.store.Count(ctx)
}

// PendingByType returns the queued operations of one category, oldest first.
func (c *Client) PendingByType(ctx context.Context, opType string) ([]*QueuedOperation, error) {
	return c.store.ListByType(ctx, opType)
}

// OnQueueDepth subscribes to queue depth changes and returns an unsubscribe
// function.
func (c *Client) OnQueueDepth(fn func(int)) func() {
	c.depthMu.Lock()
	defer c.depthMu.Unlock()

	id := c.depthID
	c.depthID++
	c.depthSubs[id] = fn

	return func() {
		c.depthMu.Lock()
		defer c.depthMu.Unlock()
		delete(c.depthSubs, id)
	}
}

// OnEvent subscribes to all realtime events, from the server and from
// sibling processes alike. Returns an unsubscribe function.
func (c *Client) OnEvent(handler EventHandler) func() {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	id := c.eventID
	c.eventID++
	c.eventSubs[id] = handler

	return func() {
		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		delete(c.eventSubs, id)
	}
}

// Bind registers the cache semantics of an event type.
func (c *Client) Bind(eventType string, b Binding) {
	c.dispatcher.Bind(eventType, b)
}

// Cache exposes the entity cache for reads and host-driven seeding.
func (c *Client) Cache() *EntityCache {
	return c.cache
}

// ConnectionState returns a snapshot of the realtime channel.
func (c *Client) ConnectionState() ConnectionState {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return ConnectionState{State: StateDisconnected}
	}
	return t.State()
}

// SetOnline pushes a connectivity state from the host, for platforms with a
// native reachability signal.
func (c *Client) SetOnline(online bool) {
	c.monitor.SetOnline(online)
}

// Stop halts background work: the drain loop, the monitor and the realtime
// channel. The client can be started again.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	t := c.transport
	unsubs := c.unsubscribe
	c.unsubscribe = nil
	c.transportWired = false
	c.mu.Unlock()

	c.coordinator.Stop()
	c.monitor.Stop()
	for _, fn := range unsubs {
		fn()
	}
	if t != nil {
		t.Disconnect()
	}
}

// Close stops the client and releases every owned resource. The client is
// unusable afterwards.
func (c *Client) Close() error {
	c.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	if err := c.relay.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.relayClient != nil {
		if err := c.relayClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
