package connectivity

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// ProbeFunc reports whether the network currently looks reachable.
type ProbeFunc func(ctx context.Context) bool

// HTTPProbe returns a probe that issues a HEAD request against url and
// treats any response, even an error status, as proof of reachability.
func HTTPProbe(url string, client *http.Client) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: defaultProbeTimeout}
	}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Monitor tracks online/offline state by polling a probe and fires hooks on
// transitions. Hosts can also push state directly via SetOnline when the
// platform gives them a better signal than polling.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu        sync.Mutex
	online    bool
	onOnline  map[int]func()
	onOffline map[int]func()
	hookID    int

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the probe polling period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// NewMonitor creates a monitor over the given probe. The monitor starts
// optimistic: it assumes online until a probe says otherwise, so a fresh
// client does not queue operations it could have sent.
func NewMonitor(probe ProbeFunc, opts ...Option) *Monitor {
	m := &Monitor{
		probe:     probe,
		interval:  defaultProbeInterval,
		online:    true,
		onOnline:  make(map[int]func()),
		onOffline: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers a hook fired on each offline-to-online transition and
// returns a function that removes exactly that hook.
func (m *Monitor) OnOnline(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.hookID
	m.hookID++
	m.onOnline[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onOnline, id)
	}
}

// OnOffline registers a hook fired on each online-to-offline transition and
// returns a function that removes exactly that hook.
func (m *Monitor) OnOffline(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.hookID
	m.hookID++
	m.onOffline[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onOffline, id)
	}
}

// SetOnline pushes a connectivity state from the host. Hooks fire only on
// actual transitions, so repeated pushes of the same state are harmless.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	registered := m.onOnline
	if !online {
		registered = m.onOffline
	}
	hooks := make([]func(), 0, len(registered))
	for _, fn := range registered {
		hooks = append(hooks, fn)
	}
	m.mu.Unlock()

	if online {
		log.Printf("[MONITOR] Connectivity restored")
	} else {
		log.Printf("[MONITOR] Connectivity lost")
	}
	for _, fn := range hooks {
		fn()
	}
}

// Start launches the polling worker. A monitor without a probe relies solely
// on SetOnline and Start is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.probe == nil {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.pollLoop()
}

func (m *Monitor) pollLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
			online := m.probe(ctx)
			cancel()
			m.SetOnline(online)
		}
	}
}

// Stop halts the polling worker.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}
