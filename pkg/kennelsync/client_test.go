package kennelsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawsuite/kennelsync/internal/core"
	"github.com/pawsuite/kennelsync/internal/fanout"
)

// fakeTransport lets tests push events as if the server sent them.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[int]core.EventHandler
	handlerID int
	state     core.ConnState
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[int]core.EventHandler),
		state:    core.StateDisconnected,
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = core.StateConnected
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, v interface{}) error { return nil }

func (f *fakeTransport) On(h core.EventHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.handlerID
	f.handlerID++
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeTransport) State() core.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return core.ConnectionState{State: f.state}
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = core.StateDisconnected
	return nil
}

func (f *fakeTransport) push(ev core.Event) {
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

func realtimeConfig() *Config {
	cfg := DefaultConfig()
	cfg.Realtime.Enabled = true
	cfg.Realtime.WebSocketURL = "ws://localhost:0/rt"
	return cfg
}

func TestClientEnqueueThenReplayDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(nil)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	for _, path := range []string{"/a", "/b", "/c"} {
		_, err := client.Enqueue(ctx, OperationInput{
			URL:    srv.URL + path,
			Method: "POST",
			Type:   "check-in",
		})
		require.NoError(t, err)
	}

	depth, err := client.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, depth)

	res, err := client.Replay(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Succeeded)

	depth, err = client.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, depth)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/a", "/b", "/c"}, received)
}

func TestClientQueueDepthSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(nil)
	require.NoError(t, err)
	defer client.Close()

	var mu sync.Mutex
	var depths []int
	unsub := client.OnQueueDepth(func(n int) {
		mu.Lock()
		depths = append(depths, n)
		mu.Unlock()
	})
	defer unsub()

	ctx := context.Background()
	_, err = client.Enqueue(ctx, OperationInput{URL: srv.URL, Method: "POST", Type: "booking"})
	require.NoError(t, err)

	_, err = client.Replay(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 0}, depths)
}

func TestClientTransportEventUpdatesCacheAndRelays(t *testing.T) {
	bus := fanout.NewBus()
	local := bus.NewContext()
	sibling := bus.NewContext()

	tr := newFakeTransport()
	client, err := New(realtimeConfig(),
		WithTransport(tr),
		WithFanout(local),
	)
	require.NoError(t, err)
	defer client.Close()

	client.Bind("booking.updated", Binding{
		Kind:        KindEntityUpdated,
		Collections: []string{"bookings"},
	})
	client.Cache().SetList("bookings", []Entity{
		{ID: "b1", Data: json.RawMessage(`{"id":"b1","run":"A4"}`)},
	})

	var relayed []core.Event
	sibling.Subscribe(func(ev core.Event) { relayed = append(relayed, ev) })

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	tr.push(core.Event{
		Type:    "booking.updated",
		Payload: json.RawMessage(`{"id":"b1","run":"C7"}`),
	})

	list, ok := client.Cache().List("bookings")
	require.True(t, ok)
	require.JSONEq(t, `{"id":"b1","run":"C7"}`, string(list[0].Data))

	require.Len(t, relayed, 1, "transport events must reach sibling processes")
	require.Equal(t, "booking.updated", relayed[0].Type)
}

func TestClientRelayedEventUpdatesCacheWithoutRepublish(t *testing.T) {
	bus := fanout.NewBus()
	local := bus.NewContext()
	sibling := bus.NewContext()

	client, err := New(realtimeConfig(),
		WithTransport(newFakeTransport()),
		WithFanout(local),
	)
	require.NoError(t, err)
	defer client.Close()

	client.Bind("booking.created", Binding{
		Kind:        KindEntityCreated,
		Collections: []string{"bookings"},
	})
	client.Cache().SetList("bookings", nil)

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	echoes := 0
	sibling.Subscribe(func(ev core.Event) { echoes++ })

	require.NoError(t, sibling.Publish(context.Background(), core.Event{
		Type:    "booking.created",
		Payload: json.RawMessage(`{"id":"b9"}`),
	}))

	list, ok := client.Cache().List("bookings")
	require.True(t, ok)
	require.Len(t, list, 1)
	require.Equal(t, "b9", list[0].ID)

	require.Equal(t, 0, echoes, "relayed events must not bounce back onto the bus")
}

func TestClientConnectivityRecoveryTriggersReplay(t *testing.T) {
	var mu sync.Mutex
	replayed := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		replayed++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(nil, WithProbe(nil))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	client.SetOnline(false)

	_, err = client.Enqueue(context.Background(), OperationInput{
		URL: srv.URL, Method: "POST", Type: "check-in",
	})
	require.NoError(t, err)

	client.SetOnline(true)

	require.Eventually(t, func() bool {
		n, err := client.QueueDepth(context.Background())
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, replayed)
}

func TestClientRestartDoesNotStackOnlineHooks(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(nil, WithProbe(nil))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Start(ctx))
	client.Stop()
	require.NoError(t, client.Start(ctx))
	defer client.Stop()

	// A stopped cycle must leave no hook behind: one transition, one pass.
	client.SetOnline(false)
	_, err = client.Enqueue(ctx, OperationInput{URL: srv.URL, Method: "POST", Type: "check-in"})
	require.NoError(t, err)
	client.SetOnline(true)

	require.Eventually(t, func() bool {
		n, err := client.QueueDepth(context.Background())
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestClientStoppedClientIgnoresOnlineTransitions(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(nil, WithProbe(nil))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Start(ctx))
	client.Stop()

	_, err = client.Enqueue(ctx, OperationInput{URL: srv.URL, Method: "POST", Type: "check-in"})
	require.NoError(t, err)

	client.SetOnline(false)
	client.SetOnline(true)

	time.Sleep(100 * time.Millisecond)

	n, err := client.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, calls)
}

func TestClientConnectionStateWithoutTransport(t *testing.T) {
	client, err := New(nil)
	require.NoError(t, err)
	defer client.Close()

	st := client.ConnectionState()
	require.Equal(t, StateDisconnected, st.State)
}

func TestClientOnEventUnsubscribe(t *testing.T) {
	tr := newFakeTransport()
	client, err := New(realtimeConfig(), WithTransport(tr))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	calls := 0
	unsub := client.OnEvent(func(ev Event) { calls++ })

	tr.push(core.Event{Type: "booking.updated", Payload: json.RawMessage(`{"id":"b1"}`)})
	require.Equal(t, 1, calls)

	unsub()
	tr.push(core.Event{Type: "booking.updated", Payload: json.RawMessage(`{"id":"b1"}`)})
	require.Equal(t, 1, calls)
}
