package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorStartsOptimistic(t *testing.T) {
	m := NewMonitor(nil)
	require.True(t, m.Online())
}

func TestMonitorFiresHooksOnTransitionsOnly(t *testing.T) {
	m := NewMonitor(nil)

	var onlineCalls, offlineCalls int
	m.OnOnline(func() { onlineCalls++ })
	m.OnOffline(func() { offlineCalls++ })

	m.SetOnline(true) // already online, no transition
	require.Equal(t, 0, onlineCalls)

	m.SetOnline(false)
	m.SetOnline(false) // repeated push, no second fire
	require.Equal(t, 1, offlineCalls)

	m.SetOnline(true)
	require.Equal(t, 1, onlineCalls)
}

func TestMonitorPollsProbe(t *testing.T) {
	var reachable atomic.Bool

	probe := func(ctx context.Context) bool { return reachable.Load() }
	m := NewMonitor(probe, WithInterval(10*time.Millisecond))

	offline := make(chan struct{}, 1)
	online := make(chan struct{}, 1)
	m.OnOffline(func() { offline <- struct{}{} })
	m.OnOnline(func() { online <- struct{}{} })

	m.Start()
	defer m.Stop()

	select {
	case <-offline:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never noticed the outage")
	}
	require.False(t, m.Online())

	reachable.Store(true)
	select {
	case <-online:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never noticed the recovery")
	}
	require.True(t, m.Online())
}

func TestHTTPProbeTreatsAnyResponseAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := HTTPProbe(srv.URL, srv.Client())
	require.True(t, probe(context.Background()))

	srv.Close()
	require.False(t, probe(context.Background()))
}

func TestMonitorHookUnsubscribe(t *testing.T) {
	m := NewMonitor(nil)

	calls := 0
	unsub := m.OnOnline(func() { calls++ })

	m.SetOnline(false)
	m.SetOnline(true)
	require.Equal(t, 1, calls)

	unsub()
	m.SetOnline(false)
	m.SetOnline(true)
	require.Equal(t, 1, calls)
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	m := NewMonitor(func(ctx context.Context) bool { return true },
		WithInterval(5*time.Millisecond))
	m.Start()
	m.Stop()
	m.Stop()
}
