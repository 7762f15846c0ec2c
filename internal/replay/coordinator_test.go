package replay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawsuite/kennelsync/internal/core"
	"github.com/pawsuite/kennelsync/internal/opstore"
)

func enqueue(t *testing.T, store core.OperationStore, url, opType string, body string) int64 {
	t.Helper()
	id, err := store.Enqueue(context.Background(), core.OperationInput{
		URL:     url,
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(body),
		Type:    opType,
	})
	require.NoError(t, err)
	return id
}

func TestReplayDrainsInFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	enqueue(t, store, srv.URL+"/a", "check-in", `{}`)
	enqueue(t, store, srv.URL+"/b", "check-in", `{}`)
	enqueue(t, store, srv.URL+"/c", "check-in", `{}`)

	co := NewCoordinator(store)
	res, err := co.Replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Succeeded)
	require.Equal(t, 0, res.Failed)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/a", "/b", "/c"}, received)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestReplayFailedOperationStaysQueuedWithAttemptCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	id := enqueue(t, store, srv.URL+"/fail", "check-in", `{}`)

	co := NewCoordinator(store)
	res, err := co.Replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Succeeded)
	require.Equal(t, 1, res.Failed)

	ops, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, id, ops[0].ID)
	require.Equal(t, core.StatusFailed, ops[0].Status)
	require.Equal(t, 1, ops[0].Attempts)
}

func TestReplayFailOnceThenSucceed(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	enqueue(t, store, srv.URL+"/x", "booking", `{}`)

	co := NewCoordinator(store)

	res, err := co.Replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	res, err = co.Replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls)
}

func TestReplaySingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	enqueue(t, store, srv.URL+"/slow", "check-in", `{}`)

	co := NewCoordinator(store)

	done := make(chan error, 1)
	go func() {
		_, err := co.Replay(context.Background())
		done <- err
	}()

	<-entered
	_, err := co.Replay(context.Background())
	require.ErrorIs(t, err, core.ErrReplayInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestReplayHeadersAndBodyAreSentVerbatim(t *testing.T) {
	var gotHeader string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Kennel-Location")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	_, err := store.Enqueue(context.Background(), core.OperationInput{
		URL:     srv.URL + "/checkins",
		Method:  "POST",
		Headers: map[string]string{"X-Kennel-Location": "north"},
		Body:    []byte(`{"pet":"Biscuit"}`),
		Type:    "check-in",
	})
	require.NoError(t, err)

	co := NewCoordinator(store)
	res, err := co.Replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, "north", gotHeader)
	require.JSONEq(t, `{"pet":"Biscuit"}`, string(gotBody))
}

type recordingSink struct {
	mu  sync.Mutex
	ops []*core.QueuedOperation
}

func (s *recordingSink) Publish(ctx context.Context, op *core.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestReplayEvictsToDeadLetterAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	enqueue(t, store, srv.URL+"/doomed", "check-in", `{}`)

	sink := &recordingSink{}
	co := NewCoordinator(store, WithMaxAttempts(2), WithDeadLetter(sink))

	_, err := co.Replay(context.Background())
	require.NoError(t, err)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "first failure keeps the operation queued")

	_, err = co.Replay(context.Background())
	require.NoError(t, err)

	n, err = store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n, "second failure evicts")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.ops, 1)
	require.Equal(t, 2, sink.ops[0].Attempts)
}

func TestReplayQueueDepthHookFires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	enqueue(t, store, srv.URL+"/a", "check-in", `{}`)

	var depths []int
	co := NewCoordinator(store, WithQueueDepthHook(func(n int) { depths = append(depths, n) }))

	_, err := co.Replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{0}, depths)
}

func TestReplayRatePacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := opstore.NewMemoryStore()
	for i := 0; i < 3; i++ {
		enqueue(t, store, srv.URL+"/paced", "check-in", `{}`)
	}

	// 20 ops/sec with burst 1: three ops need at least ~100ms.
	co := NewCoordinator(store, WithRateLimit(20, 1))

	start := time.Now()
	res, err := co.Replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Succeeded)
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
