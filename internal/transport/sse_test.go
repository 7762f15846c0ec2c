package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawsuite/kennelsync/internal/core"
)

func sseHandler(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
		<-r.Context().Done()
	}
}

func waitForEvent(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func TestSSETransportReceivesEvents(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"booking.updated","payload":{"id":"b1"}}`,
	))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	defer tr.Disconnect()

	got := make(chan core.Event, 1)
	tr.On(func(ev core.Event) { got <- ev })

	require.NoError(t, tr.Connect(context.Background()))

	ev := waitForEvent(t, got)
	require.Equal(t, "booking.updated", ev.Type)
	require.JSONEq(t, `{"id":"b1"}`, string(ev.Payload))
}

func TestSSETransportNormalizesDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`{"type":"booking.created","data":{"id":"b7"}}`,
	))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	defer tr.Disconnect()

	got := make(chan core.Event, 1)
	tr.On(func(ev core.Event) { got <- ev })

	require.NoError(t, tr.Connect(context.Background()))

	ev := waitForEvent(t, got)
	require.Equal(t, "booking.created", ev.Type)
	require.JSONEq(t, `{"id":"b7"}`, string(ev.Payload))
}

func TestSSETransportJoinsMultiLineDataFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		// One event split across data lines, per the SSE format.
		fmt.Fprint(w, "data: {\"type\":\"booking.updated\",\n")
		fmt.Fprint(w, "data: \"payload\":{\"id\":\"b3\"}}\n")
		fmt.Fprint(w, "\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	defer tr.Disconnect()

	got := make(chan core.Event, 1)
	tr.On(func(ev core.Event) { got <- ev })

	require.NoError(t, tr.Connect(context.Background()))

	ev := waitForEvent(t, got)
	require.Equal(t, "booking.updated", ev.Type)
	require.JSONEq(t, `{"id":"b3"}`, string(ev.Payload))
}

func TestSSETransportIgnoresCommentsAndEventFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: sync\nid: 7\ndata: {\"type\":\"booking.created\",\"payload\":{\"id\":\"b4\"}}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	defer tr.Disconnect()

	got := make(chan core.Event, 1)
	tr.On(func(ev core.Event) { got <- ev })

	require.NoError(t, tr.Connect(context.Background()))

	ev := waitForEvent(t, got)
	require.Equal(t, "booking.created", ev.Type)
	require.JSONEq(t, `{"id":"b4"}`, string(ev.Payload))
}

func TestSSETransportSendIsNoOp(t *testing.T) {
	tr := NewSSETransport("http://localhost:0/stream")
	require.NoError(t, tr.Send(context.Background(), map[string]string{"type": "ping"}))
}

func TestSSETransportConnectWhileConnectedIsNoOp(t *testing.T) {
	srv := httptest.NewServer(sseHandler())
	defer srv.Close()

	tr := NewSSETransport(srv.URL)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, core.StateConnected, tr.State().State)
}

func TestDialFallsBackToSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "text/event-stream" {
			sseHandler()(w, r)
			return
		}
		// Reject the WebSocket upgrade.
		http.Error(w, "no upgrade here", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr, err := Dial(context.Background(), "ws"+srv.URL[4:], srv.URL, nil, 0)
	require.NoError(t, err)
	defer tr.Disconnect()

	require.IsType(t, &SSETransport{}, tr)
	require.Equal(t, core.StateConnected, tr.State().State)
}

func TestDialWithNoEndpointsFails(t *testing.T) {
	_, err := Dial(context.Background(), "", "", nil, 0)
	require.Error(t, err)
}
