package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func wsEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}))
}

func TestDialPrefersWebSocket(t *testing.T) {
	srv := wsEchoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), "ws"+srv.URL[4:], "", nil, 0)
	require.NoError(t, err)
	defer tr.Disconnect()

	ws, ok := tr.(*WSTransport)
	require.True(t, ok)
	require.Equal(t, defaultHeartbeatInterval, ws.heartbeat)
}

func TestDialHonorsHeartbeatInterval(t *testing.T) {
	srv := wsEchoServer(t)
	defer srv.Close()

	tr, err := Dial(context.Background(), "ws"+srv.URL[4:], "", nil, 5*time.Second)
	require.NoError(t, err)
	defer tr.Disconnect()

	ws, ok := tr.(*WSTransport)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, ws.heartbeat)
}
