package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pawsuite/kennelsync/internal/core"
)

// Dial connects the primary WebSocket channel and falls back to the SSE
// stream when the handshake fails (corporate proxies commonly block
// WebSocket upgrades). The returned transport is already connected.
//
// An error from Dial means neither channel could be established right now.
// Hosts treat that as non-fatal: the offline queue keeps working and a
// connectivity recovery triggers a fresh Dial.
// Zero heartbeat keeps the default keepalive interval.
func Dial(ctx context.Context, wsURL, sseURL string, httpClient *http.Client, heartbeat time.Duration) (core.Transport, error) {
	if wsURL != "" {
		wsOpts := []WSOption{WithHTTPClient(httpClient)}
		if heartbeat > 0 {
			wsOpts = append(wsOpts, WithHeartbeatInterval(heartbeat))
		}
		ws := NewWSTransport(wsURL, wsOpts...)
		if err := ws.Connect(ctx); err == nil {
			return ws, nil
		} else {
			// Abandon this instance entirely so its internal reconnect
			// timer does not compete with the SSE fallback.
			ws.Disconnect()
			log.Printf("[REALTIME] WebSocket unavailable, trying event stream: %v", err)
		}
	}

	if sseURL != "" {
		var opts []SSEOption
		if httpClient != nil {
			opts = append(opts, WithSSEHTTPClient(httpClient))
		}
		sse := NewSSETransport(sseURL, opts...)
		if err := sse.Connect(ctx); err == nil {
			return sse, nil
		} else {
			sse.Disconnect()
			return nil, fmt.Errorf("event stream fallback failed: %w", err)
		}
	}

	return nil, fmt.Errorf("no realtime endpoint configured")
}
