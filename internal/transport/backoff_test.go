package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawsuite/kennelsync/internal/core"
)

func TestBackoffGrowsFromFloorToCeiling(t *testing.T) {
	r := newReconnector()

	prev := time.Duration(0)
	base := backoffFloor
	for i := 0; i < 6; i++ {
		d := r.next()
		require.GreaterOrEqual(t, d, base)
		require.Less(t, d, base+jitterRange)
		require.Greater(t, d, prev-jitterRange, "base delay must not shrink")
		prev = d

		base *= 2
		if base > backoffCeiling {
			base = backoffCeiling
		}
	}

	// Past the ceiling the base stays pinned.
	d := r.next()
	require.GreaterOrEqual(t, d, backoffCeiling)
	require.Less(t, d, backoffCeiling+jitterRange)
}

func TestBackoffResetReturnsToFloor(t *testing.T) {
	r := newReconnector()
	for i := 0; i < 5; i++ {
		r.next()
	}
	require.Equal(t, backoffCeiling, r.pending())

	r.reset()
	require.Equal(t, backoffFloor, r.pending())

	d := r.next()
	require.GreaterOrEqual(t, d, backoffFloor)
	require.Less(t, d, backoffFloor+jitterRange)
}

func TestWSTransportStateStartsDisconnected(t *testing.T) {
	tr := NewWSTransport("ws://localhost:0/rt")
	st := tr.State()
	require.Equal(t, "disconnected", string(st.State))
	require.Equal(t, backoffFloor.Milliseconds(), st.BackoffMs)
}

func TestWSTransportSendWhileDisconnectedIsSilentDrop(t *testing.T) {
	tr := NewWSTransport("ws://localhost:0/rt")
	err := tr.Send(context.Background(), map[string]string{"type": "ping"})
	require.NoError(t, err)
}

func TestWSTransportOnUnsubscribeRemovesHandler(t *testing.T) {
	tr := NewWSTransport("ws://localhost:0/rt")

	calls := 0
	unsub := tr.On(func(ev core.Event) { calls++ })

	tr.dispatch(core.Event{Type: "booking.updated"})
	require.Equal(t, 1, calls)

	unsub()
	tr.dispatch(core.Event{Type: "booking.updated"})
	require.Equal(t, 1, calls)
}
