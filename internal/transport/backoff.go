package transport

import (
	"math/rand"
	"sync"
	"time"
)

const (
	backoffFloor   = 1 * time.Second
	backoffCeiling = 15 * time.Second
	jitterRange    = 500 * time.Millisecond
)

// reconnector computes reconnect delays: exponential growth from the floor to
// the ceiling, plus random jitter so a fleet of clients does not stampede the
// server after an outage.
type reconnector struct {
	mu      sync.Mutex
	current time.Duration
}

func newReconnector() *reconnector {
	return &reconnector{current: backoffFloor}
}

// next returns the delay to wait before the next attempt and advances the
// schedule.
func (r *reconnector) next() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	delay := r.current + time.Duration(rand.Int63n(int64(jitterRange)))
	r.current *= 2
	if r.current > backoffCeiling {
		r.current = backoffCeiling
	}
	return delay
}

// reset returns the schedule to the floor. Called after a successful connect.
func (r *reconnector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = backoffFloor
}

// pending returns the current base delay without advancing the schedule.
func (r *reconnector) pending() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
