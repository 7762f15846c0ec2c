package fanout

import (
	"context"

	"github.com/pawsuite/kennelsync/internal/core"
)

// Noop is the degraded relay used when no broadcast primitive is available.
// Publishes vanish and subscriptions never fire; the host still receives its
// own transport events directly.
type Noop struct{}

// NewNoop creates a relay that does nothing.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Publish(ctx context.Context, ev core.Event) error { return nil }

func (*Noop) Subscribe(handler core.EventHandler) func() { return func() {} }

func (*Noop) Close() error { return nil }
