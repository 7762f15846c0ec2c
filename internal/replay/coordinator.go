package replay

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pawsuite/kennelsync/internal/core"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultDrainInterval  = 30 * time.Second
)

// Result summarizes one replay pass.
type Result struct {
	Succeeded int
	Failed    int
}

// Coordinator drains the operation store over the network: oldest first, one
// at a time, optionally paced by a rate limiter so a large backlog does not
// hammer a server that just came back. A single-flight guard ensures only one
// pass runs at a time even when the connectivity monitor and the periodic
// drain loop both fire.
type Coordinator struct {
	store       core.OperationStore
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	deadLetter  core.DeadLetterSink
	onDepth     func(int)
	interval    time.Duration

	mu       sync.Mutex
	draining bool

	lifecycleMu sync.Mutex
	started     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient sets the client used to replay operations.
func WithHTTPClient(c *http.Client) Option {
	return func(co *Coordinator) { co.httpClient = c }
}

// WithRateLimit paces replays to n operations per second with the given
// burst. Zero n disables pacing.
func WithRateLimit(n float64, burst int) Option {
	return func(co *Coordinator) {
		if n <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		co.limiter = rate.NewLimiter(rate.Limit(n), burst)
	}
}

// WithMaxAttempts evicts an operation to the dead-letter sink after n failed
// passes. Zero keeps operations queued forever.
func WithMaxAttempts(n int) Option {
	return func(co *Coordinator) { co.maxAttempts = n }
}

// WithDeadLetter sets the sink receiving evicted operations.
func WithDeadLetter(sink core.DeadLetterSink) Option {
	return func(co *Coordinator) { co.deadLetter = sink }
}

// WithQueueDepthHook registers a callback invoked with the queue depth after
// every enqueue-affecting pass. Drives the pending-changes UI badge.
func WithQueueDepthHook(fn func(int)) Option {
	return func(co *Coordinator) { co.onDepth = fn }
}

// WithDrainInterval overrides the background drain loop period.
func WithDrainInterval(d time.Duration) Option {
	return func(co *Coordinator) { co.interval = d }
}

// NewCoordinator creates a replay coordinator over the given store.
func NewCoordinator(store core.OperationStore, opts ...Option) *Coordinator {
	co := &Coordinator{
		store:      store,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		interval:   defaultDrainInterval,
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Replay executes one full drain pass and reports how many operations
// succeeded and failed. Returns ErrReplayInProgress if a pass is already
// running.
func (c *Coordinator) Replay(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return Result{}, core.ErrReplayInProgress
	}
	c.draining = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	ops, err := c.store.ListAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list queued operations: %w", err)
	}
	if len(ops) == 0 {
		return Result{}, nil
	}

	log.Printf("[REPLAY] Draining %d queued operation(s)", len(ops))

	var res Result
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		if err := c.replayOne(ctx, op); err != nil {
			res.Failed++
			log.Printf("[REPLAY] Operation #%d failed (attempt %d): %v", op.ID, op.Attempts+1, err)

			if err := c.store.UpdateStatus(ctx, op.ID, core.StatusFailed); err != nil {
				log.Printf("[REPLAY] Could not mark operation #%d failed: %v", op.ID, err)
				continue
			}
			c.maybeDeadLetter(ctx, op)
			continue
		}

		if err := c.store.Remove(ctx, op.ID); err != nil {
			log.Printf("[REPLAY] Could not remove replayed operation #%d: %v", op.ID, err)
		}
		res.Succeeded++
	}

	c.notifyDepth(ctx)
	log.Printf("[REPLAY] Pass complete: %d succeeded, %d failed", res.Succeeded, res.Failed)
	return res, nil
}

func (c *Coordinator) replayOne(ctx context.Context, op *core.QueuedOperation) error {
	if err := c.store.UpdateStatus(ctx, op.ID, core.StatusInFlight); err != nil {
		return fmt.Errorf("failed to mark in-flight: %w", err)
	}

	var body *bytes.Reader
	if len(op.Body) > 0 {
		body = bytes.NewReader(op.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, op.URL, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range op.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Coordinator) maybeDeadLetter(ctx context.Context, op *core.QueuedOperation) {
	if c.maxAttempts <= 0 || c.deadLetter == nil {
		return
	}
	// op.Attempts reflects the state before this pass's failure.
	if op.Attempts+1 < c.maxAttempts {
		return
	}

	evicted := *op
	evicted.Attempts = op.Attempts + 1
	evicted.Status = core.StatusFailed
	if err := c.deadLetter.Publish(ctx, &evicted); err != nil {
		// Keep the operation queued; eviction retries on the next pass.
		log.Printf("[REPLAY] Dead-letter publish failed for operation #%d: %v", op.ID, err)
		return
	}
	if err := c.store.Remove(ctx, op.ID); err != nil {
		log.Printf("[REPLAY] Could not remove dead-lettered operation #%d: %v", op.ID, err)
		return
	}
	log.Printf("[REPLAY] Operation #%d evicted to dead letter after %d attempts", op.ID, evicted.Attempts)
}

func (c *Coordinator) notifyDepth(ctx context.Context) {
	if c.onDepth == nil {
		return
	}
	n, err := c.store.Count(ctx)
	if err != nil {
		return
	}
	c.onDepth(n)
}

// Start launches the background drain loop. It retries the queue
// periodically so operations that failed while the network flapped do not
// wait for the next connectivity transition.
func (c *Coordinator) Start() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started {
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.drainLoop()
	log.Printf("[REPLAY] Background drain started (interval %s)", c.interval)
}

func (c *Coordinator) drainLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.Replay(context.Background()); err != nil && err != core.ErrReplayInProgress {
				log.Printf("[REPLAY] Background pass error: %v", err)
			}
		}
	}
}

// Stop halts the background drain loop and waits for an in-progress tick to
// finish.
func (c *Coordinator) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.started {
		return
	}
	close(c.stopCh)
	<-c.doneCh
	c.started = false
	log.Printf("[REPLAY] Background drain stopped")
}
