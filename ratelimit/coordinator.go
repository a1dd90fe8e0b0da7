package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/trialkit/logging"
)

// Coordinator tracks the shared backoff window. It is safe for concurrent use.
type Coordinator struct {
	mu    sync.Mutex
	state BackoffState

	maxBackoff time.Duration
	pacer      *rate.Limiter
	logger     *logging.Logger

	nowFunc  func() time.Time                                 // for testing
	waitFunc func(ctx context.Context, d time.Duration) error // for testing
}

var _ Gate = (*Coordinator)(nil)

// NewCoordinator creates a coordinator with no active window.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	c := &Coordinator{
		maxBackoff: cfg.MaxBackoff,
		logger:     logging.Nop(),
		nowFunc:    time.Now,
		waitFunc:   sleepCtx,
	}
	if cfg.RequestsPerMinute > 0 {
		c.pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}
	return c
}

// SetLogger sets the logger used for throttle events.
func (c *Coordinator) SetLogger(l *logging.Logger) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.logger = l.WithComponent("ratelimit")
	c.mu.Unlock()
}

// AwaitClearance blocks until now >= ActiveUntil, re-checking after each
// wait since another worker may have extended the window meanwhile. When
// pacing is configured it then waits for a pacing token.
func (c *Coordinator) AwaitClearance(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.mu.Lock()
		until := c.state.ActiveUntil
		c.mu.Unlock()

		remaining := until.Sub(c.nowFunc())
		if remaining <= 0 {
			break
		}
		if err := c.waitFunc(ctx, remaining); err != nil {
			return err
		}
	}

	if c.pacer == nil {
		return nil
	}
	if err := c.pacer.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The pacer refuses waits that would overrun the deadline.
		return context.DeadlineExceeded
	}
	return nil
}

// RecordThrottle opens or extends the backoff window.
func (c *Coordinator) RecordThrottle(retryAfter time.Duration) {
	c.mu.Lock()
	c.state.ConsecutiveFailures++
	if retryAfter > 0 {
		c.state.CurrentBackoff = retryAfter
	} else {
		c.state.CurrentBackoff = ExponentialBackoff(c.state.ConsecutiveFailures+1, time.Second, c.maxBackoff)
	}
	candidate := c.nowFunc().Add(c.state.CurrentBackoff)
	if candidate.After(c.state.ActiveUntil) {
		c.state.ActiveUntil = candidate
	}
	snap := c.state
	logger := c.logger
	c.mu.Unlock()

	logger.Throttled(snap.ConsecutiveFailures, snap.CurrentBackoff, snap.ActiveUntil)
}

// RecordSuccess clears the failure streak. An open window is left to expire.
func (c *Coordinator) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.ConsecutiveFailures > 0 {
		c.state.ConsecutiveFailures = 0
		c.state.CurrentBackoff = 0
	}
}

// State returns a snapshot of the backoff state.
func (c *Coordinator) State() BackoffState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
