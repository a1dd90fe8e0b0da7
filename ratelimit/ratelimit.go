package ratelimit

import (
	"context"
	"math"
	"time"
)

// DefaultMaxBackoff caps the computed backoff window.
const DefaultMaxBackoff = 60 * time.Second

// Gate is the part of the Coordinator that workers depend on.
type Gate interface {
	// AwaitClearance blocks until no backoff window is active.
	// It returns only the context's error, and only if ctx ends first.
	AwaitClearance(ctx context.Context) error

	// RecordThrottle reports a throttled call. retryAfter is the
	// server-provided delay, or zero when none was given.
	RecordThrottle(retryAfter time.Duration)

	// RecordSuccess reports a call that completed without throttling.
	RecordSuccess()
}

// BackoffState is a snapshot of the coordinator's backoff bookkeeping.
type BackoffState struct {
	// ActiveUntil is the end of the current backoff window.
	// Zero means no window has ever been opened.
	ActiveUntil time.Time

	// CurrentBackoff is the length of the most recently opened window.
	CurrentBackoff time.Duration

	// ConsecutiveFailures counts throttles since the last success.
	ConsecutiveFailures int
}

// Active reports whether the window is still open at now.
func (s BackoffState) Active(now time.Time) bool {
	return now.Before(s.ActiveUntil)
}

// Config configures a Coordinator.
type Config struct {
	// MaxBackoff caps computed windows. Default: 60s.
	MaxBackoff time.Duration

	// RequestsPerMinute enables start pacing when > 0.
	RequestsPerMinute float64
}

// ExponentialBackoff returns min(initial * 2^(attempt-1), max) for attempt >= 1.
// Non-positive attempts return 0.
func ExponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 || initial <= 0 {
		return 0
	}
	d := initial
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return max
		}
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
