// Package ratelimit coordinates backoff across every worker that calls a
// shared, rate-limited remote.
//
// A Coordinator is the single source of truth for "should callers wait".
// Workers call AwaitClearance before each outbound call. When a call is
// throttled the worker reports it with RecordThrottle, which opens (or
// extends) a backoff window that all workers then respect. A confirmed
// success resets the failure streak but leaves any open window in place.
//
//	coord := ratelimit.NewCoordinator(ratelimit.Config{})
//
//	if err := coord.AwaitClearance(ctx); err != nil {
//	    return err // context ended while waiting
//	}
//	resp, err := client.Call(ctx)
//	if errors.IsThrottle(err) {
//	    coord.RecordThrottle(errors.RetryAfterOf(err))
//	    return err
//	}
//	coord.RecordSuccess()
//
// # Backoff
//
// With no server-provided delay the window after N consecutive throttles is
// min(2^N seconds, MaxBackoff). A server-provided retry-after is used as-is.
// The window end never moves backwards while failures accumulate.
//
// # Pacing
//
// Setting RequestsPerMinute adds a token bucket (golang.org/x/time/rate)
// that spaces call starts evenly once the backoff window has cleared.
package ratelimit
