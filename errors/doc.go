// Package errors provides the structured error taxonomy used by trialkit.
// Every failure that crosses a component boundary (an external call, a
// budget denial, a corrupt cache file) can be expressed as an *Error carrying
// a code, a category, and optionally the HTTP status and server-provided
// retry delay reported by the transport.
//
// # Error Categories
//
//   - Transient: temporary infrastructure failures (502/503/504, connection
//     resets). The caller retries with capped exponential backoff.
//   - Resource: throttling and budget exhaustion. Throttling is absorbed by
//     the rate limit coordinator; budget exhaustion is advisory.
//   - Permanent: other 4xx responses and invalid input. Propagate at once.
//   - Internal: bugs, panics, corrupted local state.
//
// # Classification
//
// Classify decides how the dispatcher and the batch runner treat an error.
// A status code supplied by the transport wins; message text is only
// consulted when no status is available:
//
//	switch errors.Classify(err) {
//	case errors.KindThrottle:
//	    coord.RecordThrottle(errors.RetryAfterOf(err))
//	case errors.KindTransient:
//	    // retry later
//	}
//
// # JSON Serialization
//
// Errors marshal to JSON so they can be stored next to run results:
//
//	data, err := json.Marshal(runErr)
package errors
