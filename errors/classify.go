package errors

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the handling class the dispatcher and batch runner act on.
type Kind int

const (
	// KindUnknown is returned for nil errors.
	KindUnknown Kind = iota
	// KindThrottle means the remote asked callers to slow down.
	KindThrottle
	// KindTransient means an infrastructure failure worth retrying later.
	KindTransient
	// KindPermanent means retrying will not help.
	KindPermanent
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindThrottle:
		return "throttle"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify decides how err should be handled. A structured status code is
// preferred; message text is only matched when no status is available.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if status := statusOf(err); status > 0 {
		return classifyStatus(status)
	}

	var runErr *Error
	if errors.As(err, &runErr) {
		switch {
		case runErr.code == ErrCodeRateLimit:
			return KindThrottle
		case runErr.category == CategoryTransient:
			return KindTransient
		default:
			return KindPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return classifyText(err.Error())
}

// IsThrottle reports whether err signals a throttling condition.
func IsThrottle(err error) bool {
	return Classify(err) == KindThrottle
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests || status == 529:
		return KindThrottle
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindUnknown
	}
}

var throttlePatterns = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"429",
	"overloaded",
	"resource_exhausted",
	"resource exhausted",
}

var transientPatterns = []string{
	"500",
	"502",
	"503",
	"504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporarily unavailable",
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"unexpected eof",
	"no such host",
}

func classifyText(msg string) Kind {
	msg = strings.ToLower(msg)
	for _, p := range throttlePatterns {
		if strings.Contains(msg, p) {
			return KindThrottle
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return KindTransient
		}
	}
	return KindPermanent
}

// statusOf digs an HTTP status out of err. It understands *Error and any
// error in the chain exposing StatusCode() or HTTPCode() methods.
func statusOf(err error) int {
	var runErr *Error
	if errors.As(err, &runErr) && runErr.statusCode > 0 {
		return runErr.statusCode
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		if s := sc.StatusCode(); s > 0 {
			return s
		}
	}
	var hc interface{ HTTPCode() int }
	if errors.As(err, &hc) {
		if s := hc.HTTPCode(); s > 0 {
			return s
		}
	}
	return 0
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if err == nil {
		return 0
	}
	return statusOf(err)
}

// RetryAfterOf returns the server-provided delay carried by err, or 0.
func RetryAfterOf(err error) time.Duration {
	if err == nil {
		return 0
	}
	var runErr *Error
	if errors.As(err, &runErr) && runErr.retryAfter > 0 {
		return runErr.retryAfter
	}
	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header value, which is either a
// number of seconds or an HTTP date. Unparseable or past values yield 0.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
