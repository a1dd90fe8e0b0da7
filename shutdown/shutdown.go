package shutdown

import (
	"context"
	"time"

	"github.com/vinayprograms/trialkit/errors"
	"github.com/vinayprograms/trialkit/logging"
)

// Standard phases for a batch process. Lower phases run first.
const (
	PhaseStopAdmission = 10
	PhaseDrain         = 20
	PhasePersist       = 30
)

var (
	// ErrAlreadyShutdown is returned by Shutdown after the first call.
	ErrAlreadyShutdown = errors.New(errors.ErrCodeCanceled, "shutdown already initiated")

	// ErrTimeout is returned when the deadline passes before every phase ran.
	ErrTimeout = errors.New(errors.ErrCodeTimeout, "shutdown timeout exceeded")

	// ErrHandlerFailed is returned when at least one handler failed.
	ErrHandlerFailed = errors.New(errors.ErrCodeInternal, "one or more shutdown handlers failed")
)

// Handler is implemented by components with work to finish on shutdown.
// The context carries the shutdown deadline.
type Handler interface {
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult reports one handler's outcome.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result reports the whole shutdown sequence.
type Result struct {
	Duration time.Duration
	Handlers []HandlerResult
	Err      error
}

// Failed lists the names of handlers that returned an error.
func (r *Result) Failed() []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, h := range r.Handlers {
		if h.Err != nil {
			names = append(names, h.Name)
		}
	}
	return names
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout and signal-triggered shutdowns.
	// Default: 30 seconds.
	Timeout time.Duration

	// StopOnError skips later phases once a handler fails.
	StopOnError bool

	// Logger receives one line per handler. Nil disables logging.
	Logger *logging.Logger

	// OnProgress, when set, is called as each handler returns.
	OnProgress func(HandlerResult)
}

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

type registration struct {
	name    string
	phase   int
	handler Handler
}
