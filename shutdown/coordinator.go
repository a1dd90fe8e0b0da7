package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/trialkit/errors"
	"github.com/vinayprograms/trialkit/logging"
)

// Coordinator runs registered handlers phase by phase. It shuts down at
// most once.
type Coordinator struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	done     chan struct{}
	result   *Result
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		cfg:    cfg,
		logger: logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a handler to phase.
func (c *Coordinator) Register(name string, phase int, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: h})
}

// RegisterFunc adds a function handler to phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, HandlerFunc(fn))
}

// Shutdown runs every phase in order. Later calls return
// ErrAlreadyShutdown without waiting.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyShutdown
	}
	c.started = true
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	result := c.run(ctx, handlers)

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	close(c.done)
	return result.Err
}

// ShutdownWithTimeout runs Shutdown bounded by the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Watch returns a child of parent that is canceled on SIGINT or SIGTERM.
// The signal also starts the shutdown sequence. stop releases the signal
// registration.
func (c *Coordinator) Watch(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	return c.watch(parent, sigs, func() { signal.Stop(sigs) })
}

func (c *Coordinator) watch(parent context.Context, sigs <-chan os.Signal, release func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case sig := <-sigs:
			cancel()
			c.logger.Warn("signal received, shutting down", map[string]interface{}{
				"signal":  sig.String(),
				"timeout": c.cfg.Timeout.String(),
			})
			_ = c.ShutdownWithTimeout()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		release()
		cancel()
	}
}

// Done is closed once Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of the finished shutdown, or nil before Done
// is closed.
func (c *Coordinator) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Coordinator) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Handlers: make([]HandlerResult, 0, len(handlers))}
	failed := false

	for _, group := range phases(handlers) {
		if ctx.Err() != nil {
			c.logger.Error("shutdown deadline passed", map[string]interface{}{
				"next_phase": group[0].phase,
			})
			result.Err = ErrTimeout
			break
		}

		for _, hr := range c.runPhase(ctx, group) {
			result.Handlers = append(result.Handlers, hr)
			if hr.Err != nil {
				failed = true
			}
		}
		if failed && c.cfg.StopOnError {
			break
		}
	}

	if result.Err == nil && failed {
		result.Err = ErrHandlerFailed
	}
	result.Duration = time.Since(start)
	return result
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup
	for i, reg := range group {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			start := time.Now()
			err := invoke(ctx, reg.handler)
			hr := HandlerResult{Name: reg.name, Phase: reg.phase, Duration: time.Since(start), Err: err}
			results[i] = hr
			c.report(hr)
		}(i, reg)
	}
	wg.Wait()
	return results
}

func invoke(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return h.OnShutdown(ctx)
}

func (c *Coordinator) report(hr HandlerResult) {
	fields := map[string]interface{}{
		"handler":     hr.Name,
		"phase":       hr.Phase,
		"duration_ms": hr.Duration.Milliseconds(),
	}
	if hr.Err != nil {
		fields["error"] = hr.Err.Error()
		c.logger.Error("shutdown handler failed", fields)
	} else {
		c.logger.Info("shutdown handler done", fields)
	}
	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(hr)
	}
}

// phases splits handlers, sorted by phase, into per-phase groups.
func phases(handlers []registration) [][]registration {
	var groups [][]registration
	for i := 0; i < len(handlers); {
		j := i + 1
		for j < len(handlers) && handlers[j].phase == handlers[i].phase {
			j++
		}
		groups = append(groups, handlers[i:j])
		i = j
	}
	return groups
}
