package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/trialkit/errors"
	"github.com/vinayprograms/trialkit/logging"
	"github.com/vinayprograms/trialkit/ratelimit"
	"github.com/vinayprograms/trialkit/telemetry"
)

// DefaultMaxParallel is used when Config.MaxParallel is not positive.
const DefaultMaxParallel = 2

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusAdmitted  Status = "admitted"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Func is a task body.
type Func[T any] func(ctx context.Context, args any) (T, error)

// Task is one unit of work. Args is opaque to the dispatcher.
type Task[T any] struct {
	Index   int
	ID      string
	Attempt int
	Args    any
	Run     Func[T]
}

// Result is the outcome of one task.
type Result[T any] struct {
	Index    int
	ID       string
	Value    T
	Err      error
	Status   Status
	Duration time.Duration
}

// Config configures a Dispatcher.
type Config struct {
	// MaxParallel bounds concurrently admitted tasks. Default: 2.
	MaxParallel int

	// Gate is consulted before every body. Nil disables backoff.
	Gate ratelimit.Gate

	// Tracer wraps each run in a span. Nil uses telemetry.GetTracer().
	Tracer *telemetry.Tracer

	// Logger receives run events. Nil discards them.
	Logger *logging.Logger

	// OnStatus, when set, observes every state transition.
	OnStatus func(index int, id string, status Status)
}

// Dispatcher runs tasks with at most MaxParallel admitted at once.
// It is safe for concurrent use.
type Dispatcher[T any] struct {
	slots    chan struct{}
	gate     ratelimit.Gate
	tracer   *telemetry.Tracer
	logger   *logging.Logger
	onStatus func(index int, id string, status Status)

	inflight sync.WaitGroup
	running  atomic.Int64
}

// New creates a dispatcher.
func New[T any](cfg Config) *Dispatcher[T] {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Dispatcher[T]{
		slots:    make(chan struct{}, cfg.MaxParallel),
		gate:     cfg.Gate,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger.WithComponent("dispatch"),
		onStatus: cfg.OnStatus,
	}
}

// MaxParallel returns the slot count.
func (d *Dispatcher[T]) MaxParallel() int {
	return cap(d.slots)
}

// Running returns the number of bodies currently executing.
func (d *Dispatcher[T]) Running() int {
	return int(d.running.Load())
}

// Wait blocks until every body started so far has returned, or ctx ends.
func (d *Dispatcher[T]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOne admits and executes a single task. The returned error is the
// body's error unchanged, or a CANCELED error if ctx ended before the task
// was admitted.
func (d *Dispatcher[T]) RunOne(ctx context.Context, task Task[T]) (T, error) {
	r := d.run(ctx, task)
	return r.Value, r.Err
}

// RunBatch runs every task, bounded by MaxParallel, and returns results in
// submission order. onEach, if non-nil, is called once per finished task;
// calls are serialized. Task indexes are set to submission positions.
func (d *Dispatcher[T]) RunBatch(ctx context.Context, tasks []Task[T], onEach func(Result[T])) []Result[T] {
	results := make([]Result[T], len(tasks))

	var (
		wg     sync.WaitGroup
		cbMu   sync.Mutex
		onDone = func(r Result[T]) {
			if onEach == nil {
				return
			}
			cbMu.Lock()
			defer cbMu.Unlock()
			onEach(r)
		}
	)

	for i := range tasks {
		task := tasks[i]
		task.Index = i
		d.notify(task, StatusQueued)

		wg.Add(1)
		go func() {
			defer wg.Done()
			r := d.run(ctx, task)
			results[task.Index] = r
			onDone(r)
		}()
	}
	wg.Wait()
	return results
}

func (d *Dispatcher[T]) run(ctx context.Context, task Task[T]) Result[T] {
	res := Result[T]{Index: task.Index, ID: task.ID}

	if !d.acquire(ctx) {
		return d.canceled(ctx, res)
	}
	defer d.release()

	if d.gate != nil {
		if err := d.gate.AwaitClearance(ctx); err != nil {
			return d.canceled(ctx, res)
		}
	}
	d.notify(task, StatusAdmitted)

	spanCtx, span := d.tracer.StartRunSpan(ctx, telemetry.RunSpanOptions{
		RunID:   task.ID,
		Index:   task.Index,
		Attempt: task.Attempt,
	})

	d.notify(task, StatusRunning)
	d.logger.RunStart(task.ID, task.Attempt)
	start := time.Now()
	res.Value, res.Err = d.execute(context.WithoutCancel(spanCtx), task)
	res.Duration = time.Since(start)

	if res.Err == nil {
		res.Status = StatusSucceeded
		if d.gate != nil {
			d.gate.RecordSuccess()
		}
	} else {
		res.Status = StatusFailed
		if d.gate != nil && errors.IsThrottle(res.Err) {
			d.gate.RecordThrottle(errors.RetryAfterOf(res.Err))
		}
	}

	d.tracer.EndRunSpan(span, string(res.Status), res.Err)
	d.logger.RunComplete(task.ID, res.Duration, res.Err)
	d.notify(task, res.Status)
	return res
}

// execute runs the body on its own goroutine and waits for it. Panics
// become PANIC errors.
func (d *Dispatcher[T]) execute(ctx context.Context, task Task[T]) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)

	d.inflight.Add(1)
	d.running.Add(1)
	go func() {
		defer d.inflight.Done()
		defer d.running.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- outcome{value: zero, err: errors.RecoverPanic(r)}
			}
		}()
		if task.Run == nil {
			var zero T
			ch <- outcome{value: zero, err: errors.Internal("task has no body")}
			return
		}
		v, err := task.Run(ctx, task.Args)
		ch <- outcome{value: v, err: err}
	}()

	out := <-ch
	return out.value, out.err
}

func (d *Dispatcher[T]) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case d.slots <- struct{}{}:
		if ctx.Err() != nil {
			<-d.slots
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher[T]) release() {
	<-d.slots
}

func (d *Dispatcher[T]) canceled(ctx context.Context, res Result[T]) Result[T] {
	res.Status = StatusCanceled
	res.Err = errors.Canceled("run canceled before admission",
		errors.WithCause(context.Cause(ctx)),
		errors.WithRunID(res.ID),
	)
	d.notify(Task[T]{Index: res.Index, ID: res.ID}, StatusCanceled)
	return res
}

func (d *Dispatcher[T]) notify(task Task[T], s Status) {
	if d.onStatus != nil {
		d.onStatus(task.Index, task.ID, s)
	}
}
