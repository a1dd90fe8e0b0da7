// Package batch runs a set of trial jobs through the dispatcher with cost
// admission, shared throttle backoff and retry rounds.
//
// Each round dispatches every pending job. A job is checked against the
// budget when it is admitted; denied jobs fail with BUDGET_EXHAUSTED and
// no call is made. Throttled and transient failures are collected into the
// next round, which starts after the larger of the capped exponential
// backoff and the longest server retry-after seen. Everything else is
// final on its first failure.
package batch

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/trialkit/budget"
	"github.com/vinayprograms/trialkit/cache"
	"github.com/vinayprograms/trialkit/config"
	"github.com/vinayprograms/trialkit/dispatch"
	"github.com/vinayprograms/trialkit/errors"
	"github.com/vinayprograms/trialkit/logging"
	"github.com/vinayprograms/trialkit/ratelimit"
	"github.com/vinayprograms/trialkit/telemetry"
)

// Outcome is what a successful call produced and what it cost.
type Outcome struct {
	Value any
	Cost  float64
}

// Job is one trial run.
type Job struct {
	// RunID identifies the run in the ledger. Generated when empty.
	RunID string
	// VariationID groups runs for per-variation cost reporting.
	VariationID string
	// Call performs the run. A failed call may still report a cost.
	Call func(ctx context.Context) (Outcome, error)
}

// RunResult is the final state of one job.
type RunResult struct {
	RunID       string
	VariationID string
	Outcome     Outcome
	Err         error
	Attempts    int
	Duration    time.Duration
}

// OK reports whether the run succeeded.
func (r RunResult) OK() bool {
	return r.Err == nil
}

// Report summarises a finished batch.
type Report struct {
	BatchID  string
	Results  []RunResult // in job order
	Ledger   budget.Summary
	Cache    *cache.Stats // nil without a cache
	Duration time.Duration
}

// Succeeded counts successful runs.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Config configures a Runner.
type Config struct {
	MaxParallel int
	MaxAttempts int
	InitBackoff time.Duration
	MaxBackoff  time.Duration

	BudgetLimit     *float64
	CostPerRunLimit *float64
	// LedgerPath, when set, is loaded before the batch and saved after it.
	LedgerPath string
}

// ConfigFrom extracts runner settings from the engine configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxParallel:     cfg.Dispatch.MaxParallel,
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitBackoff:     cfg.Retry.InitBackoff,
		MaxBackoff:      cfg.Retry.MaxBackoff,
		BudgetLimit:     cfg.Budget.Limit,
		CostPerRunLimit: cfg.Budget.CostPerRunLimit,
		LedgerPath:      cfg.Budget.LedgerPath,
	}
}

// Option customises a Runner.
type Option func(*Runner)

// WithGate shares a throttle gate with the dispatcher.
func WithGate(g ratelimit.Gate) Option {
	return func(r *Runner) { r.gate = g }
}

// WithBudget uses an existing controller instead of a fresh one.
func WithBudget(c *budget.Controller) Option {
	return func(r *Runner) { r.budget = c }
}

// WithCache attaches a cache whose statistics are reported.
func WithCache(c *cache.Cache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithExporter sends one run event per attempt to e.
func WithExporter(e telemetry.Exporter) Option {
	return func(r *Runner) { r.exporter = e }
}

// WithTracer sets the tracer for batch and run spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner executes batches. A Runner may run several batches in sequence;
// they share its budget ledger.
type Runner struct {
	cfg      Config
	gate     ratelimit.Gate
	budget   *budget.Controller
	cache    *cache.Cache
	exporter telemetry.Exporter
	tracer   *telemetry.Tracer
	logger   *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error // for testing
}

// NewRunner creates a runner.
func NewRunner(cfg Config, opts ...Option) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = dispatch.DefaultMaxParallel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	r := &Runner{cfg: cfg, sleep: sleepCtx}
	for _, opt := range opts {
		opt(r)
	}
	if r.budget == nil {
		r.budget = budget.NewController(budget.Config{})
	}
	if r.exporter == nil {
		r.exporter = telemetry.NewNoopExporter()
	}
	if r.tracer == nil {
		r.tracer = telemetry.GetTracer()
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	return r
}

// Budget returns the runner's cost controller.
func (r *Runner) Budget() *budget.Controller {
	return r.budget
}

// job tracks a run across rounds.
type job struct {
	Job
	index      int
	attempts   int
	cost       float64
	retryAfter time.Duration
	status     string // of the latest attempt
}

// Run executes jobs and returns a report. The error is non-nil only when
// the ledger file could not be loaded or saved; run failures are reported
// per result.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Report, error) {
	start := time.Now()
	batchID := uuid.NewString()
	logger := r.logger.WithBatchID(batchID).WithComponent("batch")

	if err := r.loadLedger(); err != nil {
		return nil, err
	}
	r.applyLimits()

	ctx, span := r.tracer.StartBatchSpan(ctx, batchID, len(jobs))
	logger.BatchStart(len(jobs), r.cfg.MaxParallel)

	d := dispatch.New[Outcome](dispatch.Config{
		MaxParallel: r.cfg.MaxParallel,
		Gate:        r.gate,
		Tracer:      r.tracer,
		Logger:      r.logger.WithBatchID(batchID),
	})

	results := make([]RunResult, len(jobs))
	pending := make([]*job, len(jobs))
	for i, j := range jobs {
		if j.RunID == "" {
			j.RunID = uuid.NewString()
		}
		pending[i] = &job{Job: j, index: i}
		results[i] = RunResult{RunID: j.RunID, VariationID: j.VariationID}
	}

	for attempt := 1; len(pending) > 0; attempt++ {
		if attempt > 1 {
			delay := r.retryDelay(attempt-1, pending)
			logger.Info("retrying runs", map[string]interface{}{
				"runs":    len(pending),
				"attempt": attempt,
				"delay":   delay.String(),
			})
			if err := r.sleep(ctx, delay); err != nil {
				for _, j := range pending {
					results[j.index].Err = errors.Canceled("batch canceled before retry",
						errors.WithCause(err), errors.WithRunID(j.RunID))
					r.record(logger, j, false)
				}
				break
			}
		}
		pending = r.round(ctx, d, logger, batchID, attempt, pending, results)
	}

	r.budget.Finalize()
	report := &Report{
		BatchID:  batchID,
		Results:  results,
		Ledger:   r.budget.Summary(),
		Duration: time.Since(start),
	}
	if r.cache != nil {
		stats := r.cache.Stats()
		report.Cache = &stats
	}

	failed := len(results) - report.Succeeded()
	logger.BatchComplete(report.Duration, report.Succeeded(), failed, report.Ledger.TotalSpent)
	r.tracer.EndBatchSpan(span, telemetry.BatchSpanOptions{
		Completed: report.Succeeded(),
		Failed:    failed,
		Spent:     report.Ledger.TotalSpent,
	}, nil)

	if err := r.exporter.Flush(); err != nil {
		logger.Warn("run event flush failed", map[string]interface{}{"error": err.Error()})
	}
	if r.cfg.LedgerPath != "" {
		if err := r.budget.SaveFile(r.cfg.LedgerPath); err != nil {
			return report, err
		}
	}
	return report, nil
}

// round dispatches pending once and returns the jobs to retry.
func (r *Runner) round(ctx context.Context, d *dispatch.Dispatcher[Outcome], logger *logging.Logger, batchID string, attempt int, pending []*job, results []RunResult) []*job {
	tasks := make([]dispatch.Task[Outcome], len(pending))
	for i, j := range pending {
		tasks[i] = dispatch.Task[Outcome]{
			ID:      j.RunID,
			Attempt: attempt,
			Args:    j,
			Run: func(callCtx context.Context, args any) (Outcome, error) {
				return r.attempt(ctx, callCtx, logger, attempt, args.(*job))
			},
		}
	}

	var retry []*job
	d.RunBatch(ctx, tasks, func(res dispatch.Result[Outcome]) {
		j := pending[res.Index]
		if res.Status == dispatch.StatusCanceled {
			j.status = statusCanceled
			// Earlier attempts already ran and may have spent.
			if j.attempts > 0 {
				r.record(logger, j, false)
			}
		}

		out := &results[j.index]
		out.Attempts = j.attempts
		out.Duration += res.Duration
		out.Outcome = Outcome{Value: res.Value.Value, Cost: j.cost}
		out.Err = res.Err

		if j.status == statusRetrying {
			retry = append(retry, j)
		}
		r.export(batchID, j, attempt, j.status, res)
	})
	return retry
}

// attempt is the task body. It runs while the dispatcher slot is held, so
// the ledger is updated before the next run is admitted.
func (r *Runner) attempt(batchCtx, ctx context.Context, logger *logging.Logger, attempt int, j *job) (Outcome, error) {
	if ok, reason := r.budget.CanStart(); !ok {
		j.status = statusDenied
		logger.BudgetDenied(j.RunID, reason)
		return Outcome{}, errors.BudgetExhausted(reason, errors.WithRunID(j.RunID))
	}

	out, err := call(ctx, j)
	j.attempts++
	j.cost += sanitize(out.Cost)
	j.status = r.settle(batchCtx, logger, j, err, attempt)
	return out, err
}

func call(ctx context.Context, j *job) (out Outcome, err error) {
	if j.Call == nil {
		return Outcome{}, errors.InvalidInput("job has no call", errors.WithRunID(j.RunID))
	}
	defer func() {
		if p := recover(); p != nil {
			out, err = Outcome{}, errors.RecoverPanic(p)
		}
	}()
	return j.Call(ctx)
}

const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusRetrying  = "retrying"
	statusDenied    = "budget_exhausted"
	statusCanceled  = "canceled"
)

// settle decides what a finished call means for its job and records final
// outcomes in the ledger.
func (r *Runner) settle(ctx context.Context, logger *logging.Logger, j *job, err error, attempt int) string {
	switch {
	case err == nil:
		r.record(logger, j, true)
		if ok, reason := r.budget.CheckRunCost(j.cost); !ok {
			logger.Warn("run exceeded per-run cost limit", map[string]interface{}{
				"run_id": j.RunID,
				"reason": reason,
			})
		}
		return statusSucceeded

	case retryable(err) && attempt < r.cfg.MaxAttempts && ctx.Err() == nil:
		j.retryAfter = errors.RetryAfterOf(err)
		return statusRetrying

	default:
		r.record(logger, j, false)
		return statusFailed
	}
}

func (r *Runner) record(logger *logging.Logger, j *job, success bool) {
	r.budget.Record(j.RunID, j.VariationID, j.cost, success)
	logger.RunRecorded(j.RunID, j.VariationID, j.cost, success)
}

func (r *Runner) export(batchID string, j *job, attempt int, status string, res dispatch.Result[Outcome]) {
	ev := telemetry.RunEvent{
		BatchID:     batchID,
		RunID:       j.RunID,
		VariationID: j.VariationID,
		Attempt:     attempt,
		Status:      status,
		Cost:        sanitize(res.Value.Cost),
		LatencyMs:   res.Duration.Milliseconds(),
		Timestamp:   time.Now(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
		ev.ErrorCode = string(errors.Code(res.Err))
	}
	r.exporter.LogRun(ev)
}

// retryDelay is the pause before retry round n (1-based).
func (r *Runner) retryDelay(n int, pending []*job) time.Duration {
	delay := ratelimit.ExponentialBackoff(n, r.cfg.InitBackoff, r.cfg.MaxBackoff)
	for _, j := range pending {
		if j.retryAfter > delay {
			delay = j.retryAfter
		}
	}
	return delay
}

func (r *Runner) loadLedger() error {
	if r.cfg.LedgerPath == "" {
		return nil
	}
	if _, err := os.Stat(r.cfg.LedgerPath); os.IsNotExist(err) {
		return nil
	}
	return r.budget.LoadFile(r.cfg.LedgerPath)
}

// applyLimits overrides only the ceilings the runner config sets. An
// injected controller or a restored ledger keeps the rest.
func (r *Runner) applyLimits() {
	limit, perRun := r.budget.Limits()
	if r.cfg.BudgetLimit != nil {
		limit = r.cfg.BudgetLimit
	}
	if r.cfg.CostPerRunLimit != nil {
		perRun = r.cfg.CostPerRunLimit
	}
	r.budget.SetLimits(limit, perRun)
}

func retryable(err error) bool {
	switch errors.Classify(err) {
	case errors.KindThrottle, errors.KindTransient:
		return true
	}
	return false
}

func sanitize(cost float64) float64 {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0
	}
	return cost
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
