// OpenTelemetry spans for batches, runs and remote calls.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer with engine-specific spans.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the package-level tracer.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the package-level tracer, or a no-op tracer if unset.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// Debug returns whether debug attributes are recorded.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Batch Spans ---

// StartBatchSpan starts the parent span for one batch.
func (t *Tracer) StartBatchSpan(ctx context.Context, batchID string, jobs int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "batch", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.jobs", jobs),
	)
	return ctx, span
}

// BatchSpanOptions describes a finished batch.
type BatchSpanOptions struct {
	Completed int
	Failed    int
	Spent     float64
}

// EndBatchSpan ends a batch span.
func (t *Tracer) EndBatchSpan(span trace.Span, opts BatchSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("batch.completed", opts.Completed),
		attribute.Int("batch.failed", opts.Failed),
		attribute.Float64("batch.spent", opts.Spent),
	)
	finish(span, err)
}

// --- Run Spans ---

// RunSpanOptions identifies a run.
type RunSpanOptions struct {
	RunID   string
	Index   int
	Attempt int
}

// StartRunSpan starts a span around one run.
func (t *Tracer) StartRunSpan(ctx context.Context, opts RunSpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "run", trace.WithSpanKind(trace.SpanKindInternal))
	attrs := []attribute.KeyValue{attribute.Int("run.index", opts.Index)}
	if opts.RunID != "" {
		attrs = append(attrs, attribute.String("run.id", opts.RunID))
	}
	if opts.Attempt > 0 {
		attrs = append(attrs, attribute.Int("run.attempt", opts.Attempt))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// EndRunSpan ends a run span with its final status.
func (t *Tracer) EndRunSpan(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("run.status", status))
	if err != nil && t.debug {
		span.SetAttributes(attribute.String("run.error", truncate(err.Error(), 1000)))
	}
	finish(span, err)
}

// --- Remote Call Spans ---

// CallSpanOptions describes one remote model call.
type CallSpanOptions struct {
	Provider  string
	Model     string
	TokensIn  int
	TokensOut int
	Cached    bool
	Status    int // HTTP status on failure, if known
}

// StartCallSpan starts a client span for a remote call.
func (t *Tracer) StartCallSpan(ctx context.Context, provider string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "call."+provider, trace.WithSpanKind(trace.SpanKindClient))
}

// EndCallSpan ends a remote call span.
func (t *Tracer) EndCallSpan(span trace.Span, opts CallSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("call.provider", opts.Provider),
		attribute.String("call.model", opts.Model),
		attribute.Int("call.tokens.input", opts.TokensIn),
		attribute.Int("call.tokens.output", opts.TokensOut),
		attribute.Bool("call.cached", opts.Cached),
	}
	if opts.Status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", opts.Status))
	}
	span.SetAttributes(attrs...)
	finish(span, err)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
