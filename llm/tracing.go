// Tracing wrapper for providers.
package llm

import (
	"context"

	"github.com/vinayprograms/trialkit/errors"
	"github.com/vinayprograms/trialkit/telemetry"
)

// TracingProvider wraps a Provider with a client span per call.
type TracingProvider struct {
	provider     Provider
	providerName string
}

// WithTracing wraps a provider with tracing instrumentation.
func WithTracing(p Provider, providerName string) Provider {
	return &TracingProvider{
		provider:     p,
		providerName: providerName,
	}
}

// Complete implements Provider with tracing.
func (tp *TracingProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	tracer := telemetry.GetTracer()

	ctx, span := tracer.StartCallSpan(ctx, tp.providerName)
	resp, err := tp.provider.Complete(ctx, req)

	opts := telemetry.CallSpanOptions{
		Provider: tp.providerName,
		Model:    req.Model,
		Status:   errors.StatusOf(err),
	}
	if resp != nil {
		opts.Model = resp.Model
		opts.TokensIn = resp.InputTokens
		opts.TokensOut = resp.OutputTokens
		opts.Cached = resp.Cached
	}
	tracer.EndCallSpan(span, opts, err)

	return resp, err
}

// Unwrap returns the wrapped provider.
func (tp *TracingProvider) Unwrap() Provider {
	return tp.provider
}
