package llm

import (
	"context"
	stderrors "errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/trialkit/cache"
	"github.com/vinayprograms/trialkit/config"
	"github.com/vinayprograms/trialkit/telemetry"
)

// =============================================================================
// Mock Provider Tests
// =============================================================================

func TestMockProvider(t *testing.T) {
	mock := NewMockProvider()
	mock.SetResponse("hello")
	mock.SetTokenCounts(4, 2)

	resp, err := mock.Complete(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "hello" || resp.TotalTokens() != 6 || resp.Model != "mock" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if mock.LastRequest().Prompt != "p" {
		t.Errorf("LastRequest().Prompt = %q", mock.LastRequest().Prompt)
	}

	mock.SetError(stderrors.New("boom"))
	if _, err := mock.Complete(context.Background(), Request{}); err == nil {
		t.Error("expected scripted error")
	}
	if mock.CallCount() != 2 {
		t.Errorf("CallCount() = %d, want 2", mock.CallCount())
	}
}

func TestMockProvider_CompleteFunc(t *testing.T) {
	mock := NewMockProvider()
	mock.CompleteFunc = func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Content: strings.ToUpper(req.Prompt)}, nil
	}

	resp, _ := mock.Complete(context.Background(), Request{Prompt: "abc"})
	if resp.Content != "ABC" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestResponse_TotalTokensNil(t *testing.T) {
	var r *Response
	if r.TotalTokens() != 0 {
		t.Error("nil response should report zero tokens")
	}
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestNewProvider_AllProviders(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		baseURL  string
	}{
		{"anthropic", "anthropic", "claude-sonnet-4-5", ""},
		{"openai", "openai", "gpt-4o", ""},
		{"google", "google", "gemini-2.0-flash", ""},
		{"groq", "groq", "llama-3.3-70b-versatile", ""},
		{"mistral", "mistral", "mistral-large-latest", ""},
		{"xai", "xai", "grok-2", ""},
		{"openrouter", "openrouter", "anthropic/claude-3.5-sonnet", ""},
		{"lmstudio", "lmstudio", "local-model", ""},
		{"ollama", "ollama", "llama3", ""},
		{"ollama-local", "ollama-local", "llama3", ""},
		{"openai-compat", "openai-compat", "m", "https://llm.internal/v1"},
		{"litellm", "litellm", "m", "http://localhost:4000"},
		{"mock", "mock", "mock", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(ProviderConfig{
				Provider:  tt.provider,
				Model:     tt.model,
				APIKey:    "test-key",
				MaxTokens: 100,
				BaseURL:   tt.baseURL,
			})
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if p == nil {
				t.Fatal("NewProvider() returned nil")
			}
		})
	}
}

func TestNewProvider_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
	}{
		{"unsupported", ProviderConfig{Provider: "nope", Model: "m", MaxTokens: 1}},
		{"unknown model", ProviderConfig{Model: "mystery-model", MaxTokens: 1}},
		{"no model", ProviderConfig{Provider: "openai", APIKey: "k", MaxTokens: 1}},
		{"no max tokens", ProviderConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o"}},
		{"compat without base url", ProviderConfig{Provider: "openai-compat", Model: "m", MaxTokens: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewProvider_InfersProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Model: "claude-sonnet-4-5", APIKey: "k", MaxTokens: 10})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, ok := p.(*AnthropicProvider); !ok {
		t.Errorf("expected *AnthropicProvider, got %T", p)
	}
}

func TestInferProviderFromModel(t *testing.T) {
	tests := map[string]string{
		"claude-opus-4":        "anthropic",
		"GPT-4o":               "openai",
		"o3-mini":              "openai",
		"gemini-2.0-flash":     "google",
		"llama-3.1-8b-instant": "groq",
		"mixtral-8x7b":         "mistral",
		"grok-2":               "xai",
		"mock":                 "mock",
		"unknown":              "",
	}
	for model, want := range tests {
		if got := InferProviderFromModel(model); got != want {
			t.Errorf("InferProviderFromModel(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestNewFromConfig_Mock(t *testing.T) {
	p, err := NewFromConfig(config.LLMConfig{Provider: "mock", Model: "mock", MaxTokens: 10}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if _, ok := p.(*TracingProvider); !ok {
		t.Errorf("expected traced provider, got %T", p)
	}
}

func TestNewFromConfig_APIKeyEnv(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"x"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	t.Setenv("TRIAL_LLM_KEY", "env-key")
	p, err := NewFromConfig(config.LLMConfig{
		Provider:  "openai-compat",
		Model:     "m",
		BaseURL:   server.URL,
		APIKeyEnv: "TRIAL_LLM_KEY",
		MaxTokens: 10,
	}, nil)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	if _, err := p.Complete(context.Background(), Request{Prompt: "x"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if auth != "Bearer env-key" {
		t.Errorf("Authorization = %q", auth)
	}
}

// =============================================================================
// Cached Provider Tests
// =============================================================================

func newTestCache() *cache.Cache {
	return cache.New(cache.Config{Enabled: true, MaxEntries: 10}, nil, nil)
}

func TestCachedProvider_ServesRepeats(t *testing.T) {
	mock := NewMockProvider()
	mock.SetResponse("answer")
	mock.SetTokenCounts(10, 5)
	c := newTestCache()
	p := WithCache(mock, c, "mock")

	req := Request{System: "s", Prompt: "same"}
	first, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	if first.Cached {
		t.Error("first response should not be cached")
	}

	second, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("second Complete() error = %v", err)
	}
	if !second.Cached || second.Content != "answer" || second.TotalTokens() != 0 {
		t.Errorf("unexpected cached response: %+v", second)
	}
	if mock.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", mock.CallCount())
	}
	if _, tokens, ok := c.Get("mock", CacheInput(req)); !ok || tokens != 15 {
		t.Errorf("stored entry tokens = %d, ok = %v", tokens, ok)
	}
}

func TestCachedProvider_DistinguishesSystemPrompt(t *testing.T) {
	mock := NewMockProvider()
	mock.SetResponse("r")
	p := WithCache(mock, newTestCache(), "mock")

	p.Complete(context.Background(), Request{System: "a", Prompt: "x"})
	p.Complete(context.Background(), Request{System: "b", Prompt: "x"})
	if mock.CallCount() != 2 {
		t.Errorf("CallCount() = %d, want 2", mock.CallCount())
	}
}

func TestCachedProvider_NilCachePassesThrough(t *testing.T) {
	mock := NewMockProvider()
	mock.SetResponse("fresh")
	p := WithCache(mock, nil, "mock")

	for i := 0; i < 2; i++ {
		resp, err := p.Complete(context.Background(), Request{Prompt: "x"})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if resp.Cached || resp.Content != "fresh" {
			t.Errorf("unexpected response: %+v", resp)
		}
	}
	if mock.CallCount() != 2 {
		t.Errorf("CallCount() = %d, want 2", mock.CallCount())
	}
}

func TestCachedProvider_ErrorsNotCached(t *testing.T) {
	mock := NewMockProvider()
	mock.SetError(stderrors.New("flaky"))
	c := newTestCache()
	p := WithCache(mock, c, "mock")

	if _, err := p.Complete(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if c.Len() != 0 {
		t.Errorf("cache holds %d entries after failure", c.Len())
	}

	mock.SetError(nil)
	mock.SetResponse("ok")
	resp, err := p.Complete(context.Background(), Request{Prompt: "x"})
	if err != nil || resp.Cached {
		t.Errorf("expected fresh call, got %+v, %v", resp, err)
	}
}

func TestCacheInput(t *testing.T) {
	if got := CacheInput(Request{Prompt: "p"}); got != "p" {
		t.Errorf("CacheInput() = %q", got)
	}
	if got := CacheInput(Request{System: "s", Prompt: "p"}); got != "s\n\np" {
		t.Errorf("CacheInput() = %q", got)
	}
}

// =============================================================================
// Pricing Tests
// =============================================================================

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPer1K: 0.003, OutputPer1K: 0.015}

	got := p.Cost(&Response{InputTokens: 2000, OutputTokens: 1000})
	if math.Abs(got-0.021) > 1e-12 {
		t.Errorf("Cost() = %v, want 0.021", got)
	}
	if p.Cost(&Response{InputTokens: 2000, Cached: true}) != 0 {
		t.Error("cached responses should be free")
	}
	if p.Cost(nil) != 0 {
		t.Error("nil response should be free")
	}
	if got := p.MaxCost(1000, 1000); math.Abs(got-0.018) > 1e-12 {
		t.Errorf("MaxCost() = %v, want 0.018", got)
	}
}

// =============================================================================
// Tracing Tests
// =============================================================================

func TestTracingProvider_RecordsCallSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	telemetry.SetGlobalTracer(telemetry.NewTracerFromProvider(tp, "test", false))
	defer telemetry.SetGlobalTracer(nil)

	mock := NewMockProvider()
	mock.SetTokenCounts(3, 4)
	p := WithTracing(mock, "mock")

	if _, err := p.Complete(context.Background(), Request{Prompt: "x"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "call.mock" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == "call.tokens.output" && kv.Value.AsInt64() == 4 {
			found = true
		}
	}
	if !found {
		t.Error("output token attribute missing")
	}
}

func TestTracingProvider_Unwrap(t *testing.T) {
	mock := NewMockProvider()
	tp, ok := WithTracing(mock, "mock").(*TracingProvider)
	if !ok {
		t.Fatal("WithTracing() did not return *TracingProvider")
	}
	if tp.Unwrap() != Provider(mock) {
		t.Error("Unwrap() did not return the wrapped provider")
	}
}
