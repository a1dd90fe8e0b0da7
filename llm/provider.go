// Package llm adapts remote model APIs to the engine's run bodies.
//
// Every provider returns *errors.Error values carrying the HTTP status and
// any server retry delay, so the dispatcher can tell throttling from
// ordinary failures without matching on message text. SDK-internal retries
// are disabled; retry policy belongs to the batch runner.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Request is a single prompt sent to a model.
type Request struct {
	Model     string `json:"model,omitempty"` // overrides the provider default
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Response is a model reply.
type Response struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
	Cached       bool   `json:"cached,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the interface for remote model providers.
type Provider interface {
	// Complete sends req and returns the model's reply.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderConfig holds configuration for NewProvider.
type ProviderConfig struct {
	Provider  string `json:"provider"` // anthropic, openai, google, groq, mistral, xai, openrouter, ollama, lmstudio, openai-compat, mock
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	MaxTokens int    `json:"max_tokens"`
	BaseURL   string `json:"base_url"` // custom endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
}

// Validate validates the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens is required")
	}
	return nil
}

// requestModel returns req.Model, or fallback when unset.
func requestModel(req Request, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}

// requestMaxTokens returns req.MaxTokens, or fallback when unset.
func requestMaxTokens(req Request, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return fallback
}

// --- Mock Provider for Testing ---

// MockProvider is a scripted provider for tests and demos. It is safe for
// concurrent use.
type MockProvider struct {
	mu           sync.Mutex
	response     string
	model        string
	inputTokens  int
	outputTokens int
	err          error
	lastRequest  *Request
	callCount    int

	// CompleteFunc, when set, replaces the scripted behaviour.
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
}

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{model: "mock"}
}

// SetResponse sets the response content.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = content
}

// SetTokenCounts sets the token counts.
func (p *MockProvider) SetTokenCounts(input, output int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputTokens = input
	p.outputTokens = output
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// LastRequest returns the last request.
func (p *MockProvider) LastRequest() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequest
}

// CallCount returns the number of Complete calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// Complete implements the Provider interface.
func (p *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	p.callCount++
	p.lastRequest = &req
	fn := p.CompleteFunc
	resp := &Response{
		Content:      p.response,
		StopReason:   "end_turn",
		InputTokens:  p.inputTokens,
		OutputTokens: p.outputTokens,
		Model:        requestModel(req, p.model),
	}
	err := p.err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
