package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/vinayprograms/trialkit/config"
	"github.com/vinayprograms/trialkit/credentials"
)

// NewProvider creates a provider based on the configuration.
// If Provider is empty, it will be inferred from the Model name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)
		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})

	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})

	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})

	case "groq", "mistral", "xai", "openrouter", "lmstudio", "ollama-local", "ollama":
		name := cfg.Provider
		if name == "ollama" {
			name = "ollama-local"
		}
		return newCompatFor(name, OpenAICompatConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})

	case "openai-compat", "litellm":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %s", cfg.Provider)
		}
		return NewOpenAICompatProvider(OpenAICompatConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			ProviderName: cfg.Provider,
		})

	case "mock":
		return NewMockProvider(), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// NewFromConfig builds a traced provider from the llm section of the
// engine configuration. The API key comes from the variable named by
// api_key_env when set, otherwise from creds (which falls back to the
// provider's standard environment variable).
func NewFromConfig(cfg config.LLMConfig, creds *credentials.Credentials) (Provider, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = InferProviderFromModel(cfg.Model)
	}

	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" && provider != "" {
		apiKey = creds.GetAPIKey(provider)
	}

	p, err := NewProvider(ProviderConfig{
		Provider:  provider,
		Model:     cfg.Model,
		APIKey:    apiKey,
		MaxTokens: cfg.MaxTokens,
		BaseURL:   cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return WithTracing(p, provider), nil
}

// InferProviderFromModel returns the provider name based on model name patterns.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"),
		strings.HasPrefix(model, "gemma"):
		return "google"
	case strings.HasPrefix(model, "llama"):
		return "groq"
	case strings.HasPrefix(model, "mistral"),
		strings.HasPrefix(model, "mixtral"),
		strings.HasPrefix(model, "codestral"),
		strings.HasPrefix(model, "pixtral"):
		return "mistral"
	case strings.HasPrefix(model, "grok"):
		return "xai"
	case model == "mock":
		return "mock"
	}
	return ""
}
