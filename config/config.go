// Package config loads engine settings from TOML or YAML files with
// TRIALKIT_* environment overrides.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/trialkit/errors"
)

// Config is the full engine configuration.
type Config struct {
	Cache     CacheConfig     `toml:"cache" yaml:"cache"`
	Dispatch  DispatchConfig  `toml:"dispatch" yaml:"dispatch"`
	Budget    BudgetConfig    `toml:"budget" yaml:"budget"`
	Retry     RetryConfig     `toml:"retry" yaml:"retry"`
	LLM       LLMConfig       `toml:"llm" yaml:"llm"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled          bool    `toml:"enabled" yaml:"enabled"`
	Dir              string  `toml:"dir" yaml:"dir"`
	TTLSeconds       int     `toml:"ttl_seconds" yaml:"ttl_seconds"`
	MaxMemoryEntries int     `toml:"max_memory_entries" yaml:"max_memory_entries"`
	Backend          string  `toml:"backend" yaml:"backend"` // json, bolt
	CostPer1KTokens  float64 `toml:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`
}

// TTL returns the entry lifetime. Zero means entries never expire.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// DispatchConfig configures the worker pool and request pacing.
type DispatchConfig struct {
	MaxParallel       int     `toml:"max_parallel" yaml:"max_parallel"`
	RequestsPerMinute float64 `toml:"requests_per_minute" yaml:"requests_per_minute"`
}

// BudgetConfig configures cost admission. Nil limits are unbounded.
type BudgetConfig struct {
	Limit           *float64 `toml:"limit" yaml:"limit"`
	CostPerRunLimit *float64 `toml:"cost_per_run_limit" yaml:"cost_per_run_limit"`
	LedgerPath      string   `toml:"ledger_path" yaml:"ledger_path"`
}

// RetryConfig configures retries of throttled and transient runs.
type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts" yaml:"max_attempts"`
	InitBackoff time.Duration `toml:"init_backoff" yaml:"init_backoff"`
	MaxBackoff  time.Duration `toml:"max_backoff" yaml:"max_backoff"`
}

// LLMConfig selects and prices the remote model.
type LLMConfig struct {
	Provider    string  `toml:"provider" yaml:"provider"`
	Model       string  `toml:"model" yaml:"model"`
	BaseURL     string  `toml:"base_url" yaml:"base_url"`
	APIKeyEnv   string  `toml:"api_key_env" yaml:"api_key_env"`
	MaxTokens   int     `toml:"max_tokens" yaml:"max_tokens"`
	InputPer1K  float64 `toml:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `toml:"output_per_1k" yaml:"output_per_1k"`
}

// LogConfig configures console logging.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// TelemetryConfig configures tracing and run-event export.
type TelemetryConfig struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Protocol       string `toml:"protocol" yaml:"protocol"` // grpc, http
	Insecure       bool   `toml:"insecure" yaml:"insecure"`
	Debug          bool   `toml:"debug" yaml:"debug"`
	EventsProtocol string `toml:"events_protocol" yaml:"events_protocol"` // file, http, noop
	EventsEndpoint string `toml:"events_endpoint" yaml:"events_endpoint"`
}

// Backends accepted by cache.backend.
const (
	BackendJSON = "json"
	BackendBolt = "bolt"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled:          true,
			Dir:              filepath.Join(".trialkit", "cache"),
			TTLSeconds:       3600,
			MaxMemoryEntries: 1000,
			Backend:          BackendJSON,
			CostPer1KTokens:  0.002,
		},
		Dispatch: DispatchConfig{
			MaxParallel: 2,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitBackoff: time.Second,
			MaxBackoff:  60 * time.Second,
		},
		LLM: LLMConfig{
			MaxTokens: 1024,
		},
		Log: LogConfig{
			Level: "INFO",
		},
		Telemetry: TelemetryConfig{
			Protocol:       "grpc",
			EventsProtocol: "noop",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "invalid configuration")
	}
	return cfg, nil
}

// LoadFile reads path over the defaults without environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.decodeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("toml" or "yaml") over the
// defaults.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	format, err := formatFor(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file", errors.WithMetadata("path", path))
	}
	if err := c.decode(data, format); err != nil {
		return errors.Wrap(err, "failed to parse config file", errors.WithMetadata("path", path))
	}
	return nil
}

func (c *Config) decode(data []byte, format string) error {
	switch format {
	case "toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "toml")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return errors.Newf(errors.ErrCodeInvalidInput, "unknown config keys: %v", undecoded)
		}
		return nil
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && err != io.EOF {
			return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "yaml")
		}
		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidInput, "unsupported config format %q", format)
	}
}

func formatFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidInput,
			"config file %s: extension must be .toml, .yaml or .yml", path)
	}
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field    string
	Message  string
	Expected string
}

func (e ValidationError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%s: %s (expected: %s)", e.Field, e.Message, e.Expected)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is every problem Validate found.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Validate rejects negative values and unknown enumerations.
func (c *Config) Validate() error {
	var errs ValidationErrors
	negative := func(field string) {
		errs = append(errs, ValidationError{Field: field, Message: "must not be negative"})
	}

	if c.Cache.TTLSeconds < 0 {
		negative("cache.ttl_seconds")
	}
	if c.Cache.MaxMemoryEntries < 0 {
		negative("cache.max_memory_entries")
	}
	if c.Cache.CostPer1KTokens < 0 {
		negative("cache.cost_per_1k_tokens")
	}
	switch c.Cache.Backend {
	case BackendJSON, BackendBolt:
	default:
		errs = append(errs, ValidationError{
			Field:    "cache.backend",
			Message:  fmt.Sprintf("invalid value: %s", c.Cache.Backend),
			Expected: "json or bolt",
		})
	}

	if c.Dispatch.MaxParallel < 0 {
		negative("dispatch.max_parallel")
	}
	if c.Dispatch.RequestsPerMinute < 0 {
		negative("dispatch.requests_per_minute")
	}

	if c.Budget.Limit != nil && *c.Budget.Limit < 0 {
		negative("budget.limit")
	}
	if c.Budget.CostPerRunLimit != nil && *c.Budget.CostPerRunLimit < 0 {
		negative("budget.cost_per_run_limit")
	}

	if c.Retry.MaxAttempts < 0 {
		negative("retry.max_attempts")
	}
	if c.Retry.InitBackoff < 0 {
		negative("retry.init_backoff")
	}
	if c.Retry.MaxBackoff < 0 {
		negative("retry.max_backoff")
	}

	if c.LLM.MaxTokens < 0 {
		negative("llm.max_tokens")
	}
	if c.LLM.InputPer1K < 0 {
		negative("llm.input_per_1k")
	}
	if c.LLM.OutputPer1K < 0 {
		negative("llm.output_per_1k")
	}

	switch strings.ToLower(c.Telemetry.Protocol) {
	case "", "grpc", "http":
	default:
		errs = append(errs, ValidationError{
			Field:    "telemetry.protocol",
			Message:  fmt.Sprintf("invalid value: %s", c.Telemetry.Protocol),
			Expected: "grpc or http",
		})
	}
	switch strings.ToLower(c.Telemetry.EventsProtocol) {
	case "", "noop", "file", "http":
	default:
		errs = append(errs, ValidationError{
			Field:    "telemetry.events_protocol",
			Message:  fmt.Sprintf("invalid value: %s", c.Telemetry.EventsProtocol),
			Expected: "file, http or noop",
		})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
