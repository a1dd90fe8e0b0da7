package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/trialkit/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRIALKIT_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func stringVar(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func intVar(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func floatVar(dst func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func optionalFloatVar(dst func(c *Config) **float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		if v == "" {
			*dst(c) = nil
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = &f
		return nil
	}
}

func boolVar(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func durationVar(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"CACHE_ENABLED", boolVar(func(c *Config) *bool { return &c.Cache.Enabled })},
	{"CACHE_DIR", stringVar(func(c *Config) *string { return &c.Cache.Dir })},
	{"CACHE_TTL_SECONDS", intVar(func(c *Config) *int { return &c.Cache.TTLSeconds })},
	{"CACHE_MAX_MEMORY_ENTRIES", intVar(func(c *Config) *int { return &c.Cache.MaxMemoryEntries })},
	{"CACHE_BACKEND", stringVar(func(c *Config) *string { return &c.Cache.Backend })},
	{"CACHE_COST_PER_1K_TOKENS", floatVar(func(c *Config) *float64 { return &c.Cache.CostPer1KTokens })},

	{"MAX_PARALLEL", intVar(func(c *Config) *int { return &c.Dispatch.MaxParallel })},
	{"REQUESTS_PER_MINUTE", floatVar(func(c *Config) *float64 { return &c.Dispatch.RequestsPerMinute })},

	{"BUDGET_LIMIT", optionalFloatVar(func(c *Config) **float64 { return &c.Budget.Limit })},
	{"COST_PER_RUN_LIMIT", optionalFloatVar(func(c *Config) **float64 { return &c.Budget.CostPerRunLimit })},
	{"LEDGER_PATH", stringVar(func(c *Config) *string { return &c.Budget.LedgerPath })},

	{"RETRY_MAX_ATTEMPTS", intVar(func(c *Config) *int { return &c.Retry.MaxAttempts })},
	{"RETRY_INIT_BACKOFF", durationVar(func(c *Config) *time.Duration { return &c.Retry.InitBackoff })},
	{"RETRY_MAX_BACKOFF", durationVar(func(c *Config) *time.Duration { return &c.Retry.MaxBackoff })},

	{"LLM_PROVIDER", stringVar(func(c *Config) *string { return &c.LLM.Provider })},
	{"LLM_MODEL", stringVar(func(c *Config) *string { return &c.LLM.Model })},
	{"LLM_BASE_URL", stringVar(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"LLM_MAX_TOKENS", intVar(func(c *Config) *int { return &c.LLM.MaxTokens })},

	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},

	{"TELEMETRY_ENDPOINT", stringVar(func(c *Config) *string { return &c.Telemetry.Endpoint })},
	{"TELEMETRY_PROTOCOL", stringVar(func(c *Config) *string { return &c.Telemetry.Protocol })},
	{"TELEMETRY_INSECURE", boolVar(func(c *Config) *bool { return &c.Telemetry.Insecure })},
	{"EVENTS_PROTOCOL", stringVar(func(c *Config) *string { return &c.Telemetry.EventsProtocol })},
	{"EVENTS_ENDPOINT", stringVar(func(c *Config) *string { return &c.Telemetry.EventsEndpoint })},
}

// ApplyEnv overrides fields from TRIALKIT_* variables found by lookup.
// Malformed values are reported as INVALID_INPUT naming the variable.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "bad value for "+name)
		}
	}
	return nil
}

// EnvNames lists every recognised override variable.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}
