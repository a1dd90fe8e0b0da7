// Package credentials resolves provider API keys for trial runs.
//
// Keys are read from a credentials.toml file with one section per
// provider plus an optional generic [llm] section:
//
//	[anthropic]
//	api_key = "sk-ant-..."
//
//	[llm]
//	api_key = "fallback-key"
//
// The file must be owner read-only (0400). Missing keys fall back to the
// provider's conventional environment variable.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/trialkit/errors"
)

// PathEnv names a credentials file that takes precedence over the
// standard locations.
const PathEnv = "TRIALKIT_CREDENTIALS"

// ErrInsecurePermissions is the cause attached when the credentials file is
// readable by anyone but its owner.
var ErrInsecurePermissions = errors.New(errors.ErrCodeForbidden, "credentials file has insecure permissions")

// Section holds the keys for one provider.
type Section struct {
	APIKey string `toml:"api_key"`
}

// Credentials holds API keys keyed by provider section name.
type Credentials struct {
	sections map[string]Section
}

// StandardPaths returns candidate credential files in priority order.
func StandardPaths() []string {
	var paths []string
	if p := os.Getenv(PathEnv); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "credentials.toml")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "trialkit", "credentials.toml"),
			filepath.Join(home, ".trialkit", "credentials.toml"),
		)
	}
	return paths
}

// Load reads the first credentials file found in StandardPaths. A missing
// file is not an error: the returned Credentials is nil and lookups fall
// through to the environment.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		creds, err := LoadFile(path)
		return creds, path, err
	}
	return nil, "", nil
}

// LoadFile reads credentials from path. On Unix the file must have mode
// 0400.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrap(err, "stat credentials file")
		}
		if mode := info.Mode().Perm(); mode != 0400 {
			return nil, errors.New(errors.ErrCodeForbidden,
				fmt.Sprintf("%s has mode %04o (must be 0400)", path, mode),
				errors.WithCause(ErrInsecurePermissions))
		}
	}

	var raw map[string]Section
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse credentials file")
	}

	creds := &Credentials{sections: make(map[string]Section, len(raw))}
	for name, s := range raw {
		if s.APIKey != "" {
			creds.sections[strings.ToLower(name)] = s
		}
	}
	return creds, nil
}

// Providers lists the sections that carry a key.
func (c *Credentials) Providers() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.sections))
	for name := range c.sections {
		names = append(names, name)
	}
	return names
}

// GetAPIKey returns the key for provider. Lookup order is the provider's
// own section, its dashless alias, the [llm] section, then the
// environment. It is safe to call on a nil receiver.
func (c *Credentials) GetAPIKey(provider string) string {
	provider = strings.ToLower(provider)
	if c != nil {
		if s, ok := c.sections[provider]; ok {
			return s.APIKey
		}
		if s, ok := c.sections[strings.ReplaceAll(provider, "-", "")]; ok {
			return s.APIKey
		}
		if s, ok := c.sections["llm"]; ok {
			return s.APIKey
		}
	}
	for _, name := range EnvVars(provider) {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// EnvVars returns the environment variables consulted for provider, in
// order.
func EnvVars(provider string) []string {
	switch strings.ToLower(provider) {
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "openai", "openai-compat", "litellm":
		return []string{"OPENAI_API_KEY"}
	case "google":
		return []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}
	case "ollama", "ollama-local", "lmstudio", "mock":
		return nil
	default:
		return []string{strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"}
	}
}
