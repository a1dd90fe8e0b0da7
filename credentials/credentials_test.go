package credentials

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/vinayprograms/trialkit/errors"
)

func writeCreds(t *testing.T, dir, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "credentials.toml")
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	return path
}

// isolate keeps lookups away from the developer's real files and keys.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv(PathEnv, "")
	for _, name := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY", "GROQ_API_KEY"} {
		t.Setenv(name, "")
	}
	return dir
}

func TestStandardPaths(t *testing.T) {
	isolate(t)
	paths := StandardPaths()
	if len(paths) != 3 || paths[0] != "credentials.toml" {
		t.Fatalf("StandardPaths() = %v", paths)
	}

	t.Setenv(PathEnv, "/etc/trialkit/creds.toml")
	if got := StandardPaths()[0]; got != "/etc/trialkit/creds.toml" {
		t.Errorf("override should come first, got %q", got)
	}
}

func TestGetAPIKey_Precedence(t *testing.T) {
	dir := isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")

	path := writeCreds(t, dir, `
[llm]
api_key = "generic"

[anthropic]
api_key = "section-anthropic"

[openaicompat]
api_key = "dashless"

[Groq]
api_key = "mixed-case"

[empty]
api_key = ""
`, 0400)

	creds, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	tests := map[string]string{
		"anthropic":     "section-anthropic",
		"openai-compat": "dashless",
		"groq":          "mixed-case",
		"openai":        "generic",
		"empty":         "generic",
	}
	for provider, want := range tests {
		if got := creds.GetAPIKey(provider); got != want {
			t.Errorf("GetAPIKey(%q) = %q, want %q", provider, got, want)
		}
	}

	got := creds.Providers()
	sort.Strings(got)
	want := []string{"anthropic", "groq", "llm", "openaicompat"}
	if len(got) != len(want) {
		t.Fatalf("Providers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Providers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetAPIKey_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("OPENROUTER_API_KEY", "env-openrouter")

	var creds *Credentials
	tests := map[string]string{
		"openai":     "env-openai",
		"litellm":    "env-openai",
		"google":     "env-gemini",
		"openrouter": "env-openrouter",
		"ollama":     "",
	}
	for provider, want := range tests {
		if got := creds.GetAPIKey(provider); got != want {
			t.Errorf("GetAPIKey(%q) = %q, want %q", provider, got, want)
		}
	}
}

func TestEnvVars(t *testing.T) {
	if got := EnvVars("my-provider"); len(got) != 1 || got[0] != "MY_PROVIDER_API_KEY" {
		t.Errorf("EnvVars(my-provider) = %v", got)
	}
	if got := EnvVars("mock"); got != nil {
		t.Errorf("EnvVars(mock) = %v, want none", got)
	}
}

func TestLoadFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission check not applicable on Windows")
	}

	for _, mode := range []os.FileMode{0600, 0644, 0440} {
		path := writeCreds(t, t.TempDir(), "[llm]\napi_key = \"k\"\n", mode)
		_, err := LoadFile(path)
		if err == nil {
			t.Fatalf("mode %04o accepted", mode)
		}
		if !stderrors.Is(err, ErrInsecurePermissions) {
			t.Errorf("mode %04o: expected ErrInsecurePermissions, got %v", mode, err)
		}
		if !errors.Is(err, errors.ErrCodeForbidden) {
			t.Errorf("mode %04o: code = %s", mode, errors.Code(err))
		}
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeCreds(t, t.TempDir(), "[llm\napi_key = ", 0400)
	_, err := LoadFile(path)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := isolate(t)
	orig, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(orig)

	creds, path, err := Load()
	if err != nil || creds != nil || path != "" {
		t.Fatalf("Load() with no files = %v, %q, %v", creds, path, err)
	}

	home := filepath.Join(dir, ".config", "trialkit")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatal(err)
	}
	writeCreds(t, home, "[llm]\napi_key = \"from-home\"\n", 0400)

	creds, path, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != filepath.Join(home, "credentials.toml") {
		t.Errorf("path = %q", path)
	}
	if creds.GetAPIKey("any") != "from-home" {
		t.Errorf("key = %q", creds.GetAPIKey("any"))
	}

	writeCreds(t, dir, "[llm]\napi_key = \"from-cwd\"\n", 0400)
	creds, path, _ = Load()
	if path != "credentials.toml" || creds.GetAPIKey("any") != "from-cwd" {
		t.Errorf("working directory file should win, got %q", path)
	}
}
