package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
default_provider = "openai"

[providers.openai]
endpoint = "https://api.openai.com/v1"
model = "gpt-4o"
temperature = 0.7

[agent]
max_tool_concurrency = 4
max_tool_rounds = 30

[approval]
default_decision = "pending"

[context_window]
max_tokens = 128000
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "openai" {
		t.Fatalf("got default provider %q", cfg.DefaultProvider)
	}
	if cfg.Agent.MaxToolConcurrency != 4 {
		t.Fatalf("got max_tool_concurrency %d", cfg.Agent.MaxToolConcurrency)
	}
	if cfg.ContextWindow.MaxTokens != 128000 {
		t.Fatalf("got context window max tokens %d", cfg.ContextWindow.MaxTokens)
	}
}

func TestLoad_MissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_RequiresAtLeastOneProvider(t *testing.T) {
	path := writeConfig(t, `default_provider = ""`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error: no providers configured")
	}
}

func TestValidate_RejectsUnknownDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
default_provider = "missing"

[providers.openai]
endpoint = "https://api.openai.com/v1"
model = "gpt-4o"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error: default_provider not in providers")
	}
}

func TestValidate_RejectsBadEndpoint(t *testing.T) {
	path := writeConfig(t, `
[providers.openai]
endpoint = "not-a-url"
model = "gpt-4o"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error: invalid endpoint")
	}
}

func TestValidate_AnthropicProviderNeedsNoEndpoint(t *testing.T) {
	path := writeConfig(t, `
default_provider = "anthropic"

[providers.anthropic]
model = "claude-sonnet-4-5"
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("expected anthropic provider to load without an endpoint: %v", err)
	}
}

func TestValidate_RejectsSQLiteBackendWithoutPath(t *testing.T) {
	path := writeConfig(t, `
[providers.openai]
endpoint = "https://api.openai.com/v1"
model = "gpt-4o"

[memory]
backend = "sqlite"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error: sqlite backend without sqlite_path")
	}
}

func TestAgentConfig_ToPortsFillsDefaults(t *testing.T) {
	a := AgentConfig{}
	got := a.ToPorts()
	if got.MaxToolConcurrency != 3 {
		t.Fatalf("expected default MaxToolConcurrency=3, got %d", got.MaxToolConcurrency)
	}
	if !got.RequireToolApproval {
		t.Fatal("expected RequireToolApproval to default true")
	}
}

func TestApprovalConfig_ToPolicyDefaultsToPending(t *testing.T) {
	a := ApprovalConfig{}
	policy := a.ToPolicy()
	decision, _ := policy.Evaluate("anything")
	if string(decision) != "pending" {
		t.Fatalf("expected pending default, got %q", decision)
	}
}

func TestEnvOverrides_ApplyOverFileValues(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("AGENTCORE_DEFAULT_PROVIDER", "openai")
	t.Setenv("AGENTCORE_CONTEXT_WINDOW_MAX_TOKENS", "4096")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ContextWindow.MaxTokens != 4096 {
		t.Fatalf("expected env override to win, got %d", cfg.ContextWindow.MaxTokens)
	}
}
