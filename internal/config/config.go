// Package config handles configuration loading from TOML files and
// environment variables: which model backend to use, the Orchestrator's
// default AgentConfig knobs, the Tool Approval Protocol's default policy,
// and where Conversation Memory is persisted.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/agentcore/runtime/internal/approval"
	"github.com/agentcore/runtime/internal/ports"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	Agent           AgentConfig               `toml:"agent"`
	Approval        ApprovalConfig            `toml:"approval"`
	Memory          MemoryConfig              `toml:"memory"`
	ContextWindow   ContextWindowConfig       `toml:"context_window"`
}

// ProviderConfig holds the connection settings for one Model Backend.
type ProviderConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// AgentConfig holds the default values an Orchestrator is constructed with,
// before any per-request override.
type AgentConfig struct {
	SystemPrompt         string   `toml:"system_prompt"`
	MaxTokens            int      `toml:"max_tokens"`
	ReasoningEffort      string   `toml:"reasoning_effort"`
	EnabledTools         []string `toml:"enabled_tools"`
	MaxToolConcurrency   int      `toml:"max_tool_concurrency"`
	MaxToolRounds        int      `toml:"max_tool_rounds"`
	StrictToolValidation bool     `toml:"strict_tool_validation"`
}

// ToPorts converts the file-level AgentConfig into ports.AgentConfig, with
// spec-mandated defaults filled in for anything left zero.
func (a AgentConfig) ToPorts() ports.AgentConfig {
	cfg := ports.AgentConfig{
		SystemPrompt:         a.SystemPrompt,
		MaxTokens:            a.MaxTokens,
		ReasoningEffort:      ports.ReasoningEffort(a.ReasoningEffort),
		EnabledTools:         a.EnabledTools,
		MaxToolConcurrency:   a.MaxToolConcurrency,
		StrictToolValidation: a.StrictToolValidation,
		RequireToolApproval:  true,
	}
	return ports.WithDefaults(cfg)
}

// ApprovalConfig holds the Tool Approval Protocol's default Policy.
type ApprovalConfig struct {
	Allowlist       []string `toml:"allowlist"`
	Denylist        []string `toml:"denylist"`
	RequireApproval []string `toml:"require_approval"`
	// DefaultDecision is one of "allowed", "denied", "pending". Defaults to
	// "pending" (spec-mandated default: nothing is pre-approved) if unset or
	// unrecognized.
	DefaultDecision string `toml:"default_decision"`
}

// ToPolicy converts the file-level ApprovalConfig into an approval.Policy.
func (a ApprovalConfig) ToPolicy() *approval.Policy {
	decision := approval.Decision(a.DefaultDecision)
	if !decision.Valid() {
		decision = approval.DecisionPending
	}
	return &approval.Policy{
		Allowlist:       a.Allowlist,
		Denylist:        a.Denylist,
		RequireApproval: a.RequireApproval,
		DefaultDecision: decision,
	}
}

// MemoryConfig selects and configures the Conversation Memory backend.
type MemoryConfig struct {
	// Backend is "memory" (process-local, the default) or "sqlite".
	Backend string `toml:"backend"`
	// SQLitePath is the database file path when Backend is "sqlite".
	SQLitePath string `toml:"sqlite_path"`
}

// ContextWindowConfig configures the Session Metrics & Auto-Summary
// component's budget.
type ContextWindowConfig struct {
	// MaxTokens is the context window budget in tokens. 0 disables
	// auto-summary tracking entirely.
	MaxTokens int `toml:"max_tokens"`
}

// Load reads configuration from a TOML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	if c.Agent.MaxToolConcurrency < 0 {
		errs = append(errs, errors.New("agent.max_tool_concurrency must not be negative"))
	}
	if c.ContextWindow.MaxTokens < 0 {
		errs = append(errs, errors.New("context_window.max_tokens must not be negative"))
	}
	if c.Memory.Backend == "sqlite" && c.Memory.SQLitePath == "" {
		errs = append(errs, errors.New("memory.sqlite_path is required when memory.backend=\"sqlite\""))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	// Anthropic's native Messages API backend talks to the SDK's own default
	// base URL and has no OpenAI-compatible endpoint to configure.
	if strings.EqualFold(name, "anthropic") {
		if cfg.Endpoint != "" {
			if err := validateEndpoint(cfg.Endpoint); err != nil {
				errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
			}
		}
	} else if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"AGENTCORE_DEFAULT_PROVIDER", func(v string) {
			if v != "" {
				cfg.DefaultProvider = v
			}
		}},
		{"AGENTCORE_MEMORY_BACKEND", func(v string) {
			if v != "" {
				cfg.Memory.Backend = v
			}
		}},
		{"AGENTCORE_MEMORY_SQLITE_PATH", func(v string) {
			if v != "" {
				cfg.Memory.SQLitePath = v
			}
		}},
		{"AGENTCORE_CONTEXT_WINDOW_MAX_TOKENS", func(v string) {
			if v != "" {
				fmt.Sscanf(v, "%d", &cfg.ContextWindow.MaxTokens)
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the runtime's data directory
// (~/.config/agentcore).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentcore"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
