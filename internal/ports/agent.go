package ports

// ReasoningEffort is a hint forwarded to backends that support extended
// thinking/reasoning modes.
type ReasoningEffort string

const (
	ReasoningOff    ReasoningEffort = "OFF"
	ReasoningLow    ReasoningEffort = "LOW"
	ReasoningMedium ReasoningEffort = "MEDIUM"
	ReasoningHigh   ReasoningEffort = "HIGH"
)

// AgentConfig configures one orchestrator's behavior: the model it talks to,
// its inference knobs, and the tools it is allowed to call.
type AgentConfig struct {
	ID           string
	SystemPrompt string

	Temperature     float64
	TopP            float64
	MaxTokens       int
	ReasoningEffort ReasoningEffort

	Model string

	EnabledTools []string

	MaxToolConcurrency  int
	RequireToolApproval bool
	StrictToolValidation bool
}

// DefaultAgentConfig returns an AgentConfig with spec-mandated defaults
// applied (maxToolConcurrency=3, requireToolApproval=true).
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxToolConcurrency:  3,
		RequireToolApproval: true,
		ReasoningEffort:     ReasoningOff,
	}
}

// WithDefaults fills a zero MaxToolConcurrency and an empty ReasoningEffort
// with their defaults, returning the result. It never overwrites a field the
// caller set. RequireToolApproval is left as given, since its zero value
// cannot be told apart from an explicit false; DefaultAgentConfig is the
// constructor that sets it to true.
func WithDefaults(cfg AgentConfig) AgentConfig {
	if cfg.MaxToolConcurrency <= 0 {
		cfg.MaxToolConcurrency = 3
	}
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = ReasoningOff
	}
	return cfg
}
