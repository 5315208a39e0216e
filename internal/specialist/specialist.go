// Package specialist implements the Specialist Agent Manager (spec §4.5):
// spawning a focused sub-agent that shares the parent's Tool Registry but
// runs its own Orchestrator turn loop against an isolated conversation, with
// a recursion depth cap and its own tool-round budget.
//
// Grounded on the teacher's internal/mcptools.SubAgentHandler (internal/
// mcptools/subagent.go): same constant shape (MaxSubAgentDepth,
// MaxSubAgentIterations, MaxAllowedIterations), same filtered-tool-set
// technique, same final-assistant-message extraction. The sub-agent has no
// plan reader of its own and shares the parent's registry, so stateful
// tools such as TodoWrite act on the parent's scratchpad. Generalized from one hardcoded tool roster and a bespoke
// ProcessTurn call to a reusable Orchestrator run against the shared Tool
// Registry, and the depth cap raised from 1 to 3 per spec.md's
// MaxSubAgentDepth.
package specialist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/internal/approval"
	"github.com/agentcore/runtime/internal/backend"
	"github.com/agentcore/runtime/internal/conversation"
	"github.com/agentcore/runtime/internal/events"
	"github.com/agentcore/runtime/internal/orchestrator"
	"github.com/agentcore/runtime/internal/ports"
	"github.com/agentcore/runtime/internal/tools"
)

const (
	// MaxSubAgentDepth is the maximum recursion depth: depth 0 is the root
	// agent, and a SpecialistAgent call made at this depth or deeper is
	// refused, so depth 2 is the deepest a call may spawn from.
	MaxSubAgentDepth = 3

	// DefaultMaxIterations is the default tool-round budget for a
	// sub-agent that doesn't specify one.
	DefaultMaxIterations = 5

	// MaxAllowedIterations bounds a caller-specified iteration budget.
	MaxAllowedIterations = 20

	// DefaultTimeoutMs is the default wall-clock budget for one sub-agent
	// invocation (spec §4.5), enforced via context.WithTimeout.
	DefaultTimeoutMs = 3_000_000

	// ToolName is the name the SpecialistAgent tool is registered under.
	ToolName = "SpecialistAgent"
)

type ctxKey int

const (
	depthKey ctxKey = iota
	conversationKey
)

// WithDepth returns a context carrying the current sub-agent recursion
// depth, read back by ExecuteTask to enforce MaxSubAgentDepth.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey, depth)
}

// DepthFromContext returns the recursion depth carried by ctx, or 0 (root)
// if none was set.
func DepthFromContext(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey).(int)
	return depth
}

// WithConversationID returns a context carrying the conversation ID
// currently running, so a nested SpecialistAgent tool call can find the
// history to share (ShareContext) without threading it through every call
// site.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey, conversationID)
}

// ConversationIDFromContext returns the conversation ID carried by ctx, or
// "" if none was set.
func ConversationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey).(string)
	return id
}

// Manager spawns and runs sub-agents against a shared Tool Registry, Model
// Backend, and Tool Approval Protocol. One Manager is bound to a single
// conversation.Store, matching the teacher's single-session CLI scope.
type Manager struct {
	Backend  backend.Backend
	Registry *tools.Registry
	Approval *approval.Protocol
	Store    *conversation.Store
	Events   events.Sink

	MaxDepth              int
	DefaultMaxIterations  int
	MaxAllowedIterations  int
}

func (m *Manager) maxDepth() int {
	if m.MaxDepth > 0 {
		return m.MaxDepth
	}
	return MaxSubAgentDepth
}

// TaskOptions describes one sub-agent task.
type TaskOptions struct {
	AgentName     string
	SystemPrompt  string
	Prompt        string
	MaxIterations int
	ShareContext  bool
	ToolNames     []string

	// TimeoutMs bounds how long the sub-agent may run before it is
	// canceled and reported with status=timeout. Defaults to
	// DefaultTimeoutMs when zero.
	TimeoutMs int
}

// Result reports a sub-agent run's outcome.
type Result struct {
	Content string
	Usage   ports.Usage
}

// ExecuteTask runs opts as an isolated sub-agent turn: depth-checked,
// iteration-budgeted, and — if ShareContext is set — seeded with the
// calling conversation's history (read from ctx via WithConversationID).
// SubAgentStarted and SubAgentCompleted are emitted around the run, and
// every event the sub-agent's Orchestrator emits is forwarded to m.Events
// unchanged apart from a fresh agent ID tag (via events.Forwarder); no
// SubAgentToolCall or SubAgentToolResult events are produced.
func (m *Manager) ExecuteTask(ctx context.Context, opts TaskOptions) (Result, error) {
	depth := DepthFromContext(ctx)
	if depth >= m.maxDepth() {
		return Result{}, fmt.Errorf("delegation depth %d exceeds maximum %d", depth, m.maxDepth())
	}
	if opts.Prompt == "" {
		return Result{}, fmt.Errorf("prompt is required")
	}

	maxIter := m.DefaultMaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	allowed := m.MaxAllowedIterations
	if allowed <= 0 {
		allowed = MaxAllowedIterations
	}
	if opts.MaxIterations > 0 {
		if opts.MaxIterations > allowed {
			return Result{}, fmt.Errorf("max_iterations too large (max: %d)", allowed)
		}
		maxIter = opts.MaxIterations
	}

	var seedHistory []ports.Message
	if opts.ShareContext {
		if parentID := ConversationIDFromContext(ctx); parentID != "" {
			history, err := m.Store.History(ctx, parentID)
			if err != nil {
				return Result{}, fmt.Errorf("load parent history for shared context: %w", err)
			}
			seedHistory = history
		}
	}

	subConversationID := "sub-" + uuid.NewString()
	agentID := uuid.NewString()
	agentName := opts.AgentName
	if agentName == "" {
		agentName = "specialist"
	}

	if len(seedHistory) > 0 {
		if err := m.Store.ReplaceHistory(ctx, subConversationID, seedHistory); err != nil {
			return Result{}, fmt.Errorf("seed sub-agent history: %w", err)
		}
	}

	sink := events.NewForwarder(m.Events, agentID)
	sink.Emit(ports.AgentEvent{
		Type:           ports.EventSubAgentStarted,
		ConversationID: subConversationID,
		AgentID:        agentID,
		AgentName:      agentName,
	})

	cfg := ports.WithDefaults(ports.AgentConfig{
		ID:           agentID,
		SystemPrompt: systemPrompt(opts.SystemPrompt),
		EnabledTools: filterOutSelf(opts.ToolNames),
		// Sub-agents always run with requireToolApproval=false (spec §4.5):
		// there is no UI consuming a sub-agent's forwarded events to resolve
		// a pending approval, so it must resolve denylist/allowlist only.
		RequireToolApproval: false,
	})

	orch := &orchestrator.Orchestrator{
		Backend:       m.Backend,
		Registry:      m.Registry,
		Memory:        m.Store,
		Approval:      m.Approval,
		Events:        sink,
		Config:        cfg,
		MaxToolRounds: maxIter,
	}

	subCtx := WithDepth(ctx, depth+1)
	subCtx = WithConversationID(subCtx, subConversationID)

	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}
	subCtx, cancel := context.WithTimeout(subCtx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	start := time.Now()
	content, err := orch.Send(subCtx, subConversationID, ports.TextContent(opts.Prompt))
	if err != nil {
		status := string(ports.ToolStatusError)
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		sink.Emit(ports.AgentEvent{
			Type:           ports.EventSubAgentCompleted,
			ConversationID: subConversationID,
			AgentID:        agentID,
			Status:         status,
			Error:          err.Error(),
			TotalDuration:  time.Since(start).Milliseconds(),
		})
		if status == "timeout" {
			return Result{}, fmt.Errorf("sub-agent timed out after %dms: %w", timeoutMs, err)
		}
		return Result{}, fmt.Errorf("sub-agent failed: %w", err)
	}

	meta, err := m.Store.Metadata(ctx, subConversationID)
	if err != nil {
		return Result{}, fmt.Errorf("load sub-agent metadata: %w", err)
	}
	usage := ports.Usage{
		PromptTokens:     int(meta.TotalPromptTokens),
		CompletionTokens: int(meta.TotalCompletionTokens),
		TotalTokens:      int(meta.TotalPromptTokens + meta.TotalCompletionTokens),
	}

	sink.Emit(ports.AgentEvent{
		Type:           ports.EventSubAgentCompleted,
		ConversationID: subConversationID,
		AgentID:        agentID,
		Status:         string(ports.ToolStatusSuccess),
		ResultMessage:  content,
		Usage:          &usage,
		TotalDuration:  time.Since(start).Milliseconds(),
	})

	return Result{Content: content, Usage: usage}, nil
}

func filterOutSelf(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != ToolName {
			out = append(out, n)
		}
	}
	return out
}

func systemPrompt(extra string) string {
	base := "You are a focused sub-agent working on a specific task assigned by a parent agent.\n\n" +
		"Your role:\n" +
		"- Complete the assigned task efficiently\n" +
		"- Use the tools available to you as needed\n" +
		"- Provide a clear, concise final response summarizing what you accomplished\n" +
		"- You may not always be able to spawn further sub-agents — respect the recursion limit\n\n" +
		"You have a limited number of tool rounds - work efficiently."
	if extra == "" {
		return base
	}
	return base + "\n\n---\n\n" + extra
}
