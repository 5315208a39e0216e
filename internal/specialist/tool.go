package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentcore/runtime/internal/ports"
	"github.com/agentcore/runtime/internal/tools"
)

// taskArgs is the JSON shape of a SpecialistAgent tool call, grounded on
// the teacher's SubAgentArgs (internal/mcptools/subagent.go).
type taskArgs struct {
	Prompt        string `json:"prompt"`
	AgentName     string `json:"agent_name,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	ShareContext  bool   `json:"share_context,omitempty"`
	TimeoutMs     int    `json:"timeout_ms,omitempty"`
}

const toolSchema = `{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "description": "Task description for the sub-agent. Be specific about what needs to be accomplished and the expected output format."},
		"agent_name": {"type": "string", "description": "A short label for the sub-agent, surfaced in SubAgent* events."},
		"max_iterations": {"type": "integer", "description": "Maximum tool rounds for the sub-agent (default: 5)."},
		"share_context": {"type": "boolean", "description": "Seed the sub-agent's history with the calling conversation's messages so far."},
		"timeout_ms": {"type": "integer", "description": "Wall-clock budget for the sub-agent in milliseconds (default: 3000000)."}
	},
	"required": ["prompt"]
}`

// Definition returns the Tool Registry definition for the SpecialistAgent
// tool. It requires approval like any other non-bypass tool, since it can
// trigger arbitrary further tool calls on the caller's behalf.
func Definition() tools.Definition {
	return tools.Definition{
		Name: ToolName,
		Description: "Spawn a focused sub-agent to handle a specific task. The sub-agent shares " +
			"the same tool roster, SpecialistAgent included, but runs in its own conversation; a " +
			"SpecialistAgent call made past the recursion limit fails with an error. Use this to decompose complex tasks into smaller, " +
			"independently-managed pieces.",
		InputSchema: json.RawMessage(toolSchema),
		Bypass:      false,
	}
}

// RegisterTool wires the SpecialistAgent tool into m.Registry.
func RegisterTool(m *Manager) error {
	return m.Registry.Register(Definition(), handler(m))
}

func handler(m *Manager) tools.Handler {
	return func(ctx context.Context, call ports.ToolCall) (ports.ToolExecutionResult, error) {
		start := time.Now()

		var args taskArgs
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return toolError(call, ports.ErrorInvalidInput, fmt.Sprintf("invalid arguments: %v", err), start), nil
		}
		if args.Prompt == "" {
			return toolError(call, ports.ErrorInvalidInput, "prompt is required", start), nil
		}

		result, err := m.ExecuteTask(ctx, TaskOptions{
			AgentName:     args.AgentName,
			Prompt:        args.Prompt,
			MaxIterations: args.MaxIterations,
			ShareContext:  args.ShareContext,
			TimeoutMs:     args.TimeoutMs,
		})
		if err != nil {
			reason := ports.ErrorUnknown
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				reason = ports.ErrorTimeout
			case ctx.Err() != nil:
				reason = ports.ErrorAborted
			}
			return toolError(call, reason, err.Error(), start), nil
		}

		summary := fmt.Sprintf("Sub-agent completed.\n\n%s\n\n---\nToken usage: %d in, %d out",
			result.Content, result.Usage.PromptTokens, result.Usage.CompletionTokens)

		return ports.ToolExecutionResult{
			ID:         call.ID,
			Name:       call.Name,
			Status:     ports.ToolStatusSuccess,
			Type:       ports.ResultText,
			Result:     summary,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}
}

func toolError(call ports.ToolCall, reason ports.ErrorReason, message string, start time.Time) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{
		ID:         call.ID,
		Name:       call.Name,
		Status:     ports.ToolStatusError,
		Type:       ports.ResultText,
		Result:     message,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   &ports.ResultMetadata{ErrorReason: reason},
	}
}
