package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/runtime/internal/approval"
	"github.com/agentcore/runtime/internal/ports"
	"github.com/agentcore/runtime/internal/tools"
)

// runToolCalls executes toolCalls, splicing the Tool Approval Protocol in
// before any non-bypass call: each call is classified, bypass or
// already-allowed calls are queued without asking, and anything pending
// blocks on an approval event until the caller resolves it (or ctx is
// canceled). Nothing runs until every pending call in the round has been
// settled; then all approved calls, bypass ones included, are executed
// together as a single bounded-concurrency batch via tools.ExecuteBatch.
// Bypass calls are therefore not started ahead of the approval wait.
func (o *Orchestrator) runToolCalls(ctx context.Context, conversationID string, calls []ports.ToolCall) ([]ports.ToolExecutionResult, error) {
	approved := make([]ports.ToolCall, 0, len(calls))
	results := make([]ports.ToolExecutionResult, len(calls))
	approvedIdx := make([]int, 0, len(calls))

	for i, call := range calls {
		if o.Registry.IsBypass(call.Name) {
			approved = append(approved, call)
			approvedIdx = append(approvedIdx, i)
			continue
		}

		decision, reason := o.Approval.Classify(call)

		// requireToolApproval=false (root config override, or a sub-agent per
		// spec §4.5, which always runs this way) still honors an explicit
		// denylist hit, but never blocks on an approval round-trip for the
		// pending case — there is no UI consuming this agent's Event Channel
		// to resolve it.
		if !o.Config.RequireToolApproval {
			if decision == approval.DecisionDenied {
				results[i] = deniedResult(call, reason)
				continue
			}
			approved = append(approved, call)
			approvedIdx = append(approvedIdx, i)
			continue
		}

		switch decision {
		case approval.DecisionDenied:
			results[i] = deniedResult(call, reason)
			continue
		case approval.DecisionAllowed:
			approved = append(approved, call)
			approvedIdx = append(approvedIdx, i)
			continue
		}

		approvalID := uuid.NewString()
		o.emit(ports.AgentEvent{
			Type:           ports.EventToolApprovalRequired,
			ConversationID: conversationID,
			ApprovalID:     approvalID,
			ToolCalls:      []ports.ToolCall{call},
		})

		decided, err := o.Approval.RequestApproval(ctx, approvalID)
		if err != nil {
			return nil, fmt.Errorf("tool approval: %w", err)
		}
		if decided != approval.DecisionAllowed {
			results[i] = deniedResult(call, "denied by approval decision")
			continue
		}
		approved = append(approved, call)
		approvedIdx = append(approvedIdx, i)
	}

	if len(approved) > 0 {
		batch := tools.ExecuteBatch(ctx, o.Registry, approved, o.Config.MaxToolConcurrency)
		for j, idx := range approvedIdx {
			results[idx] = batch[j]
		}
	}

	toolMsgs := make([]ports.Message, 0, len(results))
	for i, result := range results {
		msg := ports.Message{
			ID:         uuid.NewString(),
			Role:       ports.RoleTool,
			Content:    ports.TextContent(result.Result),
			ToolCallID: calls[i].ID,
			Name:       result.Name,
			Status:     result.Status,
			DurationMs: result.DurationMs,
			Metadata:   result.Metadata,
			Timestamp:  time.Now(),
		}
		if err := o.Memory.Append(ctx, conversationID, msg, nil); err != nil {
			return nil, fmt.Errorf("append tool result: %w", err)
		}
		toolMsgs = append(toolMsgs, msg)
		o.emit(ports.AgentEvent{
			Type:           ports.EventToolResult,
			ConversationID: conversationID,
			Result:         &results[i],
		})
	}
	o.emit(ports.AgentEvent{
		Type:           ports.EventMemoryAppended,
		ConversationID: conversationID,
		MemoryDelta:    toolMsgs,
	})

	return results, nil
}

func deniedResult(call ports.ToolCall, reason string) ports.ToolExecutionResult {
	return ports.ToolExecutionResult{
		ID:       call.ID,
		Name:     call.Name,
		Status:   ports.ToolStatusError,
		Type:     ports.ResultText,
		Result:   "tool call denied: " + reason,
		Metadata: &ports.ResultMetadata{ErrorReason: ports.ErrorDenied},
	}
}
