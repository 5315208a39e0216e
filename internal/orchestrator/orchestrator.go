// Package orchestrator implements the Orchestrator turn loop (spec §4.2):
// allocating a user message, building the model-facing context, running
// the tool-calling round loop with the Tool Approval Protocol spliced in
// before execution, and keeping Conversation Memory and the Event Channel
// in the append-then-emit order the spec requires.
//
// Grounded on the teacher's internal/llm.ProcessTurn turn loop — the
// same streamAndCollect / emitAssistant / executeToolCalls / recitation-
// injection shape, generalized from a single hardcoded provider call to
// the Model Backend Interface and from an MCP proxy call to the Tool
// Registry plus the Tool Approval Protocol.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentcore/runtime/internal/approval"
	"github.com/agentcore/runtime/internal/backend"
	"github.com/agentcore/runtime/internal/conversation"
	"github.com/agentcore/runtime/internal/events"
	"github.com/agentcore/runtime/internal/metrics"
	"github.com/agentcore/runtime/internal/ports"
	"github.com/agentcore/runtime/internal/reminders"
	"github.com/agentcore/runtime/internal/tools"
)

// HardIterationCap is an absolute safety backstop on tool-calling rounds,
// independent of any configured budget: a turn that hits this is assumed
// to be stuck and is aborted with an error rather than given a graceful
// summarizing call. Spec §4.2.6.
const HardIterationCap = 32

// DefaultMaxToolRounds is the configurable tool-round budget. Reaching it
// (but staying under HardIterationCap) triggers one final no-tools call
// asking the model to summarize progress, mirroring the teacher's
// ProcessTurn behavior — kept as a distinct, softer ceiling from
// HardIterationCap per spec.md's own MaxToolRounds concept. Because this
// default exceeds HardIterationCap, a turn running on it stops at the hard
// cap first; the final summarizing call only happens when MaxToolRounds is
// set below HardIterationCap.
const DefaultMaxToolRounds = 60

// Orchestrator runs turns for a single agent (root or sub-agent) against a
// Model Backend, a Tool Registry, Conversation Memory, and the Tool
// Approval Protocol, emitting AgentEvents as it goes.
type Orchestrator struct {
	Backend    backend.Backend
	Registry   *tools.Registry
	Memory     *conversation.Store
	Approval   *approval.Protocol
	Events     events.Sink
	Metrics    *metrics.Tracker
	Scratchpad reminders.PlanReader

	Config ports.AgentConfig

	// MaxToolRounds overrides DefaultMaxToolRounds when non-zero.
	MaxToolRounds int
}

func (o *Orchestrator) maxToolRounds() int {
	if o.MaxToolRounds > 0 {
		return o.MaxToolRounds
	}
	return DefaultMaxToolRounds
}

func (o *Orchestrator) emit(evt ports.AgentEvent) {
	if o.Events != nil {
		o.Events.Emit(evt)
	}
}

// Send processes one user turn to completion: it appends the user message,
// runs the tool-calling loop until the model replies with no further tool
// calls (or a ceiling is hit), and returns the final assistant text.
func (o *Orchestrator) Send(ctx context.Context, conversationID string, userContent ports.Content) (string, error) {
	userMsg := ports.Message{
		ID:        uuid.NewString(),
		Role:      ports.RoleUser,
		Content:   userContent,
		Timestamp: time.Now(),
	}
	if err := o.Memory.Append(ctx, conversationID, userMsg, nil); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	// One messageId is allocated per turn (spec §4.2 step 1) and stamped on
	// whichever assistant message ultimately closes the turn, so a consumer
	// can correlate MessageStarted with the AssistantMessage/Done it opened.
	turnMessageID := uuid.NewString()

	toolNames := make([]string, 0)
	for _, d := range o.Registry.Definitions(o.Config.EnabledTools) {
		toolNames = append(toolNames, d.Name)
	}
	o.emit(ports.AgentEvent{
		Type:           ports.EventMessageStarted,
		ConversationID: conversationID,
		MessageID:      turnMessageID,
		UserContent:    userContent.String(),
		ToolNames:      toolNames,
	})

	start := time.Now()
	final, lastUsage, err := o.runToolLoop(ctx, conversationID, turnMessageID)
	if err != nil {
		o.emit(ports.AgentEvent{Type: ports.EventError, ConversationID: conversationID, Error: err.Error()})
		return "", err
	}

	o.emit(ports.AgentEvent{
		Type:           ports.EventDone,
		ConversationID: conversationID,
		MessageID:      turnMessageID,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Usage:          &lastUsage,
	})
	return final, nil
}

func (o *Orchestrator) runToolLoop(ctx context.Context, conversationID, turnMessageID string) (string, ports.Usage, error) {
	var recent []reminders.RecentCall

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return "", ports.Usage{}, fmt.Errorf("turn canceled: %w", err)
		}
		if round >= HardIterationCap {
			return "", ports.Usage{}, fmt.Errorf("tool loop aborted: exceeded hard iteration cap (%d)", HardIterationCap)
		}
		if round >= o.maxToolRounds() {
			return o.finalizeOnRoundBudgetExhausted(ctx, conversationID, turnMessageID)
		}

		history, err := o.Memory.History(ctx, conversationID)
		if err != nil {
			return "", ports.Usage{}, fmt.Errorf("load history: %w", err)
		}
		if enhanced := reminders.Enhance(history, o.Scratchpad, round); enhanced != "" {
			// Enhance mutated history in place (the tail tool message); persist
			// it back so the reminder survives into the next round's read.
			if err := o.Memory.ReplaceHistory(ctx, conversationID, history); err != nil {
				return "", ports.Usage{}, fmt.Errorf("persist reminder: %w", err)
			}
		}

		resp, err := o.callModel(ctx, conversationID, history)
		if err != nil {
			return "", ports.Usage{}, err
		}

		// Only the message that closes the turn (no further tool calls, or
		// the all-denied short-circuit below) is stamped with turnMessageID;
		// an intermediate tool-calling round gets its own message identity.
		assistantID := uuid.NewString()
		if len(resp.ToolCalls) == 0 {
			assistantID = turnMessageID
		}
		assistantMsg := ports.Message{
			ID:        assistantID,
			Role:      ports.RoleAssistant,
			Content:   ports.TextContent(resp.Content),
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
			Timestamp: time.Now(),
		}
		if err := o.Memory.Append(ctx, conversationID, assistantMsg, &resp.Usage); err != nil {
			return "", ports.Usage{}, fmt.Errorf("append assistant message: %w", err)
		}
		o.emit(ports.AgentEvent{
			Type:           ports.EventMemoryAppended,
			ConversationID: conversationID,
			MemoryDelta:    []ports.Message{assistantMsg},
		})

		if err := o.checkAutoSummary(ctx, conversationID, resp.Usage); err != nil {
			log.Warn().Err(err).Str("conversation", conversationID).Msg("auto-summary check failed")
		}

		if len(resp.ToolCalls) == 0 {
			o.emit(ports.AgentEvent{
				Type:           ports.EventAssistantMessage,
				ConversationID: conversationID,
				MessageID:      assistantMsg.ID,
				Content:        resp.Content,
				Usage:          &resp.Usage,
			})
			return resp.Content, resp.Usage, nil
		}

		o.emit(ports.AgentEvent{
			Type:           ports.EventToolCalls,
			ConversationID: conversationID,
			MessageID:      assistantMsg.ID,
			ToolCalls:      resp.ToolCalls,
		})

		results, err := o.runToolCalls(ctx, conversationID, resp.ToolCalls)
		if err != nil {
			return "", ports.Usage{}, err
		}

		// Spec §4.2(d): if every call in the round was denied, the turn ends
		// here with a denial message rather than feeding the results back
		// for another model round.
		if allDenied(results) {
			denialContent := denialSummary(results)
			denialMsg := ports.Message{
				ID:        turnMessageID,
				Role:      ports.RoleAssistant,
				Content:   ports.TextContent(denialContent),
				Timestamp: time.Now(),
			}
			if err := o.Memory.Append(ctx, conversationID, denialMsg, nil); err != nil {
				return "", ports.Usage{}, fmt.Errorf("append denial message: %w", err)
			}
			o.emit(ports.AgentEvent{
				Type:           ports.EventAssistantMessage,
				ConversationID: conversationID,
				MessageID:      denialMsg.ID,
				Content:        denialContent,
			})
			return denialContent, resp.Usage, nil
		}

		for _, tc := range resp.ToolCalls {
			recent = append(recent, reminders.RecentCall{Name: tc.Name, Arguments: tc.Arguments})
		}
		if reminders.IsRepeating(recent) && len(results) > 0 {
			last := len(results) - 1
			results[last].Result += reminders.RepeatedCallWarning
		}
	}
}

// allDenied reports whether every result in a round was a denial by the Tool
// Approval Protocol, rather than a mix of executed and denied calls.
func allDenied(results []ports.ToolExecutionResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Metadata == nil || r.Metadata.ErrorReason != ports.ErrorDenied {
			return false
		}
	}
	return true
}

func denialSummary(results []ports.ToolExecutionResult) string {
	var b strings.Builder
	b.WriteString("All requested tool calls were denied:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s\n", r.Name, r.Result)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) callModel(ctx context.Context, conversationID string, history []ports.Message) (backend.CompletionResponse, error) {
	req := backend.CompletionRequest{
		Messages: history,
		Tools:    toBackendTools(o.Registry.Definitions(o.Config.EnabledTools)),
		Config:   o.Config,
	}

	stream, err := o.Backend.StreamCompletion(ctx, req)
	if err != nil {
		return backend.CompletionResponse{}, fmt.Errorf("stream completion: %w", err)
	}

	resp, err := backend.Collect(ctx, stream, func(evt backend.StreamEvent) {
		switch evt.Type {
		case backend.StreamContentDelta:
			o.emit(ports.AgentEvent{Type: ports.EventAssistantChunk, ConversationID: conversationID, Delta: evt.Content})
		case backend.StreamReasoningDelta:
			o.emit(ports.AgentEvent{Type: ports.EventReasoningChunk, ConversationID: conversationID, Delta: evt.Content})
		}
	})
	if err != nil {
		return backend.CompletionResponse{}, fmt.Errorf("LLM stream failed: %w", err)
	}
	o.emit(ports.AgentEvent{
		Type:           ports.EventStreamFinish,
		ConversationID: conversationID,
		FinishReason:   resp.FinishReason,
		Usage:          &resp.Usage,
	})
	return resp, nil
}

// finalizeOnRoundBudgetExhausted makes one final no-tools call asking the
// model to summarize progress, the same graceful degrade the teacher's
// ProcessTurn performs when MaxToolRounds is reached without HardIterationCap
// having fired first.
func (o *Orchestrator) finalizeOnRoundBudgetExhausted(ctx context.Context, conversationID, turnMessageID string) (string, ports.Usage, error) {
	limitMsg := ports.Message{
		ID:   uuid.NewString(),
		Role: ports.RoleUser,
		Content: ports.TextContent(
			"You have exhausted your tool call budget for this turn. Respond in text only. " +
				"Summarize what you accomplished and what remains."),
		Timestamp: time.Now(),
	}
	if err := o.Memory.Append(ctx, conversationID, limitMsg, nil); err != nil {
		return "", ports.Usage{}, fmt.Errorf("append budget-exhausted message: %w", err)
	}

	history, err := o.Memory.History(ctx, conversationID)
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("load history: %w", err)
	}

	req := backend.CompletionRequest{Messages: history, Config: o.Config}
	stream, err := o.Backend.StreamCompletion(ctx, req)
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("final summarizing stream: %w", err)
	}
	resp, err := backend.Collect(ctx, stream, nil)
	if err != nil {
		return "", ports.Usage{}, fmt.Errorf("final summarizing collect: %w", err)
	}

	finalMsg := ports.Message{
		ID:        turnMessageID,
		Role:      ports.RoleAssistant,
		Content:   ports.TextContent(resp.Content),
		Timestamp: time.Now(),
	}
	if err := o.Memory.Append(ctx, conversationID, finalMsg, &resp.Usage); err != nil {
		return "", ports.Usage{}, fmt.Errorf("append final message: %w", err)
	}
	o.emit(ports.AgentEvent{
		Type:           ports.EventAssistantMessage,
		ConversationID: conversationID,
		MessageID:      finalMsg.ID,
		Content:        resp.Content,
		Usage:          &resp.Usage,
	})
	return resp.Content, resp.Usage, nil
}

func toBackendTools(defs []tools.Definition) []backend.ToolSpec {
	out := make([]backend.ToolSpec, len(defs))
	for i, d := range defs {
		out[i] = backend.ToolSpec{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}
	return out
}
