package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentcore/runtime/internal/backend"
	"github.com/agentcore/runtime/internal/ports"
)

// checkAutoSummary reports the turn's latest usage to o.Metrics, which may
// log a rate-limited warning or replace the conversation's history with a
// summary if the hard threshold has been crossed. It is a no-op if o.Metrics
// is nil (auto-summary is opt-in — a caller with no MaxContextTokens budget
// configured simply never constructs a Tracker).
func (o *Orchestrator) checkAutoSummary(ctx context.Context, conversationID string, usage ports.Usage) error {
	if o.Metrics == nil {
		return nil
	}
	return o.Metrics.Observe(ctx, conversationID, usage)
}

// backendSummarizer adapts a Model Backend into a metrics.Summarizer by
// asking it, with no tools in scope, to produce a compact summary of a
// message history — the same role the teacher's compaction prompt plays in
// internal/agent/compaction.go, generalized from a fact-extraction prompt
// to an arbitrary Backend.
type backendSummarizer struct {
	Backend backend.Backend
	Config  ports.AgentConfig
}

const summarizePrompt = "Summarize the conversation above in a few paragraphs, preserving " +
	"any decisions made, open questions, file paths, and in-progress work. This summary will " +
	"replace the full history, so include everything needed to continue the task."

func (s backendSummarizer) Summarize(ctx context.Context, history []ports.Message) (ports.Message, error) {
	req := backend.CompletionRequest{
		Messages: append(append([]ports.Message{}, history...), ports.Message{
			Role:    ports.RoleUser,
			Content: ports.TextContent(summarizePrompt),
		}),
		Config: s.Config,
	}

	stream, err := s.Backend.StreamCompletion(ctx, req)
	if err != nil {
		return ports.Message{}, fmt.Errorf("summarize stream: %w", err)
	}
	resp, err := backend.Collect(ctx, stream, nil)
	if err != nil {
		return ports.Message{}, fmt.Errorf("summarize collect: %w", err)
	}

	var b strings.Builder
	b.WriteString("Summary of prior conversation (history was compacted to stay within the context window):\n\n")
	b.WriteString(resp.Content)

	return ports.Message{
		Role:    ports.RoleSystem,
		Content: ports.TextContent(b.String()),
	}, nil
}
