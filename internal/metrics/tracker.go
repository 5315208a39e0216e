// Package metrics implements Session Metrics & Context-Window Auto-Summary
// (spec §4.7): tracking token usage against a context-window budget,
// rate-limited warnings as usage climbs, and triggering an automatic
// summarization pass once usage crosses a hard threshold.
//
// Grounded on haasonsaas-nexus's internal/agent.CompactionManager (usage
// percentage against a packed budget, per-session state, a flush callback
// triggered once a threshold is crossed). REDESIGNED per the Open Question
// in spec.md §4.7/§9: nexus's CompactionManager flushes durable facts to an
// external memory file and waits (with a timeout) for user confirmation
// before dropping history; this tracker instead replaces the conversation's
// history in place with a synchronously produced summary message the
// moment the hard threshold is crossed — no confirmation round-trip, no
// external file. See DESIGN.md for the decision record.
package metrics

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/agentcore/runtime/internal/conversation"
	"github.com/agentcore/runtime/internal/ports"
)

const (
	// WarnThreshold is the usage fraction (of MaxContextTokens) at which a
	// warning is logged.
	WarnThreshold = 0.85
	// AutoSummarizeThreshold is the usage fraction at which history is
	// replaced with a summary.
	AutoSummarizeThreshold = 0.95
	// WarnRateLimit is the minimum change in usage fraction between two
	// logged warnings for the same conversation — at most one warning per
	// 5 percentage points of movement.
	WarnRateLimit = 0.05
)

// Summarizer produces a single summary message standing in for an entire
// message history, used when AutoSummarizeThreshold is crossed.
type Summarizer interface {
	Summarize(ctx context.Context, history []ports.Message) (ports.Message, error)
}

// Tracker watches per-conversation token usage against a context window
// budget. One Tracker can be shared across every conversation an
// Orchestrator serves.
type Tracker struct {
	MaxContextTokens int
	Summarizer       Summarizer
	Store            *conversation.Store

	mu         sync.Mutex
	lastWarned map[string]float64
}

// NewTracker returns a Tracker watching store's conversations against
// maxContextTokens, summarizing via summarizer when the hard threshold is
// crossed.
func NewTracker(maxContextTokens int, store *conversation.Store, summarizer Summarizer) *Tracker {
	return &Tracker{
		MaxContextTokens: maxContextTokens,
		Summarizer:       summarizer,
		Store:            store,
		lastWarned:       make(map[string]float64),
	}
}

// Usage returns the running total-token fraction of the budget a
// conversation has consumed, from its tracked ConversationMetadata. This is
// a cumulative, session-wide figure — Observe uses the current call's
// prompt-token count instead, per spec §4.7.
func (t *Tracker) Usage(ctx context.Context, conversationID string) (float64, error) {
	if t.MaxContextTokens <= 0 {
		return 0, nil
	}
	meta, err := t.Store.Metadata(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	used := meta.TotalPromptTokens + meta.TotalCompletionTokens
	return float64(used) / float64(t.MaxContextTokens), nil
}

// Observe checks the usage fraction of the most recent completion call
// (usage.PromptTokens / MaxContextTokens — the size of what was actually
// sent to the model, not a running session total), logging a rate-limited
// warning past WarnThreshold and replacing the conversation's history with
// a summary past AutoSummarizeThreshold. It is a no-op if MaxContextTokens
// is unset.
func (t *Tracker) Observe(ctx context.Context, conversationID string, usage ports.Usage) error {
	if t.MaxContextTokens <= 0 {
		return nil
	}

	fraction := float64(usage.PromptTokens) / float64(t.MaxContextTokens)

	if fraction >= AutoSummarizeThreshold {
		return t.summarize(ctx, conversationID)
	}

	if fraction >= WarnThreshold {
		t.maybeWarn(conversationID, fraction)
	}
	return nil
}

func (t *Tracker) maybeWarn(conversationID string, fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen := t.lastWarned[conversationID]
	if seen && diff(fraction, last) < WarnRateLimit {
		return
	}
	t.lastWarned[conversationID] = fraction

	log.Warn().
		Str("conversation", conversationID).
		Float64("usageFraction", fraction).
		Msg("context window usage approaching limit")
}

func (t *Tracker) summarize(ctx context.Context, conversationID string) error {
	if t.Summarizer == nil {
		return fmt.Errorf("auto-summarize threshold crossed but no Summarizer configured")
	}

	history, err := t.Store.History(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load history to summarize: %w", err)
	}
	if len(history) == 0 {
		return nil
	}

	summary, err := t.Summarizer.Summarize(ctx, history)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if err := t.Store.ReplaceHistory(ctx, conversationID, []ports.Message{summary}); err != nil {
		return fmt.Errorf("replace history with summary: %w", err)
	}
	if err := t.Store.ResetUsageCounters(ctx, conversationID); err != nil {
		return fmt.Errorf("reset usage counters: %w", err)
	}

	t.mu.Lock()
	delete(t.lastWarned, conversationID)
	t.mu.Unlock()

	log.Info().
		Str("conversation", conversationID).
		Int("messagesDropped", len(history)).
		Msg("auto-summarized conversation history")
	return nil
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
