// Package conversation layers ConversationMetadata bookkeeping on top of the
// Memory Store: message counts, timestamps, and running token/cost totals
// per conversation key. Grounded on the teacher's internal/store/session.go,
// which paired a sessions table (title, created, updated) with a messages
// table — generalized here so the metadata lives beside, rather than in a
// second SQL table, whatever Store the caller chose.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/ports"
)

const metadataKeyPrefix = "__meta__:"

// Store wraps a memory.Store, additionally tracking ConversationMetadata
// per conversation key. Metadata is itself persisted through the same
// memory.Store, under a reserved key namespace, so a single backing store
// (in-memory or SQLite) is enough to recover both messages and metadata.
type Store struct {
	messages memory.Store
	meta     memory.Store
}

// New wraps messages (the message log) and meta (where ConversationMetadata
// is kept). Callers may pass the same memory.Store for both, or separate
// stores if metadata should live somewhere else.
func New(messages, meta memory.Store) *Store {
	return &Store{messages: messages, meta: meta}
}

func metaKey(conversationID string) string {
	return metadataKeyPrefix + conversationID
}

// History returns the full message log for a conversation.
func (s *Store) History(ctx context.Context, conversationID string) ([]ports.Message, error) {
	return s.messages.Get(ctx, conversationID)
}

// Metadata returns the tracked metadata for a conversation, or a freshly
// initialized zero value if none exists yet.
func (s *Store) Metadata(ctx context.Context, conversationID string) (ports.ConversationMetadata, error) {
	raw, err := s.meta.Get(ctx, metaKey(conversationID))
	if err != nil {
		return ports.ConversationMetadata{}, err
	}
	if len(raw) == 0 {
		now := time.Now()
		return ports.ConversationMetadata{CreatedAt: now, UpdatedAt: now}, nil
	}
	return decodeMetadata(raw[0])
}

// Append adds msg to the conversation's history and updates its metadata
// (message count, updated timestamp, running token totals). This is the
// only write path that keeps the two in lock-step; callers must never
// write directly to the underlying memory.Store for a conversation managed
// through this type.
func (s *Store) Append(ctx context.Context, conversationID string, msg ports.Message, usage *ports.Usage) error {
	if err := s.messages.Append(ctx, conversationID, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	meta, err := s.Metadata(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	meta.MessageCount++
	meta.UpdatedAt = time.Now()
	if usage != nil {
		meta.TotalPromptTokens += int64(usage.PromptTokens)
		meta.TotalCompletionTokens += int64(usage.CompletionTokens)
	}
	return s.putMetadata(ctx, conversationID, meta)
}

// ReplaceHistory overwrites a conversation's entire message log — the
// history-replacement path auto-summary uses (see internal/metrics) — and
// stamps SummarizedFrom onto the metadata so the boundary stays visible.
func (s *Store) ReplaceHistory(ctx context.Context, conversationID string, messages []ports.Message) error {
	if err := s.messages.Set(ctx, conversationID, messages); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	meta, err := s.Metadata(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	meta.MessageCount = len(messages)
	meta.UpdatedAt = time.Now()
	meta.SummarizedFrom = conversationID
	return s.putMetadata(ctx, conversationID, meta)
}

// ResetUsageCounters zeroes a conversation's running prompt/completion token
// totals, called after an auto-summary replaces the history those totals
// were measuring (spec §4.7: "after either action, reset the metrics
// counters for the session").
func (s *Store) ResetUsageCounters(ctx context.Context, conversationID string) error {
	meta, err := s.Metadata(ctx, conversationID)
	if err != nil {
		return err
	}
	meta.TotalPromptTokens = 0
	meta.TotalCompletionTokens = 0
	return s.putMetadata(ctx, conversationID, meta)
}

// SetCost adds deltaUSD to a conversation's running estimated cost.
func (s *Store) SetCost(ctx context.Context, conversationID string, deltaUSD float64) error {
	meta, err := s.Metadata(ctx, conversationID)
	if err != nil {
		return err
	}
	meta.EstimatedCostUSD += deltaUSD
	return s.putMetadata(ctx, conversationID, meta)
}

// SetTopic records a human-readable topic label for a conversation.
func (s *Store) SetTopic(ctx context.Context, conversationID, topic string) error {
	meta, err := s.Metadata(ctx, conversationID)
	if err != nil {
		return err
	}
	meta.Topic = topic
	return s.putMetadata(ctx, conversationID, meta)
}

// Delete removes a conversation's history and metadata.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if err := s.messages.Delete(ctx, conversationID); err != nil {
		return err
	}
	return s.meta.Delete(ctx, metaKey(conversationID))
}

// List returns every conversation ID with tracked metadata.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.meta.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if id, ok := stripMetaPrefix(k); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func stripMetaPrefix(key string) (string, bool) {
	if len(key) <= len(metadataKeyPrefix) || key[:len(metadataKeyPrefix)] != metadataKeyPrefix {
		return "", false
	}
	return key[len(metadataKeyPrefix):], true
}

func (s *Store) putMetadata(ctx context.Context, conversationID string, meta ports.ConversationMetadata) error {
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.meta.Set(ctx, metaKey(conversationID), []ports.Message{encoded})
}
