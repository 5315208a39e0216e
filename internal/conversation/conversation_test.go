package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/ports"
)

func newTestStore() *Store {
	return New(memory.NewInMemory(), memory.NewInMemory())
}

func userMsg(id, text string) ports.Message {
	return ports.Message{ID: id, Role: ports.RoleUser, Content: ports.TextContent(text), Timestamp: time.Now()}
}

func TestStore_AppendUpdatesMetadata(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if err := s.Append(ctx, "c1", userMsg("1", "hi"), &ports.Usage{PromptTokens: 10, CompletionTokens: 5}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "c1", userMsg("2", "again"), &ports.Usage{PromptTokens: 20, CompletionTokens: 8}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	meta, err := s.Metadata(ctx, "c1")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", meta.MessageCount)
	}
	if meta.TotalPromptTokens != 30 {
		t.Errorf("TotalPromptTokens = %d, want 30", meta.TotalPromptTokens)
	}
	if meta.TotalCompletionTokens != 13 {
		t.Errorf("TotalCompletionTokens = %d, want 13", meta.TotalCompletionTokens)
	}

	hist, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("History length = %d, want 2", len(hist))
	}
}

func TestStore_ReplaceHistoryStampsSummarizedFrom(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Append(ctx, "c1", userMsg("1", "a"), nil)
	s.Append(ctx, "c1", userMsg("2", "b"), nil)

	summary := []ports.Message{
		{ID: "s1", Role: ports.RoleSystem, Content: ports.TextContent("summary of prior turns"), Timestamp: time.Now()},
	}
	if err := s.ReplaceHistory(ctx, "c1", summary); err != nil {
		t.Fatalf("ReplaceHistory: %v", err)
	}

	hist, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != "s1" {
		t.Fatalf("expected history replaced with summary, got %+v", hist)
	}

	meta, err := s.Metadata(ctx, "c1")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", meta.MessageCount)
	}
	if meta.SummarizedFrom != "c1" {
		t.Errorf("SummarizedFrom = %q, want %q", meta.SummarizedFrom, "c1")
	}
}

func TestStore_SetCostAccumulates(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.SetCost(ctx, "c1", 0.01)
	s.SetCost(ctx, "c1", 0.02)

	meta, err := s.Metadata(ctx, "c1")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if diff := meta.EstimatedCostUSD - 0.03; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("EstimatedCostUSD = %f, want 0.03", meta.EstimatedCostUSD)
	}
}

func TestStore_DeleteRemovesHistoryAndMetadata(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Append(ctx, "c1", userMsg("1", "a"), nil)
	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	hist, _ := s.History(ctx, "c1")
	if len(hist) != 0 {
		t.Errorf("expected empty history after delete, got %d", len(hist))
	}
	meta, err := s.Metadata(ctx, "c1")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.MessageCount != 0 {
		t.Errorf("expected fresh zero-value metadata after delete, got %+v", meta)
	}
}

func TestStore_ListReturnsTrackedConversations(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Append(ctx, "c1", userMsg("1", "a"), nil)
	s.Append(ctx, "c2", userMsg("1", "b"), nil)

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d conversations, want 2: %v", len(ids), ids)
	}
}

func TestStore_MetadataDefaultsWhenAbsent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	meta, err := s.Metadata(ctx, "never-touched")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.MessageCount != 0 {
		t.Errorf("expected zero-value metadata, got %+v", meta)
	}
	if meta.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be initialized")
	}
}
