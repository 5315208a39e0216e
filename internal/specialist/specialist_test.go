package specialist

import (
	"context"
	"testing"

	"github.com/agentcore/runtime/internal/approval"
	"github.com/agentcore/runtime/internal/backend"
	"github.com/agentcore/runtime/internal/conversation"
	"github.com/agentcore/runtime/internal/events"
	"github.com/agentcore/runtime/internal/memory"
	"github.com/agentcore/runtime/internal/ports"
	"github.com/agentcore/runtime/internal/tools"
)

func doneResponse(content string) backend.MockResponse {
	return backend.MockResponse{Events: []backend.StreamEvent{
		{Type: backend.StreamContentDelta, Content: content},
		{Type: backend.StreamDone},
	}}
}

func newTestManager(t *testing.T, responses ...backend.MockResponse) (*Manager, *events.Collector) {
	t.Helper()
	store := conversation.New(memory.NewInMemory(), memory.NewInMemory())
	registry := tools.NewRegistry()
	collector := events.NewCollector()

	return &Manager{
		Backend:  backend.NewMock("mock", responses...),
		Registry: registry,
		Approval: approval.New(&approval.Policy{DefaultDecision: approval.DecisionAllowed}),
		Store:    store,
		Events:   collector,
	}, collector
}

func TestExecuteTask_ReturnsFinalContent(t *testing.T) {
	m, collector := newTestManager(t, doneResponse("task complete"))

	result, err := m.ExecuteTask(context.Background(), TaskOptions{Prompt: "do the thing"})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if result.Content != "task complete" {
		t.Fatalf("got %q", result.Content)
	}

	var sawStart, sawDone bool
	for _, evt := range collector.All() {
		if evt.AgentID == "" {
			t.Fatal("expected every forwarded event to carry an agentID")
		}
		switch evt.Type {
		case ports.EventSubAgentStarted:
			sawStart = true
		case ports.EventSubAgentCompleted:
			sawDone = true
		}
	}
	if !sawStart || !sawDone {
		t.Fatalf("expected SubAgentStarted and SubAgentCompleted events, got %+v", collector.All())
	}
}

func TestExecuteTask_RejectsEmptyPrompt(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.ExecuteTask(context.Background(), TaskOptions{}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestExecuteTask_EnforcesMaxDepth(t *testing.T) {
	m, _ := newTestManager(t, doneResponse("ok"))
	m.MaxDepth = 2

	ctx := WithDepth(context.Background(), 2)
	if _, err := m.ExecuteTask(ctx, TaskOptions{Prompt: "go"}); err == nil {
		t.Fatal("expected depth-exceeded error")
	}
}

func TestExecuteTask_RejectsExcessiveIterations(t *testing.T) {
	m, _ := newTestManager(t, doneResponse("ok"))
	m.MaxAllowedIterations = 5

	if _, err := m.ExecuteTask(context.Background(), TaskOptions{Prompt: "go", MaxIterations: 100}); err == nil {
		t.Fatal("expected error for excessive max_iterations")
	}
}

func TestExecuteTask_ShareContextSeedsHistory(t *testing.T) {
	m, _ := newTestManager(t, doneResponse("ok"))

	parentID := "parent-conv"
	if err := m.Store.Append(context.Background(), parentID, ports.Message{
		Role:    ports.RoleUser,
		Content: ports.TextContent("earlier context"),
	}, nil); err != nil {
		t.Fatalf("seed parent history: %v", err)
	}

	ctx := WithConversationID(context.Background(), parentID)
	if _, err := m.ExecuteTask(ctx, TaskOptions{Prompt: "continue", ShareContext: true}); err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}

	convs, err := m.Store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var found bool
	for _, id := range convs {
		if id == parentID {
			continue
		}
		history, err := m.Store.History(context.Background(), id)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		for _, msg := range history {
			if msg.Content.String() == "earlier context" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected sub-agent history to be seeded with parent's earlier context")
	}
}

func TestRegisterTool_ExposesSpecialistAgent(t *testing.T) {
	m, _ := newTestManager(t, doneResponse("done"))
	if err := RegisterTool(m); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	defs := m.Registry.Definitions([]string{ToolName})
	if len(defs) != 1 || defs[0].Name != ToolName {
		t.Fatalf("expected SpecialistAgent registered, got %+v", defs)
	}
}

func TestToolHandler_InvokesExecuteTask(t *testing.T) {
	m, _ := newTestManager(t, doneResponse("child result"))
	if err := RegisterTool(m); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	result := m.Registry.Execute(context.Background(), ports.ToolCall{
		ID:        "call-1",
		Name:      ToolName,
		Arguments: `{"prompt": "handle this"}`,
	})
	if result.Status != ports.ToolStatusSuccess {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestToolHandler_RejectsMissingPrompt(t *testing.T) {
	m, _ := newTestManager(t)
	if err := RegisterTool(m); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	result := m.Registry.Execute(context.Background(), ports.ToolCall{
		ID:        "call-1",
		Name:      ToolName,
		Arguments: `{}`,
	})
	if result.Status != ports.ToolStatusError || result.Metadata.ErrorReason != ports.ErrorInvalidInput {
		t.Fatalf("expected InvalidInput error, got %+v", result)
	}
}
