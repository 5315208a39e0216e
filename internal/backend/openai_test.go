package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/runtime/internal/ports"
)

func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			if ok {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		if ok {
			flusher.Flush()
		}
	}))
}

func TestStreamCompletion_EmitsContentDeltasAndUsage(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2}}`,
	})
	defer srv.Close()

	b := NewOpenAICompatible("test", srv.URL, "test-model", 0.5)
	resp, err := b.GenerateCompletion(context.Background(), CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: ports.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if resp.Content != "Hello" {
		t.Fatalf("got content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Fatalf("got usage %+v", resp.Usage)
	}
}

func TestStreamCompletion_AssemblesToolCallFragments(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"lookup","arguments":""}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"x\"}"}}]}}]}`,
	})
	defer srv.Close()

	b := NewOpenAICompatible("test", srv.URL, "test-model", 0)
	resp, err := b.GenerateCompletion(context.Background(), CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: ports.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one assembled tool call, got %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "lookup" {
		t.Fatalf("got tool call %+v", tc)
	}
	if tc.Arguments != `{"q":"x"}` {
		t.Fatalf("got assembled arguments %q", tc.Arguments)
	}
}

func TestStreamCompletion_PropagatesReasoningDelta(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"reasoning":"thinking..."}}]}`,
		`{"choices":[{"delta":{"content":"answer"}}]}`,
	})
	defer srv.Close()

	b := NewOpenAICompatible("test", srv.URL, "test-model", 0)
	resp, err := b.GenerateCompletion(context.Background(), CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: ports.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if resp.Reasoning != "thinking..." || resp.Content != "answer" {
		t.Fatalf("got %+v", resp)
	}
}

func TestStreamCompletion_NonTransientErrorStatusFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad request")
	}))
	defer srv.Close()

	b := NewOpenAICompatible("test", srv.URL, "test-model", 0)
	start := time.Now()
	_, err := b.StreamCompletion(context.Background(), CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: ports.TextContent("hi")}},
	})
	if err == nil {
		t.Fatal("expected error for 400 status")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("expected fatal status to fail without retry backoff")
	}
}

func TestStreamCompletion_TransientStatusRetriesThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewOpenAICompatible("test", srv.URL, "test-model", 0)
	orig := sseRetryDelays
	sseRetryDelays = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}
	defer func() { sseRetryDelays = orig }()

	_, err := b.StreamCompletion(context.Background(), CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: ports.TextContent("hi")}},
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", calls)
	}
}

func TestMergeConsecutiveSystemMessages(t *testing.T) {
	in := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "first"},
		{Role: openai.ChatMessageRoleSystem, Content: "second"},
		{Role: openai.ChatMessageRoleUser, Content: "hi"},
		{Role: openai.ChatMessageRoleSystem, Content: "third"},
	}
	out := mergeSystemMessagesOpenAI(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(out), out)
	}
	if out[0].Role != openai.ChatMessageRoleSystem || !strings.Contains(out[0].Content, "first") || !strings.Contains(out[0].Content, "second") {
		t.Fatalf("expected merged system message, got %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser {
		t.Fatalf("expected user message preserved, got %+v", out[1])
	}
	if out[2].Role != openai.ChatMessageRoleSystem || out[2].Content != "third" {
		t.Fatalf("expected trailing system message preserved, got %+v", out[2])
	}
}

func TestToOpenAITools_FillsEmptyParameters(t *testing.T) {
	tools := toOpenAITools([]ToolSpec{{Name: "noop", Description: "does nothing"}})
	if len(tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(tools))
	}
	params, ok := tools[0].Function.Parameters.(json.RawMessage)
	if !ok || len(params) == 0 {
		t.Fatal("expected a fallback parameters schema for an empty InputSchema")
	}
}
