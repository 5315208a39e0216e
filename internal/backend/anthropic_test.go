package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentcore/runtime/internal/ports"
)

func anthropicSSEServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/messages") {
			t.Errorf("expected /messages path, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if ok {
				flusher.Flush()
			}
		}
	}))
}

func TestAnthropic_StreamsTextDeltas(t *testing.T) {
	srv := anthropicSSEServer(t, []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4","usage":{"input_tokens":10,"output_tokens":0}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer srv.Close()

	b := NewAnthropicWithBaseURL("test-key", srv.URL, "claude-sonnet-4", 1024)
	resp, err := b.GenerateCompletion(context.Background(), CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: ports.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Fatalf("got content %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 {
		t.Fatalf("got usage %+v", resp.Usage)
	}
}

func TestAnthropic_AssemblesToolUseBlock(t *testing.T) {
	srv := anthropicSSEServer(t, []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4","usage":{"input_tokens":1,"output_tokens":0}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tool_1","name":"get_weather","input":{}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"London\"}"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer srv.Close()

	b := NewAnthropicWithBaseURL("test-key", srv.URL, "claude-sonnet-4", 1024)
	resp, err := b.GenerateCompletion(context.Background(), CompletionRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: ports.TextContent("weather in London?")}},
		Tools:    []ToolSpec{{Name: "get_weather", Description: "fetch weather", InputSchema: []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`)}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "tool_1" || tc.Name != "get_weather" {
		t.Fatalf("got tool call %+v", tc)
	}
	if tc.Arguments != `{"city":"London"}` {
		t.Fatalf("got assembled arguments %q", tc.Arguments)
	}
}

func TestToAnthropicMessages_HoistsSystemMessages(t *testing.T) {
	messages := []ports.Message{
		{Role: ports.RoleSystem, Content: ports.TextContent("be concise")},
		{Role: ports.RoleSystem, Content: ports.TextContent("be polite")},
		{Role: ports.RoleUser, Content: ports.TextContent("hi")},
	}
	converted, system := toAnthropicMessages(messages)
	if system != "be concise\n\nbe polite" {
		t.Fatalf("got system %q", system)
	}
	if len(converted) != 1 {
		t.Fatalf("expected system messages excluded from turn list, got %d", len(converted))
	}
}

func TestToAnthropicTools_RejectsInvalidSchema(t *testing.T) {
	_, err := toAnthropicTools([]ToolSpec{{Name: "broken", InputSchema: []byte(`not json`)}})
	if err == nil {
		t.Fatal("expected error for invalid tool schema")
	}
}
