package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentcore/runtime/internal/ports"
)

// Anthropic is a Backend wrapping the official Anthropic SDK's Messages API,
// a genuinely different wire format from the OpenAI-compatible family
// (content-block based, system prompt hoisted out of the message list,
// typed SSE event names instead of one "chat.completion.chunk" shape).
//
// Grounded on haasonsaas-nexus/internal/agent/providers/anthropic.go
// (AnthropicProvider.createStream/processStream event switch, convertMessages/
// convertTools), trimmed of the beta computer-use path (no SPEC_FULL.md
// component needs it) and adapted to backend.Backend/ports.Message.
type Anthropic struct {
	client       anthropic.Client
	model        string
	maxTokens    int
	defaultModel string
}

// NewAnthropic returns a Backend calling the Anthropic Messages API directly
// via the official SDK, authenticated with apiKey.
func NewAnthropic(apiKey, model string, maxTokens int) *Anthropic {
	return newAnthropic(apiKey, "", model, maxTokens)
}

// NewAnthropicWithBaseURL is NewAnthropic with an overridable base URL, for
// pointing the SDK client at a test double.
func NewAnthropicWithBaseURL(apiKey, baseURL, model string, maxTokens int) *Anthropic {
	return newAnthropic(apiKey, baseURL, model, maxTokens)
}

func newAnthropic(apiKey, baseURL, model string, maxTokens int) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		model:        model,
		maxTokens:    maxTokens,
		defaultModel: model,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Close() error { return nil }

func (a *Anthropic) GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	events, err := a.StreamCompletion(ctx, req)
	if err != nil {
		return CompletionResponse{}, err
	}
	return Collect(ctx, events, nil)
}

func (a *Anthropic) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	messages, system := toAnthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  messages,
		MaxTokens: int64(a.maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		processAnthropicStream(ctx, stream, ch)
	}()
	return ch, nil
}

// toAnthropicMessages converts the shared message log into the SDK's
// MessageParam list, hoisting system-role messages out into a single
// joined string (the Anthropic API carries system separately from the
// conversation turns).
func toAnthropicMessages(messages []ports.Message) ([]anthropic.MessageParam, string) {
	var system string
	var result []anthropic.MessageParam

	for _, m := range messages {
		if m.Role == ports.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content.String()
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if text := m.Content.String(); text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		if m.Role == ports.RoleTool {
			blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, m.Content.String(), m.Status == ports.ToolStatusError))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if m.Role == ports.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			// Tool results and user turns both map onto a "user" role message.
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result, system
}

func toAnthropicTools(specs []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	emptySchema := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		schemaBytes := json.RawMessage(s.InputSchema)
		if len(schemaBytes) == 0 {
			schemaBytes = emptySchema
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schemaBytes, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", s.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(s.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

// anthropicStream is the subset of ssestream.Stream's API processAnthropicStream
// needs, so it can be exercised with a fake in tests without standing up a
// real SSE server.
type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func processAnthropicStream(ctx context.Context, stream anthropicStream, ch chan<- StreamEvent) {
	var toolCallIndex = -1
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			cb := event.AsContentBlockStart()
			if cb.ContentBlock.Type == "tool_use" {
				toolUse := cb.ContentBlock.AsToolUse()
				toolCallIndex++
				if !trySend(ctx, ch, StreamEvent{
					Type: StreamToolCallBegin, ToolCallIndex: toolCallIndex,
					ToolCallID: toolUse.ID, ToolCallName: toolUse.Name,
				}) {
					return
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !trySend(ctx, ch, StreamEvent{Type: StreamContentDelta, Content: delta.Text}) {
						return
					}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !trySend(ctx, ch, StreamEvent{Type: StreamReasoningDelta, Content: delta.Thinking}) {
						return
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					if !trySend(ctx, ch, StreamEvent{
						Type: StreamToolCallDelta, ToolCallIndex: toolCallIndex,
						ToolCallArgs: delta.PartialJSON,
					}) {
						return
					}
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			trySend(ctx, ch, StreamEvent{
				Type: StreamUsage,
				Usage: ports.Usage{
					PromptTokens:     inputTokens,
					CompletionTokens: outputTokens,
					TotalTokens:      inputTokens + outputTokens,
				},
			})
			trySend(ctx, ch, StreamEvent{Type: StreamDone})
			return
		}
	}

	if err := stream.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: StreamError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: StreamDone})
}
