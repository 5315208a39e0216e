package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/runtime/internal/ports"
)

// OpenAICompatible is a Backend speaking the OpenAI chat-completions wire
// format over SSE — the lowest common denominator most self-hosted and
// gateway LLM endpoints (Ollama, vLLM, and various OpenAI-compatible
// proxies) all implement. One struct covers all of them; only baseURL,
// model, and temperature vary between deployments.
//
// Grounded on the teacher's internal/provider.OllamaProvider
// (ChatStream/httpDoSSE/parseSSEStream) for the SSE transport, and
// internal/provider/openai_common.go + vllm.go (toOpenAIMessages/
// toOpenAITools/mergeSystemMessagesOpenAI, which build requests using the
// github.com/sashabaranov/go-openai SDK's wire types rather than hand-rolled
// structs) for the request side. Response parsing stays hand-rolled JSON —
// the teacher does the same even where it builds requests with the SDK,
// since go-openai's own stream reader is pinned to api.openai.com and can't
// speak to an arbitrary self-hosted base URL.
type OpenAICompatible struct {
	name        string
	baseURL     string
	httpClient  *http.Client
	model       string
	temperature float64
}

// NewOpenAICompatible returns a Backend posting chat-completions requests to
// baseURL (expected to already include any required path segment, e.g.
// "http://localhost:11434/v1"), identified as name, using model and
// temperature for every request.
func NewOpenAICompatible(name, baseURL, model string, temperature float64) *OpenAICompatible {
	return &OpenAICompatible{
		name:        name,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		model:       model,
		temperature: temperature,
	}
}

func (b *OpenAICompatible) Name() string { return b.name }

func (b *OpenAICompatible) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

func (b *OpenAICompatible) GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	events, err := b.StreamCompletion(ctx, req)
	if err != nil {
		return CompletionResponse{}, err
	}
	return Collect(ctx, events, nil)
}

func (b *OpenAICompatible) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	wireReq := chatRequest{
		Model:         b.model,
		Messages:      mergeSystemMessagesOpenAI(toOpenAIMessages(req.Messages)),
		Tools:         toOpenAITools(req.Tools),
		Temperature:   float32(b.temperature),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	reader, err := doSSE(ctx, sseRequest{
		client:   b.httpClient,
		url:      b.baseURL + "/chat/completions",
		body:     body,
		provider: b.name,
		model:    b.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

type chatRequest struct {
	Model         string                         `json:"model"`
	Messages      []openai.ChatCompletionMessage `json:"messages"`
	Tools         []openai.Tool                  `json:"tools,omitempty"`
	Temperature   float32                        `json:"temperature,omitempty"`
	Stream        bool                           `json:"stream"`
	StreamOptions *streamOptions                 `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// toOpenAIMessages converts the shared message log into go-openai's wire
// type, the same SDK the teacher's vLLM/OpenCode/Zen variants build
// requests with (internal/provider/openai_common.go's toOpenAIMessages).
func toOpenAIMessages(messages []ports.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		wm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content.String(),
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			wm.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				wm.ToolCalls[j] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		}
		out[i] = wm
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	out := make([]openai.Tool, len(specs))
	for i, s := range specs {
		params := json.RawMessage(s.InputSchema)
		if len(params) == 0 {
			params = emptyParams
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// mergeSystemMessagesOpenAI folds consecutive system-role messages into
// one, which several OpenAI-compatible backends require (repeated system
// turns otherwise get silently dropped or reordered).
func mergeSystemMessagesOpenAI(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if len(messages) == 0 {
		return messages
	}

	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	var buf strings.Builder
	inRun := false

	flush := func() {
		if inRun {
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: buf.String()})
			buf.Reset()
			inRun = false
		}
	}

	for _, msg := range messages {
		if msg.Role == openai.ChatMessageRoleSystem {
			if inRun {
				buf.WriteString("\n\n")
			}
			inRun = true
			buf.WriteString(msg.Content)
			continue
		}
		flush()
		result = append(result, msg)
	}
	flush()
	return result
}

type chatStreamChunk struct {
	Choices []chatStreamChoice `json:"choices"`
	Usage   *chatUsage         `json:"usage,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatStreamChoice struct {
	Delta        chatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chatStreamDelta struct {
	Content          string                `json:"content,omitempty"`
	Reasoning        string                `json:"reasoning,omitempty"`
	ReasoningContent string                `json:"reasoning_content,omitempty"`
	ToolCalls        []chatStreamToolCall  `json:"tool_calls,omitempty"`
}

type chatStreamToolCall struct {
	Index    int             `json:"index"`
	ID       string          `json:"id"`
	Function chatStreamFunc  `json:"function"`
}

type chatStreamFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type sseRequest struct {
	client   *http.Client
	url      string
	body     []byte
	provider string
	model    string
}

var sseRetryDelays = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}

// doSSE POSTs body and returns the response body for SSE parsing, retrying
// transient (429/5xx) failures with the same backoff ladder as the
// teacher's httpDoSSE.
func doSSE(ctx context.Context, cfg sseRequest) (io.ReadCloser, error) {
	maxRetries := len(sseRetryDelays)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := sseRetryDelays[attempt-1]
			log.Warn().Str("backend", cfg.provider).Int("attempt", attempt).Dur("delay", delay).
				Msg("retrying SSE connection after transient error")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, retryErr, hardErr := sseAttempt(ctx, cfg)
		if hardErr != nil {
			return nil, hardErr
		}
		if retryErr != nil {
			lastErr = retryErr
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("SSE request failed after %d retries: %w", maxRetries, lastErr)
}

func sseAttempt(ctx context.Context, cfg sseRequest) (io.ReadCloser, error, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.url, bytes.NewReader(cfg.body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := cfg.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		return nil, err, nil
	}

	if isTransientStatus(resp.StatusCode) {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("stream request status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("stream request status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return resp.Body, nil, nil
}

func isTransientStatus(code int) bool {
	return code == 429 || code == 500 || code == 502 || code == 503 || code == 504
}

func parseSSEStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			trySend(ctx, ch, StreamEvent{Type: StreamDone})
			return
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", data).Msg("failed to parse SSE chunk")
			continue
		}
		if chunk.Usage != nil {
			if !trySend(ctx, ch, StreamEvent{
				Type: StreamUsage,
				Usage: ports.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.PromptTokens + chunk.Usage.CompletionTokens,
				},
			}) {
				return
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if !emitDelta(ctx, ch, chunk.Choices[0].Delta) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: StreamError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: StreamDone})
}

func emitDelta(ctx context.Context, ch chan<- StreamEvent, delta chatStreamDelta) bool {
	reasoning := delta.Reasoning
	if reasoning == "" {
		reasoning = delta.ReasoningContent
	}
	if reasoning != "" {
		if !trySend(ctx, ch, StreamEvent{Type: StreamReasoningDelta, Content: reasoning}) {
			return false
		}
	}
	if delta.Content != "" {
		if !trySend(ctx, ch, StreamEvent{Type: StreamContentDelta, Content: delta.Content}) {
			return false
		}
	}
	for _, tc := range delta.ToolCalls {
		if tc.Function.Name != "" {
			if !trySend(ctx, ch, StreamEvent{
				Type: StreamToolCallBegin, ToolCallIndex: tc.Index,
				ToolCallID: tc.ID, ToolCallName: tc.Function.Name,
			}) {
				return false
			}
		}
		if tc.Function.Arguments != "" {
			if !trySend(ctx, ch, StreamEvent{
				Type: StreamToolCallDelta, ToolCallIndex: tc.Index,
				ToolCallArgs: tc.Function.Arguments,
			}) {
				return false
			}
		}
	}
	return true
}

func trySend(ctx context.Context, ch chan<- StreamEvent, evt StreamEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
