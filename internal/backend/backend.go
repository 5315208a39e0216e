// Package backend implements the Model Backend Interface (spec §4.6): the
// seam between the Orchestrator and whatever LLM API actually answers a
// turn, plus the streaming tool-call-fragment reassembly every provider
// needs.
//
// Grounded on the teacher's internal/provider.Provider (ChatStream channel
// shape, StreamEvent tagged union) and internal/llm/loop.go's
// toolCallAccumulator/collectWithDeltas, generalized into a backend package
// decoupled from any one wire format.
package backend

import (
	"context"
	"fmt"

	"github.com/agentcore/runtime/internal/ports"
)

// ToolSpec is a tool definition as handed to a model backend — independent
// of internal/tools.Definition so backend never needs to import tools.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema []byte
}

// CompletionRequest is one turn's worth of input to a model.
type CompletionRequest struct {
	Messages []ports.Message
	Tools    []ToolSpec
	Config   ports.AgentConfig
}

// CompletionResponse is the fully assembled result of one completion call,
// whether obtained synchronously or collected from a stream.
type CompletionResponse struct {
	Content      string
	Reasoning    string
	ToolCalls    []ports.ToolCall
	Usage        ports.Usage
	FinishReason string
}

// StreamEventType tags one fragment of a streamed completion.
type StreamEventType int

const (
	StreamContentDelta StreamEventType = iota
	StreamReasoningDelta
	StreamToolCallBegin
	StreamToolCallDelta
	StreamUsage
	StreamDone
	StreamError
)

// StreamEvent is one fragment of a streamed completion. Only the fields
// relevant to Type are meaningful.
type StreamEvent struct {
	Type StreamEventType

	Content string // ContentDelta / ReasoningDelta

	ToolCallIndex int    // position hint from the wire format, if any
	ToolCallID    string // set on ToolCallBegin; may repeat across fragments
	ToolCallName  string // set on ToolCallBegin
	ToolCallArgs  string // argument fragment on ToolCallDelta

	Usage ports.Usage // Usage
	Err   error       // Error
}

// Backend is the seam the Orchestrator calls through. A concrete backend
// wraps one LLM API's SDK/HTTP client.
type Backend interface {
	Name() string

	// StreamCompletion returns a channel of StreamEvents terminated by
	// exactly one StreamDone or StreamError.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// GenerateCompletion is a synchronous wrapper most backends get for
	// free by collecting their own stream; a backend may override it to
	// call a non-streaming API endpoint directly instead.
	GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	Close() error
}

// Collect drains a StreamEvent channel into a single CompletionResponse,
// reassembling tool-call argument fragments with the package's accumulator. Backends
// whose SDK only exposes streaming should implement GenerateCompletion by
// calling StreamCompletion then Collect.
func Collect(ctx context.Context, events <-chan StreamEvent, onDelta func(StreamEvent)) (CompletionResponse, error) {
	var resp CompletionResponse
	acc := newAccumulator()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				resp.ToolCalls = acc.finalize()
				return resp, nil
			}
			if onDelta != nil {
				onDelta(evt)
			}
			switch evt.Type {
			case StreamContentDelta:
				resp.Content += evt.Content
			case StreamReasoningDelta:
				resp.Reasoning += evt.Content
			case StreamToolCallBegin:
				acc.begin(evt)
			case StreamToolCallDelta:
				acc.delta(evt)
			case StreamUsage:
				if evt.Usage.PromptTokens > resp.Usage.PromptTokens {
					resp.Usage.PromptTokens = evt.Usage.PromptTokens
				}
				if evt.Usage.CompletionTokens > resp.Usage.CompletionTokens {
					resp.Usage.CompletionTokens = evt.Usage.CompletionTokens
				}
				resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
			case StreamError:
				return CompletionResponse{}, evt.Err
			case StreamDone:
				resp.ToolCalls = acc.finalize()
				return resp, nil
			}
		case <-ctx.Done():
			return CompletionResponse{}, fmt.Errorf("stream collection: %w", ctx.Err())
		}
	}
}
