package ports

// AgentEventType is the closed set of event tags the runtime emits to a
// presentation layer over the Event Channel (spec §6).
type AgentEventType string

const (
	EventMessageStarted      AgentEventType = "MessageStarted"
	EventAssistantChunk      AgentEventType = "AssistantChunk"
	EventReasoningChunk      AgentEventType = "ReasoningChunk"
	EventStreamFinish        AgentEventType = "StreamFinish"
	EventToolCalls           AgentEventType = "ToolCalls"
	EventToolApprovalRequired AgentEventType = "ToolApprovalRequired"
	EventToolResult          AgentEventType = "ToolResult"
	EventAssistantMessage    AgentEventType = "AssistantMessage"
	EventMemoryAppended      AgentEventType = "MemoryAppended"
	EventSubAgentStarted     AgentEventType = "SubAgentStarted"
	EventSubAgentToolCall    AgentEventType = "SubAgentToolCall"
	EventSubAgentToolResult  AgentEventType = "SubAgentToolResult"
	EventSubAgentCompleted   AgentEventType = "SubAgentCompleted"
	EventDone                AgentEventType = "Done"
	EventError               AgentEventType = "Error"
)

// Valid reports whether t is one of the declared event tags.
func (t AgentEventType) Valid() bool {
	switch t {
	case EventMessageStarted, EventAssistantChunk, EventReasoningChunk, EventStreamFinish,
		EventToolCalls, EventToolApprovalRequired, EventToolResult, EventAssistantMessage,
		EventMemoryAppended, EventSubAgentStarted, EventSubAgentToolCall, EventSubAgentToolResult,
		EventSubAgentCompleted, EventDone, EventError:
		return true
	default:
		return false
	}
}

// Usage is a normalized token-usage snapshot for one completion call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// AgentEvent is the tagged union emitted over the Event Channel. Exactly the
// fields relevant to Type are meaningful; the rest are zero.
type AgentEvent struct {
	Type           AgentEventType `json:"type"`
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId,omitempty"`

	// MessageStarted
	UserContent string   `json:"userContent,omitempty"`
	Enhanced    []string `json:"enhanced,omitempty"`
	ToolNames   []string `json:"toolNames,omitempty"`

	// AssistantChunk / ReasoningChunk
	Delta string `json:"delta,omitempty"`

	// StreamFinish
	FinishReason string `json:"finishReason,omitempty"`

	// ToolCalls / ToolApprovalRequired
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ApprovalID string     `json:"approvalId,omitempty"`

	// ToolResult
	Result *ToolExecutionResult `json:"result,omitempty"`

	// AssistantMessage
	Content string `json:"content,omitempty"`

	// MemoryAppended
	MemoryDelta []Message `json:"memoryDelta,omitempty"`

	// Usage accompanies several event kinds when available.
	Usage *Usage `json:"usage,omitempty"`

	// Sub-agent events
	AgentID       string `json:"agentId,omitempty"`
	AgentName     string `json:"agentName,omitempty"`
	ToolCallID    string `json:"toolCallId,omitempty"`
	ToolName      string `json:"toolName,omitempty"`
	ToolArguments string `json:"toolArguments,omitempty"`
	DurationMs    int64  `json:"durationMs,omitempty"`
	Status        string `json:"status,omitempty"`
	ResultMessage string `json:"resultMessage,omitempty"`
	TotalDuration int64  `json:"totalDurationMs,omitempty"` // milliseconds

	// Done
	ResponseTimeMs int64 `json:"responseTimeMs,omitempty"`

	// Error
	Error string `json:"error,omitempty"`
}
