// Package ports defines the core data model shared across the runtime:
// messages, tool calls, tool results, agent configuration, and the
// conversation metadata each session accumulates.
package ports

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// ToolStatus is the outcome of a single tool execution.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// PartType discriminates the kind of content carried by a Part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one element of a multi-part message body: either text or an
// embedded image. Exactly one of Text/Image is meaningful, selected by Type.
type Part struct {
	Type  PartType `json:"type"`
	Text  string   `json:"text,omitempty"`
	Image *Image   `json:"image,omitempty"`
}

// Image is an embedded image attachment.
type Image struct {
	Data     string `json:"data"`               // base64-encoded bytes
	MimeType string `json:"mimeType"`
	AltText  string `json:"altText,omitempty"`
}

// Content is a Message body: either a plain string, nil (no content), or an
// ordered list of Parts. Exactly one of Text/Parts is used; IsParts
// discriminates since the empty string and "no content" are both valid
// states for Text.
type Content struct {
	Text    string
	Parts   []Part
	IsParts bool
}

// TextContent builds a plain-string Content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent builds a multi-part Content.
func PartsContent(parts []Part) Content {
	return Content{Parts: parts, IsParts: true}
}

// String returns the flattened text of the content, concatenating text parts.
func (c Content) String() string {
	if !c.IsParts {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// MarshalJSON renders Content as either a JSON string or an array of parts,
// matching the persisted-message wire shape in spec §3.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.IsParts {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts either a JSON string or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.IsParts = false
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Parts = parts
	c.IsParts = true
	return nil
}

// ErrorReason is the closed set of tags a tool or internal failure can carry.
type ErrorReason string

const (
	ErrorInvalidInput      ErrorReason = "InvalidInput"
	ErrorValidationFailed  ErrorReason = "ValidationFailed"
	ErrorNotFound          ErrorReason = "NotFound"
	ErrorDenied            ErrorReason = "Denied"
	ErrorTimeout           ErrorReason = "Timeout"
	ErrorAborted           ErrorReason = "Aborted"
	ErrorUnknown           ErrorReason = "Unknown"
)

// Valid reports whether e is one of the declared ErrorReason tags.
func (e ErrorReason) Valid() bool {
	switch e {
	case ErrorInvalidInput, ErrorValidationFailed, ErrorNotFound, ErrorDenied, ErrorTimeout, ErrorAborted, ErrorUnknown:
		return true
	default:
		return false
	}
}

// ToolCall is one function invocation the model requested. Arguments is kept
// as a raw JSON-encoded string (never parsed eagerly) so fragments streamed
// across chunks can be concatenated byte-exact before a single decode at
// execution time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolExecutionResult is the outcome of running one ToolCall.
type ToolExecutionResult struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      ToolStatus        `json:"status"`
	Type        ResultType        `json:"type"`
	Result      string            `json:"result"`         // text form, or JSON-encoded when Type==ResultJSON
	DurationMs  int64             `json:"durationMs"`
	Metadata    *ResultMetadata   `json:"metadata,omitempty"`
}

// ResultType discriminates how Result should be interpreted.
type ResultType string

const (
	ResultText ResultType = "text"
	ResultJSON ResultType = "json"
)

// ResultMetadata carries structured detail about a tool result, principally
// the classified failure reason.
type ResultMetadata struct {
	ErrorReason ErrorReason `json:"errorReason,omitempty"`
}

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Assistant-only.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`

	// Tool-only.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Status     ToolStatus      `json:"status,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	Metadata   *ResultMetadata `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy suitable for seeding a sub-agent's memory
// without aliasing slices the parent might later mutate.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.Content.IsParts {
		out.Content.Parts = append([]Part(nil), m.Content.Parts...)
	}
	if m.Metadata != nil {
		meta := *m.Metadata
		out.Metadata = &meta
	}
	return out
}
