package ports

import "time"

// ConversationMetadata tracks aggregate, non-message state for a
// conversation key in the Memory Store.
type ConversationMetadata struct {
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	Topic        string    `json:"topic,omitempty"`

	TotalPromptTokens     int64   `json:"totalPromptTokens"`
	TotalCompletionTokens int64   `json:"totalCompletionTokens"`
	EstimatedCostUSD      float64 `json:"estimatedCostUsd"`

	// SummarizedFrom holds the conversation's own prior id when an
	// auto-summary boundary replaced its history (see metrics package).
	SummarizedFrom string `json:"summarizedFrom,omitempty"`
}
