package conversation

import (
	"encoding/json"
	"time"

	"github.com/agentcore/runtime/internal/ports"
)

// Metadata is piggybacked on the memory.Store's message log so a single
// backing Store (in-memory or SQLite) serves both messages and metadata
// without widening the Memory Store contract itself: it is JSON-encoded
// into the Content of one RoleSystem message stored under a reserved key.

func encodeMetadata(meta ports.ConversationMetadata) (ports.Message, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return ports.Message{}, err
	}
	return ports.Message{
		ID:        "metadata",
		Role:      ports.RoleSystem,
		Content:   ports.TextContent(string(raw)),
		Timestamp: time.Now(),
	}, nil
}

func decodeMetadata(m ports.Message) (ports.ConversationMetadata, error) {
	var meta ports.ConversationMetadata
	if err := json.Unmarshal([]byte(m.Content.String()), &meta); err != nil {
		return ports.ConversationMetadata{}, err
	}
	return meta, nil
}
