package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole is who produced a transcript turn.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	return r == MessageRoleUser || r == MessageRoleAssistant
}

// Message is one timestamped transcript turn of a recording.
// TimestampMs is the offset from recording start; Seq is the store-assigned insertion order
// used to break ties between equal timestamps.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	RecordingID uuid.UUID   `json:"recording_id"`
	Role        MessageRole `json:"role"`
	Content     string      `json:"content"`
	TimestampMs int64       `json:"timestamp_ms"`
	Seq         int64       `json:"seq"`
	CreatedAt   time.Time   `json:"created_at"`
}
