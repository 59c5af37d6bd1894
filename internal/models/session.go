package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the conversation session lifecycle.
const (
	SessionStatusPending   = "pending"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

// Session is one voice conversation between a user and the agent, held in a conferencing room.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	RoomName  string     `json:"room_name"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
