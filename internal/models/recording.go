package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus represents recording lifecycle.
type RecordingStatus string

const (
	RecordingStatusStarting   RecordingStatus = "starting"
	RecordingStatusActive     RecordingStatus = "active"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusFailed     RecordingStatus = "failed"
)

// Valid reports whether s is one of the five lifecycle values.
func (s RecordingStatus) Valid() bool {
	switch s {
	case RecordingStatusStarting, RecordingStatusActive, RecordingStatusProcessing,
		RecordingStatusCompleted, RecordingStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s RecordingStatus) Terminal() bool {
	return s == RecordingStatusCompleted || s == RecordingStatusFailed
}

// Recording is one capture attempt of a session (egress gateway → object storage).
// StorageBucket, StoragePath and PlaybackURL are only set once Status is completed.
type Recording struct {
	ID              uuid.UUID       `json:"id"`
	SessionID       uuid.UUID       `json:"session_id"`
	EgressID        string          `json:"egress_id,omitempty"`
	Status          RecordingStatus `json:"status"`
	StorageBucket   string          `json:"storage_bucket,omitempty"`
	StoragePath     string          `json:"storage_path,omitempty"`
	PlaybackURL     string          `json:"playback_url,omitempty"`
	DurationSeconds *int            `json:"duration_seconds"`
	FileSizeBytes   *int64          `json:"file_size_bytes"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	LastEventSeq    int64           `json:"-"`
	LastEventKind   string          `json:"-"`
	Version         int64           `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
}

// RecordingSummary is the list view of a recording. PlaybackURL is empty unless completed.
type RecordingSummary struct {
	ID              uuid.UUID       `json:"id"`
	SessionID       uuid.UUID       `json:"session_id"`
	Status          RecordingStatus `json:"status"`
	DurationSeconds *int            `json:"duration_seconds"`
	CreatedAt       time.Time       `json:"created_at"`
	PlaybackURL     string          `json:"playback_url,omitempty"`
}

// RecordingDetail is the playback view: summary plus file metadata and the ordered transcript.
type RecordingDetail struct {
	RecordingSummary
	FileSizeBytes *int64     `json:"file_size_bytes"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Transcript    []Message  `json:"transcript"`
}

// RecordingPage is one page of recording summaries.
type RecordingPage struct {
	Items      []RecordingSummary `json:"items"`
	Total      int                `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
}

// Summary returns the list view of r. PlaybackURL is exposed only for completed recordings.
func (r *Recording) Summary() RecordingSummary {
	s := RecordingSummary{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Status:          r.Status,
		DurationSeconds: r.DurationSeconds,
		CreatedAt:       r.CreatedAt,
	}
	if r.Status == RecordingStatusCompleted {
		s.PlaybackURL = r.PlaybackURL
	}
	return s
}

// Detail returns the playback view of r with its ordered transcript.
func (r *Recording) Detail(transcript []Message) RecordingDetail {
	if transcript == nil {
		transcript = []Message{}
	}
	return RecordingDetail{
		RecordingSummary: r.Summary(),
		FileSizeBytes:    r.FileSizeBytes,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		ErrorMessage:     r.ErrorMessage,
		Transcript:       transcript,
	}
}
