package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/pkg/queue"
	"github.com/echosphere/backend/pkg/storage"
)

// EventApplier applies normalized gateway events to recordings.
type EventApplier interface {
	HandleGatewayEvent(ctx context.Context, ev egress.Event) (*models.Recording, error)
}

// EventProcessor feeds queued egress webhook events to the recording controller.
type EventProcessor struct {
	applier EventApplier
	logger  *zap.Logger
}

// NewEventProcessor creates a gateway event processor.
func NewEventProcessor(applier EventApplier, logger *zap.Logger) *EventProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventProcessor{applier: applier, logger: logger}
}

// Process applies one gateway_event job. Events for jobs not yet persisted fail and are retried.
func (p *EventProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeGatewayEvent {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var ev egress.Event
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	rec, err := p.applier.HandleGatewayEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("apply %s for %s: %w", ev.Kind, ev.JobID, err)
	}
	p.logger.Debug("gateway event applied",
		zap.String("egress_id", ev.JobID),
		zap.String("event", string(ev.Kind)),
		zap.String("recording_id", rec.ID.String()),
		zap.String("status", string(rec.Status)),
	)
	return nil
}

// ExportSource reads a recording and its transcript.
type ExportSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListMessages(ctx context.Context, recordingID uuid.UUID) ([]models.Message, error)
}

// ObjectUploader writes an object to storage and returns its URL.
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// TranscriptDocument is the exported transcript.json written next to the playlist.
type TranscriptDocument struct {
	RecordingID     uuid.UUID        `json:"recording_id"`
	SessionID       uuid.UUID        `json:"session_id"`
	DurationSeconds *int             `json:"duration_seconds"`
	ExportedAt      time.Time        `json:"exported_at"`
	Messages        []models.Message `json:"messages"`
}

// ExportProcessor uploads the transcript of a completed recording to object storage.
type ExportProcessor struct {
	source   ExportSource
	uploader ObjectUploader
	now      func() time.Time
	logger   *zap.Logger
}

// NewExportProcessor creates a transcript export processor.
func NewExportProcessor(source ExportSource, uploader ObjectUploader, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{source: source, uploader: uploader, now: time.Now, logger: logger}
}

// Process executes one transcript_export job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTranscriptExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.TranscriptExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.source.GetByID(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("load recording %s: %w", payload.RecordingID, err)
	}
	if rec.Status != models.RecordingStatusCompleted {
		p.logger.Info("skipping export of unfinished recording", zap.String("recording_id", rec.ID.String()), zap.String("status", string(rec.Status)))
		return nil
	}
	msgs, err := p.source.ListMessages(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	body, err := json.MarshalIndent(TranscriptDocument{
		RecordingID:     rec.ID,
		SessionID:       rec.SessionID,
		DurationSeconds: rec.DurationSeconds,
		ExportedAt:      p.now().UTC(),
		Messages:        msgs,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	key := storage.TranscriptKey(rec.StoragePath)
	url, err := p.uploader.Upload(ctx, rec.StorageBucket, key, "application/json", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("transcript exported", zap.String("recording_id", rec.ID.String()), zap.String("s3_key", key), zap.String("url", url), zap.Int("messages", len(msgs)))
	return nil
}

// Enqueuer schedules transcript exports.
type Enqueuer interface {
	EnqueueTranscriptExport(ctx context.Context, recordingID uuid.UUID) error
}

// ExportScheduler is a recording observer that queues a transcript export on completion.
type ExportScheduler struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewExportScheduler creates the completion observer.
func NewExportScheduler(q Enqueuer, logger *zap.Logger) *ExportScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportScheduler{queue: q, logger: logger}
}

// RecordingChanged enqueues an export when rec has just completed.
func (s *ExportScheduler) RecordingChanged(ctx context.Context, rec models.Recording) {
	if rec.Status != models.RecordingStatusCompleted {
		return
	}
	if err := s.queue.EnqueueTranscriptExport(ctx, rec.ID); err != nil {
		s.logger.Error("enqueue transcript export failed", zap.String("recording_id", rec.ID.String()), zap.Error(err))
	}
}
