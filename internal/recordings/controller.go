package recordings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/pkg/storage"
)

var (
	ErrNotFound            = errors.New("recording not found")
	ErrRecordingInProgress = errors.New("recording already in progress")
	ErrGateway             = errors.New("egress gateway error")
	ErrVersionConflict     = errors.New("recording version conflict")
	ErrUnknownJob          = errors.New("unknown egress job")
)

const maxVersionRetries = 3

// ReasonStoppedBeforeStart is the failure reason for a recording stopped while still starting.
const ReasonStoppedBeforeStart = "recording stopped before egress started"

// LifecycleStore is the persistence the controller needs. Update must only succeed when
// rec.Version matches the stored row, and bumps rec.Version on success.
type LifecycleStore interface {
	Create(ctx context.Context, rec *models.Recording) error
	Update(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	GetByEgressID(ctx context.Context, egressID string) (*models.Recording, error)
	GetActiveBySession(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error)
}

// Gateway starts and stops egress jobs.
type Gateway interface {
	Start(ctx context.Context, sessionID uuid.UUID, outputPrefix string) (string, error)
	Stop(ctx context.Context, jobID string) error
}

// ArtifactResolver derives playback URLs and object sizes for completed output.
type ArtifactResolver interface {
	PlaylistURL(bucket, storagePath string) string
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)
}

// Observer is notified after every persisted transition.
type Observer interface {
	RecordingChanged(ctx context.Context, rec models.Recording)
}

// Controller owns the recording state machine. Transitions of one recording are serialized
// in-process by a keyed mutex and across instances by the store's version check.
type Controller struct {
	store     LifecycleStore
	gateway   Gateway
	artifacts ArtifactResolver
	bucket    string
	locks     *KeyedMutex
	observers []Observer
	now       func() time.Time
	logger    *zap.Logger
}

// NewController creates a controller. bucket is the fallback bucket for ended events without one.
func NewController(store LifecycleStore, gateway Gateway, artifacts ArtifactResolver, bucket string, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     store,
		gateway:   gateway,
		artifacts: artifacts,
		bucket:    bucket,
		locks:     NewKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// AddObserver registers o. Not safe to call concurrently with transitions.
func (c *Controller) AddObserver(o Observer) { c.observers = append(c.observers, o) }

// RequestStart creates a recording for the session and asks the gateway to start capturing.
func (c *Controller) RequestStart(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	unlockSession := c.locks.Lock("session:" + sessionID.String())
	defer unlockSession()

	existing, err := c.store.GetActiveBySession(ctx, sessionID)
	switch {
	case err == nil:
		return existing, ErrRecordingInProgress
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lookup active recording: %w", err)
	}

	rec := &models.Recording{
		ID:        uuid.New(),
		SessionID: sessionID,
		Status:    models.RecordingStatusStarting,
	}
	if err := c.store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrRecordingInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("create recording: %w", err)
	}
	unlock := c.locks.Lock(rec.ID.String())
	defer unlock()
	c.notify(ctx, *rec)

	// The recording exists from here on; its remaining transitions outlive the caller's request.
	persistCtx := context.WithoutCancel(ctx)
	prefix := storage.OutputPrefix(sessionID.String())
	jobID, gwErr := c.gateway.Start(ctx, sessionID, prefix)
	if gwErr != nil {
		c.logger.Error("egress start failed", zap.Error(gwErr), zap.String("recording_id", rec.ID.String()), zap.String("session_id", sessionID.String()))
		failed, err := c.apply(persistCtx, rec.ID, egress.Event{Kind: egress.KindFailed, Reason: gwErr.Error(), At: c.now()})
		if err != nil {
			c.logger.Error("persist failed recording", zap.Error(err), zap.String("recording_id", rec.ID.String()))
			failed = rec
		}
		return failed, fmt.Errorf("%w: %w", ErrGateway, gwErr)
	}

	id := rec.ID
	for attempt := 0; ; attempt++ {
		rec.EgressID = jobID
		err := c.store.Update(persistCtx, rec)
		if errors.Is(err, ErrVersionConflict) && attempt < maxVersionRetries {
			if rec, err = c.store.GetByID(persistCtx, id); err != nil {
				return c.abandonStart(persistCtx, id, jobID, fmt.Errorf("reload recording: %w", err))
			}
			continue
		}
		if err != nil {
			return c.abandonStart(persistCtx, id, jobID, fmt.Errorf("save egress id: %w", err))
		}
		break
	}
	c.logger.Info("recording starting", zap.String("recording_id", rec.ID.String()), zap.String("session_id", sessionID.String()), zap.String("egress_id", jobID))
	c.notify(persistCtx, *rec)
	return rec, nil
}

// HandleGatewayEvent applies a gateway lifecycle event. Out-of-order and duplicate events are
// logged and return the unchanged recording with a nil error.
func (c *Controller) HandleGatewayEvent(ctx context.Context, ev egress.Event) (*models.Recording, error) {
	rec, err := c.store.GetByEgressID(ctx, ev.JobID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, ev.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by egress id: %w", err)
	}
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	unlock := c.locks.Lock(rec.ID.String())
	defer unlock()
	return c.apply(ctx, rec.ID, ev)
}

// RequestStop asks the gateway to stop an active recording and moves it to processing. A
// recording still starting is failed instead. Other statuses are returned unchanged.
func (c *Controller) RequestStop(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	unlock := c.locks.Lock(id.String())
	defer unlock()

	rec, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.RecordingStatusStarting {
		return c.failBeforeStart(context.WithoutCancel(ctx), rec)
	}
	if rec.Status != models.RecordingStatusActive {
		c.logger.Warn("stop ignored", zap.String("recording_id", id.String()), zap.String("status", string(rec.Status)))
		return rec, nil
	}
	if err := c.gateway.Stop(ctx, rec.EgressID); err != nil {
		c.logger.Error("egress stop failed", zap.Error(err), zap.String("recording_id", id.String()), zap.String("egress_id", rec.EgressID))
		return rec, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return c.apply(context.WithoutCancel(ctx), id, egress.Event{JobID: rec.EgressID, Kind: egress.KindStopRequested, At: c.now()})
}

// abandonStart fails a recording whose gateway job started but could not be linked to it, and
// stops that job so it does not run unowned. Caller holds the recording's lock.
func (c *Controller) abandonStart(ctx context.Context, id uuid.UUID, jobID string, cause error) (*models.Recording, error) {
	c.logger.Error("recording start abandoned", zap.Error(cause), zap.String("recording_id", id.String()), zap.String("egress_id", jobID))
	if err := c.gateway.Stop(ctx, jobID); err != nil {
		c.logger.Warn("egress stop after abandoned start failed", zap.Error(err), zap.String("egress_id", jobID))
	}
	failed, err := c.apply(ctx, id, egress.Event{Kind: egress.KindFailed, Reason: cause.Error(), At: c.now()})
	if err != nil {
		c.logger.Error("persist failed recording", zap.Error(err), zap.String("recording_id", id.String()))
		return nil, cause
	}
	return failed, cause
}

// failBeforeStart ends a stop request that arrives before the gateway reported the capture as
// started. Any job already issued is stopped best-effort. Caller holds the recording's lock.
func (c *Controller) failBeforeStart(ctx context.Context, rec *models.Recording) (*models.Recording, error) {
	if rec.EgressID != "" {
		if err := c.gateway.Stop(ctx, rec.EgressID); err != nil {
			c.logger.Warn("egress stop before start failed", zap.Error(err), zap.String("recording_id", rec.ID.String()), zap.String("egress_id", rec.EgressID))
		}
	}
	return c.apply(ctx, rec.ID, egress.Event{JobID: rec.EgressID, Kind: egress.KindFailed, Reason: ReasonStoppedBeforeStart, At: c.now()})
}

// apply reloads the recording, runs Transition and persists the result, retrying version conflicts.
// Caller holds the recording's lock.
func (c *Controller) apply(ctx context.Context, id uuid.UUID, ev egress.Event) (*models.Recording, error) {
	for attempt := 0; ; attempt++ {
		rec, err := c.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		in := ev
		if in.Kind == egress.KindEnded && rec.Status == models.RecordingStatusProcessing {
			in.Artifact = c.resolveArtifact(ctx, *rec, in.Artifact)
		}
		next, err := Transition(*rec, in)
		if err != nil {
			c.logger.Warn("recording event ignored",
				zap.Error(err),
				zap.String("recording_id", id.String()),
				zap.String("egress_id", ev.JobID),
				zap.String("event", string(ev.Kind)),
				zap.Int64("seq", ev.Seq),
				zap.String("status", string(rec.Status)),
			)
			return rec, nil
		}
		err = c.store.Update(ctx, &next)
		if errors.Is(err, ErrVersionConflict) && attempt < maxVersionRetries {
			c.logger.Debug("recording version conflict, retrying", zap.String("recording_id", id.String()), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return rec, fmt.Errorf("update recording: %w", err)
		}
		c.logger.Info("recording transitioned",
			zap.String("recording_id", id.String()),
			zap.String("from", string(rec.Status)),
			zap.String("to", string(next.Status)),
			zap.String("event", string(ev.Kind)),
		)
		c.notify(ctx, next)
		return &next, nil
	}
}

// resolveArtifact fills what the gateway left out of an ended event.
func (c *Controller) resolveArtifact(ctx context.Context, rec models.Recording, a egress.Artifact) egress.Artifact {
	if a.Bucket == "" {
		a.Bucket = c.bucket
	}
	if a.Path == "" {
		a.Path = storage.OutputPrefix(rec.SessionID.String())
	}
	if a.DurationSeconds == nil {
		zero := 0
		a.DurationSeconds = &zero
	}
	key := storage.PlaylistKey(a.Path)
	if c.artifacts == nil {
		a.PlaybackURL = "s3://" + a.Bucket + "/" + key
		return a
	}
	if a.FileSizeBytes == nil {
		size, err := c.artifacts.ObjectSize(ctx, a.Bucket, key)
		if err != nil {
			c.logger.Warn("recording size lookup failed", zap.Error(err), zap.String("recording_id", rec.ID.String()), zap.String("key", key))
		} else {
			a.FileSizeBytes = &size
		}
	}
	a.PlaybackURL = c.artifacts.PlaylistURL(a.Bucket, a.Path)
	return a
}

func (c *Controller) notify(ctx context.Context, rec models.Recording) {
	for _, o := range c.observers {
		o.RecordingChanged(ctx, rec)
	}
}
