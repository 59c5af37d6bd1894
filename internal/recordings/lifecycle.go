package recordings

import (
	"errors"
	"fmt"

	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/internal/models"
)

var (
	// ErrInvalidTransition is returned when an event does not apply to the current status.
	ErrInvalidTransition = errors.New("invalid recording transition")
	// ErrStaleEvent is returned for gateway events already applied or superseded.
	ErrStaleEvent = errors.New("stale recording event")
	// ErrMissingArtifact is returned for an ended event without a derived playback URL.
	ErrMissingArtifact = errors.New("ended event without playback artifact")
)

// Transition applies ev to rec and returns the next recording. rec is never modified.
//
//	starting   --started-->        active
//	active     --stop_requested--> processing
//	processing --ended-->          completed
//	any non-terminal --failed-->   failed
func Transition(rec models.Recording, ev egress.Event) (models.Recording, error) {
	if ev.Seq > 0 {
		if ev.Seq < rec.LastEventSeq {
			return rec, fmt.Errorf("%w: seq %d < %d", ErrStaleEvent, ev.Seq, rec.LastEventSeq)
		}
		if ev.Seq == rec.LastEventSeq && string(ev.Kind) == rec.LastEventKind {
			return rec, fmt.Errorf("%w: duplicate %s seq %d", ErrStaleEvent, ev.Kind, ev.Seq)
		}
	}

	next := rec
	switch {
	case ev.Kind == egress.KindStarted && rec.Status == models.RecordingStatusStarting:
		next.Status = models.RecordingStatusActive
		at := ev.At
		next.StartedAt = &at
	case ev.Kind == egress.KindStopRequested && rec.Status == models.RecordingStatusActive:
		next.Status = models.RecordingStatusProcessing
	case ev.Kind == egress.KindEnded && rec.Status == models.RecordingStatusProcessing:
		if ev.Artifact.PlaybackURL == "" {
			return rec, ErrMissingArtifact
		}
		next.Status = models.RecordingStatusCompleted
		at := ev.At
		next.EndedAt = &at
		next.StorageBucket = ev.Artifact.Bucket
		next.StoragePath = ev.Artifact.Path
		next.PlaybackURL = ev.Artifact.PlaybackURL
		next.DurationSeconds = ev.Artifact.DurationSeconds
		next.FileSizeBytes = ev.Artifact.FileSizeBytes
	case ev.Kind == egress.KindFailed && !rec.Status.Terminal():
		next.Status = models.RecordingStatusFailed
		next.ErrorMessage = ev.Reason
		if rec.Status != models.RecordingStatusStarting {
			at := ev.At
			next.EndedAt = &at
		}
	default:
		return rec, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.Kind, rec.Status)
	}

	if ev.Seq > 0 {
		next.LastEventSeq = ev.Seq
		next.LastEventKind = string(ev.Kind)
	}
	return next, nil
}
