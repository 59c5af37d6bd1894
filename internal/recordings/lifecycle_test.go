package recordings

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecording(status models.RecordingStatus) models.Recording {
	return models.Recording{ID: uuid.New(), SessionID: uuid.New(), EgressID: "EG_1", Status: status, Version: 1}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestTransitionStartedActivates(t *testing.T) {
	rec := newRecording(models.RecordingStatusStarting)
	next, err := Transition(rec, egress.Event{JobID: "EG_1", Kind: egress.KindStarted, Seq: 1, At: t0})
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusActive, next.Status)
	require.NotNil(t, next.StartedAt)
	assert.Equal(t, t0, *next.StartedAt)
	assert.Equal(t, int64(1), next.LastEventSeq)
	assert.Equal(t, models.RecordingStatusStarting, rec.Status, "input must not be mutated")
}

func TestTransitionEndedCompletes(t *testing.T) {
	rec := newRecording(models.RecordingStatusProcessing)
	ev := egress.Event{
		JobID: "EG_1", Kind: egress.KindEnded, Seq: 3, At: t0,
		Artifact: egress.Artifact{
			Bucket: "b", Path: "p", PlaybackURL: "https://cdn.test/b/p/index.m3u8",
			DurationSeconds: intPtr(125), FileSizeBytes: int64Ptr(52428800),
		},
	}
	next, err := Transition(rec, ev)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusCompleted, next.Status)
	assert.Equal(t, "b", next.StorageBucket)
	assert.Equal(t, "p", next.StoragePath)
	assert.NotEmpty(t, next.PlaybackURL)
	assert.Equal(t, 125, *next.DurationSeconds)
	assert.Equal(t, int64(52428800), *next.FileSizeBytes)
	require.NotNil(t, next.EndedAt)
}

func TestTransitionEndedRequiresPlaybackURL(t *testing.T) {
	rec := newRecording(models.RecordingStatusProcessing)
	_, err := Transition(rec, egress.Event{Kind: egress.KindEnded, At: t0})
	assert.ErrorIs(t, err, ErrMissingArtifact)
}

func TestTransitionFailedFromEveryNonTerminal(t *testing.T) {
	for _, s := range []models.RecordingStatus{models.RecordingStatusStarting, models.RecordingStatusActive, models.RecordingStatusProcessing} {
		next, err := Transition(newRecording(s), egress.Event{Kind: egress.KindFailed, Reason: "boom", At: t0})
		require.NoError(t, err, s)
		assert.Equal(t, models.RecordingStatusFailed, next.Status, s)
		assert.Equal(t, "boom", next.ErrorMessage, s)
	}
}

func TestTransitionRejectsInvalidPairs(t *testing.T) {
	cases := []struct {
		status models.RecordingStatus
		kind   egress.Kind
	}{
		{models.RecordingStatusStarting, egress.KindStopRequested},
		{models.RecordingStatusStarting, egress.KindEnded},
		{models.RecordingStatusActive, egress.KindStarted},
		{models.RecordingStatusActive, egress.KindEnded},
		{models.RecordingStatusProcessing, egress.KindStarted},
		{models.RecordingStatusProcessing, egress.KindStopRequested},
		{models.RecordingStatusCompleted, egress.KindFailed},
		{models.RecordingStatusCompleted, egress.KindStarted},
		{models.RecordingStatusFailed, egress.KindStarted},
		{models.RecordingStatusFailed, egress.KindEnded},
	}
	for _, tc := range cases {
		rec := newRecording(tc.status)
		next, err := Transition(rec, egress.Event{Kind: tc.kind, At: t0, Artifact: egress.Artifact{PlaybackURL: "u"}})
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s while %s", tc.kind, tc.status)
		assert.Equal(t, rec, next)
	}
}

func TestTransitionStaleAndDuplicateEvents(t *testing.T) {
	rec := newRecording(models.RecordingStatusStarting)
	started := egress.Event{JobID: "EG_1", Kind: egress.KindStarted, Seq: 5, At: t0}
	once, err := Transition(rec, started)
	require.NoError(t, err)

	twice, err := Transition(once, started)
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, once, twice)

	_, err = Transition(once, egress.Event{JobID: "EG_1", Kind: egress.KindFailed, Seq: 4, At: t0})
	assert.ErrorIs(t, err, ErrStaleEvent)
}

func TestTransitionTerminalStatesAbsorb(t *testing.T) {
	rec := newRecording(models.RecordingStatusStarting)
	events := []egress.Event{
		{Kind: egress.KindFailed, Seq: 1, Reason: "no workers", At: t0},
		{Kind: egress.KindStarted, Seq: 2, At: t0},
		{Kind: egress.KindStopRequested, At: t0},
		{Kind: egress.KindEnded, Seq: 3, At: t0, Artifact: egress.Artifact{PlaybackURL: "u"}},
		{Kind: egress.KindFailed, Seq: 4, Reason: "again", At: t0},
	}
	var err error
	for _, ev := range events {
		next, terr := Transition(rec, ev)
		if terr == nil {
			rec = next
		}
		err = terr
	}
	assert.Error(t, err)
	assert.Equal(t, models.RecordingStatusFailed, rec.Status)
	assert.Equal(t, "no workers", rec.ErrorMessage)
	assert.Empty(t, rec.PlaybackURL)
}
