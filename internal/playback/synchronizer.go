package playback

import (
	"fmt"

	"github.com/echosphere/backend/internal/mediaclock"
	"github.com/echosphere/backend/internal/models"
)

// Seeker issues fire-and-forget seeks and returns the seek generation.
type Seeker interface {
	SeekTo(positionMs int64) uint64
}

// Synchronizer keeps the active transcript index in step with the media clock. It is not
// safe for concurrent use; drive it from the goroutine that consumes clock updates.
type Synchronizer struct {
	transcript []models.Message
	seeker     Seeker
	onChange   func(index int)

	index      int
	pendingGen uint64
	positionMs int64
}

// NewSynchronizer binds transcript, which must be ordered by (TimestampMs, Seq), to seeker.
// onChange is called with the new index whenever it changes; it may be nil.
func NewSynchronizer(transcript []models.Message, seeker Seeker, onChange func(index int)) *Synchronizer {
	return &Synchronizer{transcript: transcript, seeker: seeker, onChange: onChange, index: NoIndex}
}

// Observe applies one clock update. Updates produced before the latest Select's seek took
// effect are ignored so the highlight does not jump back to the pre-seek position.
func (s *Synchronizer) Observe(u mediaclock.Update) {
	if u.Generation < s.pendingGen {
		return
	}
	switch u.State {
	case mediaclock.StateReady, mediaclock.StatePlaying, mediaclock.StatePaused:
	default:
		return
	}
	s.positionMs = u.PositionMs
	s.setIndex(ActiveIndex(s.transcript, u.PositionMs))
}

// Select seeks the media to message i. The index itself follows once the clock reports the
// new position.
func (s *Synchronizer) Select(i int) error {
	if i < 0 || i >= len(s.transcript) {
		return fmt.Errorf("transcript index %d out of range [0,%d)", i, len(s.transcript))
	}
	s.pendingGen = s.seeker.SeekTo(SeekTarget(s.transcript[i]))
	return nil
}

// Next selects the entry after the active one, or the first entry when none is active.
func (s *Synchronizer) Next() error {
	return s.Select(s.index + 1)
}

// Previous selects the last entry timed strictly before the active one, skipping entries that
// share its timestamp: seeking to a shared timestamp would land on the active entry again.
func (s *Synchronizer) Previous() error {
	if s.index <= 0 {
		return s.Select(0)
	}
	prev := ActiveIndex(s.transcript, s.transcript[s.index].TimestampMs-1)
	if prev == NoIndex {
		return s.Select(0)
	}
	return s.Select(prev)
}

// Index returns the active transcript index or NoIndex.
func (s *Synchronizer) Index() int { return s.index }

// PositionMs returns the last accepted clock position.
func (s *Synchronizer) PositionMs() int64 { return s.positionMs }

// Transcript returns the bound transcript.
func (s *Synchronizer) Transcript() []models.Message { return s.transcript }

func (s *Synchronizer) setIndex(i int) {
	if i == s.index {
		return
	}
	s.index = i
	if s.onChange != nil {
		s.onChange(i)
	}
}
