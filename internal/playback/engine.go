// Package playback maps a media clock position to the active transcript entry and
// transcript selections back to seek targets.
package playback

import (
	"sort"

	"github.com/echosphere/backend/internal/models"
)

// NoIndex means no transcript entry is active.
const NoIndex = -1

// ActiveIndex returns the index of the last message with TimestampMs <= positionMs, or NoIndex
// when the transcript is empty or positionMs precedes the first message. transcript must be
// ordered by (TimestampMs, Seq); among equal timestamps the later-inserted entry wins.
func ActiveIndex(transcript []models.Message, positionMs int64) int {
	return sort.Search(len(transcript), func(i int) bool {
		return transcript[i].TimestampMs > positionMs
	}) - 1
}

// SeekTarget returns the media position that selecting m should seek to.
func SeekTarget(m models.Message) int64 {
	return m.TimestampMs
}

// SortTranscript orders messages by (TimestampMs, Seq) in place.
func SortTranscript(transcript []models.Message) {
	sort.SliceStable(transcript, func(i, j int) bool {
		if transcript[i].TimestampMs != transcript[j].TimestampMs {
			return transcript[i].TimestampMs < transcript[j].TimestampMs
		}
		return transcript[i].Seq < transcript[j].Seq
	})
}
