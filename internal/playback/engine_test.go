package playback

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosphere/backend/internal/models"
)

func transcript(timestamps ...int64) []models.Message {
	out := make([]models.Message, len(timestamps))
	for i, ts := range timestamps {
		out[i] = models.Message{TimestampMs: ts, Seq: int64(i + 1), Content: "turn"}
	}
	return out
}

func TestActiveIndexConversation(t *testing.T) {
	tr := transcript(0, 4200, 9800)
	cases := []struct {
		pos  int64
		want int
	}{
		{0, 0},
		{4199, 0},
		{4200, 1},
		{9000, 1},
		{9800, 2},
		{15000, 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ActiveIndex(tr, tc.pos), "position %d", tc.pos)
	}
}

func TestActiveIndexNoActiveEntry(t *testing.T) {
	assert.Equal(t, NoIndex, ActiveIndex(nil, 0))
	assert.Equal(t, NoIndex, ActiveIndex([]models.Message{}, 5000))
	assert.Equal(t, NoIndex, ActiveIndex(transcript(1500, 3000), 1499))
	assert.Equal(t, 0, ActiveIndex(transcript(1500, 3000), 1500))
}

func TestActiveIndexEqualTimestampsPickLaterEntry(t *testing.T) {
	tr := transcript(0, 2000, 2000, 2000, 5000)
	assert.Equal(t, 3, ActiveIndex(tr, 2000))
	assert.Equal(t, 3, ActiveIndex(tr, 4999))
	assert.Equal(t, 0, ActiveIndex(tr, 1999))
}

func TestActiveIndexIsMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ts := make([]int64, 50)
	var acc int64
	for i := range ts {
		acc += int64(r.Intn(3000))
		ts[i] = acc
	}
	tr := transcript(ts...)

	prev := NoIndex
	for pos := int64(-100); pos <= acc+1000; pos += 37 {
		got := ActiveIndex(tr, pos)
		require.GreaterOrEqual(t, got, prev, "position %d", pos)
		if got != NoIndex {
			require.LessOrEqual(t, tr[got].TimestampMs, pos)
		}
		prev = got
	}
	assert.Equal(t, len(tr)-1, prev)
}

func TestSeekTargetRoundTrip(t *testing.T) {
	tr := transcript(0, 4200, 9800, 12000, 30500)
	for i, m := range tr {
		assert.Equal(t, m.TimestampMs, SeekTarget(m))
		assert.Equal(t, i, ActiveIndex(tr, SeekTarget(m)))
	}
}

func TestSortTranscriptOrdersByTimestampThenSeq(t *testing.T) {
	tr := []models.Message{
		{TimestampMs: 5000, Seq: 3},
		{TimestampMs: 1000, Seq: 2},
		{TimestampMs: 5000, Seq: 1},
		{TimestampMs: 0, Seq: 4},
	}
	SortTranscript(tr)
	got := make([][2]int64, len(tr))
	for i, m := range tr {
		got[i] = [2]int64{m.TimestampMs, m.Seq}
	}
	assert.Equal(t, [][2]int64{{0, 4}, {1000, 2}, {5000, 1}, {5000, 3}}, got)
}
