package egress

import (
	"strings"
	"time"
)

// Kind is a normalized gateway lifecycle event.
type Kind string

const (
	KindStarted       Kind = "started"
	KindStopRequested Kind = "stop_requested"
	KindEnded         Kind = "ended"
	KindFailed        Kind = "failed"
)

var kindAliases = map[string]Kind{
	"started":        KindStarted,
	"egress_started": KindStarted,
	"active":         KindStarted,
	"stop_requested": KindStopRequested,
	"ending":         KindStopRequested,
	"egress_ending":  KindStopRequested,
	"ended":          KindEnded,
	"egress_ended":   KindEnded,
	"complete":       KindEnded,
	"completed":      KindEnded,
	"failed":         KindFailed,
	"egress_failed":  KindFailed,
	"aborted":        KindFailed,
	"limit_reached":  KindFailed,
}

// ParseKind maps a gateway event name (case-insensitive, aliases included) to a Kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// Artifact describes the stored output of a finished job.
// PlaybackURL is derived by the recording controller, never taken from the gateway.
type Artifact struct {
	Bucket          string `json:"bucket,omitempty"`
	Path            string `json:"path,omitempty"`
	PlaybackURL     string `json:"playback_url,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	FileSizeBytes   *int64 `json:"file_size_bytes,omitempty"`
}

// Event is one lifecycle notification for an egress job.
// Seq is the gateway's per-job ordinal; zero means unordered (locally originated).
type Event struct {
	JobID    string    `json:"job_id"`
	Kind     Kind      `json:"kind"`
	Seq      int64     `json:"seq"`
	At       time.Time `json:"at"`
	Artifact Artifact  `json:"artifact"`
	Reason   string    `json:"reason,omitempty"`
}
