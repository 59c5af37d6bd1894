// Package mediaclock wraps a streaming media player behind a normalized state machine and a
// periodic position clock. Recoverable player errors are retried in place; fatal ones are
// surfaced once and end the playback attempt.
package mediaclock

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// State is the normalized player state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// ErrorKind classifies player failures.
type ErrorKind string

const (
	KindNetwork              ErrorKind = "network"
	KindMedia                ErrorKind = "media"
	KindUnsupportedFormat    ErrorKind = "unsupported_format"
	KindDecode               ErrorKind = "decode"
	KindNoCompatiblePlayback ErrorKind = "no_compatible_playback"
)

// Recoverable reports whether the adapter should attempt in-place recovery.
func (k ErrorKind) Recoverable() bool {
	return k == KindNetwork || k == KindMedia
}

var ErrDisposed = errors.New("media clock disposed")

// PlaybackError is a classified player failure. Escalated is set when a recoverable error
// became fatal because recovery attempts ran out.
type PlaybackError struct {
	Kind      ErrorKind
	Err       error
	Escalated bool
}

func (e *PlaybackError) Error() string {
	if e.Escalated {
		return fmt.Sprintf("%s (recovery exhausted): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Fatal reports whether the error ends the playback attempt.
func (e *PlaybackError) Fatal() bool {
	return e.Escalated || !e.Kind.Recoverable()
}

// NewError wraps err with kind.
func NewError(kind ErrorKind, err error) *PlaybackError {
	return &PlaybackError{Kind: kind, Err: err}
}

// Classify returns the error kind for err. Transport errors count as network failures;
// anything unrecognized is treated as a decode failure.
func Classify(err error) ErrorKind {
	var pe *PlaybackError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindDecode
}

// Update is one normalized observation of the player. Generation is the seek generation the
// reported position reflects; Err is set only on the single update that enters StateError.
type Update struct {
	State      State
	PositionMs int64
	DurationMs int64
	Generation uint64
	Err        *PlaybackError
}

// Player is the native streaming player driven by the Adapter. All methods are called from
// the adapter's loop goroutine; Errors may deliver asynchronous failures from any goroutine.
type Player interface {
	Load(ctx context.Context, url string) (durationMs int64, err error)
	Play() error
	Pause() error
	Seek(positionMs int64) error
	Position() int64
	// RecoverNetwork reloads the segment under the playhead.
	RecoverNetwork(ctx context.Context) error
	// RecoverMedia restarts decoding at the current position.
	RecoverMedia(ctx context.Context) error
	Errors() <-chan error
	Close() error
}
