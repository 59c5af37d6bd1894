package mediaclock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTickInterval        = 250 * time.Millisecond
	DefaultMaxRecoveryAttempts = 3
	DefaultRecoveryBackoff     = time.Second

	updateBuffer = 32
)

// Options tunes the tick loop and recovery policy.
type Options struct {
	TickInterval        time.Duration
	MaxRecoveryAttempts int
	// RecoveryBackoff is multiplied by the attempt number for each recovery delay.
	RecoveryBackoff time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TickInterval:        DefaultTickInterval,
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		RecoveryBackoff:     DefaultRecoveryBackoff,
	}
}

type commandKind int

const (
	cmdLoad commandKind = iota
	cmdPlay
	cmdPause
	cmdSeek
)

type command struct {
	kind commandKind
	url  string
	pos  int64
	gen  uint64
}

// Adapter drives a Player from a single loop goroutine and publishes normalized Updates:
// one on every state change or applied seek, plus a position tick every TickInterval while
// media is loaded. Ticks are dropped when the consumer lags; state changes are not.
type Adapter struct {
	player Player
	opts   Options
	logger *zap.Logger

	cmds    chan command
	updates chan Update
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	seekGen atomic.Uint64
	dispose sync.Once

	// owned by the loop goroutine
	state        State
	source       string
	durationMs   int64
	appliedGen   uint64
	autoplay     bool
	deferredSeek *command
	attempts     int
	pending      *PlaybackError
	recovery     *time.Timer
	recoveryC    <-chan time.Time
}

// New starts an adapter around player. The adapter owns the player from here on and closes
// it in Dispose.
func New(player Player, opts Options, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.MaxRecoveryAttempts < 0 {
		opts.MaxRecoveryAttempts = 0
	}
	if opts.RecoveryBackoff < 0 {
		opts.RecoveryBackoff = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		player:  player,
		opts:    opts,
		logger:  logger,
		cmds:    make(chan command, 16),
		updates: make(chan Update, updateBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		state:   StateIdle,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Updates returns the update stream. It is closed by Dispose.
func (a *Adapter) Updates() <-chan Update { return a.updates }

// Load starts loading url. Only an idle adapter accepts a source.
func (a *Adapter) Load(url string) error {
	return a.send(command{kind: cmdLoad, url: url})
}

// Play starts or resumes playback. Requested while loading, playback starts once ready.
func (a *Adapter) Play() error { return a.send(command{kind: cmdPlay}) }

// Pause pauses playback.
func (a *Adapter) Pause() error { return a.send(command{kind: cmdPause}) }

// SeekTo requests a seek and returns its generation without waiting for it to apply.
// Updates carrying a Generation lower than the returned value predate the seek.
func (a *Adapter) SeekTo(positionMs int64) uint64 {
	gen := a.seekGen.Add(1)
	if err := a.send(command{kind: cmdSeek, pos: positionMs, gen: gen}); err != nil {
		a.logger.Debug("seek after dispose ignored", zap.Int64("position_ms", positionMs))
	}
	return gen
}

// Dispose stops the tick loop and any pending recovery timer, closes the player and the
// update stream. It returns after the loop goroutine has exited and is safe to call twice.
func (a *Adapter) Dispose() error {
	var err error
	a.dispose.Do(func() {
		close(a.done)
		a.cancel()
		a.wg.Wait()
		err = a.player.Close()
		close(a.updates)
	})
	return err
}

func (a *Adapter) send(c command) error {
	select {
	case <-a.done:
		return ErrDisposed
	default:
	}
	select {
	case <-a.done:
		return ErrDisposed
	case a.cmds <- c:
		return nil
	}
}

func (a *Adapter) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.opts.TickInterval)
	defer ticker.Stop()
	defer a.stopRecovery()

	errs := a.player.Errors()
	for {
		select {
		case <-a.done:
			return
		case c := <-a.cmds:
			a.handle(c)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.fail(err)
		case <-ticker.C:
			a.tick()
		case <-a.recoveryC:
			a.recoveryC = nil
			a.recover()
		}
	}
}

func (a *Adapter) handle(c command) {
	if a.state == StateError {
		if c.kind == cmdSeek {
			a.appliedGen = c.gen
		}
		return
	}
	switch c.kind {
	case cmdLoad:
		if a.state != StateIdle {
			a.logger.Warn("load ignored", zap.String("state", string(a.state)))
			return
		}
		a.source = c.url
		a.setState(StateLoading)
		a.load()
	case cmdPlay:
		switch a.state {
		case StateIdle, StateLoading:
			a.autoplay = true
		case StateReady, StatePaused:
			a.play()
		}
	case cmdPause:
		switch a.state {
		case StateIdle, StateLoading:
			a.autoplay = false
		case StatePlaying:
			if err := a.player.Pause(); err != nil {
				a.fail(err)
				return
			}
			a.setState(StatePaused)
		}
	case cmdSeek:
		switch a.state {
		case StateIdle:
			a.appliedGen = c.gen
		case StateLoading:
			a.deferredSeek = &c
		default:
			a.seek(c)
		}
	}
}

func (a *Adapter) load() {
	dur, err := a.player.Load(a.ctx, a.source)
	if err != nil {
		if a.ctx.Err() != nil {
			return
		}
		a.fail(err)
		return
	}
	a.durationMs = dur
	a.attempts = 0
	a.setState(StateReady)
	if c := a.deferredSeek; c != nil {
		a.deferredSeek = nil
		a.seek(*c)
	}
	if a.autoplay && a.state == StateReady {
		a.play()
	}
}

func (a *Adapter) play() {
	if err := a.player.Play(); err != nil {
		a.fail(err)
		return
	}
	a.setState(StatePlaying)
}

func (a *Adapter) seek(c command) {
	pos := c.pos
	if pos < 0 {
		pos = 0
	}
	if a.durationMs > 0 && pos > a.durationMs {
		pos = a.durationMs
	}
	a.appliedGen = c.gen
	if err := a.player.Seek(pos); err != nil {
		a.fail(err)
		return
	}
	a.emit(a.snapshot(), true)
}

func (a *Adapter) tick() {
	switch a.state {
	case StateReady, StatePaused:
		a.emit(a.snapshot(), false)
	case StatePlaying:
		u := a.snapshot()
		if a.durationMs > 0 && u.PositionMs >= a.durationMs {
			if err := a.player.Pause(); err != nil {
				a.fail(err)
				return
			}
			a.setState(StatePaused)
			return
		}
		a.emit(u, false)
	}
}

// fail classifies err and either schedules recovery or moves to StateError. Errors arriving
// while a recovery is already scheduled belong to the same incident and are dropped.
func (a *Adapter) fail(err error) {
	if a.state == StateError || a.ctx.Err() != nil {
		return
	}
	kind := Classify(err)
	pe := &PlaybackError{Kind: kind, Err: err}
	var existing *PlaybackError
	if errors.As(err, &existing) {
		pe.Err = existing.Err
	}
	if !kind.Recoverable() {
		a.fatal(pe)
		return
	}
	if a.recoveryC != nil {
		return
	}
	if a.attempts >= a.opts.MaxRecoveryAttempts {
		pe.Escalated = true
		a.fatal(pe)
		return
	}
	a.attempts++
	a.pending = pe
	delay := a.opts.RecoveryBackoff * time.Duration(a.attempts)
	a.recovery = time.NewTimer(delay)
	a.recoveryC = a.recovery.C
	a.logger.Warn("playback error, recovering",
		zap.String("kind", string(kind)),
		zap.Int("attempt", a.attempts),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
}

func (a *Adapter) recover() {
	pe := a.pending
	a.pending = nil
	a.recovery = nil
	if pe == nil {
		return
	}
	if a.state == StateLoading {
		a.load()
		return
	}
	var err error
	switch pe.Kind {
	case KindMedia:
		err = a.player.RecoverMedia(a.ctx)
	default:
		err = a.player.RecoverNetwork(a.ctx)
	}
	if err != nil {
		a.fail(err)
		return
	}
	a.logger.Info("playback recovered", zap.String("kind", string(pe.Kind)), zap.Int("attempts", a.attempts))
	a.attempts = 0
}

func (a *Adapter) fatal(pe *PlaybackError) {
	a.stopRecovery()
	a.state = StateError
	u := a.snapshot()
	u.Err = pe
	a.logger.Error("playback failed", zap.String("kind", string(pe.Kind)), zap.Bool("escalated", pe.Escalated), zap.Error(pe.Err))
	a.emit(u, true)
}

func (a *Adapter) stopRecovery() {
	if a.recovery != nil {
		a.recovery.Stop()
		a.recovery = nil
	}
	a.recoveryC = nil
	a.pending = nil
}

func (a *Adapter) setState(s State) {
	a.state = s
	a.emit(a.snapshot(), true)
}

func (a *Adapter) snapshot() Update {
	u := Update{State: a.state, DurationMs: a.durationMs, Generation: a.appliedGen}
	switch a.state {
	case StateReady, StatePlaying, StatePaused:
		u.PositionMs = a.player.Position()
		if a.durationMs > 0 && u.PositionMs > a.durationMs {
			u.PositionMs = a.durationMs
		}
	}
	return u
}

func (a *Adapter) emit(u Update, mustDeliver bool) {
	if !mustDeliver {
		select {
		case a.updates <- u:
		default:
		}
		return
	}
	select {
	case a.updates <- u:
	case <-a.done:
	}
}
