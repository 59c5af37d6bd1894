package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/mediaclock"
	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/internal/playback"
)

const playHelp = "commands: n (next), p (previous), <index> (jump), enter/pause/play, q (quit)"

func NewPlayCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <recording-id>",
		Short: "Play a completed recording with its synchronized transcript",
		Long:  "Plays the recording and prints each transcript entry as the playhead reaches it.\n" + playHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid recording id %q", args[0])
			}
			return runPlay(cmd.Context(), deps, id)
		},
	}
	return cmd
}

func runPlay(ctx context.Context, deps *Dependencies, id uuid.UUID) error {
	rec, err := deps.Source.Recording(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.RecordingStatusCompleted {
		return fmt.Errorf("recording %s is %s; only completed recordings can be played", id, rec.Status)
	}
	src, err := deps.Source.PlaybackURL(ctx, id)
	if err != nil {
		if rec.PlaybackURL == "" {
			return err
		}
		deps.Logger.Warn("playback url unavailable, using stored url", zap.Error(err))
		src = rec.PlaybackURL
	}

	clock := mediaclock.New(deps.NewPlayer(), deps.Clock, deps.Logger)
	defer clock.Dispose()

	transcript := rec.Transcript
	sync := playback.NewSynchronizer(transcript, clock, func(i int) {
		if i != playback.NoIndex {
			printEntry(deps.Out, i, transcript[i])
		}
	})
	fmt.Fprintf(deps.Out, "Playing %s (%d transcript entries)\n%s\n", id, len(transcript), playHelp)

	if err := clock.Load(src); err != nil {
		return err
	}
	if err := clock.Play(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := readLines(ctx, deps.In)
	state := mediaclock.StateIdle
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-clock.Updates():
			if !ok {
				return nil
			}
			sync.Observe(u)
			if u.Err != nil {
				return fmt.Errorf("playback failed: %w", u.Err)
			}
			if u.State != state && u.State == mediaclock.StatePaused && u.DurationMs > 0 && u.PositionMs >= u.DurationMs {
				fmt.Fprintf(deps.Out, "[%s] end of recording\n", formatClock(u.PositionMs))
				return nil
			}
			state = u.State
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			quit, err := handleCommand(line, state, clock, sync)
			if err != nil {
				fmt.Fprintln(deps.Out, err)
			}
			if quit {
				return nil
			}
		}
	}
}

type transport interface {
	Play() error
	Pause() error
}

func handleCommand(line string, state mediaclock.State, clock transport, sync *playback.Synchronizer) (quit bool, err error) {
	switch cmd := strings.ToLower(strings.TrimSpace(line)); cmd {
	case "q", "quit":
		return true, nil
	case "n", "next":
		return false, sync.Next()
	case "p", "prev", "previous":
		return false, sync.Previous()
	case "pause":
		return false, clock.Pause()
	case "play":
		return false, clock.Play()
	case "", "space":
		if state == mediaclock.StatePlaying {
			return false, clock.Pause()
		}
		return false, clock.Play()
	default:
		i, convErr := strconv.Atoi(cmd)
		if convErr != nil {
			return false, fmt.Errorf("unknown command %q; %s", cmd, playHelp)
		}
		return false, sync.Select(i)
	}
}

func printEntry(w io.Writer, i int, m models.Message) {
	fmt.Fprintf(w, "[%s] #%d %-9s %s\n", formatClock(m.TimestampMs), i, m.Role, m.Content)
}

// readLines streams lines from r until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	if r == nil {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
