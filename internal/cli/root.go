// Package cli implements the replay command: browsing recordings and playing one back with its
// transcript highlighted in step with the media clock.
package cli

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/mediaclock"
	"github.com/echosphere/backend/internal/models"
)

// RecordingSource reads recordings from the API.
type RecordingSource interface {
	Recording(ctx context.Context, id uuid.UUID) (*models.RecordingDetail, error)
	List(ctx context.Context, page, pageSize int) (*models.RecordingPage, error)
	PlaybackURL(ctx context.Context, id uuid.UUID) (string, error)
}

type Dependencies struct {
	Source    RecordingSource
	NewPlayer func() mediaclock.Player
	Clock     mediaclock.Options
	Logger    *zap.Logger
	In        io.Reader
	Out       io.Writer
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	rootCmd := &cobra.Command{
		Use:           "replay",
		Short:         "Browse and replay recorded voice conversations",
		Long:          "Lists recordings and plays one back, highlighting the transcript entry that matches the playhead.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewPlayCmd(deps))

	return rootCmd
}
