// Package main is the replay CLI: list recordings and play one back with its transcript.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/echosphere/backend/config"
	"github.com/echosphere/backend/internal/cli"
	"github.com/echosphere/backend/internal/mediaclock"
	"github.com/echosphere/backend/internal/playback"
	applog "github.com/echosphere/backend/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Keep the terminal for the transcript; logs go to LOG_FILE when set.
	logger := zap.NewNop()
	if cfg.Log.File != "" {
		logger = applog.New(applog.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		defer logger.Sync()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := &cli.Dependencies{
		Source:    playback.NewClient(cfg.Playback.APIURL, cfg.Playback.Token, logger),
		NewPlayer: func() mediaclock.Player { return mediaclock.NewHLSPlayer(nil, logger) },
		Clock: mediaclock.Options{
			TickInterval:        time.Duration(cfg.Playback.TickMs) * time.Millisecond,
			MaxRecoveryAttempts: cfg.Playback.MaxRecoveryAttempts,
			RecoveryBackoff:     time.Duration(cfg.Playback.RecoveryBackoffMs) * time.Millisecond,
		},
		Logger: logger,
		In:     os.Stdin,
		Out:    os.Stdout,
	}
	return cli.NewRootCmd(deps).ExecuteContext(ctx)
}
