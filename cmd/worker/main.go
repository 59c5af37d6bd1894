// Package main runs the background job worker (gateway events, transcript export).
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/echosphere/backend/config"
	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/internal/realtime"
	"github.com/echosphere/backend/internal/recordings"
	"github.com/echosphere/backend/internal/worker"
	"github.com/echosphere/backend/pkg/database"
	applog "github.com/echosphere/backend/pkg/logger"
	"github.com/echosphere/backend/pkg/queue"
	"github.com/echosphere/backend/pkg/redis"
	"github.com/echosphere/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		applog.New(applog.Options{}).Fatal("load config", zap.Error(err))
	}
	logger := applog.New(applog.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Redis.Addr == "" {
		logger.Fatal("worker requires REDIS_ADDR")
	}
	rdb, err := redis.NewClient(ctx, cfg.Redis.RedisOptions(), logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		Endpoint:             cfg.AWS.Endpoint,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	recordingRepo := recordings.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	gateway := egress.NewClient(egress.ClientConfig{
		URL:             cfg.Egress.URL,
		APIKey:          cfg.Egress.APIKey,
		APISecret:       cfg.Egress.APISecret,
		Bucket:          cfg.AWS.RecordingsBucket,
		SegmentDuration: cfg.Egress.SegmentDuration,
		Width:           cfg.Egress.Width,
		Height:          cfg.Egress.Height,
	}, logger)

	controller := recordings.NewController(recordingRepo, gateway, s3Client, cfg.AWS.RecordingsBucket, logger)
	// Publish-only hub: API instances own the websocket clients.
	hub := realtime.NewHub(logger, realtime.NewRedisPubSub(rdb.Client, logger), nil)
	controller.AddObserver(realtime.NewStatusPublisher(hub, logger))
	controller.AddObserver(worker.NewExportScheduler(jobQueue, logger))

	w := worker.New(jobQueue, logger)
	if err := w.Register(queue.JobTypeGatewayEvent, worker.NewEventProcessor(controller, logger)); err != nil {
		logger.Fatal("worker", zap.Error(err))
	}
	if err := w.Register(queue.JobTypeTranscriptExport, worker.NewExportProcessor(recordingRepo, s3Client, logger)); err != nil {
		logger.Fatal("worker", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("worker", zap.Error(err))
	}
	logger.Info("worker stopped")
}
