// Package main runs the recording API server with the live status feed and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/echosphere/backend/config"
	"github.com/echosphere/backend/internal/auth"
	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/internal/middleware"
	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/internal/realtime"
	"github.com/echosphere/backend/internal/recordings"
	"github.com/echosphere/backend/internal/sessions"
	"github.com/echosphere/backend/internal/worker"
	"github.com/echosphere/backend/pkg/database"
	applog "github.com/echosphere/backend/pkg/logger"
	"github.com/echosphere/backend/pkg/queue"
	"github.com/echosphere/backend/pkg/redis"
	"github.com/echosphere/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.RedisOptions(), logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Warn("redis disabled: webhooks apply inline, live feed is local to this instance")
	}

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		Endpoint:             cfg.AWS.Endpoint,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Live status feed
	var hub *realtime.Hub
	var jobQueue *queue.Queue
	if rdb != nil {
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub, redisPubSub)
		jobQueue = queue.NewQueue(rdb.Client, logger)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionHandler := sessions.NewHandler(sessionRepo, logger)

	// Recordings
	recordingRepo := recordings.NewRepository(pool)
	gateway := egress.NewClient(egress.ClientConfig{
		URL:             cfg.Egress.URL,
		APIKey:          cfg.Egress.APIKey,
		APISecret:       cfg.Egress.APISecret,
		Bucket:          cfg.AWS.RecordingsBucket,
		SegmentDuration: cfg.Egress.SegmentDuration,
		Width:           cfg.Egress.Width,
		Height:          cfg.Egress.Height,
	}, logger)
	var artifacts recordings.ArtifactResolver
	var presign recordings.Presigner
	if s3Client != nil {
		artifacts = s3Client
		presign = s3Client
	}
	controller := recordings.NewController(recordingRepo, gateway, artifacts, cfg.AWS.RecordingsBucket, logger)
	controller.AddObserver(realtime.NewStatusPublisher(hub, logger))
	recordingHandler := recordings.NewHandler(controller, recordingRepo, sessionRepo, presign, logger)

	var sink recordings.EventSink = recordings.InlineSink{Controller: controller}
	var jobWorker *worker.Worker
	if jobQueue != nil {
		sink = recordings.QueueSink{Queue: jobQueue}
		controller.AddObserver(worker.NewExportScheduler(jobQueue, logger))
		jobWorker = worker.New(jobQueue, logger)
		if err := jobWorker.Register(queue.JobTypeGatewayEvent, worker.NewEventProcessor(controller, logger)); err != nil {
			logger.Fatal("worker", zap.Error(err))
		}
		if s3Client != nil {
			if err := jobWorker.Register(queue.JobTypeTranscriptExport, worker.NewExportProcessor(recordingRepo, s3Client, logger)); err != nil {
				logger.Fatal("worker", zap.Error(err))
			}
		}
	}
	recordingWebhook := recordings.NewWebhookHandler(cfg.Egress.WebhookSecret, sink, logger)

	validateToken := func(token string) (uuid.UUID, models.Role, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.GET("/me", middleware.JWT(jwtService), authHandler.Me)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.PATCH("/sessions/:id", sessionHandler.UpdateStatus)

		// Recording lifecycle
		api.POST("/sessions/:id/recording/start", recordingHandler.Start)
		api.POST("/recordings/:id/stop", recordingHandler.Stop)
		api.POST("/recordings/:id/messages", recordingHandler.AppendMessage)

		// Playback data
		api.GET("/sessions/:id/recordings", recordingHandler.ListBySession)
		api.GET("/recordings", recordingHandler.ListMine)
		api.GET("/recordings/:id", recordingHandler.Get)
		api.GET("/recordings/:id/playback-url", recordingHandler.PlaybackURL)
		api.GET("/admin/recordings", middleware.RequireRole(models.RoleAdmin), recordingHandler.ListAll)
	}

	// Webhooks (no JWT; the gateway signs the body)
	router.POST("/webhooks/egress", recordingWebhook.Egress)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, sessionRepo, validateToken, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if jobWorker != nil {
		g.Go(func() error { return jobWorker.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("server", zap.Error(err))
	}
	logger.Info("server stopped")
}
