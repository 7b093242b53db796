// Package main runs the meet recording coordinator HTTP server with graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/OpenVidu/openvidu-meet-sub009/config"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/apikeys"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/events"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/lock"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/middleware"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/pipeline"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/recording"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/rooms"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/scheduler"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/webhook"
	"github.com/OpenVidu/openvidu-meet-sub009/internal/worker"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/database"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/queue"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/redis"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/response"
	"github.com/OpenVidu/openvidu-meet-sub009/pkg/storage"
)

const (
	roomLockPrefix = "meet:lock:room:"
	jobLockPrefix  = "meet:lock:job:"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArtifactsBucket:      cfg.AWS.ArtifactsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	lockStore := lock.NewRedisStore(rdb.Client)
	roomLocks := lock.NewManager(lockStore, roomLockPrefix, logger)
	jobLocks := lock.NewManager(lockStore, jobLockPrefix, logger)

	// API keys: the oldest provisioned key signs every outbound webhook.
	keyRepo := apikeys.NewRepository(pool, logger)
	if err := keyRepo.EnsureProvisioned(ctx, cfg.Webhook.InitialAPIKey); err != nil {
		logger.Fatal("provision api key", zap.Error(err))
	}

	// Webhook settings, cached per instance with Redis pub/sub invalidation.
	bus := events.NewRedisBus(rdb.Client, logger)
	settings := webhook.NewSettings(webhook.NewSettingsRepo(pool), bus, logger)
	if err := settings.Start(); err != nil {
		logger.Fatal("webhook settings subscription", zap.Error(err))
	}
	notifier := webhook.NewNotifier(settings, keyRepo, logger)

	pipelineClient := pipeline.NewClient(cfg.Pipeline.BaseURL, cfg.Pipeline.Secret, cfg.Pipeline.RequestTimeout, logger)
	roomRepo := rooms.NewRepository(pool)
	recStore := recording.NewPostgresStore(pool)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	sched := scheduler.New(jobLocks, logger)

	coordinator := recording.NewCoordinator(
		recStore, roomLocks, pipelineClient, sched, notifier, roomRepo,
		worker.JobEnqueuer{Queue: jobQueue},
		recording.Options{
			LockTTL:           cfg.Recording.LockTTL,
			StartTimeout:      cfg.Recording.StartTimeout,
			AcquireAttempts:   cfg.Recording.AcquireAttempts,
			AcquireRetryDelay: cfg.Recording.AcquireRetryDelay,
		},
		logger,
	)

	// Recurring jobs. Each tick is deduplicated across instances through a
	// shared job lock whose TTL sits just under the tick interval.
	gc := scheduler.NewGC(roomLocks, roomRepo, pipelineClient, logger)
	if err := sched.RegisterCron("gc-room-locks", cfg.Jobs.GCSpec, cfg.Jobs.GCDedupTTL, gc.Run); err != nil {
		logger.Fatal("register gc job", zap.Error(err))
	}
	sweep := scheduler.NewTimeoutSweep(recStore, coordinator, logger)
	sweepSpec := fmt.Sprintf("@every %s", cfg.Jobs.TimeoutSweepInterval)
	if err := sched.RegisterCron("sweep-start-timeouts", sweepSpec, cfg.Jobs.TimeoutSweepInterval*5/6, sweep.Run); err != nil {
		logger.Fatal("register timeout sweep", zap.Error(err))
	}
	sched.Start()

	var artifactStore recording.ArtifactStore
	if s3Client != nil {
		artifactStore = s3Client
	}
	recordingHandler := recording.NewHandler(coordinator, recStore, artifactStore, logger)
	webhookHandler := webhook.NewHandler(settings, notifier, logger)
	pipelineHandler := pipeline.NewHandler(coordinator, roomRepo, notifier, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	{
		api.POST("/rooms/:roomId/recordings", recordingHandler.Start)
		api.GET("/rooms/:roomId/recordings", recordingHandler.ListByRoom)
		api.POST("/recordings/:recordingId/stop", recordingHandler.Stop)
		api.GET("/recordings/:recordingId", recordingHandler.Get)
		api.GET("/recordings/:recordingId/download-url", recordingHandler.DownloadURL)
		api.DELETE("/recordings/:recordingId", recordingHandler.Delete)

		api.GET("/config/webhooks", webhookHandler.Get)
		api.PUT("/config/webhooks", webhookHandler.Update)
		api.POST("/config/webhooks/test", webhookHandler.Test)
	}

	// Pipeline callbacks may land on any instance; every transition is
	// re-derived from the shared stores, never from local context.
	router.POST("/internal/pipeline/events", pipelineHandler.Events)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (artifact metadata collection)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		processor := worker.NewArtifactProcessor(recStore, s3Client, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("artifact worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	sched.Stop()
	settings.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// give in-flight webhook deliveries a bounded window to finish
	if err := notifier.Close(shutdownCtx); err != nil {
		logger.Warn("webhook notifier shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
