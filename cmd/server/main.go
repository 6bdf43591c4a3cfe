// Package main runs the live class platform HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edustream/backend/config"
	"github.com/edustream/backend/internal/auth"
	"github.com/edustream/backend/internal/chat"
	"github.com/edustream/backend/internal/companion"
	"github.com/edustream/backend/internal/ingest"
	"github.com/edustream/backend/internal/media"
	"github.com/edustream/backend/internal/middleware"
	"github.com/edustream/backend/internal/models"
	"github.com/edustream/backend/internal/playback"
	"github.com/edustream/backend/internal/realtime"
	"github.com/edustream/backend/internal/recordings"
	"github.com/edustream/backend/internal/session"
	"github.com/edustream/backend/internal/worker"
	"github.com/edustream/backend/pkg/database"
	"github.com/edustream/backend/pkg/queue"
	"github.com/edustream/backend/pkg/redis"
	"github.com/edustream/backend/pkg/response"
	"github.com/edustream/backend/pkg/storage"
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
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.Ingest.ICEUrls))
	for _, u := range cfg.Ingest.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	// Stores
	sessionStore := session.NewPostgresStore(pool)
	chatRepo := chat.NewRepository(pool)

	// Broadcast pipeline: capture -> WHIP ingest. The synthetic device stands
	// in when no hardware capture is attached to this process.
	captureAdapter := media.NewAdapter(&media.SyntheticDevice{}, logger)
	whip := ingest.NewWHIPTransport(nil, iceServers, logger)
	ingestClient := ingest.NewClient(whip, logger)
	playbackClient := playback.NewClient([]playback.Engine{playback.NativeEngine{}}, nil, logger)

	controller := session.NewController(sessionStore, chatRepo, captureAdapter, ingestClient, playbackClient, session.ControllerConfig{
		PlaybackURLTemplate: cfg.Playback.PlaybackURLTemplate,
		CompanionOptions: []companion.Option{
			companion.WithIntervals(
				time.Duration(cfg.Companion.ChatIntervalSec)*time.Second,
				time.Duration(cfg.Companion.AttendanceIntervalSec)*time.Second,
			),
		},
	}, logger)

	sessionHandler := session.NewHandler(controller)
	chatHandler := chat.NewHandler(controller)

	// Recordings
	recordingRepo := recordings.NewRepository(pool)
	recordingHandler := recordings.NewHandler(recordingRepo, sessionStore, s3Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordingWebhook := recordings.NewWebhookHandler(recordingRepo, jobQueue, logger)
	recordingProcessor := worker.NewRecordingProcessor(recordingRepo, s3Client, jobQueue, logger)

	// After a session ends: notify viewers and, when auto-record is on, hand
	// the origin archive to the upload worker.
	controller.OnEnded(func(ctx context.Context, s *models.LiveSession) {
		hub.BroadcastToSessionAndPublish(s.ID, "session_ended", gin.H{
			"session_id":       s.ID,
			"duration_seconds": int(s.Duration().Seconds()),
		})
		if !s.Settings.AutoRecord {
			return
		}
		rec := &models.Recording{
			SessionID: s.ID,
			OriginURL: s.PlaybackURL,
			Status:    models.RecordingStatusProcessing,
		}
		if err := recordingRepo.Create(ctx, rec); err != nil {
			logger.Error("create recording row failed", zap.Error(err), zap.String("session_id", s.ID.String()))
			return
		}
		if s.Settings.RecordToS3 && s3Client != nil {
			if err := jobQueue.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
				RecordingID: rec.ID,
				SessionID:   s.ID,
				OriginURL:   rec.OriginURL,
			}); err != nil {
				logger.Error("enqueue recording upload failed", zap.Error(err), zap.String("session_id", s.ID.String()))
			}
		}
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Ingest edge auth (no user JWT; the edge presents the stream key)
	router.POST("/ingest/auth", sessionHandler.AuthorizeIngest)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", middleware.RequireRole("instructor", "admin"), sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.POST("/sessions/:id/start", middleware.RequireRole("instructor", "admin"), sessionHandler.Start)
		api.POST("/sessions/:id/end", middleware.RequireRole("instructor", "admin"), sessionHandler.End)
		api.POST("/sessions/:id/cancel", middleware.RequireRole("instructor", "admin"), sessionHandler.Cancel)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)
		api.GET("/sessions/:id/attendance", middleware.RequireRole("instructor", "admin"), sessionHandler.GetAttendance)

		// Chat
		api.POST("/sessions/:id/chat", chatHandler.Send)
		api.GET("/sessions/:id/chat", chatHandler.List)

		// Recordings
		api.GET("/sessions/:id/recordings", recordingHandler.ListBySession)
		api.GET("/recordings/:id/download-url", recordingHandler.GenerateDownloadURL)
	}

	// Webhooks (no JWT; the origin calls back when an archive is written)
	router.POST("/webhooks/archive-ready", recordingWebhook.ArchiveReady)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService, controller))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (recording upload to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		go recordingProcessor.Run(workerCtx)
		logger.Info("recording worker started")
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
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
