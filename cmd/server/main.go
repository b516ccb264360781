// Package main runs the live commerce HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-market/backend/config"
	"github.com/aura-market/backend/internal/archive"
	"github.com/aura-market/backend/internal/auth"
	"github.com/aura-market/backend/internal/broadcast"
	"github.com/aura-market/backend/internal/chat"
	"github.com/aura-market/backend/internal/engagement"
	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/middleware"
	"github.com/aura-market/backend/internal/models"
	"github.com/aura-market/backend/internal/presence"
	"github.com/aura-market/backend/internal/realtime"
	"github.com/aura-market/backend/internal/sessions"
	"github.com/aura-market/backend/pkg/database"
	"github.com/aura-market/backend/pkg/queue"
	"github.com/aura-market/backend/pkg/redis"
	"github.com/aura-market/backend/pkg/response"
	"github.com/aura-market/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	var (
		store    livestore.Store
		jobQueue *queue.Queue
	)
	switch cfg.Live.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory store; state is lost on restart and not shared between instances")
		store = livestore.NewMemory()
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			ApplicationName: "live-commerce-server",
		}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		if cfg.Redis.Disabled {
			logger.Warn("redis disabled; change notifications stay in this process and transcript archiving is off")
			store = livestore.NewPostgres(pool, livestore.NewLocalFeed(), logger)
			break
		}
		rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		store = livestore.NewPostgres(pool, livestore.NewRedisFeed(rdb.Client, logger), logger)
		jobQueue = queue.NewQueue(rdb.Client, logger)
	}

	var s3Client *storage.S3
	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Live core
	sessionSvc := sessions.NewService(store, cfg.Live.Resync, logger)
	tracker := presence.NewTracker(store, presence.Config{
		LeaseTTL:          cfg.Live.LeaseTTL,
		HeartbeatInterval: cfg.Live.HeartbeatInterval,
		Resync:            cfg.Live.Resync,
	}, logger)
	chatChannel := chat.NewChannel(store, chat.Config{
		MaxMessageLength: cfg.Live.MaxMessageLength,
		Resync:           cfg.Live.Resync,
	}, logger)
	likeCounter := engagement.NewCounter(store, cfg.Live.Resync, logger)
	featured := broadcast.NewService(store, cfg.Live.Resync, logger)
	if jobQueue != nil && s3Client != nil {
		sessionSvc.OnEnded(archive.EnqueueOnEnd(jobQueue, logger))
	}

	hub := realtime.NewHub(realtime.Services{
		Sessions: sessionSvc,
		Presence: tracker,
		Chat:     chatChannel,
		Likes:    likeCounter,
		Featured: featured,
	}, logger)

	sessionHandler := sessions.NewHandler(sessionSvc, tracker, logger)
	presenceHandler := presence.NewHandler(tracker, logger)
	chatHandler := chat.NewHandler(chatChannel, logger)
	likeHandler := engagement.NewHandler(likeCounter, logger)
	featuredHandler := broadcast.NewHandler(featured, logger)

	identify := func(token string) (models.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return models.Identity{}, err
		}
		return claims.Identity(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		seller := middleware.RequireRole(models.RoleSeller)

		// Session registry
		api.POST("/sessions", seller, sessionHandler.Start)
		api.DELETE("/sessions/me", seller, sessionHandler.End)
		api.GET("/sessions/me", seller, sessionHandler.Mine)
		api.GET("/sessions", sessionHandler.ListActive)
		api.GET("/sessions/:id", sessionHandler.GetByID)

		// Broadcast state (owning seller)
		api.PUT("/sessions/:id/featured", seller, featuredHandler.Set)
		api.DELETE("/sessions/:id/featured", seller, featuredHandler.Clear)

		// Presence
		api.POST("/sessions/:id/viewers", presenceHandler.Join)
		api.DELETE("/sessions/:id/viewers/me", presenceHandler.Leave)
		api.POST("/sessions/:id/viewers/me/heartbeat", presenceHandler.Heartbeat)
		api.GET("/sessions/:id/viewers", presenceHandler.List)

		// Chat
		api.POST("/sessions/:id/messages", chatHandler.Send)
		api.GET("/sessions/:id/messages", chatHandler.History)

		// Engagement
		api.POST("/sessions/:id/likes", likeHandler.Like)

		// Transcripts
		if s3Client != nil {
			transcriptHandler := archive.NewHandler(store, s3Client, logger)
			api.GET("/sessions/:id/transcript", seller, transcriptHandler.Transcript)
		}
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, identify))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go presence.NewReaper(tracker, cfg.Live.ReapInterval, logger).Run(bgCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Live.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("websocket shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		config.Level = lvl
	}
	logger, _ := config.Build()
	return logger
}
