// Package main runs the background worker: transcript archiving and presence lease reaping.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-market/backend/config"
	"github.com/aura-market/backend/internal/archive"
	"github.com/aura-market/backend/internal/livestore"
	"github.com/aura-market/backend/internal/presence"
	"github.com/aura-market/backend/internal/worker"
	"github.com/aura-market/backend/pkg/database"
	"github.com/aura-market/backend/pkg/queue"
	"github.com/aura-market/backend/pkg/redis"
	"github.com/aura-market/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Live.StoreDriver != config.StorePostgres {
		logger.Fatal("worker requires STORE=postgres", zap.String("store", cfg.Live.StoreDriver))
	}
	if cfg.Redis.Disabled {
		logger.Fatal("worker requires redis for the change feed and job queue")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		ApplicationName: "live-commerce-worker",
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	store := livestore.NewPostgres(pool, livestore.NewRedisFeed(rdb.Client, logger), logger)
	tracker := presence.NewTracker(store, presence.Config{
		LeaseTTL:          cfg.Live.LeaseTTL,
		HeartbeatInterval: cfg.Live.HeartbeatInterval,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		presence.NewReaper(tracker, cfg.Live.ReapInterval, logger).Run(workerCtx)
	}()

	if cfg.AWS.ArchiveBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		jobQueue := queue.NewQueue(rdb.Client, logger)
		processor := worker.NewArchiveProcessor(archive.NewArchiver(store, s3Client, logger), jobQueue, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Run(workerCtx)
		}()
	} else {
		logger.Warn("AWS_S3_ARCHIVE_BUCKET not set; transcript archiving disabled")
	}
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
