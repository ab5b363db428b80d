package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pulseboard/internal/config"
	"pulseboard/internal/db"
	"pulseboard/internal/logging"
	"pulseboard/internal/oauth"
	"pulseboard/internal/provider"
	"pulseboard/internal/slack"
	"pulseboard/internal/storage"
	"pulseboard/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_worker", "service", "pulseboard-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// postgres with retry; the worker often races the db container on boot
	var dbConn *db.DB
	for i := 0; i < 5; i++ {
		dbConn, err = db.New(ctx, cfg.DBDSN)
		if err == nil {
			break
		}
		logger.Warn("db_connect_retry", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := dbConn.EnsureSchema(ctx); err != nil {
		logger.Error("schema_apply_failed", "error", err)
		os.Exit(1)
	}

	var avatarStore storage.AvatarStore
	if cfg.S3Bucket != "" {
		s3Client, err := storage.NewS3Client(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			PublicURL: cfg.S3PublicURL,
			Region:    cfg.S3Region,
		})
		if err != nil {
			logger.Warn("s3_init_failed", "error", err)
		} else {
			avatarStore = s3Client
			logger.Info("using_s3_storage", "bucket", cfg.S3Bucket)
		}
	}
	if avatarStore == nil {
		avatarStore = storage.NewSimulator(cfg.S3Bucket, cfg.S3Endpoint)
		logger.Info("using_storage_simulator")
	}

	tokenStore := oauth.NewStore(dbConn, cfg.EncryptionKey)
	writer := db.NewBatchWriter(dbConn, logger)
	slackCaller := provider.NewCaller("slack", nil, logger, 1, 3)

	slackSync := syncer.New(syncer.NewPGStore(dbConn, writer), tokenStore, func(token string) syncer.SlackAPI {
		return slack.NewClient(token, slackCaller)
	}, logger)

	avatarJob := storage.NewAvatarRetryJob(logger, dbConn, avatarStore)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		slackSync.Run(ctx, time.Duration(cfg.SyncIntervalMinutes)*time.Minute)
	}()
	go func() {
		defer wg.Done()
		avatarJob.Start(ctx)
	}()

	logger.Info("worker_started", "sync_interval_minutes", cfg.SyncIntervalMinutes)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")
	cancel()
	wg.Wait()

	dbConn.Close()
	logger.Info("worker_stopped")
}
