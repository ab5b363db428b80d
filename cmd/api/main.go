package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulseboard/internal/api"
	"pulseboard/internal/assistant"
	"pulseboard/internal/auth"
	"pulseboard/internal/config"
	"pulseboard/internal/db"
	"pulseboard/internal/logging"
	"pulseboard/internal/oauth"
	"pulseboard/internal/provider"
	"pulseboard/internal/redis"
	"pulseboard/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_api", "service", "pulseboard-api", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := dbConn.EnsureSchema(ctx); err != nil {
		logger.Error("schema_apply_failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	sessions := auth.NewTokenEngine(cfg.JWTSecret, 24*time.Hour)
	tokenStore := oauth.NewStore(dbConn, cfg.EncryptionKey)
	states := oauth.NewStateStore(redisClient)
	oauthManager := oauth.NewManager(oauth.Providers(cfg), states, tokenStore, nil, logger)

	taskRepo := tasks.NewRepo(dbConn)
	asst := assistant.New(cfg.OpenAIKey, provider.NewCaller("openai", nil, logger, 2, 2))

	srv := api.NewServer(logger, dbConn, redisClient, cfg, sessions, oauthManager, tokenStore, taskRepo, asst)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("api_started", "addr", cfg.HTTPAddr)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	} else {
		logger.Info("http_server_stopped")
	}

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis_close_error", "error", err)
	} else {
		logger.Info("redis_closed")
	}

	dbConn.Close()
	logger.Info("db_closed")

	logger.Info("api_stopped")
}
