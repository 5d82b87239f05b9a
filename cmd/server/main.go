package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snaplink/snaplink/internal/config"
	"github.com/snaplink/snaplink/internal/infra"
	"github.com/snaplink/snaplink/internal/observability"
	"github.com/snaplink/snaplink/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  "snaplink-gateway",
		Environment:  cfg.Server.Environment,
		OTLPEndpoint: cfg.App.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("Failed to set up observability: %v", err)
	}
	logger := obs.Logger

	db, err := infra.NewPostgresPool(ctx, cfg.Database.ConnectionString())
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	cacheClient, err := infra.NewCacheClient(ctx, cfg.Cache.ConnectionString())
	if err != nil {
		logger.Error("failed to connect to cache", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cacheClient.Close()

	// The queue is optional at startup: without it the gateway still
	// serves links, just without click events.
	queueConn, queueChannel, err := infra.NewQueueConnection(cfg.Queue.ConnectionString(), cfg.Queue.QueueName)
	if err != nil {
		logger.Warn("queue unavailable, click events disabled", slog.String("error", err.Error()))
	} else {
		defer queueConn.Close()
		defer queueChannel.Close()
	}

	router, producer, err := server.NewRouter(ctx, cfg, db, cacheClient, queueChannel, obs)
	if err != nil {
		logger.Error("failed to wire the server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	srv := server.NewServer(router, cfg.Server.Port)

	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Server.Port),
			slog.String("base_url", cfg.App.BaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	if producer != nil {
		producer.Close()
	}
	obs.Shutdown(shutdownCtx)

	logger.Info("server exited gracefully")
}
