package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/snaplink/snaplink/internal/analytics"
	"github.com/snaplink/snaplink/internal/config"
	"github.com/snaplink/snaplink/internal/infra"
	"github.com/snaplink/snaplink/internal/observability"
	"github.com/snaplink/snaplink/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewPostgresPool(ctx, cfg.Database.ConnectionString())
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	queueConn, queueChannel, err := infra.NewQueueConnection(cfg.Queue.ConnectionString(), cfg.Queue.QueueName)
	if err != nil {
		logger.Error("failed to connect to queue", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer queueConn.Close()
	defer queueChannel.Close()

	links := repository.NewLinkRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	consumer := analytics.NewConsumer(queueChannel, cfg.Queue.QueueName, analyticsRepo, links, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})

	logger.Info("analytics worker started", slog.String("queue", cfg.Queue.QueueName))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("analytics worker exited gracefully")
}
