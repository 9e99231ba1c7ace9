package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/herald-one/herald/internal/bus"
	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/metrics"
	"github.com/herald-one/herald/internal/publisher"
	"github.com/herald-one/herald/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	logger.Info("starting outbox publisher",
		"env", cfg.App.Env,
		"worker_id", cfg.WorkerID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	producer := bus.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	m := metrics.New()

	pub := publisher.New(
		postgres.NewOutboxRepository(db),
		postgres.NewStatusOutboxRepository(db),
		postgres.NewNotificationRepository(db),
		producer,
		logger,
		m,
		cfg.Outbox,
		cfg.WorkerID,
	)

	if err := pub.Start(ctx); err != nil {
		logger.Error("failed to start publisher", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Halt polling and drain in-flight batches, then flush the producer.
	pub.Stop()
	if err := producer.Close(); err != nil {
		logger.Error("producer close error", "error", err)
	}

	cancel()
	logger.Info("stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.App.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}
