package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/herald-one/herald/internal/bus"
	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/metrics"
	"github.com/herald-one/herald/internal/repository/postgres"
	"github.com/herald-one/herald/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	logger.Info("starting status consumer", "env", cfg.App.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	m := metrics.New()

	statusConsumer := worker.NewStatusConsumer(
		postgres.NewNotificationRepository(db),
		logger,
		m,
		cfg.Webhook,
	)

	consumer := bus.NewConsumer(cfg.Kafka.Brokers, "status_consumer", domain.TopicStatus, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx, statusConsumer.Handle); err != nil {
			logger.Error("status consumer stopped with error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	cancel()
	wg.Wait()
	if err := consumer.Close(); err != nil {
		logger.Error("consumer close error", "error", err)
	}

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
