package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/metrics"
	"github.com/herald-one/herald/internal/repository/postgres"
	"github.com/herald-one/herald/internal/repository/redis"
	"github.com/herald-one/herald/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	logger.Info("starting recovery cron", "env", cfg.App.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	m := metrics.New()
	lock := redis.NewProcessingLock(redisClient, cfg.Idem.ProcessingTTL, cfg.Idem.TerminalTTL)

	recovery := worker.NewRecovery(
		postgres.NewNotificationRepository(db),
		postgres.NewOutboxRepository(db),
		postgres.NewStatusOutboxRepository(db),
		postgres.NewAlertRepository(db),
		lock,
		db,
		redisClient,
		logger,
		m,
		cfg.Recovery,
		cfg.Cleanup,
		cfg.Retry.MaxCount,
	)

	if err := recovery.Start(ctx); err != nil {
		logger.Error("failed to start recovery", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	recovery.Stop()
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
