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
	"github.com/herald-one/herald/internal/repository/redis"
	"github.com/herald-one/herald/internal/worker"
)

// Hosts the delayed consumer and the delayed poller in one process. Safe to
// replicate: the consumer group splits partitions and the poller's claim
// locks keep instances off each other's members.
func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	logger.Info("starting delayed pipeline", "env", cfg.App.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	producer := bus.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	m := metrics.New()
	queue := redis.NewDelayedQueue(redisClient, cfg.Delayed.ClaimTTL)

	delayedConsumer := worker.NewDelayedConsumer(queue, logger)
	consumer := bus.NewConsumer(cfg.Kafka.Brokers, "delayed_consumer", domain.TopicDelayed, logger)

	poller := worker.NewDelayedPoller(queue, producer, logger, m, cfg.Delayed)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx, delayedConsumer.Handle); err != nil {
			logger.Error("delayed consumer stopped with error", "error", err)
		}
	}()

	if err := poller.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	poller.Stop()
	cancel()
	wg.Wait()
	if err := consumer.Close(); err != nil {
		logger.Error("consumer close error", "error", err)
	}
	if err := producer.Close(); err != nil {
		logger.Error("producer close error", "error", err)
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
