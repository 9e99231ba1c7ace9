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
	"github.com/herald-one/herald/internal/provider"
	"github.com/herald-one/herald/internal/repository/redis"
	"github.com/herald-one/herald/internal/worker"
)

// One process hosts a consumer per registered channel. Run several replicas
// and the consumer groups spread partitions across them.
func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	logger.Info("starting channel workers",
		"env", cfg.App.Env,
		"channels", cfg.Channels.Tags,
	)

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
	lock := redis.NewProcessingLock(redisClient, cfg.Idem.ProcessingTTL, cfg.Idem.TerminalTTL)
	limiter := redis.NewRateLimiter(redisClient, cfg.Channels.RateLimits)

	relay := provider.NewRelayProvider(cfg.Provider)
	registry := domain.NewChannelRegistry()
	for _, tag := range cfg.Channels.Tags {
		registry.Register(tag, relay)
	}

	var wg sync.WaitGroup
	consumers := make([]*bus.Consumer, 0, len(cfg.Channels.Tags))

	for _, tag := range registry.Channels() {
		entry, _ := registry.Get(tag)

		handler := worker.NewChannelConsumer(
			entry.Channel,
			entry.Provider,
			lock,
			limiter,
			producer,
			logger,
			m,
			cfg.Retry,
			cfg.Provider.Timeout,
		)

		consumer := bus.NewConsumer(cfg.Kafka.Brokers, entry.Channel+"_consumer", entry.Topic, logger)
		consumers = append(consumers, consumer)

		wg.Add(1)
		go func(c *bus.Consumer, channel string) {
			defer wg.Done()
			if err := c.Run(ctx, handler.Handle); err != nil {
				logger.Error("consumer stopped with error", "channel", channel, "error", err)
			}
		}(consumer, entry.Channel)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop fetching, drain handlers, then disconnect from the group so
	// pending commits flush before the producer closes.
	cancel()
	wg.Wait()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			logger.Error("consumer close error", "error", err)
		}
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
