// Package worker holds the pipeline consumers: the per-channel delivery
// consumer, the delayed consumer and poller, the status consumer, and the
// recovery cron.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/metrics"
)

// ChannelConsumer handles one channel's delivery messages. Returning nil from
// Handle commits the offset; returning an error leaves the message for
// redelivery. Only infrastructure failures return errors; delivery outcomes
// always commit.
type ChannelConsumer struct {
	channel     string
	provider    domain.Provider
	lock        domain.ProcessingLock
	limiter     domain.RateLimiter
	producer    domain.Publisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	retry       config.RetryConfig
	sendTimeout time.Duration
}

// NewChannelConsumer creates the handler for one channel.
func NewChannelConsumer(
	channel string,
	provider domain.Provider,
	lock domain.ProcessingLock,
	limiter domain.RateLimiter,
	producer domain.Publisher,
	logger *slog.Logger,
	m *metrics.Metrics,
	retry config.RetryConfig,
	sendTimeout time.Duration,
) *ChannelConsumer {
	return &ChannelConsumer{
		channel:     channel,
		provider:    provider,
		lock:        lock,
		limiter:     limiter,
		producer:    producer,
		logger:      logger.With("channel", channel),
		metrics:     m,
		retry:       retry,
		sendTimeout: sendTimeout,
	}
}

// Handle processes one delivery message.
func (c *ChannelConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	var m domain.ChannelMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		// Poison pill: the payload can never succeed, commit past it.
		c.logger.Error("dropping unparseable message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	logger := c.logger.With(
		"notification_id", m.NotificationID,
		"request_id", m.RequestID,
		"retry_count", m.RetryCount,
	)

	outcome, err := c.lock.Acquire(ctx, m.NotificationID)
	if err != nil {
		return fmt.Errorf("failed to acquire processing lock: %w", err)
	}
	switch outcome {
	case domain.LockBusy:
		logger.Info("skipping, another worker holds the lock")
		return nil
	case domain.LockDelivered:
		logger.Info("skipping, already delivered")
		return nil
	case domain.LockRetry:
		logger.Info("retrying previously failed delivery")
	}

	allowed, err := c.limiter.Allow(ctx, m.Channel)
	if err != nil {
		return fmt.Errorf("failed to consume rate token: %w", err)
	}
	if !allowed {
		c.metrics.RecordRateLimitDeferred(m.Channel)
		logger.Info("rate limit exhausted, deferring")
		return c.fail(ctx, logger, &m, "rate_limited")
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	err = c.provider.Send(sendCtx, &m)
	cancel()
	if err != nil {
		logger.Warn("provider send failed", "error", err)
		return c.fail(ctx, logger, &m, err.Error())
	}

	if err := c.lock.MarkDelivered(ctx, m.NotificationID); err != nil {
		return fmt.Errorf("failed to record delivered state: %w", err)
	}

	c.metrics.RecordDelivery(m.Channel, "delivered")
	c.metrics.RecordDeliveryLatency(m.Channel, time.Since(m.CreatedAt))

	if err := c.publishStatus(ctx, &m, domain.StatusDelivered, ""); err != nil {
		// The delivered record is already set, so redelivery after this error
		// skips the send and only the status event is at stake. Recovery heals
		// the store if the retry never lands.
		return fmt.Errorf("failed to publish delivered status: %w", err)
	}

	logger.Info("delivered")
	return nil
}

// fail runs the failure path: record the failed attempt, then either schedule
// a delayed retry or pronounce the notification terminally failed.
func (c *ChannelConsumer) fail(ctx context.Context, logger *slog.Logger, m *domain.ChannelMessage, reason string) error {
	if err := c.lock.MarkFailed(ctx, m.NotificationID); err != nil {
		return fmt.Errorf("failed to record failed state: %w", err)
	}

	if m.RetryCount+1 > c.retry.MaxCount {
		c.metrics.RecordDelivery(m.Channel, "failed")
		logger.Warn("retry budget exhausted, failing terminally", "reason", reason)
		return c.publishStatus(ctx, m, domain.StatusFailed, reason)
	}

	delay := backoff(m.RetryCount, c.retry.BaseDelay, c.retry.MaxDelay)
	retry := domain.DelayedMessage{
		ChannelMessage: *m,
		TargetTopic:    domain.ChannelTopic(m.Channel),
		ScheduledAt:    time.Now().UTC().Add(delay),
	}
	retry.RetryCount = m.RetryCount + 1

	value, err := json.Marshal(&retry)
	if err != nil {
		return fmt.Errorf("failed to marshal retry message: %w", err)
	}

	key := []byte(m.NotificationID.String())
	if err := c.producer.Publish(ctx, domain.TopicDelayed, key, value); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	c.metrics.RecordRetryScheduled(m.Channel)
	logger.Info("retry scheduled", "reason", reason, "delay", delay, "next_retry_count", retry.RetryCount)
	return nil
}

func (c *ChannelConsumer) publishStatus(ctx context.Context, m *domain.ChannelMessage, status domain.Status, message string) error {
	event := domain.StatusMessage{
		NotificationID: m.NotificationID,
		RequestID:      m.RequestID,
		ClientID:       m.ClientID,
		Channel:        m.Channel,
		Status:         status,
		Message:        message,
		RetryCount:     m.RetryCount,
		WebhookURL:     m.WebhookURL,
		OccurredAt:     time.Now().UTC(),
	}
	value, err := json.Marshal(&event)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}
	key := []byte(m.NotificationID.String())
	return c.producer.Publish(ctx, domain.TopicStatus, key, value)
}
