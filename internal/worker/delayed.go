package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/metrics"
)

// DelayedConsumer moves delayed messages off the bus into the ordered set.
// The raw message bytes are the set member, so a redelivered message
// overwrites itself instead of duplicating.
type DelayedConsumer struct {
	queue  domain.DelayedQueue
	logger *slog.Logger
}

// NewDelayedConsumer creates the delayed-topic handler.
func NewDelayedConsumer(queue domain.DelayedQueue, logger *slog.Logger) *DelayedConsumer {
	return &DelayedConsumer{queue: queue, logger: logger}
}

// Handle stores one delayed message under its due instant.
func (c *DelayedConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	var m domain.DelayedMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		c.logger.Error("dropping unparseable delayed message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	if err := c.queue.Add(ctx, msg.Value, m.ScheduledAt); err != nil {
		return fmt.Errorf("failed to enqueue delayed message: %w", err)
	}

	c.logger.Info("delayed message enqueued",
		"notification_id", m.NotificationID,
		"target_topic", m.TargetTopic,
		"scheduled_at", m.ScheduledAt,
	)
	return nil
}

// DelayedPoller claims due members and republishes them to their target
// topics. Claim and confirm are separate phases: a member leaves the set only
// after its publish succeeded, so a crash mid-cycle loses nothing.
type DelayedPoller struct {
	queue    domain.DelayedQueue
	producer domain.Publisher
	logger   *slog.Logger
	metrics  *metrics.Metrics

	pollInterval time.Duration
	claimBatch   int
	maxRetries   int

	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

// NewDelayedPoller creates the poller.
func NewDelayedPoller(
	queue domain.DelayedQueue,
	producer domain.Publisher,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg config.DelayedConfig,
) *DelayedPoller {
	return &DelayedPoller{
		queue:        queue,
		producer:     producer,
		logger:       logger,
		metrics:      m,
		pollInterval: cfg.PollInterval,
		claimBatch:   cfg.ClaimBatch,
		maxRetries:   cfg.MaxPollerRetries,
	}
}

// Start launches the poll loop.
func (p *DelayedPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	ctx, p.cancelFunc = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.tick(ctx); err != nil {
					p.logger.Error("delayed poll failed", "error", err)
				}
			}
		}
	}()

	p.logger.Info("delayed poller started", "poll_interval", p.pollInterval)
	return nil
}

// Stop halts polling and waits for the in-flight cycle.
func (p *DelayedPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	p.wg.Wait()
	p.logger.Info("delayed poller stopped")
}

func (p *DelayedPoller) tick(ctx context.Context) error {
	members, err := p.queue.Claim(ctx, time.Now(), p.claimBatch)
	if err != nil {
		return fmt.Errorf("failed to claim due members: %w", err)
	}

	for _, member := range members {
		p.dispatch(ctx, member)
	}

	if depth, err := p.queue.Depth(ctx); err == nil {
		p.metrics.SetDelayedDepth(float64(depth))
	}
	return nil
}

// dispatch republishes one claimed member and confirms it out of the set.
func (p *DelayedPoller) dispatch(ctx context.Context, member []byte) {
	var m domain.DelayedMessage
	if err := json.Unmarshal(member, &m); err != nil {
		// Unparseable members can never publish; drop them outright.
		p.logger.Error("dropping unparseable delayed member", "error", err)
		if err := p.queue.Confirm(ctx, member); err != nil {
			p.logger.Error("failed to drop member", "error", err)
		}
		return
	}

	logger := p.logger.With(
		"notification_id", m.NotificationID,
		"target_topic", m.TargetTopic,
		"poller_retries", m.PollerRetries,
	)

	key := []byte(m.NotificationID.String())
	value, err := json.Marshal(&m.ChannelMessage)
	if err != nil {
		logger.Error("failed to marshal channel message", "error", err)
		if err := p.queue.Confirm(ctx, member); err != nil {
			logger.Error("failed to drop member", "error", err)
		}
		return
	}

	if err := p.producer.Publish(ctx, m.TargetTopic, key, value); err != nil {
		p.metrics.RecordPublishError(m.TargetTopic)
		logger.Warn("republish failed", "error", err)
		p.handlePublishFailure(ctx, logger, member, &m)
		return
	}

	if err := p.queue.Confirm(ctx, member); err != nil {
		// The member stays claimed until the lock expires; the next claim
		// republishes it and idempotency downstream absorbs the duplicate.
		logger.Error("failed to confirm member", "error", err)
	}
}

// handlePublishFailure bumps the member's poller retry counter or dead-letters
// it past the limit. The counter lives inside the member bytes, so bumping
// swaps the old member for a rewritten one.
func (p *DelayedPoller) handlePublishFailure(ctx context.Context, logger *slog.Logger, member []byte, m *domain.DelayedMessage) {
	m.PollerRetries++

	if m.PollerRetries > p.maxRetries {
		logger.Error("delayed member exceeded republish budget, dead-lettering")
		event := domain.StatusMessage{
			NotificationID: m.NotificationID,
			RequestID:      m.RequestID,
			ClientID:       m.ClientID,
			Channel:        m.Channel,
			Status:         domain.StatusFailed,
			Message:        "dead-letter from delayed pipeline",
			RetryCount:     m.RetryCount,
			WebhookURL:     m.WebhookURL,
			OccurredAt:     time.Now().UTC(),
		}
		value, err := json.Marshal(&event)
		if err == nil {
			key := []byte(m.NotificationID.String())
			err = p.producer.Publish(ctx, domain.TopicStatus, key, value)
		}
		if err != nil {
			// Keep the member so the next cycle retries the dead-letter.
			logger.Error("failed to publish dead-letter status", "error", err)
			if err := p.queue.Release(ctx, member); err != nil {
				logger.Error("failed to release claim", "error", err)
			}
			return
		}
		if err := p.queue.Confirm(ctx, member); err != nil {
			logger.Error("failed to drop dead-lettered member", "error", err)
		}
		return
	}

	rewritten, err := json.Marshal(m)
	if err != nil {
		logger.Error("failed to rewrite delayed member", "error", err)
		if err := p.queue.Release(ctx, member); err != nil {
			logger.Error("failed to release claim", "error", err)
		}
		return
	}

	if err := p.queue.Add(ctx, rewritten, m.ScheduledAt); err != nil {
		logger.Error("failed to re-add delayed member", "error", err)
		if err := p.queue.Release(ctx, member); err != nil {
			logger.Error("failed to release claim", "error", err)
		}
		return
	}
	if err := p.queue.Confirm(ctx, member); err != nil {
		logger.Error("failed to remove stale member", "error", err)
	}
}
