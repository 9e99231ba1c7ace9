// Package publisher drains the transactional outbox and the status outbox
// onto the bus. It is safe to run many instances: the batch claim is a
// per-row compare-and-set stamped with the worker identity, and stale claims
// are reclaimed after the claim timeout.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/metrics"
)

// Publisher runs the outbox drain loop.
type Publisher struct {
	outbox       domain.OutboxRepository
	statusOutbox domain.StatusOutboxRepository
	repo         domain.NotificationRepository
	producer     domain.Publisher
	logger       *slog.Logger
	metrics      *metrics.Metrics

	workerID     string
	workerCount  int
	batchSize    int
	pollInterval time.Duration
	claimTimeout time.Duration

	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

// New creates a new Publisher.
func New(
	outbox domain.OutboxRepository,
	statusOutbox domain.StatusOutboxRepository,
	repo domain.NotificationRepository,
	producer domain.Publisher,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg config.OutboxConfig,
	workerID string,
) *Publisher {
	return &Publisher{
		outbox:       outbox,
		statusOutbox: statusOutbox,
		repo:         repo,
		producer:     producer,
		logger:       logger,
		metrics:      m,
		workerID:     workerID,
		workerCount:  cfg.WorkerCount,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		claimTimeout: cfg.ClaimTimeout,
	}
}

// Start launches the publisher workers.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	ctx, p.cancelFunc = context.WithCancel(ctx)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("publisher started",
		"workers", p.workerCount,
		"batch_size", p.batchSize,
		"worker_id", p.workerID,
	)
	return nil
}

// Stop halts polling and waits for in-flight batches to finish.
func (p *Publisher) Stop() {
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

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("publisher stopped gracefully")
	case <-time.After(30 * time.Second):
		p.logger.Warn("publisher stop timed out")
	}
}

func (p *Publisher) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker", id)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.drainOutbox(ctx, logger); err != nil {
				logger.Error("outbox drain failed", "error", err)
			}
			if err := p.drainStatusOutbox(ctx, logger); err != nil {
				logger.Error("status outbox drain failed", "error", err)
			}
		}
	}
}

// drainOutbox claims one batch and publishes it, grouped by topic. A publish
// failure leaves the row in processing; the stale-reclaim rule in the claim
// recovers it after the claim timeout. No row reaches a terminal outcome
// here.
func (p *Publisher) drainOutbox(ctx context.Context, logger *slog.Logger) error {
	staleBefore := time.Now().Add(-p.claimTimeout)
	entries, err := p.outbox.ClaimBatch(ctx, p.workerID, p.batchSize, staleBefore)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	byTopic := make(map[string][]*domain.OutboxEntry)
	for _, e := range entries {
		byTopic[e.Topic] = append(byTopic[e.Topic], e)
	}

	for topic, batch := range byTopic {
		for _, e := range batch {
			key := []byte(e.NotificationID.String())
			if err := p.producer.Publish(ctx, topic, key, e.Payload); err != nil {
				p.metrics.RecordPublishError(topic)
				logger.Error("publish failed, leaving entry for reclaim",
					"outbox_id", e.ID,
					"topic", topic,
					"error", err,
				)
				continue
			}
			p.metrics.RecordPublished(topic)

			if err := p.outbox.MarkPublished(ctx, e.ID); err != nil {
				// Duplicate publish on redelivery is acceptable; downstream
				// consumers enforce idempotency.
				logger.Error("failed to mark entry published", "outbox_id", e.ID, "error", err)
				continue
			}

			// Informational transition only; failure must not affect the
			// publish outcome.
			if err := p.repo.MarkProcessing(ctx, e.NotificationID); err != nil {
				logger.Warn("failed to mark notification processing",
					"notification_id", e.NotificationID, "error", err)
			}
		}
	}

	return nil
}

// drainStatusOutbox publishes recovery-originated terminal transitions onto
// the status topic and marks them processed.
func (p *Publisher) drainStatusOutbox(ctx context.Context, logger *slog.Logger) error {
	entries, err := p.statusOutbox.ClaimUnprocessed(ctx, p.workerID, p.batchSize)
	if err != nil {
		return err
	}

	for _, e := range entries {
		msg := domain.StatusMessage{
			NotificationID: e.NotificationID,
			RequestID:      e.RequestID,
			ClientID:       e.ClientID,
			Channel:        e.Channel,
			Status:         e.TargetStatus,
			Message:        e.Message,
			RetryCount:     e.RetryCount,
			WebhookURL:     e.WebhookURL,
			OccurredAt:     time.Now().UTC(),
		}
		value, err := json.Marshal(msg)
		if err != nil {
			logger.Error("failed to marshal status message", "status_outbox_id", e.ID, "error", err)
			continue
		}

		key := []byte(e.NotificationID.String())
		if err := p.producer.Publish(ctx, domain.TopicStatus, key, value); err != nil {
			p.metrics.RecordPublishError(domain.TopicStatus)
			logger.Error("status publish failed", "status_outbox_id", e.ID, "error", err)
			continue
		}
		p.metrics.RecordPublished(domain.TopicStatus)

		if err := p.statusOutbox.MarkProcessed(ctx, e.ID); err != nil {
			logger.Error("failed to mark status entry processed", "status_outbox_id", e.ID, "error", err)
		}
	}

	return nil
}
