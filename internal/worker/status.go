package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/herald-one/herald/internal/config"
	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/metrics"
)

// StatusConsumer applies terminal states to the store and notifies client
// webhooks. The store write happens first; webhook failure never rolls it
// back.
type StatusConsumer struct {
	repo    domain.NotificationRepository
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	maxRetries int
	retryPause time.Duration
}

// NewStatusConsumer creates the status-topic handler.
func NewStatusConsumer(
	repo domain.NotificationRepository,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg config.WebhookConfig,
) *StatusConsumer {
	return &StatusConsumer{
		repo: repo,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:     logger,
		metrics:    m,
		maxRetries: cfg.MaxRetries,
		retryPause: time.Second,
	}
}

// webhookPayload is the body POSTed to the client's webhook URL.
type webhookPayload struct {
	RequestID      uuid.UUID     `json:"request_id"`
	NotificationID uuid.UUID     `json:"notification_id"`
	Status         domain.Status `json:"status"`
	Channel        string        `json:"channel"`
	Message        string        `json:"message,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// Handle applies one terminal status event.
func (c *StatusConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	var m domain.StatusMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		c.logger.Error("dropping unparseable status message",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if !m.Status.IsTerminal() {
		c.logger.Error("dropping non-terminal status message",
			"notification_id", m.NotificationID,
			"status", m.Status,
		)
		return nil
	}

	logger := c.logger.With(
		"notification_id", m.NotificationID,
		"status", m.Status,
	)

	if err := c.repo.UpdateTerminal(ctx, m.NotificationID, m.Status, m.Message); err != nil {
		return fmt.Errorf("failed to apply terminal status: %w", err)
	}

	if m.WebhookURL != "" {
		c.notify(ctx, logger, &m)
	}

	logger.Info("terminal status applied")
	return nil
}

// notify POSTs the status to the client webhook with a bounded retry on 5xx
// and transport errors. 4xx responses are the client's problem and are never
// retried. Give-up is final; the offset commits regardless.
func (c *StatusConsumer) notify(ctx context.Context, logger *slog.Logger, m *domain.StatusMessage) {
	body, err := json.Marshal(webhookPayload{
		RequestID:      m.RequestID,
		NotificationID: m.NotificationID,
		Status:         m.Status,
		Channel:        m.Channel,
		Message:        m.Message,
		OccurredAt:     m.OccurredAt,
	})
	if err != nil {
		logger.Error("failed to marshal webhook payload", "error", err)
		return
	}

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		retryable, err := c.post(ctx, m.WebhookURL, body)
		if err == nil {
			c.metrics.RecordWebhookAttempt("success")
			return
		}

		logger.Warn("webhook attempt failed",
			"attempt", attempt,
			"url", m.WebhookURL,
			"error", err,
		)
		if !retryable {
			c.metrics.RecordWebhookAttempt("rejected")
			return
		}
		c.metrics.RecordWebhookAttempt("error")

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * c.retryPause):
			}
		}
	}

	logger.Warn("webhook gave up", "url", m.WebhookURL)
}

func (c *StatusConsumer) post(ctx context.Context, url string, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	return resp.StatusCode >= 500, fmt.Errorf("webhook returned status %d", resp.StatusCode)
}
