package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/herald-one/herald/internal/domain"
	"github.com/herald-one/herald/internal/metrics"
)

const maxBatchRecipients = 1000

// IngestService is the ingest gate: it persists notifications and their
// outbox entries in one transaction and returns an accepted acknowledgement.
// Delivery itself is asynchronous from here on.
type IngestService struct {
	repo    domain.NotificationRepository
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewIngestService creates a new IngestService.
func NewIngestService(repo domain.NotificationRepository, logger *slog.Logger, m *metrics.Metrics) *IngestService {
	return &IngestService{repo: repo, logger: logger, metrics: m}
}

// SubmitRequest is a validated single-recipient request. Channels fan out to
// one notification per channel.
type SubmitRequest struct {
	RequestID   uuid.UUID
	ClientID    uuid.UUID
	Channels    []string
	Recipient   map[string]any
	Content     map[string]any
	Variables   map[string]string
	WebhookURL  string
	ScheduledAt *time.Time
	Provider    *string
}

// BatchRecipient is one recipient inside a batch request, carrying its own
// request identifier.
type BatchRecipient struct {
	RequestID uuid.UUID
	Recipient map[string]any
}

// BatchSubmitRequest fans out recipients x channels.
type BatchSubmitRequest struct {
	ClientID    uuid.UUID
	Channels    []string
	Recipients  []BatchRecipient
	Content     map[string]any
	Variables   map[string]string
	WebhookURL  string
	ScheduledAt *time.Time
	Provider    *string
}

// Submit accepts a single request. Returns the number of notifications
// created (one per channel).
func (s *IngestService) Submit(ctx context.Context, req SubmitRequest) (int, error) {
	notifications, entries, err := s.materialize(
		req.ClientID, req.Channels,
		[]BatchRecipient{{RequestID: req.RequestID, Recipient: req.Recipient}},
		req.Content, req.Variables, req.WebhookURL, req.ScheduledAt, req.Provider,
	)
	if err != nil {
		return 0, err
	}

	if err := s.repo.CreateWithOutbox(ctx, notifications, entries); err != nil {
		return 0, err
	}

	for _, n := range notifications {
		s.metrics.RecordAccepted(n.Channel, 1)
	}

	s.logger.Info("request accepted",
		"request_id", req.RequestID,
		"client_id", req.ClientID,
		"channels", req.Channels,
		"count", len(notifications),
	)

	return len(notifications), nil
}

// SubmitBatch accepts a batch request. The whole batch commits atomically:
// either every notification and outbox entry lands or none do.
func (s *IngestService) SubmitBatch(ctx context.Context, req BatchSubmitRequest) (int, error) {
	if len(req.Recipients) > maxBatchRecipients {
		return 0, domain.NewValidationError("recipients",
			fmt.Sprintf("batch exceeds maximum of %d recipients", maxBatchRecipients))
	}

	notifications, entries, err := s.materialize(
		req.ClientID, req.Channels, req.Recipients,
		req.Content, req.Variables, req.WebhookURL, req.ScheduledAt, req.Provider,
	)
	if err != nil {
		return 0, err
	}

	if err := s.repo.CreateWithOutbox(ctx, notifications, entries); err != nil {
		return 0, err
	}

	for _, n := range notifications {
		s.metrics.RecordAccepted(n.Channel, 1)
	}

	s.logger.Info("batch accepted",
		"client_id", req.ClientID,
		"channels", req.Channels,
		"recipients", len(req.Recipients),
		"count", len(notifications),
	)

	return len(notifications), nil
}

// materialize fans out recipients x channels into notification documents and
// their outbox entries. Scheduled notifications route to the delayed topic;
// a scheduled_at in the past routes directly to the channel topic.
func (s *IngestService) materialize(
	clientID uuid.UUID,
	channels []string,
	recipients []BatchRecipient,
	content map[string]any,
	variables map[string]string,
	webhookURL string,
	scheduledAt *time.Time,
	provider *string,
) ([]*domain.Notification, []*domain.OutboxEntry, error) {
	if len(channels) == 0 {
		return nil, nil, domain.NewValidationError("channel", "at least one channel is required")
	}

	now := time.Now().UTC()
	notifications := make([]*domain.Notification, 0, len(recipients)*len(channels))
	entries := make([]*domain.OutboxEntry, 0, len(recipients)*len(channels))

	for _, r := range recipients {
		if _, ok := r.Recipient[domain.RecipientUserIDKey]; !ok {
			return nil, nil, domain.NewValidationError("recipient", "user_id is required")
		}

		for _, channel := range channels {
			n := domain.NewNotification(r.RequestID, clientID, channel, r.Recipient, content)
			n.Variables = variables
			n.WebhookURL = webhookURL
			n.ScheduledAt = scheduledAt
			n.Provider = provider
			notifications = append(notifications, n)

			entry, err := outboxEntryFor(n, now)
			if err != nil {
				return nil, nil, err
			}
			entries = append(entries, entry)
		}
	}

	return notifications, entries, nil
}

func outboxEntryFor(n *domain.Notification, now time.Time) (*domain.OutboxEntry, error) {
	channelTopic := domain.ChannelTopic(n.Channel)

	var (
		topic   string
		payload any
	)
	if n.Scheduled(now) {
		topic = domain.TopicDelayed
		payload = &domain.DelayedMessage{
			ChannelMessage: *domain.ChannelMessageFrom(n),
			TargetTopic:    channelTopic,
			ScheduledAt:    n.ScheduledAt.UTC(),
		}
	} else {
		topic = channelTopic
		payload = domain.ChannelMessageFrom(n)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	return &domain.OutboxEntry{
		NotificationID: n.ID,
		Topic:          topic,
		Payload:        raw,
		Status:         domain.OutboxPending,
	}, nil
}
