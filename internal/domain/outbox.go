package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus tracks an outbox entry's progress towards the bus.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxPublished  OutboxStatus = "published"
)

// OutboxEntry bridges the durable store and the message bus. It is written in
// the same transaction as its notification and drained FIFO by the publisher.
type OutboxEntry struct {
	ID             int64           `json:"id"`
	NotificationID uuid.UUID       `json:"notification_id"`
	Topic          string          `json:"topic"`
	Payload        json.RawMessage `json:"payload"`
	Status         OutboxStatus    `json:"status"`
	ClaimedBy      *string         `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OutboxRepository drains outbox rows onto the bus.
type OutboxRepository interface {
	// ClaimBatch atomically claims up to limit rows that are pending, or
	// processing with claimed_at older than staleBefore, ordered by creation
	// (FIFO). Claimed rows are stamped with workerID so concurrent publishers
	// never share a row.
	ClaimBatch(ctx context.Context, workerID string, limit int, staleBefore time.Time) ([]*OutboxEntry, error)

	// MarkPublished transitions a claimed row to published.
	MarkPublished(ctx context.Context, id int64) error

	// DeletePublishedBefore removes published rows older than the retention
	// cutoff. Returns the number of rows removed.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatusOutboxEntry bridges recovery-originated terminal transitions onto the
// status topic. Rows are written inside the recovery transaction and drained
// by the publisher.
type StatusOutboxEntry struct {
	ID             int64      `json:"id"`
	NotificationID uuid.UUID  `json:"notification_id"`
	TargetStatus   Status     `json:"target_status"`
	Message        string     `json:"message,omitempty"`
	Processed      bool       `json:"processed"`
	ClaimedBy      *string    `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`

	// Notification fields joined in at claim time so the publisher can build
	// a complete status message without a second round trip.
	RequestID  uuid.UUID `json:"request_id"`
	ClientID   uuid.UUID `json:"client_id"`
	Channel    string    `json:"channel"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	RetryCount int       `json:"retry_count"`
}

// StatusOutboxRepository drains status-outbox rows onto the status topic.
type StatusOutboxRepository interface {
	// ClaimUnprocessed claims up to limit unprocessed rows, stamping workerID,
	// joined with their notification's identity fields.
	ClaimUnprocessed(ctx context.Context, workerID string, limit int) ([]*StatusOutboxEntry, error)

	// MarkProcessed flags a row after its status message reached the bus.
	MarkProcessed(ctx context.Context, id int64) error

	// DeleteProcessedBefore removes processed rows older than the retention
	// cutoff. Returns the number of rows removed.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
