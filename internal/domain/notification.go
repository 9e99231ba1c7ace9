package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a final delivery outcome.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// RecipientUserIDKey is the key every recipient map must carry: a stable
// identifier for the user independent of channel-specific addresses.
const RecipientUserIDKey = "user_id"

// Notification is the canonical record of one delivery attempt on one channel.
// A client request fans out to one notification per (recipient, channel).
type Notification struct {
	ID          uuid.UUID         `json:"id"`
	RequestID   uuid.UUID         `json:"request_id"`
	ClientID    uuid.UUID         `json:"client_id"`
	Channel     string            `json:"channel"`
	Recipient   map[string]any    `json:"recipient"`
	Content     map[string]any    `json:"content"`
	Variables   map[string]string `json:"variables,omitempty"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	Status      Status            `json:"status"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	RetryCount  int               `json:"retry_count"`
	LastError   *string           `json:"last_error,omitempty"`
	Provider    *string           `json:"provider,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewNotification creates a pending notification for one recipient on one channel.
func NewNotification(requestID, clientID uuid.UUID, channel string, recipient, content map[string]any) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:        uuid.New(),
		RequestID: requestID,
		ClientID:  clientID,
		Channel:   channel,
		Recipient: recipient,
		Content:   content,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Scheduled reports whether the notification carries a delivery instant that
// is still in the future relative to now.
func (n *Notification) Scheduled(now time.Time) bool {
	return n.ScheduledAt != nil && n.ScheduledAt.After(now)
}

func (n *Notification) MarkProcessing() {
	n.Status = StatusProcessing
	n.UpdatedAt = time.Now().UTC()
}

func (n *Notification) MarkDelivered() {
	n.Status = StatusDelivered
	n.UpdatedAt = time.Now().UTC()
}

func (n *Notification) MarkFailed(errorMsg string) {
	n.Status = StatusFailed
	n.LastError = &errorMsg
	n.UpdatedAt = time.Now().UTC()
}

type NotificationFilter struct {
	Status   *Status
	Channel  *string
	ClientID *uuid.UUID
	Page     int
	PageSize int
}

type NotificationListResult struct {
	Notifications []*Notification `json:"notifications"`
	Total         int64           `json:"total"`
	Page          int             `json:"page"`
	PageSize      int             `json:"page_size"`
	TotalPages    int             `json:"total_pages"`
}

// NotificationRepository is the durable store for notifications. The ingest
// write and the recovery claim are transactional with their outbox inserts.
type NotificationRepository interface {
	// CreateWithOutbox inserts the notifications and their outbox entries in a
	// single transaction. Either both collections advance or neither does. A
	// (request_id, channel) collision with a non-failed row returns
	// ErrDuplicateRequest.
	CreateWithOutbox(ctx context.Context, notifications []*Notification, entries []*OutboxEntry) error

	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	List(ctx context.Context, filter NotificationFilter) (*NotificationListResult, error)

	// MarkProcessing is the informational pending->processing transition made
	// by the outbox publisher after a successful publish.
	MarkProcessing(ctx context.Context, id uuid.UUID) error

	// UpdateTerminal records a terminal status and the error message, if any.
	UpdateTerminal(ctx context.Context, id uuid.UUID, status Status, message string) error

	// ClaimTerminal compare-and-sets status from processing to the given
	// terminal status and, when the claim wins, inserts a status-outbox entry
	// in the same transaction. Returns false when another writer got there
	// first (status was no longer processing).
	ClaimTerminal(ctx context.Context, id uuid.UUID, status Status, message string) (bool, error)

	// ResetForRetry moves a failed notification back to pending and inserts a
	// fresh outbox entry for the same topic, in one transaction. Returns
	// ErrNotRetryable when the notification is not in failed.
	ResetForRetry(ctx context.Context, id uuid.UUID) error

	// SelectStuckProcessing returns notifications in processing whose
	// updated_at is older than the threshold.
	SelectStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*Notification, error)

	// SelectStuckPending returns notifications in pending whose updated_at is
	// older than the threshold.
	SelectStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*Notification, error)
}
