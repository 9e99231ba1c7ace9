package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AlertKind classifies an incident raised by the recovery cron.
type AlertKind string

const (
	// AlertGhostDelivery is recorded pre-resolved when the cron heals a
	// delivery the store missed; it is an audit entry, not an open incident.
	AlertGhostDelivery   AlertKind = "ghost_delivery"
	AlertStuckProcessing AlertKind = "stuck_processing"
	AlertOrphanedPending AlertKind = "orphaned_pending"
	AlertRecoveryError   AlertKind = "recovery_error"
)

// Alert is an incident requiring admin attention. Alerts are unique per
// (notification, kind); a repeated detection refreshes the existing row.
type Alert struct {
	ID             int64      `json:"id"`
	NotificationID uuid.UUID  `json:"notification_id"`
	Kind           AlertKind  `json:"kind"`
	Reason         string     `json:"reason"`
	CacheStatus    string     `json:"cache_status"`
	StoreStatus    Status     `json:"store_status"`
	RetryCount     int        `json:"retry_count"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type AlertRepository interface {
	// Upsert inserts the alert or, when one already exists for the same
	// (notification, kind), refreshes its reason, snapshots, resolved state
	// and updated_at. An alert with Resolved set is stored pre-resolved.
	Upsert(ctx context.Context, alert *Alert) error

	Resolve(ctx context.Context, id int64) error
	ListOpen(ctx context.Context, limit int) ([]*Alert, error)

	// DeleteResolvedBefore removes resolved alerts older than the retention
	// cutoff. Returns the number of rows removed.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
