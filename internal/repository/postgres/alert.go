package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/herald-one/herald/internal/domain"
)

// AlertRepository implements domain.AlertRepository using PostgreSQL.
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Upsert inserts an alert or refreshes the existing (notification, kind) row.
// Alerts created with Resolved set land pre-resolved, the audit trail for
// incidents the recovery cron already healed.
func (r *AlertRepository) Upsert(ctx context.Context, a *domain.Alert) error {
	query := `
		INSERT INTO alerts (
			notification_id, kind, reason, cache_status, store_status,
			retry_count, resolved, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, CASE WHEN $7 THEN now() END, now(), now())
		ON CONFLICT (notification_id, kind) DO UPDATE SET
			reason = EXCLUDED.reason,
			cache_status = EXCLUDED.cache_status,
			store_status = EXCLUDED.store_status,
			retry_count = EXCLUDED.retry_count,
			resolved = EXCLUDED.resolved,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = now()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		a.NotificationID, a.Kind, a.Reason, a.CacheStatus, a.StoreStatus, a.RetryCount, a.Resolved)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

// Resolve marks an alert resolved.
func (r *AlertRepository) Resolve(ctx context.Context, id int64) error {
	query := `
		UPDATE alerts SET resolved = true, resolved_at = now(), updated_at = now()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpen returns unresolved alerts, oldest first.
func (r *AlertRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Alert, error) {
	query := `
		SELECT id, notification_id, kind, reason, cache_status, store_status,
			retry_count, resolved, resolved_at, created_at, updated_at
		FROM alerts
		WHERE resolved = false
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*domain.Alert, 0)
	for rows.Next() {
		a := &domain.Alert{}
		err := rows.Scan(
			&a.ID, &a.NotificationID, &a.Kind, &a.Reason, &a.CacheStatus, &a.StoreStatus,
			&a.RetryCount, &a.Resolved, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// DeleteResolvedBefore removes resolved alerts past the retention window.
func (r *AlertRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM alerts WHERE resolved = true AND resolved_at < $1`
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	return result.RowsAffected(), nil
}
