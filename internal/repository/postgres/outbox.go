package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/herald-one/herald/internal/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ClaimBatch claims pending rows plus stale processing rows in creation
// order. SKIP LOCKED keeps concurrent publisher workers off each other's
// rows; the claimed_by stamp makes the claim auditable and the claimed_at
// timestamp drives stale reclaim.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, workerID string, limit int, staleBefore time.Time) ([]*domain.OutboxEntry, error) {
	query := `
		WITH claimable AS (
			SELECT id FROM outbox
			WHERE status = $1
			   OR (status = $2 AND claimed_at < $3)
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET status = $2, claimed_by = $5, claimed_at = now(), updated_at = now()
		FROM claimable c
		WHERE o.id = c.id
		RETURNING o.id, o.notification_id, o.topic, o.payload, o.status,
			o.claimed_by, o.claimed_at, o.created_at, o.updated_at
	`

	rows, err := r.db.Pool.Query(ctx, query,
		domain.OutboxPending, domain.OutboxProcessing, staleBefore, limit, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.OutboxEntry, 0)
	for rows.Next() {
		e := &domain.OutboxEntry{}
		err := rows.Scan(
			&e.ID, &e.NotificationID, &e.Topic, &e.Payload, &e.Status,
			&e.ClaimedBy, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox entries: %w", err)
	}

	return entries, nil
}

// MarkPublished transitions a claimed row to published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	query := `UPDATE outbox SET status = $2, updated_at = now() WHERE id = $1`
	result, err := r.db.Pool.Exec(ctx, query, id, domain.OutboxPublished)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeletePublishedBefore removes published rows past the retention window.
func (r *OutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM outbox WHERE status = $1 AND updated_at < $2`
	result, err := r.db.Pool.Exec(ctx, query, domain.OutboxPublished, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published outbox entries: %w", err)
	}
	return result.RowsAffected(), nil
}
