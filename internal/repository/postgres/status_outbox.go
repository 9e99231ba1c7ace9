package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/herald-one/herald/internal/domain"
)

// StatusOutboxRepository implements domain.StatusOutboxRepository using PostgreSQL.
type StatusOutboxRepository struct {
	db *DB
}

// NewStatusOutboxRepository creates a new StatusOutboxRepository.
func NewStatusOutboxRepository(db *DB) *StatusOutboxRepository {
	return &StatusOutboxRepository{db: db}
}

// ClaimUnprocessed claims unprocessed rows joined with notification identity
// fields so the publisher can build complete status messages in one trip.
func (r *StatusOutboxRepository) ClaimUnprocessed(ctx context.Context, workerID string, limit int) ([]*domain.StatusOutboxEntry, error) {
	query := `
		WITH claimable AS (
			SELECT id FROM status_outbox
			WHERE processed = false
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE status_outbox s
		SET claimed_by = $2, claimed_at = now()
		FROM claimable c
		WHERE s.id = c.id
		RETURNING s.id, s.notification_id, s.target_status, s.message,
			s.processed, s.claimed_by, s.claimed_at, s.created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim status outbox batch: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.StatusOutboxEntry, 0)
	for rows.Next() {
		e := &domain.StatusOutboxEntry{}
		err := rows.Scan(
			&e.ID, &e.NotificationID, &e.TargetStatus, &e.Message,
			&e.Processed, &e.ClaimedBy, &e.ClaimedAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status outbox entries: %w", err)
	}

	if len(entries) == 0 {
		return entries, nil
	}

	// Join in the notification identity fields needed for the status message.
	ids := make([]uuid.UUID, 0, len(entries))
	byNotification := make(map[uuid.UUID][]*domain.StatusOutboxEntry, len(entries))
	for _, e := range entries {
		ids = append(ids, e.NotificationID)
		byNotification[e.NotificationID] = append(byNotification[e.NotificationID], e)
	}

	nq := `
		SELECT id, request_id, client_id, channel, webhook_url, retry_count
		FROM notifications WHERE id = ANY($1)
	`

	nrows, err := r.db.Pool.Query(ctx, nq, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications for status outbox: %w", err)
	}
	defer nrows.Close()

	for nrows.Next() {
		var (
			id, requestID, clientID uuid.UUID
			channel, webhookURL     string
			retryCount              int
		)
		if err := nrows.Scan(&id, &requestID, &clientID, &channel, &webhookURL, &retryCount); err != nil {
			return nil, fmt.Errorf("failed to scan notification identity: %w", err)
		}
		for _, e := range byNotification[id] {
			e.RequestID = requestID
			e.ClientID = clientID
			e.Channel = channel
			e.WebhookURL = webhookURL
			e.RetryCount = retryCount
		}
	}
	if err := nrows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification identities: %w", err)
	}

	return entries, nil
}

// MarkProcessed flags a row after its status message reached the bus.
func (r *StatusOutboxRepository) MarkProcessed(ctx context.Context, id int64) error {
	query := `UPDATE status_outbox SET processed = true WHERE id = $1`
	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark status outbox entry processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteProcessedBefore removes processed rows past the retention window.
func (r *StatusOutboxRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM status_outbox WHERE processed = true AND created_at < $1`
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed status outbox entries: %w", err)
	}
	return result.RowsAffected(), nil
}
