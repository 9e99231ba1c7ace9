package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/herald-one/herald/internal/domain"
)

const notificationColumns = `
	id, request_id, client_id, channel, recipient, content, variables,
	webhook_url, status, scheduled_at, retry_count, last_error, provider,
	created_at, updated_at`

// NotificationRepository implements domain.NotificationRepository using PostgreSQL.
type NotificationRepository struct {
	pool pgxPool
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{pool: db.Pool}
}

// uniqueRequestViolation maps the partial unique index on (request_id,
// channel) to the domain conflict error. Failed rows are excluded from the
// index, so retry-with-same-id after a permanent failure passes.
func uniqueRequestViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		strings.Contains(pgErr.ConstraintName, "request_channel")
}

// CreateWithOutbox inserts notifications and their outbox entries atomically.
func (r *NotificationRepository) CreateWithOutbox(ctx context.Context, notifications []*domain.Notification, entries []*domain.OutboxEntry) error {
	if len(notifications) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertNotification := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`

	for _, n := range notifications {
		recipient, _ := json.Marshal(n.Recipient)
		content, _ := json.Marshal(n.Content)
		variables, _ := json.Marshal(n.Variables)

		_, err = tx.Exec(ctx, insertNotification,
			n.ID, n.RequestID, n.ClientID, n.Channel, recipient, content, variables,
			n.WebhookURL, n.Status, n.ScheduledAt, n.RetryCount, n.LastError, n.Provider,
			n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			if uniqueRequestViolation(err) {
				return domain.ErrDuplicateRequest
			}
			return fmt.Errorf("failed to insert notification: %w", err)
		}
	}

	insertOutbox := `
		INSERT INTO outbox (notification_id, topic, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`

	now := time.Now().UTC()
	for _, e := range entries {
		_, err = tx.Exec(ctx, insertOutbox, e.NotificationID, e.Topic, e.Payload, domain.OutboxPending, now)
		if err != nil {
			return fmt.Errorf("failed to insert outbox entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a notification by ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return r.scanNotification(r.pool.QueryRow(ctx, query, id))
}

// List lists notifications with filters and pagination.
func (r *NotificationRepository) List(ctx context.Context, filter domain.NotificationFilter) (*domain.NotificationListResult, error) {
	conditions := []string{"1=1"}
	args := []any{}
	argIndex := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Channel != nil {
		conditions = append(conditions, fmt.Sprintf("channel = $%d", argIndex))
		args = append(args, *filter.Channel)
		argIndex++
	}
	if filter.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argIndex))
		args = append(args, *filter.ClientID)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notifications WHERE %s", whereClause)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)

	args = append(args, pageSize, offset)
	notifications, err := r.scanNotifications(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &domain.NotificationListResult{
		Notifications: notifications,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    totalPages,
	}, nil
}

// MarkProcessing is the informational pending->processing transition.
func (r *NotificationRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	_, err := r.pool.Exec(ctx, query, id, domain.StatusProcessing, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark notification processing: %w", err)
	}
	return nil
}

// UpdateTerminal records a terminal status and error message. Delivered is
// final: a late duplicate failed event, a crash-window replay or a delayed
// dead-letter must not regress it, so such events are dropped silently.
func (r *NotificationRepository) UpdateTerminal(ctx context.Context, id uuid.UUID, status domain.Status, message string) error {
	var lastError *string
	if message != "" {
		lastError = &message
	}

	query := `
		UPDATE notifications SET status = $2, last_error = $3, updated_at = now()
		WHERE id = $1 AND status <> $4
	`
	result, err := r.pool.Exec(ctx, query, id, status, lastError, domain.StatusDelivered)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if result.RowsAffected() == 0 {
		var one int
		err := r.pool.QueryRow(ctx, `SELECT 1 FROM notifications WHERE id = $1`, id).Scan(&one)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("failed to check notification: %w", err)
		}
		// Row exists but is already delivered: drop the late transition.
		return nil
	}
	return nil
}

// ClaimTerminal compare-and-sets processing -> terminal and inserts the
// status-outbox row in the same transaction. Used by the recovery cron for
// ghost-delivery and exhausted-retry healing.
func (r *NotificationRepository) ClaimTerminal(ctx context.Context, id uuid.UUID, status domain.Status, message string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	claim := `
		UPDATE notifications SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	result, err := tx.Exec(ctx, claim, id, status, domain.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to claim notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	insert := `
		INSERT INTO status_outbox (notification_id, target_status, message, processed, created_at)
		VALUES ($1, $2, $3, false, now())
	`
	if _, err := tx.Exec(ctx, insert, id, status, message); err != nil {
		return false, fmt.Errorf("failed to insert status outbox entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ResetForRetry implements the admin retry contract: failed -> pending plus a
// fresh outbox entry for the same topic.
func (r *NotificationRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	reset := `
		UPDATE notifications
		SET status = $2, retry_count = 0, last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING ` + notificationColumns + `
	`
	n, err := r.scanNotification(tx.QueryRow(ctx, reset, id, domain.StatusPending, domain.StatusFailed))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotRetryable
		}
		return err
	}

	payload, err := json.Marshal(domain.ChannelMessageFrom(n))
	if err != nil {
		return fmt.Errorf("failed to marshal channel message: %w", err)
	}

	insert := `
		INSERT INTO outbox (notification_id, topic, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`
	if _, err := tx.Exec(ctx, insert, n.ID, domain.ChannelTopic(n.Channel), payload, domain.OutboxPending); err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SelectStuckProcessing returns processing notifications older than the threshold.
func (r *NotificationRepository) SelectStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	return r.scanNotifications(ctx, query, domain.StatusProcessing, olderThan, limit)
}

// SelectStuckPending returns pending notifications older than the threshold.
func (r *NotificationRepository) SelectStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	return r.scanNotifications(ctx, query, domain.StatusPending, olderThan, limit)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *NotificationRepository) scanNotification(row rowScanner) (*domain.Notification, error) {
	n := &domain.Notification{}
	var recipient, content, variables []byte

	err := row.Scan(
		&n.ID, &n.RequestID, &n.ClientID, &n.Channel, &recipient, &content, &variables,
		&n.WebhookURL, &n.Status, &n.ScheduledAt, &n.RetryCount, &n.LastError, &n.Provider,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	if len(recipient) > 0 {
		json.Unmarshal(recipient, &n.Recipient)
	}
	if len(content) > 0 {
		json.Unmarshal(content, &n.Content)
	}
	if len(variables) > 0 {
		json.Unmarshal(variables, &n.Variables)
	}

	return n, nil
}

func (r *NotificationRepository) scanNotifications(ctx context.Context, query string, args ...any) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := r.scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}
