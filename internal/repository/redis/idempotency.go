package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/herald-one/herald/internal/domain"
)

const idemKeyPrefix = "idem:"

// acquireScript inspects the existing idempotency record and sets the new
// processing record in the same round trip. A check-then-set split across
// round trips would race between consumer instances.
var acquireScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if status == "processing" then
	return "busy"
end
if status == "delivered" then
	return "delivered"
end
redis.call("HSET", KEYS[1], "status", "processing", "updated_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[1])
if status == "failed" then
	return "retry"
end
return "acquired"
`)

// ProcessingLock implements domain.ProcessingLock using Redis hashes. The
// record is the cache's source of truth for side-effect occurrence.
type ProcessingLock struct {
	client        *Client
	processingTTL time.Duration
	terminalTTL   time.Duration
}

// NewProcessingLock creates a new ProcessingLock.
func NewProcessingLock(client *Client, processingTTL, terminalTTL time.Duration) *ProcessingLock {
	return &ProcessingLock{
		client:        client,
		processingTTL: processingTTL,
		terminalTTL:   terminalTTL,
	}
}

func idemKey(id uuid.UUID) string {
	return idemKeyPrefix + id.String()
}

// Acquire attempts to take the processing lock for a notification.
func (l *ProcessingLock) Acquire(ctx context.Context, id uuid.UUID) (domain.LockOutcome, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	result, err := acquireScript.Run(ctx, l.client.client,
		[]string{idemKey(id)}, l.processingTTL.Milliseconds(), now).Text()
	if err != nil {
		return 0, fmt.Errorf("failed to acquire processing lock: %w", err)
	}

	switch result {
	case "acquired":
		return domain.LockAcquired, nil
	case "retry":
		return domain.LockRetry, nil
	case "busy":
		return domain.LockBusy, nil
	case "delivered":
		return domain.LockDelivered, nil
	}
	return 0, fmt.Errorf("unexpected lock outcome %q", result)
}

// MarkDelivered records the side effect with the long terminal TTL.
func (l *ProcessingLock) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	return l.setTerminal(ctx, id, domain.IdemDelivered)
}

// MarkFailed records the failed attempt with the long terminal TTL.
func (l *ProcessingLock) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return l.setTerminal(ctx, id, domain.IdemFailed)
}

func (l *ProcessingLock) setTerminal(ctx context.Context, id uuid.UUID, status string) error {
	key := idemKey(id)
	pipe := l.client.client.TxPipeline()
	pipe.HSet(ctx, key, "status", status, "updated_at", time.Now().UnixMilli())
	pipe.PExpire(ctx, key, l.terminalTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set idempotency record: %w", err)
	}
	return nil
}

// Status returns the current record status, or "" when absent.
func (l *ProcessingLock) Status(ctx context.Context, id uuid.UUID) (string, error) {
	status, err := l.client.client.HGet(ctx, idemKey(id), "status").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency record: %w", err)
	}
	return status, nil
}
