package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Idempotency record statuses kept in the cache. The cache is the source of
// truth for whether the provider side effect has occurred; records outlive
// the store's pending/processing states.
const (
	IdemProcessing = "processing"
	IdemDelivered  = "delivered"
	IdemFailed     = "failed"
)

// LockOutcome is the discriminated result of a processing-lock acquisition.
type LockOutcome int

const (
	// LockAcquired: no prior record existed; this is the first attempt.
	LockAcquired LockOutcome = iota
	// LockRetry: the prior attempt failed; the lock was acquired for a retry.
	LockRetry
	// LockBusy: another worker holds the processing lock.
	LockBusy
	// LockDelivered: the side effect already happened; skip.
	LockDelivered
)

func (o LockOutcome) String() string {
	switch o {
	case LockAcquired:
		return "acquired"
	case LockRetry:
		return "retry"
	case LockBusy:
		return "busy"
	case LockDelivered:
		return "delivered"
	}
	return "unknown"
}

// ProcessingLock manages cache idempotency records. Acquire must inspect and
// set in a single server-side script; check-then-set across round trips would
// race between consumer instances.
type ProcessingLock interface {
	// Acquire attempts to take the processing lock for a notification.
	Acquire(ctx context.Context, id uuid.UUID) (LockOutcome, error)

	// MarkDelivered records the side effect with the long terminal TTL.
	MarkDelivered(ctx context.Context, id uuid.UUID) error

	// MarkFailed records the failed attempt with the long terminal TTL.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// Status returns the current record status, or "" when absent. Used by
	// the recovery cron to reconcile store state against cache truth.
	Status(ctx context.Context, id uuid.UUID) (string, error)
}

// RateLimiter is a per-channel token bucket. Allow consumes one token when
// available; the consume is a single server-side script.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
}

// DelayedQueue is the ordered set of due-events. Members are serialized
// delayed messages scored by their absolute due instant. Claim/confirm is
// two-phase: a member leaves the set only after its republish succeeded.
type DelayedQueue interface {
	// Add inserts or overwrites a member with the given due instant.
	Add(ctx context.Context, member []byte, dueAt time.Time) error

	// Claim returns up to limit members due at or before now that are not
	// already claimed, taking a TTL'd claim lock for each. Members stay in
	// the set.
	Claim(ctx context.Context, now time.Time, limit int) ([][]byte, error)

	// Confirm removes a published member from the set and drops its claim lock.
	Confirm(ctx context.Context, member []byte) error

	// Release drops the claim lock only, allowing immediate re-claim.
	Release(ctx context.Context, member []byte) error

	// Depth returns the number of members in the set.
	Depth(ctx context.Context) (int64, error)
}
