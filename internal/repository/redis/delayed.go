package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	delayedSetKey        = "delayed:due"
	delayedClaimPrefix   = "delayed:claim:"
	delayedWorkerClaimed = "1"
)

// claimScript selects due members that are not already claimed and takes a
// TTL'd claim lock for each. Members are NOT removed: an event leaves the set
// only after its republish succeeded (confirmScript). Crashes between claim
// and confirm are repaired by lock expiry.
var claimScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
local claimed = {}
for _, member in ipairs(due) do
	local lock = KEYS[2] .. redis.sha1hex(member)
	if redis.call("SET", lock, ARGV[3], "NX", "PX", ARGV[4]) then
		claimed[#claimed + 1] = member
	end
end
return claimed
`)

// confirmScript removes a published member and its claim lock together.
var confirmScript = redis.NewScript(`
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2] .. redis.sha1hex(ARGV[1]))
return 1
`)

var releaseScript = redis.NewScript(`
return redis.call("DEL", KEYS[2] .. redis.sha1hex(ARGV[1]))
`)

// DelayedQueue implements domain.DelayedQueue on a Redis sorted set scored by
// the absolute due instant in milliseconds.
type DelayedQueue struct {
	client   *Client
	claimTTL time.Duration
}

// NewDelayedQueue creates a new DelayedQueue.
func NewDelayedQueue(client *Client, claimTTL time.Duration) *DelayedQueue {
	return &DelayedQueue{client: client, claimTTL: claimTTL}
}

// Add inserts or overwrites a member with the given due instant. Identical
// members dedupe to one entry, so re-arrivals of the same attempt are stable.
func (q *DelayedQueue) Add(ctx context.Context, member []byte, dueAt time.Time) error {
	err := q.client.client.ZAdd(ctx, delayedSetKey, redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add delayed member: %w", err)
	}
	return nil
}

// Claim returns up to limit unclaimed members due at or before now.
func (q *DelayedQueue) Claim(ctx context.Context, now time.Time, limit int) ([][]byte, error) {
	result, err := claimScript.Run(ctx, q.client.client,
		[]string{delayedSetKey, delayedClaimPrefix},
		now.UnixMilli(), limit, delayedWorkerClaimed, q.claimTTL.Milliseconds(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim delayed members: %w", err)
	}

	members := make([][]byte, 0, len(result))
	for _, m := range result {
		members = append(members, []byte(m))
	}
	return members, nil
}

// Confirm removes a published member from the set and drops its claim lock.
func (q *DelayedQueue) Confirm(ctx context.Context, member []byte) error {
	err := confirmScript.Run(ctx, q.client.client,
		[]string{delayedSetKey, delayedClaimPrefix}, string(member)).Err()
	if err != nil {
		return fmt.Errorf("failed to confirm delayed member: %w", err)
	}
	return nil
}

// Release drops the claim lock only, allowing immediate re-claim.
func (q *DelayedQueue) Release(ctx context.Context, member []byte) error {
	err := releaseScript.Run(ctx, q.client.client,
		[]string{delayedSetKey, delayedClaimPrefix}, string(member)).Err()
	if err != nil {
		return fmt.Errorf("failed to release delayed claim: %w", err)
	}
	return nil
}

// Depth returns the number of members in the set.
func (q *DelayedQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.client.ZCard(ctx, delayedSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get delayed queue depth: %w", err)
	}
	return depth, nil
}
