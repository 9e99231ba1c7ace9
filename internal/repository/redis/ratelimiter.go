package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/herald-one/herald/internal/config"
)

const rateLimitKeyPrefix = "rate:"

// consumeScript refills the bucket by elapsed time and takes one token, all
// server-side. Contended by every consumer instance of a channel.
var consumeScript = redis.NewScript(`
local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens"))
local last = tonumber(redis.call("HGET", KEYS[1], "last_refill"))
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
else
	local elapsed = (now - last) / 1000.0
	if elapsed > 0 then
		tokens = math.min(capacity, tokens + elapsed * rate)
		last = now
	end
end
local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_refill", tostring(last))
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return allowed
`)

// RateLimiter implements domain.RateLimiter as a per-channel token bucket.
type RateLimiter struct {
	client *Client
	limits map[string]config.RateLimitConfig
}

// NewRateLimiter creates a new RateLimiter with per-channel limits.
func NewRateLimiter(client *Client, limits map[string]config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, limits: limits}
}

func rateLimitKey(channel string) string {
	return rateLimitKeyPrefix + channel
}

// Allow consumes one token from the channel's bucket. Unknown channels are
// not limited.
func (r *RateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	limit, ok := r.limits[channel]
	if !ok {
		return true, nil
	}

	// Key expiry is only housekeeping; any window long enough to span refill
	// gaps works.
	expiry := 10 * time.Minute

	allowed, err := consumeScript.Run(ctx, r.client.client,
		[]string{rateLimitKey(channel)},
		limit.Tokens, limit.RefillRate, time.Now().UnixMilli(), expiry.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume rate limit token: %w", err)
	}

	return allowed == 1, nil
}
