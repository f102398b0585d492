package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"instacares-notify/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

var _ notification.RecipientRateLimiter = (*RedisRecipientLimiter)(nil)

// slidingWindowScript prunes, counts and records in one atomic step so
// concurrent checks for the same recipient can never overshoot the cap.
// Scores are Unix milliseconds. Returns {allowed, count, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local member = ARGV[4]
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
  local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
  local retry = window
  if oldest[2] then retry = tonumber(oldest[2]) + window - now end
  return {0, count, retry}
end
redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window + 60000)
return {1, count + 1, 0}
`)

// RedisRecipientLimiter enforces per-recipient notification rate limits using Redis sorted sets.
// It uses a sliding window approach: each notification is a member scored by its timestamp.
type RedisRecipientLimiter struct {
	client *redis.Client
	policy notification.RateLimitPolicy
	prefix string
	now    func() time.Time
}

// NewRedisRecipientLimiter creates a new Redis-based per-recipient rate limiter.
func NewRedisRecipientLimiter(client *redis.Client, policy notification.RateLimitPolicy) *RedisRecipientLimiter {
	return &RedisRecipientLimiter{
		client: client,
		policy: withDefaults(policy),
		prefix: "instacares:ratelimit:",
		now:    time.Now,
	}
}

// Check records a send for key if it fits in the sliding window.
func (r *RedisRecipientLimiter) Check(ctx context.Context, key string, priority notification.Priority) (*notification.RateLimitDecision, error) {
	limit := r.policy.LimitFor(priority)
	now := r.now()

	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	member := fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(randBytes))

	res, err := slidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(),
		r.policy.Window.Milliseconds(),
		limit,
		member,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("checking recipient rate limit: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("checking recipient rate limit: unexpected script reply %v", res)
	}

	allowed, count, retryMs := res[0] == 1, int(res[1]), res[2]
	decision := &notification.RateLimitDecision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-count, 0),
	}
	if !allowed {
		decision.Remaining = 0
		decision.RetryAfter = time.Duration(max(retryMs, 0)) * time.Millisecond
	}
	return decision, nil
}

// Close closes the Redis connection.
func (r *RedisRecipientLimiter) Close() error {
	return r.client.Close()
}

func withDefaults(p notification.RateLimitPolicy) notification.RateLimitPolicy {
	if p.Limit <= 0 {
		p.Limit = notification.DefaultRateLimitCap
	}
	if p.Window <= 0 {
		p.Window = notification.DefaultRateLimitWindow
	}
	return p
}
