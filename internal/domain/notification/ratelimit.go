package notification

import (
	"context"
	"time"
)

const (
	DefaultRateLimitWindow = time.Hour
	DefaultRateLimitCap    = 50
)

// RateLimitPolicy is the per-recipient sliding window configuration.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimitPolicy allows 50 sends per recipient per hour.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{Limit: DefaultRateLimitCap, Window: DefaultRateLimitWindow}
}

// LimitFor returns the cap for a priority. CRITICAL doubles the cap but is
// never unlimited.
func (p RateLimitPolicy) LimitFor(priority Priority) int {
	if priority == PriorityCritical {
		return p.Limit * 2
	}
	return p.Limit
}

// RateLimitDecision is the outcome of a rate limit check.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RecipientRateLimiter defines the contract for per-recipient rate limiting.
// Implementations live in infra/ratelimit/.
type RecipientRateLimiter interface {
	// Check records a send for key if it fits in the window. The check and
	// the record are one atomic step per key.
	Check(ctx context.Context, key string, priority Priority) (*RateLimitDecision, error)
}
