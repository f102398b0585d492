package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"instacares-notify/internal/domain/notification"
)

var _ notification.RecipientRateLimiter = (*MemoryRecipientLimiter)(nil)

// MemoryRecipientLimiter is a process-local sliding window limiter. Each key
// has its own lock so checks for different recipients never contend.
type MemoryRecipientLimiter struct {
	policy notification.RateLimitPolicy
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	mu    sync.Mutex
	times []time.Time
	// dead marks a window removed by Sweep; holders must look it up again.
	dead bool
}

// MemoryOption configures a MemoryRecipientLimiter.
type MemoryOption func(*MemoryRecipientLimiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryRecipientLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryRecipientLimiter creates an in-memory per-recipient rate limiter.
func NewMemoryRecipientLimiter(policy notification.RateLimitPolicy, opts ...MemoryOption) *MemoryRecipientLimiter {
	l := &MemoryRecipientLimiter{
		policy:  withDefaults(policy),
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records a send for key if it fits in the sliding window.
func (l *MemoryRecipientLimiter) Check(_ context.Context, key string, priority notification.Priority) (*notification.RateLimitDecision, error) {
	limit := l.policy.LimitFor(priority)
	w := l.lock(key)
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now.Add(-l.policy.Window))

	if len(w.times) >= limit {
		return &notification.RateLimitDecision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: max(w.times[0].Add(l.policy.Window).Sub(now), 0),
		}, nil
	}

	w.times = append(w.times, now)
	return &notification.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.times),
	}, nil
}

// Sweep drops keys whose windows are empty. Long-running processes call it
// periodically to bound memory.
func (l *MemoryRecipientLimiter) Sweep() int {
	cutoff := l.now().Add(-l.policy.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		w.prune(cutoff)
		if len(w.times) == 0 {
			w.dead = true
			delete(l.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Run calls Sweep every interval until ctx is cancelled.
func (l *MemoryRecipientLimiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("recipient windows swept", "removed", n)
			}
		}
	}
}

// lock returns the live window for key with its mutex held.
func (l *MemoryRecipientLimiter) lock(key string) *window {
	for {
		l.mu.Lock()
		w, ok := l.windows[key]
		if !ok {
			w = &window{}
			l.windows[key] = w
		}
		l.mu.Unlock()

		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// prune removes entries at or before cutoff. Entries are kept in insertion
// order, which is also time order for a monotonic clock.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}
