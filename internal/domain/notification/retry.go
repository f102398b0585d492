package notification

import "time"

// DefaultBackoff is the fixed retry schedule: the first retry waits 5 minutes,
// the second 15, every later one an hour.
var DefaultBackoff = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

// RetryPolicy decides when and how often failed sends are retried.
type RetryPolicy struct {
	// Backoff holds the delay before retry n at index n-1. The last entry
	// repeats for any later retry.
	Backoff []time.Duration

	// DefaultMaxAttempts applies when a request does not set max retries.
	// It counts the initial attempt.
	DefaultMaxAttempts int

	// MaxAttemptsLimit caps requested attempts for non-critical notifications.
	MaxAttemptsLimit int

	// CriticalMaxAttemptsLimit caps requested attempts for CRITICAL priority
	// and emergency types.
	CriticalMaxAttemptsLimit int
}

// DefaultRetryPolicy returns the 5m/15m/60m schedule with three total attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Backoff:                  DefaultBackoff,
		DefaultMaxAttempts:       3,
		MaxAttemptsLimit:         5,
		CriticalMaxAttemptsLimit: 10,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if len(p.Backoff) == 0 {
		p.Backoff = d.Backoff
	}
	if p.DefaultMaxAttempts <= 0 {
		p.DefaultMaxAttempts = d.DefaultMaxAttempts
	}
	if p.MaxAttemptsLimit <= 0 {
		p.MaxAttemptsLimit = d.MaxAttemptsLimit
	}
	if p.CriticalMaxAttemptsLimit <= 0 {
		p.CriticalMaxAttemptsLimit = d.CriticalMaxAttemptsLimit
	}
	return p
}

// Delay returns the wait before the nth retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	p = p.withDefaults()
	if retry < 1 {
		retry = 1
	}
	if retry > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[retry-1]
}

// MaxAttempts resolves the total attempt budget for a notification.
func (p RetryPolicy) MaxAttempts(requested int, priority Priority, notifType NotificationType) int {
	p = p.withDefaults()
	limit := p.MaxAttemptsLimit
	if priority == PriorityCritical || notifType.IsEmergency() {
		limit = p.CriticalMaxAttemptsLimit
	}
	n := requested
	if n <= 0 {
		n = p.DefaultMaxAttempts
	}
	if n > limit {
		n = limit
	}
	return n
}

// Retryable reports whether a failure of this category may succeed later.
// Permanent recipient and permission problems are never retried.
func Retryable(category ErrorCategory) bool {
	switch category {
	case CategoryValidation,
		CategoryInvalidNumber,
		CategoryInvalidAddress,
		CategoryUnsupportedNumberType,
		CategoryPermissionDenied:
		return false
	}
	return true
}
