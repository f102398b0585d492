package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Escalator is notified when a CRITICAL or emergency notification reaches a
// terminal failure. Human follow-up happens outside this pipeline.
type Escalator interface {
	Escalate(ctx context.Context, event *NotificationEvent)
}

type logEscalator struct{}

// LogEscalator returns the default escalator, which only logs.
func LogEscalator() Escalator {
	return logEscalator{}
}

func (logEscalator) Escalate(_ context.Context, event *NotificationEvent) {
	slog.Error("notification escalated: delivery failed",
		"log_id", event.ID,
		"type", event.Type,
		"channel", event.Channel,
		"priority", event.Priority,
		"attempts", event.Attempts(),
		"error_category", event.ErrorCategory,
		"error", event.ErrorMessage,
		"context_type", event.ContextType,
		"context_id", event.ContextID,
	)
}

// Scheduler owns the retry state of notification events: it is the only
// writer of RetryCount and NextRetryAt, and the only creator of
// NotificationRetry rows.
type Scheduler struct {
	store     EventStore
	policy    RetryPolicy
	escalator Escalator
	now       func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEscalator replaces the default log-only escalator.
func WithEscalator(e Escalator) SchedulerOption {
	return func(s *Scheduler) {
		if e != nil {
			s.escalator = e
		}
	}
}

// WithSchedulerClock overrides time.Now.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a retry scheduler.
func NewScheduler(store EventStore, policy RetryPolicy, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:     store,
		policy:    policy.withDefaults(),
		escalator: logEscalator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the effective retry policy.
func (s *Scheduler) Policy() RetryPolicy {
	return s.policy
}

// HandleFailure decides what happens to an event whose latest attempt failed.
// The event must already carry the FAILED status of that attempt. It either
// queues a retry (QUEUED, new retry row) or leaves the event terminally
// FAILED, escalating CRITICAL and emergency notifications.
func (s *Scheduler) HandleFailure(ctx context.Context, event *NotificationEvent, result DeliveryResult) (bool, error) {
	if !Retryable(result.Category) || event.Attempts() >= event.MaxRetries {
		event.NextRetryAt = nil
		if event.Priority == PriorityCritical || event.Type.IsEmergency() {
			event.Escalated = true
		}
		if err := s.store.UpdateEvent(ctx, event); err != nil {
			return false, fmt.Errorf("marking notification %s terminal: %w", event.ID, err)
		}

		slog.Warn("notification permanently failed",
			"log_id", event.ID,
			"channel", event.Channel,
			"attempts", event.Attempts(),
			"retryable", Retryable(result.Category),
			"error_category", result.Category,
		)
		if event.Escalated {
			s.escalator.Escalate(ctx, event)
		}
		return false, nil
	}

	now := s.now().UTC()
	event.RetryCount++
	next := now.Add(s.policy.Delay(event.RetryCount))
	event.Status = StatusQueued
	event.NextRetryAt = &next

	if err := s.store.UpdateEvent(ctx, event); err != nil {
		return false, fmt.Errorf("queueing retry for notification %s: %w", event.ID, err)
	}

	retry := &NotificationRetry{
		NotificationID: event.ID,
		AttemptNumber:  event.RetryCount,
		Status:         StatusQueued,
		ScheduledFor:   next,
		CreatedAt:      now,
	}
	if err := s.store.CreateRetry(ctx, retry); err != nil {
		return true, fmt.Errorf("recording retry for notification %s: %w", event.ID, err)
	}

	slog.Info("notification scheduled for retry",
		"log_id", event.ID,
		"channel", event.Channel,
		"retry", event.RetryCount,
		"max_attempts", event.MaxRetries,
		"next_retry_at", next,
	)
	return true, nil
}
