package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"instacares-notify/internal/common"
)

// Service serves the read side of the event store and applies provider
// delivery callbacks.
type Service struct {
	store     EventStore
	escalator Escalator
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides time.Now.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServiceEscalator replaces the default log-only escalator used when a
// delivery callback reports a CRITICAL or emergency notification as failed.
func WithServiceEscalator(e Escalator) ServiceOption {
	return func(s *Service) {
		if e != nil {
			s.escalator = e
		}
	}
}

// NewService creates a new notification service.
func NewService(store EventStore, opts ...ServiceOption) *Service {
	s := &Service{store: store, escalator: logEscalator{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetNotification retrieves a notification event by ID.
func (s *Service) GetNotification(ctx context.Context, id string) (*NotificationEvent, error) {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching notification: %w", err)
	}
	if event == nil {
		return nil, common.NewNotFoundError("notification", id)
	}
	return event, nil
}

// ListRetries returns the retry attempts recorded for a notification.
func (s *Service) ListRetries(ctx context.Context, id string) ([]*NotificationRetry, error) {
	if _, err := s.GetNotification(ctx, id); err != nil {
		return nil, err
	}
	retries, err := s.store.ListRetries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing retries: %w", err)
	}
	return retries, nil
}

// ListNotifications retrieves notification events with pagination and filtering.
func (s *Service) ListNotifications(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	filter.Normalize()

	events, total, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	return &ListResponse{
		Notifications: events,
		Total:         total,
		Page:          filter.Page,
		PageSize:      filter.PageSize,
	}, nil
}

// Stats returns delivery statistics for events created within the window.
func (s *Service) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	stats, err := s.store.Stats(ctx, s.now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("computing delivery stats: %w", err)
	}
	return stats, nil
}

// HandleDeliveryReport applies an asynchronous provider status update.
func (s *Service) HandleDeliveryReport(ctx context.Context, report *DeliveryReport) error {
	if report.ProviderID == "" {
		return common.NewValidationError("provider_id is required")
	}
	if report.Status != StatusDelivered && report.Status != StatusFailed {
		return common.NewValidationError(fmt.Sprintf("unsupported delivery status: %s", report.Status))
	}
	if report.At.IsZero() {
		report.At = s.now().UTC()
	}

	event, err := s.store.ApplyDeliveryReport(ctx, report)
	if err != nil {
		return fmt.Errorf("updating delivery status: %w", err)
	}
	if event == nil {
		return common.NewNotFoundError("notification with provider id", report.ProviderID)
	}

	slog.Info("delivery status updated",
		"log_id", event.ID,
		"provider_id", report.ProviderID,
		"status", report.Status,
		"error_category", report.Category,
	)

	if report.Status == StatusFailed && !event.Escalated &&
		(event.Priority == PriorityCritical || event.Type.IsEmergency()) {
		event.Escalated = true
		if err := s.store.UpdateEvent(ctx, event); err != nil {
			return fmt.Errorf("marking notification %s escalated: %w", event.ID, err)
		}
		s.escalator.Escalate(ctx, event)
	}
	return nil
}
