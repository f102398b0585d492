package notification

import (
	"context"
	"time"
)

// EventStore defines the contract for persisting notification events and
// their retry attempts. Implementations live in infra/store/.
type EventStore interface {
	// CreateEvent inserts a new event and fills in ID and timestamps.
	CreateEvent(ctx context.Context, event *NotificationEvent) error

	// GetEvent retrieves an event by ID. Returns nil, nil if not found.
	GetEvent(ctx context.Context, id string) (*NotificationEvent, error)

	// UpdateEvent persists the mutable fields of an existing event.
	UpdateEvent(ctx context.Context, event *NotificationEvent) error

	// ListEvents retrieves events with pagination and filtering.
	ListEvents(ctx context.Context, filter ListFilter) ([]*NotificationEvent, int, error)

	// ClaimDueRetries atomically moves QUEUED events whose next_retry_at is
	// not after now into PENDING and returns them. An event is returned to at
	// most one caller even when several sweeps race.
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*NotificationEvent, error)

	// TouchPending re-stamps updated_at of a PENDING event right before an
	// attempt, but only while the row still carries the observed updated_at.
	// It returns the new stamp, or false when someone else moved the row
	// first. The sweep and the reaper use it to hand an attempt to exactly
	// one owner.
	TouchPending(ctx context.Context, id string, observed time.Time) (time.Time, bool, error)

	// ListStalePending retrieves events stuck in PENDING since before olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*NotificationEvent, error)

	// ApplyDeliveryReport updates the event with the given provider ID from an
	// asynchronous provider callback and returns the updated event, or nil if
	// no event matched.
	ApplyDeliveryReport(ctx context.Context, report *DeliveryReport) (*NotificationEvent, error)

	// CreateRetry inserts a retry attempt record and fills in its ID.
	CreateRetry(ctx context.Context, retry *NotificationRetry) error

	// UpdateRetry records the outcome of a retry attempt.
	UpdateRetry(ctx context.Context, retry *NotificationRetry) error

	// ListRetries returns the retry attempts of an event ordered by attempt number.
	ListRetries(ctx context.Context, notificationID string) ([]*NotificationRetry, error)

	// Stats counts events created at or after since, grouped by channel and status.
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

// DeliveryReport is the shape of an asynchronous delivery status callback.
type DeliveryReport struct {
	ProviderID   string
	Status       Status
	Category     ErrorCategory
	ErrorMessage string
	At           time.Time
}
