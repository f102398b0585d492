package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"instacares-notify/internal/domain/notification"

	"github.com/google/uuid"
)

var _ notification.EventStore = (*MemoryStore)(nil)

// MemoryStore keeps events in process memory. It is meant for development
// and tests; all state is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[string]*notification.NotificationEvent
	retries map[string][]*notification.NotificationRetry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]*notification.NotificationEvent),
		retries: make(map[string][]*notification.NotificationRetry),
		now:     time.Now,
	}
}

// SetClock overrides time.Now for timestamps the store assigns.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateEvent inserts a new event and fills in ID and timestamps.
func (s *MemoryStore) CreateEvent(_ context.Context, event *notification.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if _, exists := s.events[event.ID]; exists {
		return fmt.Errorf("notification %s already exists", event.ID)
	}
	now := s.now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = event.CreatedAt

	s.events[event.ID] = event.Clone()
	return nil
}

// GetEvent retrieves an event by ID. Returns nil, nil if not found.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (*notification.NotificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.events[id].Clone(), nil
}

// UpdateEvent persists the mutable fields of an existing event.
func (s *MemoryStore) UpdateEvent(_ context.Context, event *notification.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; !ok {
		return fmt.Errorf("notification %s not found", event.ID)
	}
	event.UpdatedAt = s.now().UTC()
	s.events[event.ID] = event.Clone()
	return nil
}

// ListEvents retrieves events newest first with pagination and filtering.
func (s *MemoryStore) ListEvents(_ context.Context, filter notification.ListFilter) ([]*notification.NotificationEvent, int, error) {
	filter.Normalize()

	s.mu.RLock()
	matched := make([]*notification.NotificationEvent, 0)
	for _, e := range s.events {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	from := min((filter.Page-1)*filter.PageSize, total)
	to := min(from+filter.PageSize, total)

	out := make([]*notification.NotificationEvent, 0, to-from)
	for _, e := range matched[from:to] {
		out = append(out, e.Clone())
	}
	return out, total, nil
}

func matches(e *notification.NotificationEvent, f notification.ListFilter) bool {
	if f.Status != "" && !strings.EqualFold(string(e.Status), f.Status) {
		return false
	}
	if f.Channel != "" && !strings.EqualFold(string(e.Channel), f.Channel) {
		return false
	}
	if f.Recipient != "" && e.Recipient != f.Recipient {
		return false
	}
	if f.ContextID != "" && e.ContextID != f.ContextID {
		return false
	}
	return true
}

// ClaimDueRetries atomically moves due QUEUED events into PENDING.
func (s *MemoryStore) ClaimDueRetries(_ context.Context, now time.Time, limit int) ([]*notification.NotificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*notification.NotificationEvent, 0)
	for _, e := range s.events {
		if e.Status == notification.StatusQueued && e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	stamp := s.now().UTC()
	out := make([]*notification.NotificationEvent, 0, len(due))
	for _, e := range due {
		e.Status = notification.StatusPending
		e.UpdatedAt = stamp
		out = append(out, e.Clone())
	}
	return out, nil
}

// TouchPending re-stamps a PENDING event still carrying observed.
func (s *MemoryStore) TouchPending(_ context.Context, id string, observed time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok || e.Status != notification.StatusPending || !e.UpdatedAt.Equal(observed) {
		return time.Time{}, false, nil
	}
	e.UpdatedAt = nextStamp(s.now(), observed)
	return e.UpdatedAt, true, nil
}

// nextStamp returns a microsecond precision stamp strictly after observed,
// so a touch always changes the row even when the clock has not moved.
func nextStamp(now, observed time.Time) time.Time {
	next := now.UTC().Truncate(time.Microsecond)
	if !next.After(observed) {
		next = observed.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return next
}

// ListStalePending retrieves events stuck in PENDING since before olderThan.
func (s *MemoryStore) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*notification.NotificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stale := make([]*notification.NotificationEvent, 0)
	for _, e := range s.events {
		if e.Status == notification.StatusPending && e.UpdatedAt.Before(olderThan) {
			stale = append(stale, e.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// ApplyDeliveryReport updates the event carrying the report's provider ID.
func (s *MemoryStore) ApplyDeliveryReport(_ context.Context, report *notification.DeliveryReport) (*notification.NotificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ProviderID != report.ProviderID {
			continue
		}
		applyReport(e, report)
		e.UpdatedAt = s.now().UTC()
		return e.Clone(), nil
	}
	return nil, nil
}

// applyReport copies a delivery report onto an event.
func applyReport(e *notification.NotificationEvent, report *notification.DeliveryReport) {
	at := report.At.UTC()
	e.Status = report.Status
	switch report.Status {
	case notification.StatusDelivered:
		e.DeliveredAt = &at
	case notification.StatusFailed:
		e.FailedAt = &at
		e.ErrorCategory = report.Category
		e.ErrorMessage = report.ErrorMessage
	}
}

// CreateRetry inserts a retry attempt record and fills in its ID.
func (s *MemoryStore) CreateRetry(_ context.Context, retry *notification.NotificationRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[retry.NotificationID]; !ok {
		return fmt.Errorf("notification %s not found", retry.NotificationID)
	}
	if retry.ID == "" {
		retry.ID = uuid.New().String()
	}
	if retry.CreatedAt.IsZero() {
		retry.CreatedAt = s.now().UTC()
	}
	c := *retry
	s.retries[retry.NotificationID] = append(s.retries[retry.NotificationID], &c)
	return nil
}

// UpdateRetry records the outcome of a retry attempt.
func (s *MemoryStore) UpdateRetry(_ context.Context, retry *notification.NotificationRetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.retries[retry.NotificationID] {
		if r.ID == retry.ID {
			c := *retry
			s.retries[retry.NotificationID][i] = &c
			return nil
		}
	}
	return fmt.Errorf("retry %s not found", retry.ID)
}

// ListRetries returns the retry attempts of an event ordered by attempt number.
func (s *MemoryStore) ListRetries(_ context.Context, notificationID string) ([]*notification.NotificationRetry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*notification.NotificationRetry, 0, len(s.retries[notificationID]))
	for _, r := range s.retries[notificationID] {
		c := *r
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

// Stats counts events created at or after since.
func (s *MemoryStore) Stats(_ context.Context, since time.Time) (*notification.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := notification.NewStats(since)
	for _, e := range s.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.Add(e.Channel, e.Status, 1)
		if e.Escalated {
			stats.Escalated++
		}
	}
	return stats, nil
}
