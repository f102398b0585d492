package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/infra/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventStores returns a fresh instance of every local EventStore backend.
func eventStores(t *testing.T) map[string]notification.EventStore {
	t.Helper()

	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(context.Background()))
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]notification.EventStore{
		"memory": store.NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s notification.EventStore)) {
	for name, s := range eventStores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, s)
		})
	}
}

func newEvent(ch notification.Channel, status notification.Status) *notification.NotificationEvent {
	return &notification.NotificationEvent{
		Type:       notification.TypeBookingReminder,
		Channel:    ch,
		TemplateID: "booking_reminder.v1",
		Priority:   notification.PriorityNormal,
		UserID:     "user-1",
		Recipient:  "parent@example.com",
		Content:    "Your booking starts tomorrow.",
		Status:     status,
		MaxRetries: 3,
	}
}

func queuedAt(next time.Time) *notification.NotificationEvent {
	e := newEvent(notification.ChannelSMS, notification.StatusQueued)
	e.Recipient = "+15551234567"
	e.NextRetryAt = &next
	return e
}

func TestEventRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()

		scheduled := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
		e := newEvent(notification.ChannelEmail, notification.StatusQueued)
		e.Subject = "Reminder"
		e.RecipientName = "Dana"
		e.ContextType = "booking"
		e.ContextID = "B-1"
		e.ScheduledAt = &scheduled
		e.NextRetryAt = &scheduled
		require.NoError(t, s.CreateEvent(ctx, e))
		require.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())

		got, err := s.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, e.Type, got.Type)
		assert.Equal(t, e.Channel, got.Channel)
		assert.Equal(t, "Reminder", got.Subject)
		assert.Equal(t, "Dana", got.RecipientName)
		assert.Equal(t, "B-1", got.ContextID)
		assert.Equal(t, 3, got.MaxRetries)
		require.NotNil(t, got.ScheduledAt)
		assert.True(t, scheduled.Equal(*got.ScheduledAt))
		assert.Nil(t, got.SentAt)

		missing, err := s.GetEvent(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, missing)

		sent := time.Now().UTC()
		got.Status = notification.StatusSent
		got.ProviderID = "prov-1"
		got.SentAt = &sent
		got.NextRetryAt = nil
		got.Escalated = true
		require.NoError(t, s.UpdateEvent(ctx, got))

		updated, err := s.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusSent, updated.Status)
		assert.Equal(t, "prov-1", updated.ProviderID)
		assert.True(t, updated.Escalated)
		assert.Nil(t, updated.NextRetryAt)
		require.NotNil(t, updated.SentAt)
		assert.WithinDuration(t, sent, *updated.SentAt, time.Microsecond)
	})
}

func TestUpdateUnknownEvent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		e := newEvent(notification.ChannelEmail, notification.StatusSent)
		e.ID = "ghost"
		assert.Error(t, s.UpdateEvent(context.Background(), e))
	})
}

func TestClaimDueRetries(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()
		now := time.Now().UTC()

		later := queuedAt(now.Add(-1 * time.Minute))
		earlier := queuedAt(now.Add(-2 * time.Minute))
		future := queuedAt(now.Add(time.Hour))
		pending := newEvent(notification.ChannelSMS, notification.StatusPending)
		for _, e := range []*notification.NotificationEvent{later, earlier, future, pending} {
			require.NoError(t, s.CreateEvent(ctx, e))
		}

		claimed, err := s.ClaimDueRetries(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, earlier.ID, claimed[0].ID)
		assert.Equal(t, notification.StatusPending, claimed[0].Status)

		claimed, err = s.ClaimDueRetries(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, later.ID, claimed[0].ID)

		claimed, err = s.ClaimDueRetries(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)

		stored, err := s.GetEvent(ctx, future.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusQueued, stored.Status)
	})
}

func TestClaimDueRetriesNeverDoubleClaims(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()
		now := time.Now().UTC()

		const total = 40
		for i := 0; i < total; i++ {
			require.NoError(t, s.CreateEvent(ctx, queuedAt(now.Add(-time.Duration(i)*time.Second))))
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					claimed, err := s.ClaimDueRetries(ctx, now, 3)
					if !assert.NoError(t, err) || len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, e := range claimed {
						seen[e.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "event %s claimed %d times", id, n)
		}
	})
}

func TestTouchPendingIsConditional(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()
		now := time.Now().UTC()

		require.NoError(t, s.CreateEvent(ctx, queuedAt(now.Add(-time.Minute))))
		claimed, err := s.ClaimDueRetries(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		observed := claimed[0].UpdatedAt

		stamp, ok, err := s.TouchPending(ctx, claimed[0].ID, observed)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, stamp.After(observed))

		// The first touch moved the row on; the claim's stamp no longer matches.
		_, ok, err = s.TouchPending(ctx, claimed[0].ID, observed)
		require.NoError(t, err)
		assert.False(t, ok)

		stored, err := s.GetEvent(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.True(t, stored.UpdatedAt.Equal(stamp))

		sent := newEvent(notification.ChannelEmail, notification.StatusSent)
		require.NoError(t, s.CreateEvent(ctx, sent))
		stored, err = s.GetEvent(ctx, sent.ID)
		require.NoError(t, err)
		_, ok, err = s.TouchPending(ctx, sent.ID, stored.UpdatedAt)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.TouchPending(ctx, "missing", now)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestListStalePending(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()
		now := time.Now().UTC()

		old := newEvent(notification.ChannelEmail, notification.StatusPending)
		old.CreatedAt = now.Add(-time.Hour)
		fresh := newEvent(notification.ChannelEmail, notification.StatusPending)
		fresh.CreatedAt = now
		oldSent := newEvent(notification.ChannelEmail, notification.StatusSent)
		oldSent.CreatedAt = now.Add(-time.Hour)
		for _, e := range []*notification.NotificationEvent{old, fresh, oldSent} {
			require.NoError(t, s.CreateEvent(ctx, e))
		}

		stale, err := s.ListStalePending(ctx, now.Add(-10*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)
	})
}

func TestApplyDeliveryReport(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()

		e := newEvent(notification.ChannelSMS, notification.StatusSent)
		e.ProviderID = "SM-77"
		require.NoError(t, s.CreateEvent(ctx, e))

		at := time.Now().UTC()
		updated, err := s.ApplyDeliveryReport(ctx, &notification.DeliveryReport{
			ProviderID:   "SM-77",
			Status:       notification.StatusFailed,
			Category:     notification.CategoryInvalidNumber,
			ErrorMessage: "unreachable",
			At:           at,
		})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, e.ID, updated.ID)
		assert.Equal(t, notification.StatusFailed, updated.Status)

		got, err := s.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusFailed, got.Status)
		assert.Equal(t, notification.CategoryInvalidNumber, got.ErrorCategory)
		assert.Equal(t, "unreachable", got.ErrorMessage)
		require.NotNil(t, got.FailedAt)

		updated, err = s.ApplyDeliveryReport(ctx, &notification.DeliveryReport{
			ProviderID: "unknown",
			Status:     notification.StatusDelivered,
			At:         at,
		})
		require.NoError(t, err)
		assert.Nil(t, updated)
	})
}

func TestRetries(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()

		e := newEvent(notification.ChannelSMS, notification.StatusQueued)
		require.NoError(t, s.CreateEvent(ctx, e))

		now := time.Now().UTC()
		second := &notification.NotificationRetry{NotificationID: e.ID, AttemptNumber: 2, Status: notification.StatusQueued, ScheduledFor: now.Add(15 * time.Minute)}
		first := &notification.NotificationRetry{NotificationID: e.ID, AttemptNumber: 1, Status: notification.StatusQueued, ScheduledFor: now.Add(5 * time.Minute)}
		require.NoError(t, s.CreateRetry(ctx, second))
		require.NoError(t, s.CreateRetry(ctx, first))
		require.NotEmpty(t, first.ID)

		attempted := now.Add(5 * time.Minute)
		first.Status = notification.StatusFailed
		first.ErrorMessage = "carrier timeout"
		first.AttemptedAt = &attempted
		require.NoError(t, s.UpdateRetry(ctx, first))

		retries, err := s.ListRetries(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, retries, 2)
		assert.Equal(t, 1, retries[0].AttemptNumber)
		assert.Equal(t, notification.StatusFailed, retries[0].Status)
		assert.Equal(t, "carrier timeout", retries[0].ErrorMessage)
		require.NotNil(t, retries[0].AttemptedAt)
		assert.Equal(t, 2, retries[1].AttemptNumber)
		assert.Nil(t, retries[1].AttemptedAt)

		none, err := s.ListRetries(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestListEventsAndStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s notification.EventStore) {
		ctx := context.Background()
		now := time.Now().UTC()

		statuses := []notification.Status{
			notification.StatusSent, notification.StatusSent, notification.StatusFailed,
		}
		for i, st := range statuses {
			e := newEvent(notification.ChannelEmail, st)
			e.CreatedAt = now.Add(time.Duration(i) * time.Second)
			e.ContextID = "B-9"
			require.NoError(t, s.CreateEvent(ctx, e))
		}
		sms := newEvent(notification.ChannelSMS, notification.StatusDelivered)
		sms.CreatedAt = now.Add(10 * time.Second)
		require.NoError(t, s.CreateEvent(ctx, sms))

		ancient := newEvent(notification.ChannelSMS, notification.StatusFailed)
		ancient.CreatedAt = now.Add(-48 * time.Hour)
		ancient.Escalated = true
		require.NoError(t, s.CreateEvent(ctx, ancient))

		events, total, err := s.ListEvents(ctx, notification.ListFilter{Page: 1, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, events, 2)
		assert.Equal(t, sms.ID, events[0].ID)

		events, total, err = s.ListEvents(ctx, notification.ListFilter{Status: "sent", ContextID: "B-9"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, events, 2)

		_, total, err = s.ListEvents(ctx, notification.ListFilter{Page: 3, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)

		stats, err := s.Stats(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 4, stats.Total)
		assert.EqualValues(t, 2, stats.ByChannel[notification.ChannelEmail][notification.StatusSent])
		assert.EqualValues(t, 1, stats.ByChannel[notification.ChannelEmail][notification.StatusFailed])
		assert.EqualValues(t, 1, stats.ByChannel[notification.ChannelSMS][notification.StatusDelivered])
		assert.Zero(t, stats.Escalated)
		assert.InDelta(t, 75.0, stats.SuccessRate(), 0.001)

		all, err := s.Stats(ctx, now.Add(-72*time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 5, all.Total)
		assert.EqualValues(t, 1, all.Escalated)
	})
}
