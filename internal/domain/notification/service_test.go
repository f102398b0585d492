package notification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"instacares-notify/internal/common"
	"instacares-notify/internal/domain/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceGetNotificationNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	svc := notification.NewService(h.store, notification.WithServiceClock(h.clock.Now))

	_, err := svc.GetNotification(context.Background(), "missing")
	var notFound *common.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "missing", notFound.ID)

	_, err = svc.ListRetries(context.Background(), "missing")
	assert.True(t, errors.As(err, &notFound))
}

func TestServiceHandleDeliveryReport(t *testing.T) {
	t.Parallel()

	smsP := newFakeProvider(notification.ChannelSMS, notification.Delivered("SM123"))
	h := newHarness(t, []notification.Provider{smsP})
	svc := notification.NewService(h.store, notification.WithServiceClock(h.clock.Now))
	ctx := context.Background()

	res, err := h.dispatcher.Send(ctx, sendRequest(notification.ChannelSMS))
	require.NoError(t, err)
	id := res.NotificationIDs[0]

	at := h.clock.Now().Add(30 * time.Second)
	require.NoError(t, svc.HandleDeliveryReport(ctx, &notification.DeliveryReport{
		ProviderID: "SM123",
		Status:     notification.StatusDelivered,
		At:         at,
	}))

	e := h.event(t, id)
	assert.Equal(t, notification.StatusDelivered, e.Status)
	require.NotNil(t, e.DeliveredAt)
	assert.Equal(t, at, *e.DeliveredAt)
}

func TestServiceHandleDeliveryReportFailure(t *testing.T) {
	t.Parallel()

	smsP := newFakeProvider(notification.ChannelSMS, notification.Delivered("SM999"))
	h := newHarness(t, []notification.Provider{smsP})
	svc := notification.NewService(h.store, notification.WithServiceClock(h.clock.Now))
	ctx := context.Background()

	res, err := h.dispatcher.Send(ctx, sendRequest(notification.ChannelSMS))
	require.NoError(t, err)

	require.NoError(t, svc.HandleDeliveryReport(ctx, &notification.DeliveryReport{
		ProviderID:   "SM999",
		Status:       notification.StatusFailed,
		Category:     notification.CategoryInvalidNumber,
		ErrorMessage: "unreachable destination handset",
	}))

	e := h.event(t, res.NotificationIDs[0])
	assert.Equal(t, notification.StatusFailed, e.Status)
	assert.Equal(t, notification.CategoryInvalidNumber, e.ErrorCategory)
	assert.NotNil(t, e.FailedAt)
}

func TestServiceHandleDeliveryReportEscalatesCriticalFailure(t *testing.T) {
	t.Parallel()

	smsP := newFakeProvider(notification.ChannelSMS, notification.Delivered("SM500"), notification.Delivered("SM501"))
	h := newHarness(t, []notification.Provider{smsP})
	svc := notification.NewService(h.store,
		notification.WithServiceClock(h.clock.Now),
		notification.WithServiceEscalator(h.escalator),
	)
	ctx := context.Background()

	critical := sendRequest(notification.ChannelSMS)
	critical.Priority = notification.PriorityCritical
	res, err := h.dispatcher.Send(ctx, critical)
	require.NoError(t, err)
	id := res.NotificationIDs[0]
	require.Equal(t, notification.StatusSent, h.event(t, id).Status)

	normal, err := h.dispatcher.Send(ctx, sendRequest(notification.ChannelSMS))
	require.NoError(t, err)

	failed := func(providerID string) *notification.DeliveryReport {
		return &notification.DeliveryReport{
			ProviderID:   providerID,
			Status:       notification.StatusFailed,
			Category:     notification.CategoryInvalidNumber,
			ErrorMessage: "unreachable destination handset",
		}
	}
	require.NoError(t, svc.HandleDeliveryReport(ctx, failed("SM500")))
	require.NoError(t, svc.HandleDeliveryReport(ctx, failed("SM501")))
	// A repeated callback does not escalate twice.
	require.NoError(t, svc.HandleDeliveryReport(ctx, failed("SM500")))

	e := h.event(t, id)
	assert.Equal(t, notification.StatusFailed, e.Status)
	assert.True(t, e.Escalated)
	assert.False(t, h.event(t, normal.NotificationIDs[0]).Escalated)
	assert.Equal(t, []string{id}, h.escalator.events)
}

func TestServiceHandleDeliveryReportRejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	svc := notification.NewService(h.store, notification.WithServiceClock(h.clock.Now))
	ctx := context.Background()

	err := svc.HandleDeliveryReport(ctx, &notification.DeliveryReport{Status: notification.StatusDelivered})
	assert.True(t, isValidationError(err))

	err = svc.HandleDeliveryReport(ctx, &notification.DeliveryReport{ProviderID: "x", Status: notification.StatusQueued})
	assert.True(t, isValidationError(err))

	err = svc.HandleDeliveryReport(ctx, &notification.DeliveryReport{ProviderID: "unknown", Status: notification.StatusDelivered})
	var notFound *common.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestServiceStatsAndList(t *testing.T) {
	t.Parallel()

	emailP := newFakeProvider(notification.ChannelEmail)
	smsP := newFakeProvider(notification.ChannelSMS,
		notification.Failed(notification.CategoryInvalidNumber, errors.New("invalid number")))
	h := newHarness(t, []notification.Provider{emailP, smsP})
	svc := notification.NewService(h.store, notification.WithServiceClock(h.clock.Now))
	ctx := context.Background()

	_, err := h.dispatcher.Send(ctx, sendRequest(notification.ChannelEmail, notification.ChannelSMS))
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.ByChannel[notification.ChannelEmail][notification.StatusSent])
	assert.EqualValues(t, 1, stats.ByChannel[notification.ChannelSMS][notification.StatusFailed])
	assert.InDelta(t, 50.0, stats.SuccessRate(), 0.001)

	list, err := svc.ListNotifications(ctx, notification.ListFilter{Channel: "sms"})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 20, list.PageSize)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, notification.ChannelSMS, list.Notifications[0].Channel)
}
