package notification_test

import (
	"testing"
	"time"

	"instacares-notify/internal/domain/notification"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	p := notification.DefaultRetryPolicy()
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 5 * time.Minute},
		{2, 15 * time.Minute},
		{3, time.Hour},
		{9, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.retry), "retry %d", tt.retry)
	}

	custom := notification.RetryPolicy{Backoff: []time.Duration{time.Second}}
	assert.Equal(t, time.Second, custom.Delay(4))
}

func TestRetryPolicyMaxAttempts(t *testing.T) {
	t.Parallel()

	p := notification.DefaultRetryPolicy()
	tests := []struct {
		name      string
		requested int
		priority  notification.Priority
		notifType notification.NotificationType
		want      int
	}{
		{"default", 0, notification.PriorityNormal, notification.TypeBookingConfirmation, 3},
		{"explicit", 4, notification.PriorityLow, notification.TypeMarketing, 4},
		{"capped", 9, notification.PriorityHigh, notification.TypePaymentFailed, 5},
		{"critical cap", 9, notification.PriorityCritical, notification.TypePickupReminder, 9},
		{"critical capped", 20, notification.PriorityCritical, notification.TypePickupReminder, 10},
		{"emergency type at normal priority", 20, notification.PriorityNormal, notification.TypeEmergencyAlert, 10},
		{"single attempt", 1, notification.PriorityNormal, notification.TypeSecurityAlert, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.MaxAttempts(tt.requested, tt.priority, tt.notifType))
		})
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	permanent := []notification.ErrorCategory{
		notification.CategoryValidation,
		notification.CategoryInvalidNumber,
		notification.CategoryInvalidAddress,
		notification.CategoryUnsupportedNumberType,
		notification.CategoryPermissionDenied,
	}
	for _, c := range permanent {
		assert.False(t, notification.Retryable(c), c)
	}

	transient := []notification.ErrorCategory{
		notification.CategoryRateLimited,
		notification.CategoryTimeout,
		notification.CategoryUnknown,
	}
	for _, c := range transient {
		assert.True(t, notification.Retryable(c), c)
	}
}

func TestRecipientRateLimitPolicy(t *testing.T) {
	t.Parallel()

	p := notification.DefaultRateLimitPolicy()
	assert.Equal(t, 50, p.LimitFor(notification.PriorityNormal))
	assert.Equal(t, 50, p.LimitFor(notification.PriorityHigh))
	assert.Equal(t, 100, p.LimitFor(notification.PriorityCritical))
	assert.Equal(t, time.Hour, p.Window)
}
