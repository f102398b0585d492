package notification

import (
	"fmt"
	"strings"
)

// Channel represents a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// ParseChannel converts a case-insensitive channel name into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unsupported channel: %q", s)
	}
	return c, nil
}

// Status represents the lifecycle state of a NotificationEvent.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusDelivered Status = "DELIVERED"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusQueued, StatusSent, StatusFailed, StatusDelivered}
}

// Priority ranks how urgent a notification is.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is a declared priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// NotificationType enumerates the business events that produce notifications.
type NotificationType string

const (
	TypeBookingConfirmation NotificationType = "booking_confirmation"
	TypeBookingCancelled    NotificationType = "booking_cancelled"
	TypeBookingReminder     NotificationType = "booking_reminder"
	TypePickupReminder      NotificationType = "pickup_reminder"
	TypePaymentReceived     NotificationType = "payment_received"
	TypePaymentFailed       NotificationType = "payment_failed"
	TypeSecurityAlert       NotificationType = "security_alert"
	TypeEmergencyAlert      NotificationType = "emergency_alert"
	TypeCaregiverMessage    NotificationType = "caregiver_message"
	TypeMarketing           NotificationType = "marketing"
)

var allTypes = []NotificationType{
	TypeBookingConfirmation,
	TypeBookingCancelled,
	TypeBookingReminder,
	TypePickupReminder,
	TypePaymentReceived,
	TypePaymentFailed,
	TypeSecurityAlert,
	TypeEmergencyAlert,
	TypeCaregiverMessage,
	TypeMarketing,
}

// AllTypes returns every declared notification type.
func AllTypes() []NotificationType {
	out := make([]NotificationType, len(allTypes))
	copy(out, allTypes)
	return out
}

// IsValidType checks whether a notification type is recognized.
func IsValidType(t NotificationType) bool {
	for _, known := range allTypes {
		if known == t {
			return true
		}
	}
	return false
}

// IsEmergency reports whether exhausting delivery for this type is a safety issue.
func (t NotificationType) IsEmergency() bool {
	return t == TypeEmergencyAlert
}

// ErrorCategory is a provider-independent classification of a delivery failure.
type ErrorCategory string

const (
	CategoryNone                  ErrorCategory = ""
	CategoryValidation            ErrorCategory = "validation"
	CategoryInvalidNumber         ErrorCategory = "invalid_number"
	CategoryInvalidAddress        ErrorCategory = "invalid_address"
	CategoryUnsupportedNumberType ErrorCategory = "unsupported_number_type"
	CategoryPermissionDenied      ErrorCategory = "permission_denied"
	CategoryRateLimited           ErrorCategory = "rate_limited"
	CategoryTimeout               ErrorCategory = "timeout"
	CategoryUnknown               ErrorCategory = "unknown"
)
