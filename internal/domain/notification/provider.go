package notification

import "context"

// Message is the provider-facing rendering of one NotificationEvent.
type Message struct {
	NotificationID string
	Type           NotificationType
	To             string
	ToName         string
	Subject        string
	Text           string
	HTML           string
}

// DeliveryResult is what a provider returns for a single send attempt.
// Providers never persist anything; the caller stores the result.
type DeliveryResult struct {
	ProviderID string
	Category   ErrorCategory
	Err        error
}

// OK reports whether the provider accepted the message.
func (r DeliveryResult) OK() bool {
	return r.Err == nil
}

// Delivered builds a successful result.
func Delivered(providerID string) DeliveryResult {
	return DeliveryResult{ProviderID: providerID}
}

// Failed builds a failed result with a stable category.
func Failed(category ErrorCategory, err error) DeliveryResult {
	if category == CategoryNone {
		category = CategoryUnknown
	}
	return DeliveryResult{Category: category, Err: err}
}

// Provider defines the contract for a notification delivery channel.
// Implementations live in infra/ (e.g., Resend for email, Twilio for SMS).
type Provider interface {
	// Channel returns which delivery channel this provider handles.
	Channel() Channel

	// Prepare normalizes the destination and enforces local content policy
	// before any record is written or network call is made. It returns a
	// *common.ValidationError when the message must not be sent.
	Prepare(msg *Message) error

	// Send delivers a prepared message.
	Send(ctx context.Context, msg *Message) DeliveryResult
}

// Content is the resolved subject and body for a notification type.
type Content struct {
	TemplateID string
	Subject    string
	Text       string
	HTML       string
}

// ContentResolver maps a notification type and its context data to content.
// Implementations live in infra/template/.
type ContentResolver interface {
	Resolve(notifType NotificationType, data map[string]any) (*Content, error)
}
