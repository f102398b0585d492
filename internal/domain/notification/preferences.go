package notification

import "context"

// Preferences holds a user's channel opt-in flags.
type Preferences struct {
	UserID       string `json:"user_id"`
	EmailEnabled bool   `json:"email_enabled"`
	SMSEnabled   bool   `json:"sms_enabled"`
}

// DefaultPreferences enables every channel.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{UserID: userID, EmailEnabled: true, SMSEnabled: true}
}

// Allows reports whether the user accepts notifications on ch.
func (p *Preferences) Allows(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	}
	return false
}

// PreferenceStore loads user notification preferences.
// Implementations live in infra/preferences/.
type PreferenceStore interface {
	// Get returns the user's preferences, or nil, nil when none are stored.
	Get(ctx context.Context, userID string) (*Preferences, error)
}
