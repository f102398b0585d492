package notification

import (
	"fmt"
	"strings"
	"time"

	"instacares-notify/internal/common"
)

// SendRequest is the unified input for dispatching one logical notification
// over one or more channels.
type SendRequest struct {
	UserID      string           `json:"user_id"`
	Email       string           `json:"email"`
	Phone       string           `json:"phone"`
	Name        string           `json:"name"`
	Type        NotificationType `json:"type"`
	TemplateID  string           `json:"template_id"`
	Subject     string           `json:"subject"`
	Content     string           `json:"content"`
	HTMLContent string           `json:"html_content"`
	Channels    []Channel        `json:"channels"`
	Priority    Priority         `json:"priority"`
	ContextType string           `json:"context_type"`
	ContextID   string           `json:"context_id"`
	ScheduledAt *time.Time       `json:"scheduled_at"`
	MaxRetries  int              `json:"max_retries"`
}

// Validate checks the request-level invariants. It never inspects per-channel
// contact info; that is reported per channel by the dispatcher.
func (r *SendRequest) Validate() error {
	var problems []string

	if strings.TrimSpace(r.Content) == "" {
		problems = append(problems, "content is required")
	}
	if r.Type == "" {
		problems = append(problems, "type is required")
	} else if !IsValidType(r.Type) {
		problems = append(problems, fmt.Sprintf("unsupported notification type: %s", r.Type))
	}
	if strings.TrimSpace(r.TemplateID) == "" {
		problems = append(problems, "template_id is required")
	}
	if len(r.Channels) == 0 {
		problems = append(problems, "at least one channel is required")
	}
	for _, ch := range r.Channels {
		if !ch.Valid() {
			problems = append(problems, fmt.Sprintf("unsupported channel: %s", ch))
		}
	}
	if r.Priority != "" && !r.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("unsupported priority: %s", r.Priority))
	}
	if r.MaxRetries < 0 {
		problems = append(problems, "max_retries must not be negative")
	}

	if len(problems) > 0 {
		return common.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

// channels returns the requested channels without duplicates, in request order.
func (r *SendRequest) channels() []Channel {
	seen := make(map[Channel]bool, len(r.Channels))
	out := make([]Channel, 0, len(r.Channels))
	for _, ch := range r.Channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// contactFor returns the address used for a channel, or "" when absent.
func (r *SendRequest) contactFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return strings.TrimSpace(r.Email)
	case ChannelSMS:
		return strings.TrimSpace(r.Phone)
	}
	return ""
}

// OutcomeKind classifies what happened on a single channel.
type OutcomeKind string

const (
	OutcomeSent        OutcomeKind = "sent"
	OutcomeScheduled   OutcomeKind = "scheduled"
	OutcomeFailed      OutcomeKind = "failed"
	OutcomeRejected    OutcomeKind = "rejected"
	OutcomeRateLimited OutcomeKind = "rate_limited"
	OutcomeSkipped     OutcomeKind = "skipped"
)

// Succeeded reports whether the outcome counts towards overall success.
func (k OutcomeKind) Succeeded() bool {
	return k == OutcomeSent || k == OutcomeScheduled
}

// Failed reports whether the outcome counts as a channel failure.
func (k OutcomeKind) Failed() bool {
	return k == OutcomeFailed || k == OutcomeRejected || k == OutcomeRateLimited
}

// ChannelOutcome is the tagged per-channel result of a dispatch.
type ChannelOutcome struct {
	Channel        Channel       `json:"channel"`
	Kind           OutcomeKind   `json:"kind"`
	NotificationID string        `json:"notification_id,omitempty"`
	Category       ErrorCategory `json:"error_category,omitempty"`
	Error          string        `json:"error,omitempty"`
	RetryAfter     time.Duration `json:"-"`
	WillRetry      bool          `json:"will_retry,omitempty"`
}

// SendResult aggregates all channel outcomes of one dispatch.
type SendResult struct {
	Success           bool             `json:"success"`
	PartialSuccess    bool             `json:"partial_success"`
	NotificationIDs   []string         `json:"notification_ids"`
	Errors            []string         `json:"errors"`
	Skipped           []Channel        `json:"skipped,omitempty"`
	RetryAfterSeconds int              `json:"retry_after_seconds,omitempty"`
	Outcomes          []ChannelOutcome `json:"outcomes"`
}

// AllRateLimited reports whether every attempted channel was blocked by the
// recipient rate limiter.
func (r *SendResult) AllRateLimited() bool {
	limited := 0
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeSkipped {
			continue
		}
		if o.Kind != OutcomeRateLimited {
			return false
		}
		limited++
	}
	return limited > 0
}
