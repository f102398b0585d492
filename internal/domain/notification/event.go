package notification

import "time"

// NotificationEvent is the durable record of one notification on one channel.
type NotificationEvent struct {
	ID            string           `json:"id"`
	Type          NotificationType `json:"type"`
	Channel       Channel          `json:"channel"`
	TemplateID    string           `json:"template_id"`
	Priority      Priority         `json:"priority"`
	UserID        string           `json:"user_id,omitempty"`
	Recipient     string           `json:"recipient"`
	RecipientName string           `json:"recipient_name,omitempty"`
	Subject       string           `json:"subject,omitempty"`
	Content       string           `json:"content"`
	HTMLContent   string           `json:"html_content,omitempty"`
	Status        Status           `json:"status"`
	ProviderID    string           `json:"provider_id,omitempty"`
	ErrorCategory ErrorCategory    `json:"error_category,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	RetryCount    int              `json:"retry_count"`
	MaxRetries    int              `json:"max_retries"`
	Escalated     bool             `json:"escalated"`
	ContextType   string           `json:"context_type,omitempty"`
	ContextID     string           `json:"context_id,omitempty"`
	NextRetryAt   *time.Time       `json:"next_retry_at,omitempty"`
	ScheduledAt   *time.Time       `json:"scheduled_at,omitempty"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time       `json:"delivered_at,omitempty"`
	FailedAt      *time.Time       `json:"failed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Attempts returns how many delivery attempts this event has consumed,
// counting the initial send.
func (e *NotificationEvent) Attempts() int {
	return e.RetryCount + 1
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (e *NotificationEvent) Clone() *NotificationEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.NextRetryAt = cloneTime(e.NextRetryAt)
	c.ScheduledAt = cloneTime(e.ScheduledAt)
	c.SentAt = cloneTime(e.SentAt)
	c.DeliveredAt = cloneTime(e.DeliveredAt)
	c.FailedAt = cloneTime(e.FailedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NotificationRetry records one retry attempt of a NotificationEvent.
type NotificationRetry struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	AttemptNumber  int        `json:"attempt_number"`
	Status         Status     `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ProviderID     string     `json:"provider_id,omitempty"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	AttemptedAt    *time.Time `json:"attempted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ListFilter defines pagination and filtering options for listing events.
type ListFilter struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
	Recipient string `form:"recipient"`
	Channel   string `form:"channel"`
	ContextID string `form:"context_id"`
}

// Normalize applies pagination defaults.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

// ListResponse wraps a paginated list of notification events.
type ListResponse struct {
	Notifications []*NotificationEvent `json:"notifications"`
	Total         int                  `json:"total"`
	Page          int                  `json:"page"`
	PageSize      int                  `json:"page_size"`
}

// Stats summarizes delivery outcomes grouped by channel and status.
type Stats struct {
	Since     time.Time                   `json:"since"`
	Total     int64                       `json:"total"`
	Escalated int64                       `json:"escalated"`
	ByChannel map[Channel]map[Status]int64 `json:"by_channel"`
}

// NewStats returns an empty Stats with every channel/status bucket present.
func NewStats(since time.Time) *Stats {
	s := &Stats{
		Since:     since,
		ByChannel: make(map[Channel]map[Status]int64),
	}
	for _, ch := range []Channel{ChannelEmail, ChannelSMS} {
		s.ByChannel[ch] = make(map[Status]int64)
		for _, st := range AllStatuses() {
			s.ByChannel[ch][st] = 0
		}
	}
	return s
}

// Add records n events of the given channel and status.
func (s *Stats) Add(ch Channel, st Status, n int64) {
	if _, ok := s.ByChannel[ch]; !ok {
		s.ByChannel[ch] = make(map[Status]int64)
	}
	s.ByChannel[ch][st] += n
	s.Total += n
}

// SuccessRate returns the percentage of events that reached SENT or DELIVERED.
func (s *Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	var ok int64
	for _, byStatus := range s.ByChannel {
		ok += byStatus[StatusSent] + byStatus[StatusDelivered]
	}
	return float64(ok) / float64(s.Total) * 100
}
