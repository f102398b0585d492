package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"instacares-notify/internal/domain/notification"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	eventsTable  = "notification_events"
	retriesTable = "notification_retries"
)

var _ notification.EventStore = (*SupabaseStore)(nil)

// SupabaseStore implements EventStore using the Supabase Go SDK.
type SupabaseStore struct {
	client *supa.Client
	now    func() time.Time
}

// NewSupabaseStore creates a new Supabase-backed event store.
func NewSupabaseStore(supabaseURL, serviceKey string) (*SupabaseStore, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseStore{client: client, now: time.Now}, nil
}

// Client exposes the underlying client so other Supabase-backed stores can
// share one connection.
func (s *SupabaseStore) Client() *supa.Client {
	return s.client
}

// eventRow is the PostgREST representation of a notification event.
type eventRow struct {
	ID            string  `json:"id,omitempty"`
	Type          string  `json:"type"`
	Channel       string  `json:"channel"`
	TemplateID    string  `json:"template_id"`
	Priority      string  `json:"priority"`
	UserID        *string `json:"user_id"`
	Recipient     string  `json:"recipient"`
	RecipientName *string `json:"recipient_name"`
	Subject       *string `json:"subject"`
	Content       string  `json:"content"`
	HTMLContent   *string `json:"html_content"`
	Status        string  `json:"status"`
	ProviderID    *string `json:"provider_id"`
	ErrorCategory *string `json:"error_category"`
	ErrorMessage  *string `json:"error_message"`
	RetryCount    int     `json:"retry_count"`
	MaxRetries    int     `json:"max_retries"`
	Escalated     bool    `json:"escalated"`
	ContextType   *string `json:"context_type"`
	ContextID     *string `json:"context_id"`
	NextRetryAt   *string `json:"next_retry_at"`
	ScheduledAt   *string `json:"scheduled_at"`
	SentAt        *string `json:"sent_at"`
	DeliveredAt   *string `json:"delivered_at"`
	FailedAt      *string `json:"failed_at"`
	CreatedAt     string  `json:"created_at,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
}

// retryRow is the PostgREST representation of a retry attempt.
type retryRow struct {
	ID             string  `json:"id,omitempty"`
	NotificationID string  `json:"notification_id"`
	AttemptNumber  int     `json:"attempt_number"`
	Status         string  `json:"status"`
	ErrorMessage   *string `json:"error_message"`
	ProviderID     *string `json:"provider_id"`
	ScheduledFor   string  `json:"scheduled_for"`
	AttemptedAt    *string `json:"attempted_at"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

// CreateEvent inserts a new event and fills in ID and timestamps.
func (s *SupabaseStore) CreateEvent(ctx context.Context, event *notification.NotificationEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	event.UpdatedAt = event.CreatedAt

	data, _, err := s.client.From(eventsTable).Insert(eventToRow(event), false, "", "representation", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	var results []eventRow
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing insert response: %w", err)
	}
	if len(results) > 0 {
		event.ID = results[0].ID
	}
	return nil
}

// GetEvent retrieves an event by ID. Returns nil, nil if not found.
func (s *SupabaseStore) GetEvent(ctx context.Context, id string) (*notification.NotificationEvent, error) {
	data, _, err := s.client.From(eventsTable).Select("*", "", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching notification: %w", err)
	}

	events, err := parseEvents(data)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// UpdateEvent persists the mutable fields of an existing event.
func (s *SupabaseStore) UpdateEvent(ctx context.Context, event *notification.NotificationEvent) error {
	event.UpdatedAt = s.now().UTC()

	update := map[string]any{
		"recipient":      event.Recipient,
		"status":         string(event.Status),
		"provider_id":    nullString(event.ProviderID),
		"error_category": nullString(string(event.ErrorCategory)),
		"error_message":  nullString(event.ErrorMessage),
		"retry_count":    event.RetryCount,
		"max_retries":    event.MaxRetries,
		"escalated":      event.Escalated,
		"next_retry_at":  formatTime(event.NextRetryAt),
		"scheduled_at":   formatTime(event.ScheduledAt),
		"sent_at":        formatTime(event.SentAt),
		"delivered_at":   formatTime(event.DeliveredAt),
		"failed_at":      formatTime(event.FailedAt),
		"updated_at":     event.UpdatedAt.Format(time.RFC3339Nano),
	}

	_, _, err := s.client.From(eventsTable).Update(update, "", "").Eq("id", event.ID).Execute()
	if err != nil {
		return fmt.Errorf("updating notification: %w", err)
	}
	return nil
}

// ListEvents retrieves events with pagination and filtering.
func (s *SupabaseStore) ListEvents(ctx context.Context, filter notification.ListFilter) ([]*notification.NotificationEvent, int, error) {
	filter.Normalize()
	offset := (filter.Page - 1) * filter.PageSize

	query := s.client.From(eventsTable).Select("*", "exact", false)

	if filter.Status != "" {
		query = query.Eq("status", strings.ToUpper(filter.Status))
	}
	if filter.Recipient != "" {
		query = query.Eq("recipient", filter.Recipient)
	}
	if filter.Channel != "" {
		query = query.Eq("channel", strings.ToUpper(filter.Channel))
	}
	if filter.ContextID != "" {
		query = query.Eq("context_id", filter.ContextID)
	}

	query = query.Order("created_at", &postgrest.OrderOpts{Ascending: false})
	query = query.Range(offset, offset+filter.PageSize-1, "")

	data, count, err := query.Execute()
	if err != nil {
		return nil, 0, fmt.Errorf("listing notifications: %w", err)
	}

	events, err := parseEvents(data)
	if err != nil {
		return nil, 0, err
	}
	return events, int(count), nil
}

// ClaimDueRetries selects due QUEUED events and claims each with a
// conditional update (status must still be QUEUED). PostgREST has no
// UPDATE ... LIMIT, so a row lost to a concurrent sweep simply returns no
// representation and is skipped.
func (s *SupabaseStore) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*notification.NotificationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	data, _, err := s.client.From(eventsTable).
		Select("id", "", false).
		Eq("status", string(notification.StatusQueued)).
		Lte("next_retry_at", now.UTC().Format(time.RFC3339Nano)).
		Order("next_retry_at", &postgrest.OrderOpts{Ascending: true}).
		Range(0, limit-1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("listing due retries: %w", err)
	}

	var candidates []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("parsing due retries: %w", err)
	}

	claimed := make([]*notification.NotificationEvent, 0, len(candidates))
	for _, c := range candidates {
		update := map[string]any{
			"status":     string(notification.StatusPending),
			"updated_at": s.now().UTC().Format(time.RFC3339Nano),
		}
		data, _, err := s.client.From(eventsTable).
			Update(update, "representation", "").
			Eq("id", c.ID).
			Eq("status", string(notification.StatusQueued)).
			Execute()
		if err != nil {
			return claimed, fmt.Errorf("claiming retry %s: %w", c.ID, err)
		}
		events, err := parseEvents(data)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, events...)
	}
	return claimed, nil
}

// TouchPending re-stamps a PENDING event still carrying observed, using a
// conditional PATCH on status and updated_at.
func (s *SupabaseStore) TouchPending(ctx context.Context, id string, observed time.Time) (time.Time, bool, error) {
	next := nextStamp(s.now(), observed)
	data, _, err := s.client.From(eventsTable).
		Update(map[string]any{"updated_at": next.Format(time.RFC3339Nano)}, "representation", "").
		Eq("id", id).
		Eq("status", string(notification.StatusPending)).
		Eq("updated_at", observed.UTC().Format(time.RFC3339Nano)).
		Execute()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("touching notification: %w", err)
	}
	events, err := parseEvents(data)
	if err != nil {
		return time.Time{}, false, err
	}
	return next, len(events) > 0, nil
}

// ListStalePending retrieves events stuck in PENDING since before olderThan.
func (s *SupabaseStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*notification.NotificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	data, _, err := s.client.From(eventsTable).
		Select("*", "", false).
		Eq("status", string(notification.StatusPending)).
		Lt("updated_at", olderThan.UTC().Format(time.RFC3339Nano)).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Range(0, limit-1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("listing stale notifications: %w", err)
	}
	return parseEvents(data)
}

// ApplyDeliveryReport updates the event carrying the report's provider ID.
func (s *SupabaseStore) ApplyDeliveryReport(ctx context.Context, report *notification.DeliveryReport) (*notification.NotificationEvent, error) {
	at := report.At.UTC().Format(time.RFC3339Nano)

	update := map[string]any{
		"status":     string(report.Status),
		"updated_at": s.now().UTC().Format(time.RFC3339Nano),
	}
	switch report.Status {
	case notification.StatusDelivered:
		update["delivered_at"] = at
	case notification.StatusFailed:
		update["failed_at"] = at
		update["error_category"] = nullString(string(report.Category))
		update["error_message"] = nullString(report.ErrorMessage)
	}

	data, _, err := s.client.From(eventsTable).
		Update(update, "representation", "").
		Eq("provider_id", report.ProviderID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("applying delivery report: %w", err)
	}

	events, err := parseEvents(data)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// CreateRetry inserts a retry attempt record and fills in its ID.
func (s *SupabaseStore) CreateRetry(ctx context.Context, retry *notification.NotificationRetry) error {
	if retry.CreatedAt.IsZero() {
		retry.CreatedAt = s.now().UTC()
	}
	row := retryRow{
		NotificationID: retry.NotificationID,
		AttemptNumber:  retry.AttemptNumber,
		Status:         string(retry.Status),
		ErrorMessage:   optString(retry.ErrorMessage),
		ProviderID:     optString(retry.ProviderID),
		ScheduledFor:   retry.ScheduledFor.UTC().Format(time.RFC3339Nano),
		AttemptedAt:    optTime(retry.AttemptedAt),
		CreatedAt:      retry.CreatedAt.Format(time.RFC3339Nano),
	}

	data, _, err := s.client.From(retriesTable).Insert(row, false, "", "representation", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting retry: %w", err)
	}

	var results []retryRow
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing retry insert response: %w", err)
	}
	if len(results) > 0 {
		retry.ID = results[0].ID
	}
	return nil
}

// UpdateRetry records the outcome of a retry attempt.
func (s *SupabaseStore) UpdateRetry(ctx context.Context, retry *notification.NotificationRetry) error {
	update := map[string]any{
		"status":        string(retry.Status),
		"error_message": nullString(retry.ErrorMessage),
		"provider_id":   nullString(retry.ProviderID),
		"attempted_at":  formatTime(retry.AttemptedAt),
	}

	_, _, err := s.client.From(retriesTable).Update(update, "", "").Eq("id", retry.ID).Execute()
	if err != nil {
		return fmt.Errorf("updating retry: %w", err)
	}
	return nil
}

// ListRetries returns the retry attempts of an event ordered by attempt number.
func (s *SupabaseStore) ListRetries(ctx context.Context, notificationID string) ([]*notification.NotificationRetry, error) {
	data, _, err := s.client.From(retriesTable).
		Select("*", "", false).
		Eq("notification_id", notificationID).
		Order("attempt_number", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("listing retries: %w", err)
	}

	var rows []retryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing retries: %w", err)
	}

	retries := make([]*notification.NotificationRetry, len(rows))
	for i, row := range rows {
		retries[i] = &notification.NotificationRetry{
			ID:             row.ID,
			NotificationID: row.NotificationID,
			AttemptNumber:  row.AttemptNumber,
			Status:         notification.Status(row.Status),
			ErrorMessage:   deref(row.ErrorMessage),
			ProviderID:     deref(row.ProviderID),
			ScheduledFor:   parseTime(row.ScheduledFor),
			AttemptedAt:    parseOptTime(row.AttemptedAt),
			CreatedAt:      parseTime(row.CreatedAt),
		}
	}
	return retries, nil
}

// Stats counts events created at or after since. PostgREST cannot group, so
// each channel and status bucket is an exact head count.
func (s *SupabaseStore) Stats(ctx context.Context, since time.Time) (*notification.Stats, error) {
	sinceStr := since.UTC().Format(time.RFC3339Nano)
	stats := notification.NewStats(since)

	for _, ch := range []notification.Channel{notification.ChannelEmail, notification.ChannelSMS} {
		for _, st := range notification.AllStatuses() {
			_, count, err := s.client.From(eventsTable).
				Select("id", "exact", true).
				Eq("channel", string(ch)).
				Eq("status", string(st)).
				Gte("created_at", sinceStr).
				Execute()
			if err != nil {
				return nil, fmt.Errorf("counting %s/%s notifications: %w", ch, st, err)
			}
			stats.Add(ch, st, count)
		}
	}

	_, escalated, err := s.client.From(eventsTable).
		Select("id", "exact", true).
		Eq("escalated", "true").
		Gte("created_at", sinceStr).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("counting escalated notifications: %w", err)
	}
	stats.Escalated = escalated

	return stats, nil
}

func eventToRow(e *notification.NotificationEvent) eventRow {
	return eventRow{
		ID:            e.ID,
		Type:          string(e.Type),
		Channel:       string(e.Channel),
		TemplateID:    e.TemplateID,
		Priority:      string(e.Priority),
		UserID:        optString(e.UserID),
		Recipient:     e.Recipient,
		RecipientName: optString(e.RecipientName),
		Subject:       optString(e.Subject),
		Content:       e.Content,
		HTMLContent:   optString(e.HTMLContent),
		Status:        string(e.Status),
		ProviderID:    optString(e.ProviderID),
		ErrorCategory: optString(string(e.ErrorCategory)),
		ErrorMessage:  optString(e.ErrorMessage),
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		Escalated:     e.Escalated,
		ContextType:   optString(e.ContextType),
		ContextID:     optString(e.ContextID),
		NextRetryAt:   optTime(e.NextRetryAt),
		ScheduledAt:   optTime(e.ScheduledAt),
		SentAt:        optTime(e.SentAt),
		DeliveredAt:   optTime(e.DeliveredAt),
		FailedAt:      optTime(e.FailedAt),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     e.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// rowToEvent converts an eventRow to a NotificationEvent.
func rowToEvent(row *eventRow) *notification.NotificationEvent {
	return &notification.NotificationEvent{
		ID:            row.ID,
		Type:          notification.NotificationType(row.Type),
		Channel:       notification.Channel(row.Channel),
		TemplateID:    row.TemplateID,
		Priority:      notification.Priority(row.Priority),
		UserID:        deref(row.UserID),
		Recipient:     row.Recipient,
		RecipientName: deref(row.RecipientName),
		Subject:       deref(row.Subject),
		Content:       row.Content,
		HTMLContent:   deref(row.HTMLContent),
		Status:        notification.Status(row.Status),
		ProviderID:    deref(row.ProviderID),
		ErrorCategory: notification.ErrorCategory(deref(row.ErrorCategory)),
		ErrorMessage:  deref(row.ErrorMessage),
		RetryCount:    row.RetryCount,
		MaxRetries:    row.MaxRetries,
		Escalated:     row.Escalated,
		ContextType:   deref(row.ContextType),
		ContextID:     deref(row.ContextID),
		NextRetryAt:   parseOptTime(row.NextRetryAt),
		ScheduledAt:   parseOptTime(row.ScheduledAt),
		SentAt:        parseOptTime(row.SentAt),
		DeliveredAt:   parseOptTime(row.DeliveredAt),
		FailedAt:      parseOptTime(row.FailedAt),
		CreatedAt:     parseTime(row.CreatedAt),
		UpdatedAt:     parseTime(row.UpdatedAt),
	}
}

func parseEvents(data []byte) ([]*notification.NotificationEvent, error) {
	var rows []eventRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing notifications: %w", err)
	}
	events := make([]*notification.NotificationEvent, len(rows))
	for i := range rows {
		events[i] = rowToEvent(&rows[i])
	}
	return events, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullString returns nil for "" so PostgREST writes SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseOptTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}
