package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"instacares-notify/internal/domain/notification"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var _ notification.EventStore = (*SQLiteStore)(nil)

// SQLiteStore persists events in a single SQLite file. Timestamps are stored
// as Unix nanoseconds so range queries compare numerically.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path. Call Migrate before
// first use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One writer keeps the claim UPDATE serialized across goroutines.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS notification_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			channel TEXT NOT NULL,
			template_id TEXT NOT NULL,
			priority TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			recipient TEXT NOT NULL,
			recipient_name TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			html_content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			provider_id TEXT NOT NULL DEFAULT '',
			error_category TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL,
			escalated INTEGER NOT NULL DEFAULT 0,
			context_type TEXT NOT NULL DEFAULT '',
			context_id TEXT NOT NULL DEFAULT '',
			next_retry_at INTEGER,
			scheduled_at INTEGER,
			sent_at INTEGER,
			delivered_at INTEGER,
			failed_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_retries (
			id TEXT PRIMARY KEY,
			notification_id TEXT NOT NULL REFERENCES notification_events(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL DEFAULT '',
			scheduled_for INTEGER NOT NULL,
			attempted_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_due ON notification_events(status, next_retry_at) WHERE status = 'QUEUED'`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON notification_events(status, updated_at) WHERE status = 'PENDING'`,
		`CREATE INDEX IF NOT EXISTS idx_events_provider ON notification_events(provider_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON notification_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_context ON notification_events(context_id)`,
		`CREATE INDEX IF NOT EXISTS idx_retries_notification ON notification_retries(notification_id, attempt_number)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrating sqlite schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const eventColumns = `id, type, channel, template_id, priority, user_id, recipient, recipient_name,
	subject, content, html_content, status, provider_id, error_category, error_message,
	retry_count, max_retries, escalated, context_type, context_id,
	next_retry_at, scheduled_at, sent_at, delivered_at, failed_at, created_at, updated_at`

// CreateEvent inserts a new event and fills in ID and timestamps.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *notification.NotificationEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	e.UpdatedAt = e.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.Channel, e.TemplateID, e.Priority, e.UserID, e.Recipient, e.RecipientName,
		e.Subject, e.Content, e.HTMLContent, e.Status, e.ProviderID, e.ErrorCategory, e.ErrorMessage,
		e.RetryCount, e.MaxRetries, boolInt(e.Escalated), e.ContextType, e.ContextID,
		nanos(e.NextRetryAt), nanos(e.ScheduledAt), nanos(e.SentAt), nanos(e.DeliveredAt), nanos(e.FailedAt),
		e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID. Returns nil, nil if not found.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*notification.NotificationEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM notification_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching notification: %w", err)
	}
	return e, nil
}

// UpdateEvent persists the mutable fields of an existing event.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, e *notification.NotificationEvent) error {
	e.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_events SET
			recipient = ?, status = ?, provider_id = ?, error_category = ?, error_message = ?,
			retry_count = ?, max_retries = ?, escalated = ?,
			next_retry_at = ?, scheduled_at = ?, sent_at = ?, delivered_at = ?, failed_at = ?,
			updated_at = ?
		 WHERE id = ?`,
		e.Recipient, e.Status, e.ProviderID, e.ErrorCategory, e.ErrorMessage,
		e.RetryCount, e.MaxRetries, boolInt(e.Escalated),
		nanos(e.NextRetryAt), nanos(e.ScheduledAt), nanos(e.SentAt), nanos(e.DeliveredAt), nanos(e.FailedAt),
		e.UpdatedAt.UnixNano(), e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s not found", e.ID)
	}
	return nil
}

// ListEvents retrieves events newest first with pagination and filtering.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter notification.ListFilter) ([]*notification.NotificationEvent, int, error) {
	filter.Normalize()

	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, strings.ToUpper(filter.Status))
	}
	if filter.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, strings.ToUpper(filter.Channel))
	}
	if filter.Recipient != "" {
		where = append(where, "recipient = ?")
		args = append(args, filter.Recipient)
	}
	if filter.ContextID != "" {
		where = append(where, "context_id = ?")
		args = append(args, filter.ContextID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_events`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting notifications: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM notification_events`+clause+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.PageSize, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing notifications: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("listing notifications: %w", err)
	}
	return events, total, nil
}

// ClaimDueRetries atomically moves due QUEUED events into PENDING with a
// single UPDATE ... RETURNING.
func (s *SQLiteStore) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*notification.NotificationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE notification_events SET status = 'PENDING', updated_at = ?
		 WHERE status = 'QUEUED' AND id IN (
			SELECT id FROM notification_events
			WHERE status = 'QUEUED' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
			ORDER BY next_retry_at
			LIMIT ?
		 )
		 RETURNING `+eventColumns,
		s.now().UTC().UnixNano(), now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming due retries: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("claiming due retries: %w", err)
	}
	return events, nil
}

// TouchPending re-stamps a PENDING event still carrying observed.
func (s *SQLiteStore) TouchPending(ctx context.Context, id string, observed time.Time) (time.Time, bool, error) {
	next := nextStamp(s.now(), observed)
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_events SET updated_at = ?
		 WHERE id = ? AND status = 'PENDING' AND updated_at = ?`,
		next.UnixNano(), id, observed.UnixNano(),
	)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("touching notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// ListStalePending retrieves events stuck in PENDING since before olderThan.
func (s *SQLiteStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*notification.NotificationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM notification_events
		 WHERE status = 'PENDING' AND updated_at < ?
		 ORDER BY updated_at
		 LIMIT ?`,
		olderThan.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale notifications: %w", err)
	}
	return scanEvents(rows)
}

// ApplyDeliveryReport updates the event carrying the report's provider ID.
func (s *SQLiteStore) ApplyDeliveryReport(ctx context.Context, r *notification.DeliveryReport) (*notification.NotificationEvent, error) {
	at := r.At.UTC().UnixNano()
	updated := s.now().UTC().UnixNano()

	var rows *sql.Rows
	var err error
	switch r.Status {
	case notification.StatusDelivered:
		rows, err = s.db.QueryContext(ctx,
			`UPDATE notification_events SET status = ?, delivered_at = ?, updated_at = ? WHERE provider_id = ?
			 RETURNING `+eventColumns,
			r.Status, at, updated, r.ProviderID)
	default:
		rows, err = s.db.QueryContext(ctx,
			`UPDATE notification_events SET status = ?, failed_at = ?, error_category = ?, error_message = ?, updated_at = ?
			 WHERE provider_id = ?
			 RETURNING `+eventColumns,
			r.Status, at, r.Category, r.ErrorMessage, updated, r.ProviderID)
	}
	if err != nil {
		return nil, fmt.Errorf("applying delivery report: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("applying delivery report: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// CreateRetry inserts a retry attempt record and fills in its ID.
func (s *SQLiteStore) CreateRetry(ctx context.Context, r *notification.NotificationRetry) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_retries (id, notification_id, attempt_number, status, error_message, provider_id, scheduled_for, attempted_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.NotificationID, r.AttemptNumber, r.Status, r.ErrorMessage, r.ProviderID,
		r.ScheduledFor.UnixNano(), nanos(r.AttemptedAt), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting retry: %w", err)
	}
	return nil
}

// UpdateRetry records the outcome of a retry attempt.
func (s *SQLiteStore) UpdateRetry(ctx context.Context, r *notification.NotificationRetry) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_retries SET status = ?, error_message = ?, provider_id = ?, attempted_at = ? WHERE id = ?`,
		r.Status, r.ErrorMessage, r.ProviderID, nanos(r.AttemptedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating retry: %w", err)
	}
	return nil
}

// ListRetries returns the retry attempts of an event ordered by attempt number.
func (s *SQLiteStore) ListRetries(ctx context.Context, notificationID string) ([]*notification.NotificationRetry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, notification_id, attempt_number, status, error_message, provider_id, scheduled_for, attempted_at, created_at
		 FROM notification_retries WHERE notification_id = ? ORDER BY attempt_number`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("listing retries: %w", err)
	}
	defer rows.Close()

	retries := make([]*notification.NotificationRetry, 0)
	for rows.Next() {
		var r notification.NotificationRetry
		var scheduled, created int64
		var attempted sql.NullInt64
		if err := rows.Scan(&r.ID, &r.NotificationID, &r.AttemptNumber, &r.Status, &r.ErrorMessage, &r.ProviderID,
			&scheduled, &attempted, &created); err != nil {
			return nil, fmt.Errorf("scanning retry: %w", err)
		}
		r.ScheduledFor = fromNanos(scheduled)
		r.AttemptedAt = fromNullNanos(attempted)
		r.CreatedAt = fromNanos(created)
		retries = append(retries, &r)
	}
	return retries, rows.Err()
}

// Stats counts events created at or after since.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*notification.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, status, COUNT(*), COALESCE(SUM(escalated), 0)
		 FROM notification_events WHERE created_at >= ?
		 GROUP BY channel, status`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	defer rows.Close()

	stats := notification.NewStats(since)
	for rows.Next() {
		var ch notification.Channel
		var st notification.Status
		var count, escalated int64
		if err := rows.Scan(&ch, &st, &count, &escalated); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		stats.Add(ch, st, count)
		stats.Escalated += escalated
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*notification.NotificationEvent, error) {
	var e notification.NotificationEvent
	var escalated int
	var nextRetry, scheduled, sent, delivered, failed sql.NullInt64
	var created, updated int64

	err := row.Scan(&e.ID, &e.Type, &e.Channel, &e.TemplateID, &e.Priority, &e.UserID, &e.Recipient, &e.RecipientName,
		&e.Subject, &e.Content, &e.HTMLContent, &e.Status, &e.ProviderID, &e.ErrorCategory, &e.ErrorMessage,
		&e.RetryCount, &e.MaxRetries, &escalated, &e.ContextType, &e.ContextID,
		&nextRetry, &scheduled, &sent, &delivered, &failed, &created, &updated)
	if err != nil {
		return nil, err
	}

	e.Escalated = escalated == 1
	e.NextRetryAt = fromNullNanos(nextRetry)
	e.ScheduledAt = fromNullNanos(scheduled)
	e.SentAt = fromNullNanos(sent)
	e.DeliveredAt = fromNullNanos(delivered)
	e.FailedAt = fromNullNanos(failed)
	e.CreatedAt = fromNanos(created)
	e.UpdatedAt = fromNanos(updated)
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*notification.NotificationEvent, error) {
	defer rows.Close()

	events := make([]*notification.NotificationEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
