package notification

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"

	"instacares-notify/internal/common"
)

// Dispatcher is the single entry point for sending a notification over one
// or more channels. Per channel it: applies user preferences, checks contact
// info and provider policy, consults the recipient rate limiter, records a
// PENDING event and attempts delivery. Channels run concurrently and never
// affect each other's outcome.
type Dispatcher struct {
	store    EventStore
	worker   *Worker
	policy   RetryPolicy
	limiter  RecipientRateLimiter
	limited  map[Channel]bool
	prefs    PreferenceStore
	resolver ContentResolver
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRateLimiter guards the given channels (SMS when none are given) with a
// per-recipient rate limiter.
func WithRateLimiter(l RecipientRateLimiter, channels ...Channel) DispatcherOption {
	return func(d *Dispatcher) {
		d.limiter = l
		if len(channels) == 0 {
			channels = []Channel{ChannelSMS}
		}
		d.limited = make(map[Channel]bool, len(channels))
		for _, ch := range channels {
			d.limited[ch] = true
		}
	}
}

// WithPreferenceStore enables per-user channel opt-outs.
func WithPreferenceStore(p PreferenceStore) DispatcherOption {
	return func(d *Dispatcher) { d.prefs = p }
}

// WithContentResolver enables the convenience senders.
func WithContentResolver(r ContentResolver) DispatcherOption {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithDispatcherClock overrides time.Now.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher creates a dispatcher sending through worker.
func NewDispatcher(store EventStore, worker *Worker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		worker: worker,
		policy: worker.scheduler.Policy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send dispatches req to every requested channel and waits for all of them.
// It returns an error only when the request itself is invalid, in which case
// nothing was recorded or sent. Every delivery problem is reported in the
// result instead.
func (d *Dispatcher) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if req == nil {
		return nil, common.NewValidationError("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	prefs := d.loadPreferences(ctx, req.UserID)

	channels := req.channels()
	outcomes := make([]ChannelOutcome, len(channels))

	p := pool.New()
	for i, ch := range channels {
		p.Go(func() {
			outcomes[i] = d.sendChannel(ctx, req, ch, priority, prefs)
		})
	}
	p.Wait()

	res := Aggregate(outcomes)

	slog.Info("notification dispatched",
		"type", req.Type,
		"template_id", req.TemplateID,
		"priority", priority,
		"channels", channels,
		"success", res.Success,
		"partial_success", res.PartialSuccess,
		"notification_ids", res.NotificationIDs,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (d *Dispatcher) sendChannel(ctx context.Context, req *SendRequest, ch Channel, priority Priority, prefs *Preferences) ChannelOutcome {
	out := ChannelOutcome{Channel: ch}

	if prefs != nil && !prefs.Allows(ch) {
		slog.Info("channel disabled by user preferences", "user_id", req.UserID, "channel", ch)
		out.Kind = OutcomeSkipped
		return out
	}

	to := req.contactFor(ch)
	if to == "" {
		return rejected(out, CategoryValidation, "missing contact info")
	}

	provider, ok := d.worker.Provider(ch)
	if !ok {
		return rejected(out, CategoryValidation, "no provider configured for channel")
	}

	msg := &Message{
		Type:   req.Type,
		To:     to,
		ToName: req.Name,
		Text:   req.Content,
	}
	if ch == ChannelEmail {
		msg.Subject = req.Subject
		msg.HTML = req.HTMLContent
	}
	if err := provider.Prepare(msg); err != nil {
		return rejected(out, CategoryValidation, err.Error())
	}

	if d.limiter != nil && d.limited[ch] {
		decision, err := d.limiter.Check(ctx, rateLimitKey(ch, msg.To), priority)
		if err != nil {
			// Fail open: a limiter outage must not block child-safety alerts.
			slog.Error("rate limit check failed, proceeding without limit", "channel", ch, "error", err)
		} else if !decision.Allowed {
			out.Kind = OutcomeRateLimited
			out.Category = CategoryRateLimited
			out.RetryAfter = decision.RetryAfter
			out.Error = fmt.Sprintf("rate limit exceeded for recipient, retry after %ds", int(math.Ceil(decision.RetryAfter.Seconds())))
			return out
		}
	}

	now := d.now().UTC()
	event := &NotificationEvent{
		Type:          req.Type,
		Channel:       ch,
		TemplateID:    req.TemplateID,
		Priority:      priority,
		UserID:        req.UserID,
		Recipient:     msg.To,
		RecipientName: req.Name,
		Subject:       msg.Subject,
		Content:       msg.Text,
		HTMLContent:   msg.HTML,
		Status:        StatusPending,
		MaxRetries:    d.policy.MaxAttempts(req.MaxRetries, priority, req.Type),
		ContextType:   req.ContextType,
		ContextID:     req.ContextID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	deferred := req.ScheduledAt != nil && req.ScheduledAt.After(now)
	if deferred {
		at := req.ScheduledAt.UTC()
		event.Status = StatusQueued
		event.ScheduledAt = &at
		event.NextRetryAt = &at
	}

	if err := d.store.CreateEvent(ctx, event); err != nil {
		slog.Error("failed to record notification", "channel", ch, "type", req.Type, "error", err)
		out.Kind = OutcomeFailed
		out.Category = CategoryUnknown
		out.Error = "recording notification failed"
		return out
	}
	out.NotificationID = event.ID

	if deferred {
		out.Kind = OutcomeScheduled
		return out
	}

	res, willRetry := d.worker.Attempt(ctx, event)
	if res.OK() {
		out.Kind = OutcomeSent
		return out
	}

	out.Kind = OutcomeFailed
	out.Category = res.Category
	out.Error = res.Err.Error()
	out.WillRetry = willRetry
	return out
}

func (d *Dispatcher) loadPreferences(ctx context.Context, userID string) *Preferences {
	if userID == "" || d.prefs == nil {
		return nil
	}
	prefs, err := d.prefs.Get(ctx, userID)
	if err != nil {
		slog.Error("loading notification preferences failed, using defaults", "user_id", userID, "error", err)
		return nil
	}
	return prefs
}

func rejected(out ChannelOutcome, category ErrorCategory, msg string) ChannelOutcome {
	out.Kind = OutcomeRejected
	out.Category = category
	out.Error = msg
	return out
}

func rateLimitKey(ch Channel, to string) string {
	return string(ch) + ":" + to
}
