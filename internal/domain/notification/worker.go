package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSendTimeout bounds every provider call.
const DefaultSendTimeout = 15 * time.Second

// Worker performs delivery attempts for stored events: it calls the channel
// provider, records the outcome on the event (and on the retry row when the
// attempt is a retry), and hands failures to the Scheduler.
type Worker struct {
	store     EventStore
	scheduler *Scheduler
	providers map[Channel]Provider
	timeout   time.Duration
	now       func() time.Time

	mu    sync.Mutex
	owned map[string]struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSendTimeout bounds each provider call.
func WithSendTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithWorkerClock overrides time.Now.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker creates a new notification worker.
func NewWorker(store EventStore, scheduler *Scheduler, providers []Provider, opts ...WorkerOption) *Worker {
	pm := make(map[Channel]Provider, len(providers))
	for _, p := range providers {
		pm[p.Channel()] = p
	}
	w := &Worker{
		store:     store,
		scheduler: scheduler,
		providers: pm,
		timeout:   DefaultSendTimeout,
		now:       time.Now,
		owned:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Provider returns the provider registered for ch.
func (w *Worker) Provider(ch Channel) (Provider, bool) {
	p, ok := w.providers[ch]
	return p, ok
}

// MessageFor renders an event into a provider message.
func MessageFor(event *NotificationEvent) *Message {
	return &Message{
		NotificationID: event.ID,
		Type:           event.Type,
		To:             event.Recipient,
		ToName:         event.RecipientName,
		Subject:        event.Subject,
		Text:           event.Content,
		HTML:           event.HTMLContent,
	}
}

// Attempt sends a PENDING event once and persists the outcome. It reports
// whether a retry was queued.
func (w *Worker) Attempt(ctx context.Context, event *NotificationEvent) (DeliveryResult, bool) {
	if !w.own(event.ID) {
		return Failed(CategoryUnknown, fmt.Errorf("notification %s already has an attempt in progress", event.ID)), false
	}
	defer w.release(event.ID)
	return w.attempt(ctx, event, nil)
}

// ProcessClaimed executes an event claimed by the retry sweep; the caller
// must own it (see own). The row is re-stamped first so the attempt only
// runs if no reaper in another process has taken the row over since the
// claim. Retries carry the pending NotificationRetry row that receives the
// attempt's outcome; deferred first sends (RetryCount 0) have none. It
// reports whether a send was attempted.
func (w *Worker) ProcessClaimed(ctx context.Context, event *NotificationEvent) (DeliveryResult, bool) {
	stamp, ok, err := w.store.TouchPending(ctx, event.ID, event.UpdatedAt)
	if err != nil {
		slog.Error("failed to start claimed attempt", "log_id", event.ID, "error", err)
		return DeliveryResult{}, false
	}
	if !ok {
		slog.Warn("claimed attempt superseded: row changed since the claim", "log_id", event.ID)
		return DeliveryResult{}, false
	}
	event.UpdatedAt = stamp

	var retry *NotificationRetry
	if event.RetryCount > 0 {
		r, err := w.pendingRetry(ctx, event)
		if err != nil {
			slog.Error("failed to load retry record", "log_id", event.ID, "error", err)
		}
		retry = r
	}
	res, _ := w.attempt(ctx, event, retry)
	return res, true
}

// own marks an event as being worked on by this process. It returns false
// when an attempt or a recovery already holds it.
func (w *Worker) own(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.owned[id]; busy {
		return false
	}
	w.owned[id] = struct{}{}
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.owned, id)
}

func (w *Worker) attempt(ctx context.Context, event *NotificationEvent, retry *NotificationRetry) (DeliveryResult, bool) {
	start := time.Now()

	provider, ok := w.providers[event.Channel]
	if !ok {
		res := Failed(CategoryValidation, fmt.Errorf("unsupported channel: %s", event.Channel))
		willRetry := w.finish(ctx, event, retry, res)
		return res, willRetry
	}

	// The provider call and the bookkeeping outlive the caller: a send already
	// in flight completes and its outcome is stored even if ctx is cancelled.
	detached := context.WithoutCancel(ctx)
	sendCtx, cancel := context.WithTimeout(detached, w.timeout)
	res := provider.Send(sendCtx, MessageFor(event))
	if !res.OK() && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		res.Category = CategoryTimeout
	}
	cancel()

	willRetry := w.finish(detached, event, retry, res)

	if res.OK() {
		slog.Info("notification sent",
			"log_id", event.ID,
			"channel", event.Channel,
			"type", event.Type,
			"provider_id", res.ProviderID,
			"attempt", event.Attempts(),
			"duration", time.Since(start),
		)
	} else {
		slog.Error("notification delivery failed",
			"log_id", event.ID,
			"channel", event.Channel,
			"type", event.Type,
			"error_category", res.Category,
			"error", res.Err,
			"will_retry", willRetry,
			"duration", time.Since(start),
		)
	}
	return res, willRetry
}

// finish records an attempt outcome on the event and retry row, then lets the
// scheduler decide about failures.
func (w *Worker) finish(ctx context.Context, event *NotificationEvent, retry *NotificationRetry, res DeliveryResult) bool {
	now := w.now().UTC()

	if res.OK() {
		event.Status = StatusSent
		event.ProviderID = res.ProviderID
		event.ErrorCategory = CategoryNone
		event.ErrorMessage = ""
		event.NextRetryAt = nil
		event.SentAt = &now
	} else {
		event.Status = StatusFailed
		event.ErrorCategory = res.Category
		event.ErrorMessage = res.Err.Error()
		event.FailedAt = &now
	}

	if err := w.store.UpdateEvent(ctx, event); err != nil {
		slog.Error("failed to record attempt outcome", "log_id", event.ID, "status", event.Status, "error", err)
	}

	if retry != nil {
		retry.Status = event.Status
		retry.AttemptedAt = &now
		retry.ProviderID = res.ProviderID
		if !res.OK() {
			retry.ErrorMessage = res.Err.Error()
		}
		if err := w.store.UpdateRetry(ctx, retry); err != nil {
			slog.Error("failed to record retry outcome", "log_id", event.ID, "retry", retry.AttemptNumber, "error", err)
		}
	}

	if res.OK() {
		return false
	}

	willRetry, err := w.scheduler.HandleFailure(ctx, event, res)
	if err != nil {
		slog.Error("failed to schedule retry", "log_id", event.ID, "error", err)
	}
	return willRetry
}

// pendingRetry finds the queued retry row matching the event's current retry.
func (w *Worker) pendingRetry(ctx context.Context, event *NotificationEvent) (*NotificationRetry, error) {
	retries, err := w.store.ListRetries(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("listing retries: %w", err)
	}
	for i := len(retries) - 1; i >= 0; i-- {
		r := retries[i]
		if r.AttemptNumber == event.RetryCount && r.Status == StatusQueued {
			return r, nil
		}
	}
	return nil, nil
}
