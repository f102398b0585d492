package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"instacares-notify/internal/common"
	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/infra/store"

	"github.com/stretchr/testify/require"
)

var errProviderDown = errors.New("provider unavailable")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeProvider returns results in order and repeats the last one.
type fakeProvider struct {
	channel    notification.Channel
	prepareErr error

	mu      sync.Mutex
	results []notification.DeliveryResult
	sent    []*notification.Message

	entered chan struct{}
	release chan struct{}

	// stall makes Send wait for its context to end, like a hung provider.
	stall bool
}

func newFakeProvider(ch notification.Channel, results ...notification.DeliveryResult) *fakeProvider {
	if len(results) == 0 {
		results = []notification.DeliveryResult{notification.Delivered("prov-" + string(ch))}
	}
	return &fakeProvider{channel: ch, results: results}
}

func (p *fakeProvider) Channel() notification.Channel { return p.channel }

func (p *fakeProvider) Prepare(msg *notification.Message) error {
	if p.prepareErr != nil {
		return p.prepareErr
	}
	return nil
}

func (p *fakeProvider) Send(ctx context.Context, msg *notification.Message) notification.DeliveryResult {
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.release
	}
	if p.stall {
		<-ctx.Done()
		p.mu.Lock()
		p.sent = append(p.sent, msg)
		p.mu.Unlock()
		return notification.Failed(notification.CategoryUnknown, ctx.Err())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	res := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return res
}

func (p *fakeProvider) Sends() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeLimiter struct {
	decision *notification.RateLimitDecision
	err      error

	mu   sync.Mutex
	keys []string
}

func (l *fakeLimiter) Check(_ context.Context, key string, _ notification.Priority) (*notification.RateLimitDecision, error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.decision, l.err
}

type fakePrefs map[string]*notification.Preferences

func (f fakePrefs) Get(_ context.Context, userID string) (*notification.Preferences, error) {
	return f[userID], nil
}

type recordingEscalator struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEscalator) Escalate(_ context.Context, event *notification.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.ID)
}

type harness struct {
	clock      *testClock
	store      *store.MemoryStore
	scheduler  *notification.Scheduler
	worker     *notification.Worker
	dispatcher *notification.Dispatcher
	escalator  *recordingEscalator
}

func newHarness(t *testing.T, providers []notification.Provider, opts ...notification.DispatcherOption) *harness {
	t.Helper()

	h := &harness{
		clock:     newTestClock(),
		store:     store.NewMemoryStore(),
		escalator: &recordingEscalator{},
	}
	h.store.SetClock(h.clock.Now)
	h.scheduler = notification.NewScheduler(h.store, notification.DefaultRetryPolicy(),
		notification.WithSchedulerClock(h.clock.Now),
		notification.WithEscalator(h.escalator),
	)
	h.worker = notification.NewWorker(h.store, h.scheduler, providers,
		notification.WithWorkerClock(h.clock.Now),
		notification.WithSendTimeout(time.Second),
	)
	opts = append([]notification.DispatcherOption{notification.WithDispatcherClock(h.clock.Now)}, opts...)
	h.dispatcher = notification.NewDispatcher(h.store, h.worker, opts...)
	return h
}

func (h *harness) event(t *testing.T, id string) *notification.NotificationEvent {
	t.Helper()
	e, err := h.store.GetEvent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e, "event %s not found", id)
	return e
}

func (h *harness) retries(t *testing.T, id string) []*notification.NotificationRetry {
	t.Helper()
	r, err := h.store.ListRetries(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	_, total, err := h.store.ListEvents(context.Background(), notification.ListFilter{})
	require.NoError(t, err)
	return total
}

func sendRequest(channels ...notification.Channel) *notification.SendRequest {
	return &notification.SendRequest{
		UserID:     "user-1",
		Email:      "parent@example.com",
		Phone:      "+15551234567",
		Name:       "Dana",
		Type:       notification.TypeBookingReminder,
		TemplateID: "booking_reminder.v1",
		Subject:    "Reminder",
		Content:    "Your booking starts tomorrow.",
		Channels:   channels,
	}
}

func isValidationError(err error) bool {
	var v *common.ValidationError
	return errors.As(err, &v)
}
