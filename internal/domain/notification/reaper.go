package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// errAbandonedAttempt marks an attempt whose outcome was never recorded.
var errAbandonedAttempt = errors.New("attempt abandoned: no provider result recorded before the stale threshold")

// ReaperConfig holds configuration for the stale attempt reaper.
type ReaperConfig struct {
	// Interval is how often the reaper scans for stale attempts.
	Interval time.Duration

	// StaleThreshold is how long an event can stay PENDING before the reaper
	// treats its attempt as timed out. It must exceed the send timeout.
	StaleThreshold time.Duration

	// BatchSize is the maximum number of stale events recovered per cycle.
	BatchSize int
}

// Reaper periodically scans the event store for events left PENDING by a
// process that died mid-send. Such an attempt is recorded as a timed-out
// failure and goes through the normal retry policy, so no event stays
// PENDING forever.
type Reaper struct {
	store  EventStore
	worker *Worker
	config ReaperConfig
}

// NewReaper creates a new stale attempt reaper.
func NewReaper(store EventStore, worker *Worker, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Reaper{
		store:  store,
		worker: worker,
		config: cfg,
	}
}

// Run starts the reaper loop. It blocks until the context is cancelled.
// Should be called in a goroutine.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("reaper started",
		"interval", r.config.Interval,
		"stale_threshold", r.config.StaleThreshold,
		"batch_size", r.config.BatchSize,
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				slog.Error("reaper: sweep failed", "error", err)
			}
		}
	}
}

// Reap performs one reaper cycle and returns how many events it recovered.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	olderThan := r.worker.now().UTC().Add(-r.config.StaleThreshold)

	stale, err := r.store.ListStalePending(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing stale notifications: %w", err)
	}

	if len(stale) == 0 {
		return 0, nil
	}

	slog.Warn("reaper: found stale attempts", "count", len(stale))

	recovered := 0
	for _, event := range stale {
		if r.recover(ctx, event) {
			recovered++
		}
	}

	return recovered, nil
}

// recover records a stale attempt as timed out. Rows owned by an attempt in
// this process are skipped, and the row is re-stamped conditionally on the
// observed updated_at so an attempt that started elsewhere wins the race.
func (r *Reaper) recover(ctx context.Context, event *NotificationEvent) bool {
	if !r.worker.own(event.ID) {
		slog.Info("reaper: attempt still in progress", "log_id", event.ID)
		return false
	}
	defer r.worker.release(event.ID)

	age := r.worker.now().Sub(event.UpdatedAt).Round(time.Second)

	stamp, ok, err := r.store.TouchPending(ctx, event.ID, event.UpdatedAt)
	if err != nil {
		slog.Error("reaper: failed to take over stale attempt", "log_id", event.ID, "error", err)
		return false
	}
	if !ok {
		slog.Info("reaper: stale attempt moved on before recovery", "log_id", event.ID)
		return false
	}
	event.UpdatedAt = stamp

	var retry *NotificationRetry
	if event.RetryCount > 0 {
		retry, err = r.worker.pendingRetry(ctx, event)
		if err != nil {
			slog.Error("reaper: failed to load retry record", "log_id", event.ID, "error", err)
		}
	}

	willRetry := r.worker.finish(ctx, event, retry, Failed(CategoryTimeout, errAbandonedAttempt))

	slog.Info("reaper: recovered stale attempt",
		"log_id", event.ID,
		"age", age,
		"will_retry", willRetry,
	)
	return true
}
