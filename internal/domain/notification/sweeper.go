package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// ErrSweepInProgress is returned when a sweep is requested while another one
// is still running in the same process.
var ErrSweepInProgress = errors.New("retry sweep already in progress")

// SweeperConfig holds configuration for the retry sweep.
type SweeperConfig struct {
	// Interval is how often Run triggers a sweep.
	Interval time.Duration

	// BatchSize is the maximum number of due events claimed per sweep.
	BatchSize int

	// Concurrency bounds how many claimed events are sent at once.
	Concurrency int
}

// Sweeper periodically claims QUEUED events whose retry is due and sends
// them again through the Worker. Retries are driven only by the sweep, never
// by the failing call, so a crash between attempts loses nothing: the row
// stays QUEUED until some sweep claims it.
type Sweeper struct {
	store  EventStore
	worker *Worker
	config SweeperConfig
	now    func() time.Time

	running sync.Mutex
}

// NewSweeper creates a retry sweeper.
func NewSweeper(store EventStore, worker *Worker, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Sweeper{
		store:  store,
		worker: worker,
		config: cfg,
		now:    worker.now,
	}
}

// Run starts the sweep loop. It blocks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("retry sweeper started",
		"interval", s.config.Interval,
		"batch_size", s.config.BatchSize,
		"concurrency", s.config.Concurrency,
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				slog.Error("retry sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one cycle and returns how many events were attempted.
// Overlapping calls return ErrSweepInProgress instead of running twice.
// Events claimed before a store error are still sent; the error is returned
// after they finish.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		return 0, ErrSweepInProgress
	}
	defer s.running.Unlock()

	due, claimErr := s.store.ClaimDueRetries(ctx, s.now().UTC(), s.config.BatchSize)
	if claimErr != nil {
		claimErr = fmt.Errorf("claiming due retries: %w", claimErr)
		if len(due) > 0 {
			slog.Error("retry sweep claim interrupted, sending what was claimed",
				"claimed", len(due),
				"error", claimErr,
			)
		}
	}
	if len(due) == 0 {
		return 0, claimErr
	}

	slog.Info("retry sweep claimed events", "count", len(due))

	// Own every claimed row up front so the reaper in this process leaves
	// rows alone while they wait for a free goroutine.
	owned := make([]*NotificationEvent, 0, len(due))
	for _, event := range due {
		if s.worker.own(event.ID) {
			owned = append(owned, event)
		}
	}

	var attempted atomic.Int64
	p := pool.New().WithMaxGoroutines(s.config.Concurrency)
	for _, event := range owned {
		p.Go(func() {
			defer s.worker.release(event.ID)
			if _, ok := s.worker.ProcessClaimed(ctx, event); ok {
				attempted.Add(1)
			}
		})
	}
	p.Wait()

	return int(attempted.Load()), claimErr
}
