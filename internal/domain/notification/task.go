package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Asynq task types for the periodic maintenance jobs. Both carry no payload;
// the store is the source of truth for what is due.
const (
	TaskTypeRetrySweep = "notification:retry_sweep"
	TaskTypeReapStale  = "notification:reap_stale"
)

// NewRetrySweepTask creates the periodic retry sweep task.
func NewRetrySweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeRetrySweep, nil)
}

// NewReapStaleTask creates the periodic stale attempt reaper task.
func NewReapStaleTask() *asynq.Task {
	return asynq.NewTask(TaskTypeReapStale, nil)
}

// RetrySweepHandler adapts a Sweeper to an asynq handler.
func RetrySweepHandler(s *Sweeper) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := s.Sweep(ctx)
		if errors.Is(err, ErrSweepInProgress) {
			slog.Info("retry sweep skipped: previous sweep still running")
			return nil
		}
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("retry sweep complete", "attempted", n)
		}
		return nil
	}
}

// ReapStaleHandler adapts a Reaper to an asynq handler.
func ReapStaleHandler(r *Reaper) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		_, err := r.Reap(ctx)
		return err
	}
}
