package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"instacares-notify/internal/domain/notification"

	"github.com/hibiken/asynq"
)

// maintenanceQueue carries the periodic sweep and reap tasks.
const maintenanceQueue = "notifications"

// RedisOpt builds the asynq Redis connection options.
func RedisOpt(redisAddr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	}
}

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(RedisOpt(redisAddr, password, db))
}

// NewServer creates a new asynq server connected to Redis. Maintenance tasks
// are idempotent sweeps, so a failed run is not retried by asynq: the next
// tick supersedes it.
func NewServer(redisAddr, password string, db int, concurrency int) *asynq.Server {
	return asynq.NewServer(
		RedisOpt(redisAddr, password, db),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				maintenanceQueue: 10, // priority weight
				"default":        1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				slog.Error("maintenance task failed", "task", task.Type(), "error", err)
			}),
		},
	)
}

// NewMux registers the sweep and reap handlers.
func NewMux(sweeper *notification.Sweeper, reaper *notification.Reaper) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(notification.TaskTypeRetrySweep, notification.RetrySweepHandler(sweeper))
	mux.Handle(notification.TaskTypeReapStale, notification.ReapStaleHandler(reaper))
	return mux
}

// ScheduleConfig holds the periodic trigger intervals.
type ScheduleConfig struct {
	SweepInterval time.Duration
	ReapInterval  time.Duration
}

// NewScheduler creates an asynq scheduler that enqueues the sweep and reap
// tasks periodically. asynq.Unique keeps at most one pending copy of each
// task across every scheduler instance, so several nodes can run one.
func NewScheduler(redisAddr, password string, db int, cfg ScheduleConfig) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(RedisOpt(redisAddr, password, db), &asynq.SchedulerOpts{
		LogLevel: asynq.WarnLevel,
	})

	if err := register(scheduler, notification.NewRetrySweepTask(), cfg.SweepInterval); err != nil {
		return nil, err
	}
	if err := register(scheduler, notification.NewReapStaleTask(), cfg.ReapInterval); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// MaintenanceOptions are the enqueue options shared by every maintenance task.
// A failed run is superseded by the next tick, so asynq never retries it.
func MaintenanceOptions() []asynq.Option {
	return []asynq.Option{asynq.Queue(maintenanceQueue), asynq.MaxRetry(0)}
}

func register(s *asynq.Scheduler, task *asynq.Task, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("invalid interval %s for %s", every, task.Type())
	}
	opts := append(MaintenanceOptions(), asynq.Unique(every), asynq.Timeout(every))
	_, err := s.Register(fmt.Sprintf("@every %s", every), task, opts...)
	if err != nil {
		return fmt.Errorf("registering %s: %w", task.Type(), err)
	}
	slog.Info("periodic task registered", "task", task.Type(), "every", every)
	return nil
}
