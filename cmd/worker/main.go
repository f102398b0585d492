package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"instacares-notify/internal/bootstrap"
	"instacares-notify/internal/config"
	"instacares-notify/internal/infra/queue"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("worker configuration loaded", "store", cfg.Store.Driver, "retry_trigger", cfg.Retry.Trigger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize notification pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	if cfg.Retry.Trigger == "ticker" {
		runTickers(ctx, cancel, pipeline)
		return
	}

	// ==========================================
	// Asynq Scheduler + Server
	// ==========================================

	scheduler, err := queue.NewScheduler(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, queue.ScheduleConfig{
		SweepInterval: time.Duration(cfg.Retry.SweepIntervalSec) * time.Second,
		ReapInterval:  time.Duration(cfg.Reaper.IntervalSec) * time.Second,
	})
	if err != nil {
		slog.Error("failed to initialize scheduler", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		slog.Error("scheduler failed to start", "error", err)
		os.Exit(1)
	}

	asynqServer := queue.NewServer(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Queue.Concurrency)
	mux := queue.NewMux(pipeline.Sweeper, pipeline.Reaper)

	go func() {
		slog.Info("worker starting",
			"concurrency", cfg.Queue.Concurrency,
			"redis", cfg.Redis.Address,
		)
		if err := asynqServer.Run(mux); err != nil {
			slog.Error("worker failed to start", "error", err)
			os.Exit(1)
		}
	}()

	waitForSignal()

	slog.Info("shutting down worker...")
	scheduler.Shutdown()
	asynqServer.Shutdown()
	slog.Info("worker exited gracefully")
}

// runTickers drives the sweep and reaper from in-process loops.
func runTickers(ctx context.Context, cancel context.CancelFunc, pipeline *bootstrap.Pipeline) {
	go pipeline.Sweeper.Run(ctx)
	go pipeline.Reaper.Run(ctx)

	waitForSignal()

	slog.Info("shutting down worker...")
	cancel()
	slog.Info("worker exited gracefully")
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
