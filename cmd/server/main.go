package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"instacares-notify/internal/bootstrap"
	"instacares-notify/internal/config"
	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/router"
	"instacares-notify/internal/webhook"
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

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"store", cfg.Store.Driver,
		"retry_trigger", cfg.Retry.Trigger,
	)

	// ==========================================
	// Dependency Injection
	// ==========================================

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize notification pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	notificationHandler := notification.NewHandler(pipeline.Dispatcher, pipeline.Service)

	twilioToken := ""
	if cfg.Webhooks.VerifyTwilio {
		twilioToken = cfg.SMS.AuthToken
	}
	webhookHandler := webhook.NewHandler(pipeline.Service, webhook.Config{
		TwilioAuthToken:     twilioToken,
		PublicURL:           cfg.Server.PublicURL,
		ResendSigningSecret: cfg.Webhooks.ResendSigningSecret,
	})

	r := router.New(ctx, cfg, notificationHandler, webhookHandler)

	// Without a separate worker the server drives retries itself.
	if cfg.Retry.Trigger == "ticker" {
		go pipeline.Sweeper.Run(ctx)
		go pipeline.Reaper.Run(ctx)
	}

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Sends wait for every channel's provider call.
		WriteTimeout: time.Duration(cfg.Retry.SendTimeoutSec)*time.Second + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
