// Package bootstrap wires configuration into the notification pipeline.
// It is shared by the server, worker and notifyctl binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"instacares-notify/internal/config"
	"instacares-notify/internal/domain/notification"
	"instacares-notify/internal/infra/email"
	"instacares-notify/internal/infra/preferences"
	"instacares-notify/internal/infra/ratelimit"
	"instacares-notify/internal/infra/sms"
	"instacares-notify/internal/infra/store"
	"instacares-notify/internal/infra/template"

	"github.com/redis/go-redis/v9"
	supa "github.com/supabase-community/supabase-go"
)

// Pipeline holds every wired component of the notification pipeline.
type Pipeline struct {
	Store      notification.EventStore
	Scheduler  *notification.Scheduler
	Worker     *notification.Worker
	Dispatcher *notification.Dispatcher
	Sweeper    *notification.Sweeper
	Reaper     *notification.Reaper
	Service    *notification.Service

	closers []func() error
}

// Close releases store and Redis connections.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// Build creates the event store, providers and pipeline components from cfg.
func Build(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	p := &Pipeline{}

	eventStore, supaClient, err := p.newEventStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.Store = eventStore

	providers, err := NewProviders(cfg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	engine, err := template.NewEngine()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("initializing template engine: %w", err)
	}

	policy := notification.RetryPolicy{
		Backoff:                  cfg.Retry.Backoff(),
		DefaultMaxAttempts:       cfg.Retry.DefaultMaxAttempts,
		MaxAttemptsLimit:         cfg.Retry.MaxAttemptsLimit,
		CriticalMaxAttemptsLimit: cfg.Retry.CriticalMaxAttemptsLimit,
	}
	escalator := notification.LogEscalator()
	p.Scheduler = notification.NewScheduler(eventStore, policy, notification.WithEscalator(escalator))
	p.Worker = notification.NewWorker(eventStore, p.Scheduler, providers,
		notification.WithSendTimeout(seconds(cfg.Retry.SendTimeoutSec)),
	)

	opts := []notification.DispatcherOption{
		notification.WithContentResolver(engine),
		notification.WithPreferenceStore(newPreferenceStore(supaClient)),
	}
	limiter, limitedChannels, err := p.newRecipientLimiter(ctx, cfg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	opts = append(opts, notification.WithRateLimiter(limiter, limitedChannels...))
	p.Dispatcher = notification.NewDispatcher(eventStore, p.Worker, opts...)

	p.Sweeper = notification.NewSweeper(eventStore, p.Worker, notification.SweeperConfig{
		Interval:    seconds(cfg.Retry.SweepIntervalSec),
		BatchSize:   cfg.Retry.BatchSize,
		Concurrency: cfg.Retry.Concurrency,
	})
	p.Reaper = notification.NewReaper(eventStore, p.Worker, notification.ReaperConfig{
		Interval:       seconds(cfg.Reaper.IntervalSec),
		StaleThreshold: seconds(cfg.Reaper.StaleThresholdSec),
		BatchSize:      cfg.Reaper.BatchSize,
	})
	p.Service = notification.NewService(eventStore, notification.WithServiceEscalator(escalator))

	return p, nil
}

// OpenStore opens only the event store, for tools that need no providers.
func OpenStore(ctx context.Context, cfg *config.Config) (notification.EventStore, func() error, error) {
	p := &Pipeline{}
	s, _, err := p.newEventStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, p.Close, nil
}

func (p *Pipeline) newEventStore(ctx context.Context, cfg *config.Config) (notification.EventStore, *supa.Client, error) {
	switch cfg.Store.Driver {
	case "memory":
		slog.Warn("using in-memory event store: notifications are lost on restart")
		return store.NewMemoryStore(), nil, nil

	case "supabase":
		s, err := store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing supabase store: %w", err)
		}
		slog.Info("supabase store initialized")
		return s, s.Client(), nil

	default:
		s, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		p.closers = append(p.closers, s.Close)
		slog.Info("sqlite store initialized", "path", cfg.Store.SQLitePath)
		return s, nil, nil
	}
}

// NewProviders builds the email provider and, when Twilio is configured, the
// SMS provider.
func NewProviders(cfg *config.Config) ([]notification.Provider, error) {
	var providers []notification.Provider

	switch cfg.Email.Provider {
	case "postmark":
		pm, err := email.NewPostmarkProvider(email.PostmarkConfig{
			ServerToken:   cfg.Email.PostmarkServerToken,
			AccountToken:  cfg.Email.PostmarkAccountToken,
			FromAddress:   cfg.Email.FromAddress,
			FromName:      cfg.Email.FromName,
			ReplyTo:       cfg.Email.ReplyTo,
			MessageStream: cfg.Email.MessageStream,
			BaseURL:       cfg.Email.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, pm)
	default:
		providers = append(providers, email.NewResendProvider(email.ResendConfig{
			APIKey:      cfg.Email.APIKey,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			BaseURL:     cfg.Email.BaseURL,
		}))
	}
	slog.Info("email provider initialized", "provider", cfg.Email.Provider)

	if cfg.SMS.Enabled() {
		providers = append(providers, sms.NewTwilioProvider(sms.TwilioConfig{
			AccountSID:          cfg.SMS.AccountSID,
			AuthToken:           cfg.SMS.AuthToken,
			FromNumber:          cfg.SMS.FromNumber,
			MessagingServiceSID: cfg.SMS.MessagingServiceSID,
			StatusCallbackURL:   cfg.SMS.StatusCallbackURL,
			BaseURL:             cfg.SMS.BaseURL,
		}))
		slog.Info("sms provider initialized", "provider", "twilio")
	} else {
		slog.Warn("twilio not configured: SMS channel disabled")
	}

	return providers, nil
}

func (p *Pipeline) newRecipientLimiter(ctx context.Context, cfg *config.Config) (notification.RecipientRateLimiter, []notification.Channel, error) {
	channels := make([]notification.Channel, 0, len(cfg.RecipientRateLimit.Channels))
	for _, raw := range cfg.RecipientRateLimit.Channels {
		ch, err := notification.ParseChannel(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("recipient_rate_limit.channels: %w", err)
		}
		channels = append(channels, ch)
	}

	policy := notification.RateLimitPolicy{
		Limit:  cfg.RecipientRateLimit.MaxPerHour,
		Window: seconds(cfg.RecipientRateLimit.WindowSec),
	}

	if cfg.RecipientRateLimit.Backend == "memory" {
		limiter := ratelimit.NewMemoryRecipientLimiter(policy)
		go limiter.Run(ctx, time.Minute)
		slog.Info("recipient rate limiter initialized", "backend", "memory", "max", policy.Limit, "channels", channels)
		return limiter, channels, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	limiter := ratelimit.NewRedisRecipientLimiter(client, policy)
	p.closers = append(p.closers, limiter.Close)
	slog.Info("recipient rate limiter initialized", "backend", "redis", "max", policy.Limit, "channels", channels)
	return limiter, channels, nil
}

func newPreferenceStore(client *supa.Client) notification.PreferenceStore {
	if client != nil {
		return preferences.NewSupabaseStore(client)
	}
	return preferences.NewMemoryStore()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
