package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server             ServerConfig             `mapstructure:"server"`
	Auth               AuthConfig               `mapstructure:"auth"`
	Email              EmailConfig              `mapstructure:"email"`
	SMS                SMSConfig                `mapstructure:"sms"`
	CORS               CORSConfig               `mapstructure:"cors"`
	RateLimit          RateLimitConfig          `mapstructure:"rate_limit"`
	Redis              RedisConfig              `mapstructure:"redis"`
	Supabase           SupabaseConfig           `mapstructure:"supabase"`
	Store              StoreConfig              `mapstructure:"store"`
	Queue              QueueConfig              `mapstructure:"queue"`
	RecipientRateLimit RecipientRateLimitConfig `mapstructure:"recipient_rate_limit"`
	Retry              RetryConfig              `mapstructure:"retry"`
	Reaper             ReaperConfigYAML         `mapstructure:"reaper"`
	Webhooks           WebhooksConfig           `mapstructure:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// PublicURL is the externally visible base URL, used to verify webhook
	// signatures computed over the full callback URL.
	PublicURL string `mapstructure:"public_url"`
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// EmailConfig holds email provider settings.
type EmailConfig struct {
	Provider             string `mapstructure:"provider"`
	APIKey               string `mapstructure:"api_key"`
	FromAddress          string `mapstructure:"from_address"`
	FromName             string `mapstructure:"from_name"`
	ReplyTo              string `mapstructure:"reply_to"`
	BaseURL              string `mapstructure:"base_url"`
	PostmarkServerToken  string `mapstructure:"postmark_server_token"`
	PostmarkAccountToken string `mapstructure:"postmark_account_token"`
	MessageStream        string `mapstructure:"message_stream"`
}

// SMSConfig holds Twilio settings.
type SMSConfig struct {
	AccountSID          string `mapstructure:"account_sid"`
	AuthToken           string `mapstructure:"auth_token"`
	FromNumber          string `mapstructure:"from_number"`
	MessagingServiceSID string `mapstructure:"messaging_service_sid"`
	StatusCallbackURL   string `mapstructure:"status_callback_url"`
	BaseURL             string `mapstructure:"base_url"`
}

// Enabled reports whether enough Twilio settings are present to send SMS.
func (c SMSConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && (c.FromNumber != "" || c.MessagingServiceSID != "")
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds per-IP API rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupabaseConfig holds Supabase project settings.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite or supabase.
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// QueueConfig holds asynq worker settings.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// RecipientRateLimitConfig holds per-recipient rate limiting settings.
type RecipientRateLimitConfig struct {
	// Backend is memory or redis.
	Backend    string   `mapstructure:"backend"`
	MaxPerHour int      `mapstructure:"max_per_hour"`
	WindowSec  int      `mapstructure:"window_sec"`
	Channels   []string `mapstructure:"channels"`
}

// RetryConfig holds retry policy and sweep settings.
type RetryConfig struct {
	// Trigger is asynq (periodic task on the worker) or ticker (in-process loop).
	Trigger                  string `mapstructure:"trigger"`
	BackoffSec               []int  `mapstructure:"backoff_sec"`
	DefaultMaxAttempts       int    `mapstructure:"default_max_attempts"`
	MaxAttemptsLimit         int    `mapstructure:"max_attempts_limit"`
	CriticalMaxAttemptsLimit int    `mapstructure:"critical_max_attempts_limit"`
	SweepIntervalSec         int    `mapstructure:"sweep_interval_sec"`
	BatchSize                int    `mapstructure:"batch_size"`
	Concurrency              int    `mapstructure:"concurrency"`
	SendTimeoutSec           int    `mapstructure:"send_timeout_sec"`
}

// Backoff converts BackoffSec into durations.
func (c RetryConfig) Backoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.BackoffSec))
	for _, s := range c.BackoffSec {
		if s > 0 {
			out = append(out, time.Duration(s)*time.Second)
		}
	}
	return out
}

// ReaperConfigYAML holds stale attempt reaper settings (durations as seconds for YAML/env compat).
type ReaperConfigYAML struct {
	IntervalSec       int `mapstructure:"interval_sec"`
	StaleThresholdSec int `mapstructure:"stale_threshold_sec"`
	BatchSize         int `mapstructure:"batch_size"`
}

// WebhooksConfig holds provider callback verification settings.
type WebhooksConfig struct {
	// ResendSigningSecret is the whsec_ secret of the Resend webhook endpoint.
	ResendSigningSecret string `mapstructure:"resend_signing_secret"`
	// VerifyTwilio checks X-Twilio-Signature with the SMS auth token.
	VerifyTwilio bool `mapstructure:"verify_twilio"`
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the INSTACARES_ prefix and underscore separators.
// Example: INSTACARES_SERVER_PORT overrides server.port in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	// Environment variable settings
	v.SetEnvPrefix("INSTACARES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional: env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Handle comma-separated lists from env vars
	cfg.Auth.APIKeys = splitList(v.GetString("auth.api_keys"), cfg.Auth.APIKeys)
	cfg.RecipientRateLimit.Channels = splitList(v.GetString("recipient_rate_limit.channels"), cfg.RecipientRateLimit.Channels)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_url", "")
	v.SetDefault("auth.api_keys", "")

	v.SetDefault("email.provider", "resend")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from_address", "")
	v.SetDefault("email.from_name", "InstaCares")
	v.SetDefault("email.reply_to", "")
	v.SetDefault("email.base_url", "")
	v.SetDefault("email.postmark_server_token", "")
	v.SetDefault("email.postmark_account_token", "")
	v.SetDefault("email.message_stream", "outbound")

	v.SetDefault("sms.account_sid", "")
	v.SetDefault("sms.auth_token", "")
	v.SetDefault("sms.from_number", "")
	v.SetDefault("sms.messaging_service_sid", "")
	v.SetDefault("sms.status_callback_url", "")
	v.SetDefault("sms.base_url", "")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "X-API-Key", "X-Request-ID"})
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.service_key", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "instacares-notify.db")

	v.SetDefault("queue.concurrency", 10)

	v.SetDefault("recipient_rate_limit.backend", "redis")
	v.SetDefault("recipient_rate_limit.max_per_hour", 50)
	v.SetDefault("recipient_rate_limit.window_sec", 3600)
	v.SetDefault("recipient_rate_limit.channels", "SMS")

	v.SetDefault("retry.trigger", "asynq")
	v.SetDefault("retry.backoff_sec", []int{300, 900, 3600})
	v.SetDefault("retry.default_max_attempts", 3)
	v.SetDefault("retry.max_attempts_limit", 5)
	v.SetDefault("retry.critical_max_attempts_limit", 10)
	v.SetDefault("retry.sweep_interval_sec", 60)
	v.SetDefault("retry.batch_size", 100)
	v.SetDefault("retry.concurrency", 10)
	v.SetDefault("retry.send_timeout_sec", 15)

	v.SetDefault("reaper.interval_sec", 300)       // 5 minutes
	v.SetDefault("reaper.stale_threshold_sec", 600) // 10 minutes
	v.SetDefault("reaper.batch_size", 50)

	v.SetDefault("webhooks.resend_signing_secret", "")
	v.SetDefault("webhooks.verify_twilio", true)
}

// Validate rejects settings the binaries cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "supabase":
	default:
		return fmt.Errorf("invalid store.driver %q: want memory, sqlite or supabase", c.Store.Driver)
	}
	switch c.Email.Provider {
	case "resend", "postmark":
	default:
		return fmt.Errorf("invalid email.provider %q: want resend or postmark", c.Email.Provider)
	}
	switch c.RecipientRateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid recipient_rate_limit.backend %q: want memory or redis", c.RecipientRateLimit.Backend)
	}
	switch c.Retry.Trigger {
	case "asynq", "ticker":
	default:
		return fmt.Errorf("invalid retry.trigger %q: want asynq or ticker", c.Retry.Trigger)
	}
	if c.Reaper.StaleThresholdSec > 0 && c.Retry.SendTimeoutSec > 0 && c.Reaper.StaleThresholdSec <= c.Retry.SendTimeoutSec {
		return fmt.Errorf("reaper.stale_threshold_sec (%d) must exceed retry.send_timeout_sec (%d)",
			c.Reaper.StaleThresholdSec, c.Retry.SendTimeoutSec)
	}
	// A claimed row can wait for a free sweep goroutine for every earlier
	// wave of the batch before its own send starts.
	if c.Reaper.StaleThresholdSec > 0 && c.Retry.SendTimeoutSec > 0 && c.Retry.BatchSize > 0 && c.Retry.Concurrency > 0 {
		waves := (c.Retry.BatchSize + c.Retry.Concurrency - 1) / c.Retry.Concurrency
		if worst := waves * c.Retry.SendTimeoutSec; c.Reaper.StaleThresholdSec <= worst {
			return fmt.Errorf("reaper.stale_threshold_sec (%d) must exceed the worst sweep queue time of %ds (retry.batch_size/retry.concurrency x retry.send_timeout_sec)",
				c.Reaper.StaleThresholdSec, worst)
		}
	}
	return nil
}

// splitList prefers a comma-separated string value (env vars) over the
// decoded list (YAML) and trims every entry.
func splitList(raw string, current []string) []string {
	if raw != "" {
		current = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(current))
	for _, p := range current {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
