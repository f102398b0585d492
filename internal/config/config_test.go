package config_test

import (
	"testing"
	"time"

	"instacares-notify/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("INSTACARES_STORE_DRIVER", "memory")
	t.Setenv("INSTACARES_AUTH_API_KEYS", "key-one, key-two,")
	t.Setenv("INSTACARES_RETRY_TRIGGER", "ticker")
	t.Setenv("INSTACARES_RECIPIENT_RATE_LIMIT_BACKEND", "memory")
	t.Setenv("INSTACARES_RECIPIENT_RATE_LIMIT_CHANNELS", "SMS,EMAIL")
	t.Setenv("INSTACARES_SERVER_PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Auth.APIKeys)
	assert.Equal(t, []string{"SMS", "EMAIL"}, cfg.RecipientRateLimit.Channels)
	assert.Equal(t, "ticker", cfg.Retry.Trigger)

	assert.Equal(t, "resend", cfg.Email.Provider)
	assert.Equal(t, 3, cfg.Retry.DefaultMaxAttempts)
	assert.Equal(t, 5, cfg.Retry.MaxAttemptsLimit)
	assert.Equal(t, 10, cfg.Retry.CriticalMaxAttemptsLimit)
	assert.Equal(t, []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}, cfg.Retry.Backoff())
	assert.True(t, cfg.Webhooks.VerifyTwilio)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("INSTACARES_STORE_DRIVER", "mongo")

	_, err := config.Load()
	assert.ErrorContains(t, err, "store.driver")
}

func validConfig() config.Config {
	var cfg config.Config
	cfg.Store.Driver = "sqlite"
	cfg.Email.Provider = "resend"
	cfg.RecipientRateLimit.Backend = "redis"
	cfg.Retry.Trigger = "asynq"
	cfg.Retry.SendTimeoutSec = 15
	cfg.Reaper.StaleThresholdSec = 600
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"postmark", func(c *config.Config) { c.Email.Provider = "postmark" }, ""},
		{"bad email provider", func(c *config.Config) { c.Email.Provider = "smtp" }, "email.provider"},
		{"bad limiter backend", func(c *config.Config) { c.RecipientRateLimit.Backend = "etcd" }, "recipient_rate_limit.backend"},
		{"bad trigger", func(c *config.Config) { c.Retry.Trigger = "cron" }, "retry.trigger"},
		{"reaper faster than send", func(c *config.Config) { c.Reaper.StaleThresholdSec = 10 }, "reaper.stale_threshold_sec"},
		{"reaper inside sweep queue time", func(c *config.Config) {
			c.Retry.BatchSize = 100
			c.Retry.Concurrency = 2
		}, "worst sweep queue time of 750s"},
		{"sweep queue time fits", func(c *config.Config) {
			c.Retry.BatchSize = 100
			c.Retry.Concurrency = 10
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSMSEnabled(t *testing.T) {
	t.Parallel()

	assert.False(t, config.SMSConfig{AccountSID: "AC1", AuthToken: "t"}.Enabled())
	assert.True(t, config.SMSConfig{AccountSID: "AC1", AuthToken: "t", FromNumber: "+15550000000"}.Enabled())
	assert.True(t, config.SMSConfig{AccountSID: "AC1", AuthToken: "t", MessagingServiceSID: "MG1"}.Enabled())
}
