package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Recovery.TraderID = "trader-001"
	cfg.Recovery.InstrumentID = "BTC-USD-PERP"
	return cfg
}

func TestDefaultsValidateWithTraderID(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateTraderIDRequiredPerMode(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trader_id")

	// serve mode does not act on a single trader.
	cfg.Mode = "serve"
	require.NoError(t, cfg.Validate())
}

func TestValidateShutdownTimeoutBounds(t *testing.T) {
	cfg := validConfig()

	cfg.Shutdown.TimeoutSecs = 1.0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_secs")

	cfg.Shutdown.TimeoutSecs = 30.0
	require.NoError(t, cfg.Validate())

	cfg.Shutdown.TimeoutSecs = 301
	require.Error(t, cfg.Validate())
}

func TestValidateShutdownLogLevel(t *testing.T) {
	cfg := validConfig()

	cfg.Shutdown.LogLevel = "VERBOSE"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown: unknown log_level")

	// Case-insensitive.
	cfg.Shutdown.LogLevel = "warning"
	require.NoError(t, cfg.Validate())
}

func TestValidateRecoveryBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"lookback too low", func(c *Config) { c.Recovery.WarmupLookbackDays = 0 }, "warmup_lookback_days"},
		{"lookback too high", func(c *Config) { c.Recovery.WarmupLookbackDays = 31 }, "warmup_lookback_days"},
		{"startup delay too low", func(c *Config) { c.Recovery.StartupDelaySecs = 4 }, "startup_delay_secs"},
		{"startup delay too high", func(c *Config) { c.Recovery.StartupDelaySecs = 61 }, "startup_delay_secs"},
		{"max recovery too low", func(c *Config) { c.Recovery.MaxRecoveryTimeSecs = 9 }, "max_recovery_time_secs"},
		{"max recovery too high", func(c *Config) { c.Recovery.MaxRecoveryTimeSecs = 121 }, "max_recovery_time_secs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateMaxRecoveryExceedsStartupDelay(t *testing.T) {
	cfg := validConfig()
	cfg.Recovery.StartupDelaySecs = 45
	cfg.Recovery.MaxRecoveryTimeSecs = 45
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must exceed startup_delay_secs")

	cfg.Recovery.MaxRecoveryTimeSecs = 46
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "paper"
	cfg.Shutdown.TimeoutSecs = 2
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "timeout_secs")
	assert.Contains(t, msg, "redis: addr")
}

func TestValidateArchiveModeRequiresS3(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: must be enabled")

	cfg.S3.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "serve"
log_level = "debug"

[recovery]
trader_id = "trader-042"
warmup_lookback_days = 14

[gateway]
timeout = "5s"

[redis]
addr = "redis.internal:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("TRADEGUARD_REDIS_ADDR", "redis.override:6380")
	t.Setenv("TRADEGUARD_RECOVERY_MAX_RECOVERY_TIME_SECS", "90")
	t.Setenv("TRADEGUARD_SHUTDOWN_CANCEL_ORDERS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "trader-042", cfg.Recovery.TraderID)
	assert.Equal(t, 14, cfg.Recovery.WarmupLookbackDays)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout.Duration)

	// Env beats file, file beats defaults.
	assert.Equal(t, "redis.override:6380", cfg.Redis.Addr)
	assert.Equal(t, 90.0, cfg.Recovery.MaxRecoveryTimeSecs)
	assert.False(t, cfg.Shutdown.CancelOrders)

	// Untouched sections keep their defaults.
	assert.Equal(t, 30.0, cfg.Shutdown.TimeoutSecs)
	assert.Equal(t, int64(10_000), cfg.Redis.EventStreamMaxLen)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.ApiSecret = "super-secret"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Gateway.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original is untouched.
	assert.Equal(t, "super-secret", cfg.Gateway.ApiSecret)

	// Mutating the copy's slices must not leak back.
	red.Notify.Events[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Notify.Events[0])
}
