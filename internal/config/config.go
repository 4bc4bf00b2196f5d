// Package config defines the top-level configuration for the tradeguard
// sidecar and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEGUARD_* environment variables.
type Config struct {
	Recovery  RecoveryConfig `toml:"recovery"`
	Shutdown  ShutdownConfig `toml:"shutdown"`
	Gateway   GatewayConfig  `toml:"gateway"`
	Redis     RedisConfig    `toml:"redis"`
	Postgres  PostgresConfig `toml:"postgres"`
	S3        S3Config       `toml:"s3"`
	Server    ServerConfig   `toml:"server"`
	Notify    NotifyConfig   `toml:"notify"`
	Metrics   MetricsConfig  `toml:"metrics"`
	Mode      string         `toml:"mode"`
	LogLevel  string         `toml:"log_level"`
	LogFormat string         `toml:"log_format"`
}

// RecoveryConfig holds startup-recovery policy for one trading process.
type RecoveryConfig struct {
	TraderID                    string  `toml:"trader_id"`
	InstrumentID                string  `toml:"instrument_id"`
	Enabled                     bool    `toml:"enabled"`
	WarmupLookbackDays          int     `toml:"warmup_lookback_days"`
	StartupDelaySecs            float64 `toml:"startup_delay_secs"`
	MaxRecoveryTimeSecs         float64 `toml:"max_recovery_time_secs"`
	ClaimExternalPositions      bool    `toml:"claim_external_positions"`
	StateDir                    string  `toml:"state_dir"`
	SignificantBalanceChangePct float64 `toml:"significant_balance_change_pct"`
}

// ShutdownConfig holds graceful-shutdown policy.
type ShutdownConfig struct {
	TimeoutSecs      float64 `toml:"timeout_secs"`
	CancelOrders     bool    `toml:"cancel_orders"`
	VerifyStopLosses bool    `toml:"verify_stop_losses"`
	FlushCache       bool    `toml:"flush_cache"`
	LogLevel         string  `toml:"log_level"`
}

// GatewayConfig holds the guarded engine's admin-gateway endpoint and
// credentials. The API secret may be given raw, or as an encrypted file plus
// password.
type GatewayConfig struct {
	BaseURL             string   `toml:"base_url"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	KeyPassword         string   `toml:"key_password"`
	Timeout             duration `toml:"timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr              string `toml:"addr"`
	Password          string `toml:"password"`
	DB                int    `toml:"db"`
	PoolSize          int    `toml:"pool_size"`
	MaxRetries        int    `toml:"max_retries"`
	TLSEnabled        bool   `toml:"tls_enabled"`
	EventStreamMaxLen int64  `toml:"event_stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters for the journal.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Enabled       bool   `toml:"enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters for the ops API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	ApiKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds Prometheus exposition parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Recovery: RecoveryConfig{
			Enabled:                     true,
			WarmupLookbackDays:          7,
			StartupDelaySecs:            10,
			MaxRecoveryTimeSecs:         60,
			ClaimExternalPositions:      false,
			StateDir:                    ".",
			SignificantBalanceChangePct: 1.0,
		},
		Shutdown: ShutdownConfig{
			TimeoutSecs:      30,
			CancelOrders:     true,
			VerifyStopLosses: true,
			FlushCache:       false,
			LogLevel:         "INFO",
		},
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:8800",
			Timeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:              "localhost:6379",
			DB:                0,
			PoolSize:          20,
			MaxRetries:        3,
			TLSEnabled:        false,
			EventStreamMaxLen: 10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			Enabled:       true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradeguard-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        8700,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"recovery.completed", "recovery.failed", "recovery.timeout", "shutdown.completed"},
		},
		Metrics:   MetricsConfig{Enabled: true},
		Mode:      "guard",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"guard":   true,
	"serve":   true,
	"replay":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted values for Config.LogFormat.
var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// validShutdownLogLevels enumerates the accepted values for
// ShutdownConfig.LogLevel.
var validShutdownLogLevels = map[string]bool{
	"DEBUG":   true,
	"INFO":    true,
	"WARNING": true,
	"ERROR":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)

	// Mode
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: guard, serve, replay, archive)", c.Mode))
	}

	// LogLevel / LogFormat
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}

	// Recovery. The trader id is required for the modes that drive a single
	// trading process; serve and archive operate across traders.
	needsTrader := mode == "guard" || mode == "replay"
	if needsTrader && strings.TrimSpace(c.Recovery.TraderID) == "" {
		errs = append(errs, "recovery: trader_id must be set for mode "+c.Mode)
	}
	if mode == "guard" && strings.TrimSpace(c.Recovery.InstrumentID) == "" {
		errs = append(errs, "recovery: instrument_id must be set for mode guard")
	}
	if c.Recovery.WarmupLookbackDays < 1 || c.Recovery.WarmupLookbackDays > 30 {
		errs = append(errs, fmt.Sprintf("recovery: warmup_lookback_days must be 1-30, got %d", c.Recovery.WarmupLookbackDays))
	}
	if c.Recovery.StartupDelaySecs < 5 || c.Recovery.StartupDelaySecs > 60 {
		errs = append(errs, fmt.Sprintf("recovery: startup_delay_secs must be 5-60, got %g", c.Recovery.StartupDelaySecs))
	}
	if c.Recovery.MaxRecoveryTimeSecs < 10 || c.Recovery.MaxRecoveryTimeSecs > 120 {
		errs = append(errs, fmt.Sprintf("recovery: max_recovery_time_secs must be 10-120, got %g", c.Recovery.MaxRecoveryTimeSecs))
	}
	if c.Recovery.MaxRecoveryTimeSecs <= c.Recovery.StartupDelaySecs {
		errs = append(errs, fmt.Sprintf("recovery: max_recovery_time_secs (%g) must exceed startup_delay_secs (%g)", c.Recovery.MaxRecoveryTimeSecs, c.Recovery.StartupDelaySecs))
	}
	if c.Recovery.SignificantBalanceChangePct < 0 {
		errs = append(errs, "recovery: significant_balance_change_pct must be >= 0")
	}
	if c.Recovery.StateDir == "" {
		errs = append(errs, "recovery: state_dir must not be empty")
	}

	// Shutdown
	if c.Shutdown.TimeoutSecs < 5 || c.Shutdown.TimeoutSecs > 300 {
		errs = append(errs, fmt.Sprintf("shutdown: timeout_secs must be 5-300, got %g", c.Shutdown.TimeoutSecs))
	}
	if !validShutdownLogLevels[strings.ToUpper(c.Shutdown.LogLevel)] {
		errs = append(errs, fmt.Sprintf("shutdown: unknown log_level %q (valid: DEBUG, INFO, WARNING, ERROR)", c.Shutdown.LogLevel))
	}

	// Gateway
	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway: base_url must not be empty")
	}
	if c.Gateway.EncryptedSecretPath != "" && c.Gateway.KeyPassword == "" {
		errs = append(errs, "gateway: key_password is required when encrypted_secret_path is set")
	}
	if c.Gateway.Timeout.Duration <= 0 {
		errs = append(errs, "gateway: timeout must be positive")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.EventStreamMaxLen < 1 {
		errs = append(errs, "redis: event_stream_max_len must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}
	if mode == "archive" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode archive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
