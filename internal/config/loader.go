package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEGUARD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Recovery ──
	setStr(&cfg.Recovery.TraderID, "TRADEGUARD_RECOVERY_TRADER_ID")
	setStr(&cfg.Recovery.InstrumentID, "TRADEGUARD_RECOVERY_INSTRUMENT_ID")
	setBool(&cfg.Recovery.Enabled, "TRADEGUARD_RECOVERY_ENABLED")
	setInt(&cfg.Recovery.WarmupLookbackDays, "TRADEGUARD_RECOVERY_WARMUP_LOOKBACK_DAYS")
	setFloat64(&cfg.Recovery.StartupDelaySecs, "TRADEGUARD_RECOVERY_STARTUP_DELAY_SECS")
	setFloat64(&cfg.Recovery.MaxRecoveryTimeSecs, "TRADEGUARD_RECOVERY_MAX_RECOVERY_TIME_SECS")
	setBool(&cfg.Recovery.ClaimExternalPositions, "TRADEGUARD_RECOVERY_CLAIM_EXTERNAL_POSITIONS")
	setStr(&cfg.Recovery.StateDir, "TRADEGUARD_RECOVERY_STATE_DIR")
	setFloat64(&cfg.Recovery.SignificantBalanceChangePct, "TRADEGUARD_RECOVERY_SIGNIFICANT_BALANCE_CHANGE_PCT")

	// ── Shutdown ──
	setFloat64(&cfg.Shutdown.TimeoutSecs, "TRADEGUARD_SHUTDOWN_TIMEOUT_SECS")
	setBool(&cfg.Shutdown.CancelOrders, "TRADEGUARD_SHUTDOWN_CANCEL_ORDERS")
	setBool(&cfg.Shutdown.VerifyStopLosses, "TRADEGUARD_SHUTDOWN_VERIFY_STOP_LOSSES")
	setBool(&cfg.Shutdown.FlushCache, "TRADEGUARD_SHUTDOWN_FLUSH_CACHE")
	setStr(&cfg.Shutdown.LogLevel, "TRADEGUARD_SHUTDOWN_LOG_LEVEL")

	// ── Gateway ──
	setStr(&cfg.Gateway.BaseURL, "TRADEGUARD_GATEWAY_BASE_URL")
	setStr(&cfg.Gateway.ApiKey, "TRADEGUARD_GATEWAY_API_KEY")
	setStr(&cfg.Gateway.ApiSecret, "TRADEGUARD_GATEWAY_API_SECRET")
	setStr(&cfg.Gateway.EncryptedSecretPath, "TRADEGUARD_GATEWAY_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Gateway.KeyPassword, "TRADEGUARD_GATEWAY_KEY_PASSWORD")
	setDuration(&cfg.Gateway.Timeout, "TRADEGUARD_GATEWAY_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEGUARD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEGUARD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEGUARD_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.EventStreamMaxLen, "TRADEGUARD_REDIS_EVENT_STREAM_MAX_LEN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "TRADEGUARD_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRADEGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEGUARD_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "TRADEGUARD_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEGUARD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEGUARD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEGUARD_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Enabled, "TRADEGUARD_POSTGRES_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADEGUARD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADEGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEGUARD_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "TRADEGUARD_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEGUARD_SERVER_ENABLED")
	setStr(&cfg.Server.Host, "TRADEGUARD_SERVER_HOST")
	setInt(&cfg.Server.Port, "TRADEGUARD_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "TRADEGUARD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADEGUARD_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEGUARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEGUARD_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "TRADEGUARD_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADEGUARD_MODE")
	setStr(&cfg.LogLevel, "TRADEGUARD_LOG_LEVEL")
	setStr(&cfg.LogFormat, "TRADEGUARD_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
