package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/tradeguard/internal/blob/s3"
	"github.com/alanyoungcy/tradeguard/internal/cache/redis"
	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/crypto"
	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/metrics"
	"github.com/alanyoungcy/tradeguard/internal/notify"
	"github.com/alanyoungcy/tradeguard/internal/platform/gateway"
	"github.com/alanyoungcy/tradeguard/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the run modes need
// to operate. It is constructed by Wire and torn down by the returned cleanup
// function. Fields stay nil when the selected mode does not wire them; the
// modes and handlers degrade accordingly.
type Dependencies struct {
	// Redis-backed trading state
	TradingCache domain.TradingCache
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Journal
	JournalStore domain.JournalStore

	// Cold archival
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Engine admin gateway
	Gateway *gateway.Client

	// Observability
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
}

// needsRedis returns true for modes that read the trading cache or publish on
// the signal bus.
func needsRedis(mode string) bool {
	switch mode {
	case "guard", "serve", "replay":
		return true
	default:
		return false
	}
}

// needsPostgres returns true for modes that touch the recovery journal.
func needsPostgres(mode string) bool {
	switch mode {
	case "guard", "serve", "archive":
		return true
	default:
		return false
	}
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	return mode == "archive"
}

// needsGateway returns true for modes that drive the engine admin gateway.
func needsGateway(mode string) bool {
	return mode == "guard"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Cleanup is safe to call after a
// partial wiring failure; it releases only what was built.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL journal (only for modes that persist or export it) ---
	var journal *postgres.JournalStore
	if needsPostgres(mode) && cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		journal = postgres.NewJournalStore(pgClient.Pool())
		deps.JournalStore = journal
	}
	if mode == "archive" && journal == nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: archive mode requires postgres.enabled")
	}

	// --- Redis (trading cache, recovery lock, signal bus) ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.TradingCache = redis.NewTradingCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.EventStreamMaxLen)
	}

	// --- S3 blob storage (only for modes that export to cold storage) ---
	if needsS3(mode) && cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		// Archiver: reads cold rows from the journal, so it exists only when
		// postgres is wired too. Archive mode guarantees that above.
		if journal != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, journal, journal, journal, domain.SystemClock{})
		}
	}

	// --- Engine admin gateway ---
	if needsGateway(mode) {
		var auth *crypto.HMACAuth
		if cfg.Gateway.ApiKey != "" {
			secret, err := crypto.LoadSecret(crypto.SecretConfig{
				RawSecret:           cfg.Gateway.ApiSecret,
				EncryptedSecretPath: cfg.Gateway.EncryptedSecretPath,
				KeyPassword:         cfg.Gateway.KeyPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: gateway secret: %w", err)
			}
			auth = &crypto.HMACAuth{Key: cfg.Gateway.ApiKey, Secret: secret}
		} else {
			logger.WarnContext(ctx, "wire: gateway api_key not set, requests will be unsigned")
		}
		deps.Gateway = gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout.Duration, auth)
	}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
