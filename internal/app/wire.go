package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/wagerbot/internal/blob/s3"
	"github.com/alanyoungcy/wagerbot/internal/cache/redis"
	"github.com/alanyoungcy/wagerbot/internal/config"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/events"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
	"github.com/alanyoungcy/wagerbot/internal/notify"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
	"github.com/alanyoungcy/wagerbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Ledgers   domain.LedgerStore
	Wagers    domain.WagerStore
	Cycles    domain.CycleStateStore
	Audit     domain.AuditStore
	Incidents domain.IncidentStore

	// Redis; nil when no component needs it.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil unless the feed or the archiver needs it.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Events fans wager lifecycle events out to Redis and Kafka; nil when
	// neither is configured.
	Events domain.EventPublisher

	// Notifications
	Notifier *notify.Notifier

	// Health pings every connected backend.
	Health metrics.HealthFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}
	var pings []metrics.HealthFunc

	// --- PostgreSQL, or the in-memory stores in paper mode ---
	var pgWagers *postgres.WagerStore
	var pgIncidents *postgres.IncidentStore
	if cfg.UsesPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		pings = append(pings, pgClient.Ping)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		pgWagers = postgres.NewWagerStore(pool)
		pgIncidents = postgres.NewIncidentStore(pool)
		deps.Ledgers = postgres.NewLedgerStore(pool)
		deps.Wagers = pgWagers
		deps.Cycles = postgres.NewCycleStateStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Incidents = pgIncidents
	} else {
		db := memory.New()
		deps.Ledgers = memory.NewLedgerStore(db)
		deps.Wagers = memory.NewWagerStore(db)
		deps.Cycles = memory.NewCycleStateStore(db)
		deps.Audit = memory.NewAuditStore(db)
		deps.Incidents = memory.NewIncidentStore(db)
		logger.Info("paper mode: using in-memory stores")
	}

	// --- Redis ---
	var publishers events.Multi
	if cfg.NeedsRedis() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		pings = append(pings, redisClient.Ping)

		waitLimit := int(cfg.Execution.RatePerSecond)
		bus := redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.RateLimiter = redis.NewRateLimiter(redisClient, max(waitLimit, 1), 0)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		publishers = append(publishers, events.NewBusPublisher(bus, cfg.Redis.EventStream))
	}

	// --- Kafka events ---
	if cfg.Kafka.EventsTopic != "" && len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic))
		closers = append(closers, func() { _ = kp.Close() })
		publishers = append(publishers, kp)
	}
	if len(publishers) > 0 {
		deps.Events = publishers
	}

	// --- S3 blob storage ---
	if cfg.NeedsS3() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		pings = append(pings, s3Client.Health)

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		if cfg.Archive.Enabled && pgWagers != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, pgWagers, pgIncidents, deps.Audit)
		}
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

	deps.Health = func(ctx context.Context) error {
		var errs []error
		for _, ping := range pings {
			errs = append(errs, ping(ctx))
		}
		return errors.Join(errs...)
	}

	return deps, cleanup, nil
}
