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
// built-in defaults, applies WAGERBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	applyAccountDefaults(&cfg)

	return &cfg, nil
}

// applyAccountDefaults fills per-account fields left out of [[accounts]]
// tables, which the TOML decoder creates from zero values.
func applyAccountDefaults(cfg *Config) {
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.MaxStakeFraction == 0 {
			a.MaxStakeFraction = cfg.Staking.MaxFraction
		}
		if a.Timezone == "" {
			a.Timezone = "UTC"
		}
	}
}

// applyEnvOverrides reads well-known WAGERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Staking ──
	setFloat64(&cfg.Staking.Multiplier, "WAGERBOT_STAKING_MULTIPLIER")
	setFloat64(&cfg.Staking.MaxFraction, "WAGERBOT_STAKING_MAX_FRACTION")
	setInt64(&cfg.Staking.MinStakeCents, "WAGERBOT_STAKING_MIN_STAKE_CENTS")
	setStringSlice(&cfg.Parlay.Strategies, "WAGERBOT_PARLAY_STRATEGIES")

	// ── Scheduler ──
	setInt(&cfg.Scheduler.MaxSingles, "WAGERBOT_SCHEDULER_MAX_SINGLES")
	setFloat64(&cfg.Scheduler.MinEdge, "WAGERBOT_SCHEDULER_MIN_EDGE")
	setFloat64(&cfg.Scheduler.MinConfidence, "WAGERBOT_SCHEDULER_MIN_CONFIDENCE")
	setInt(&cfg.Scheduler.LateNightCutoffHour, "WAGERBOT_SCHEDULER_LATE_NIGHT_CUTOFF_HOUR")
	setDuration(&cfg.Scheduler.RetryDelay, "WAGERBOT_SCHEDULER_RETRY_DELAY")
	setDuration(&cfg.Scheduler.MaxSleep, "WAGERBOT_SCHEDULER_MAX_SLEEP")

	// ── Feed ──
	setStr(&cfg.Feed.Kind, "WAGERBOT_FEED_KIND")
	setStr(&cfg.Feed.Stream, "WAGERBOT_FEED_STREAM")
	setStr(&cfg.Feed.Prefix, "WAGERBOT_FEED_PREFIX")
	setStr(&cfg.Feed.URL, "WAGERBOT_FEED_URL")
	setStringSlice(&cfg.Feed.Sports, "WAGERBOT_FEED_SPORTS")
	setStr(&cfg.Feed.Path, "WAGERBOT_FEED_PATH")

	// ── Execution ──
	setStr(&cfg.Execution.Kind, "WAGERBOT_EXECUTION_KIND")
	setFloat64(&cfg.Execution.RatePerSecond, "WAGERBOT_EXECUTION_RATE_PER_SECOND")
	setInt(&cfg.Execution.Burst, "WAGERBOT_EXECUTION_BURST")
	setStr(&cfg.Execution.Topic, "WAGERBOT_EXECUTION_TOPIC")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "WAGERBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "WAGERBOT_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "WAGERBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "WAGERBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "WAGERBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "WAGERBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "WAGERBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "WAGERBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "WAGERBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "WAGERBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "WAGERBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "WAGERBOT_REDIS_URL")
	setStr(&cfg.Redis.Addr, "WAGERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGERBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "WAGERBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "WAGERBOT_REDIS_NAMESPACE")
	setDuration(&cfg.Redis.LockTTL, "WAGERBOT_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WAGERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WAGERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGERBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "WAGERBOT_S3_PREFIX")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "WAGERBOT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.EventsTopic, "WAGERBOT_KAFKA_EVENTS_TOPIC")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGERBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGERBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGERBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGERBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "WAGERBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "WAGERBOT_METRICS_ADDR")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WAGERBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "WAGERBOT_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "WAGERBOT_ARCHIVE_RETENTION_DAYS")

	// ── Reconcile ──
	setBool(&cfg.Reconcile.Enabled, "WAGERBOT_RECONCILE_ENABLED")
	setDuration(&cfg.Reconcile.Interval, "WAGERBOT_RECONCILE_INTERVAL")
	setStr(&cfg.Reconcile.ResultsStream, "WAGERBOT_RECONCILE_RESULTS_STREAM")

	// ── General ──
	setStr(&cfg.Mode, "WAGERBOT_MODE")
	setStr(&cfg.LogLevel, "WAGERBOT_LOG_LEVEL")
}

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
