package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the top-level configuration for wagerbot.
type Config struct {
	Accounts  []AccountConfig `toml:"accounts"`
	Staking   StakingConfig   `toml:"staking"`
	Parlay    ParlayConfig    `toml:"parlay"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Feed      FeedConfig      `toml:"feed"`
	Execution ExecutionConfig `toml:"execution"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Archive   ArchiveConfig   `toml:"archive"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// AccountConfig describes one betting account. Each account gets its own
// scheduler; accounts share nothing but the prediction feed.
type AccountConfig struct {
	ID                string  `toml:"id"`
	OpeningCents      int64   `toml:"opening_cents"`
	MaxStakeFraction  float64 `toml:"max_stake_fraction"`
	DailyLossCapCents int64   `toml:"daily_loss_cap_cents"`
	// Timezone is the IANA zone of the account calendar. The daily loss cap
	// resets and the scheduler wakes at its midnight.
	Timezone string `toml:"timezone"`
}

// Location resolves the account timezone; empty means UTC.
func (a AccountConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("account %s: timezone: %w", a.ID, err)
	}
	return loc, nil
}

// StakingConfig holds the fractional Kelly sizing limits shared by every
// account.
type StakingConfig struct {
	Multiplier    float64 `toml:"multiplier"`
	MaxFraction   float64 `toml:"max_fraction"`
	MinStakeCents int64   `toml:"min_stake_cents"`
}

// TierConfig is one parlay leg-count tier.
type TierConfig struct {
	Name                   string  `toml:"name"`
	LegCount               int     `toml:"leg_count"`
	MinLegs                int     `toml:"min_legs"`
	MaxLegs                int     `toml:"max_legs"`
	MinLegConfidence       float64 `toml:"min_leg_confidence"`
	MinLegEdge             float64 `toml:"min_leg_edge"`
	MinCombinedProbability float64 `toml:"min_combined_probability"`
	StakeFraction          float64 `toml:"stake_fraction"`
}

// ParlayConfig holds the tiers and the ordered strategy fallback chain.
type ParlayConfig struct {
	// Strategies are tried in order for each tier, e.g. ["strict", "relaxed"].
	Strategies []string     `toml:"strategies"`
	Tiers      []TierConfig `toml:"tiers"`
}

// SchedulerConfig tunes the decision cycle.
type SchedulerConfig struct {
	MaxSingles          int      `toml:"max_singles"`
	MinEdge             float64  `toml:"min_edge"`
	MinConfidence       float64  `toml:"min_confidence"`
	LateNightCutoffHour int      `toml:"late_night_cutoff_hour"`
	NextDayHorizon      duration `toml:"next_day_horizon"`
	RetryDelay          duration `toml:"retry_delay"`
	MaxRetryDelay       duration `toml:"max_retry_delay"`
	MaxSleep            duration `toml:"max_sleep"`
}

// FeedConfig selects and configures the prediction feed.
type FeedConfig struct {
	// Kind is one of "redis", "s3", "ws" or "file".
	Kind   string   `toml:"kind"`
	Stream string   `toml:"stream"`
	Prefix string   `toml:"prefix"`
	URL    string   `toml:"url"`
	Sports []string `toml:"sports"`
	Path   string   `toml:"path"`
}

// ExecutionConfig selects the venue committed wagers are routed to.
type ExecutionConfig struct {
	// Kind is "paper" or "kafka".
	Kind          string   `toml:"kind"`
	RatePerSecond float64  `toml:"rate_per_second"`
	Burst         int      `toml:"burst"`
	DedupTTL      duration `toml:"dedup_ttl"`
	Topic         string   `toml:"topic"`
}

// SupabaseConfig holds PostgreSQL (Supabase) connection parameters.
type SupabaseConfig struct {
	// DSN, when set, is used instead of the individual fields below.
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
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL, when set, overrides addr, password and db.
	URL          string   `toml:"url"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	Namespace    string   `toml:"namespace"`
	StreamMaxLen int      `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
	// EventStream, when set, receives a copy of every wager event.
	EventStream string `toml:"event_stream"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// KafkaConfig holds broker addresses and topics.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	// EventsTopic, when set, receives wager events alongside Redis.
	EventsTopic string `toml:"events_topic"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// NotifyLimit caps incident notifications per data type per window.
	NotifyLimit  int      `toml:"notify_limit"`
	NotifyWindow duration `toml:"notify_window"`
}

// MetricsConfig configures the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ArchiveConfig controls cold-storage archival of settled wagers.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// ReconcileConfig controls settlement from final game results.
type ReconcileConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	ResultsStream string   `toml:"results_stream"`
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
		Accounts: []AccountConfig{{
			ID:                "main",
			OpeningCents:      100_000,
			MaxStakeFraction:  0.05,
			DailyLossCapCents: 20_000,
			Timezone:          "UTC",
		}},
		Staking: StakingConfig{
			Multiplier:    0.25,
			MaxFraction:   0.05,
			MinStakeCents: 100,
		},
		Parlay: ParlayConfig{
			Strategies: []string{"strict", "relaxed"},
			Tiers: []TierConfig{
				{
					Name:                   "conservative",
					LegCount:               2,
					MinLegs:                2,
					MaxLegs:                2,
					MinLegConfidence:       0.60,
					MinLegEdge:             0.03,
					MinCombinedProbability: 0.30,
					StakeFraction:          0.010,
				},
				{
					Name:                   "balanced",
					LegCount:               4,
					MinLegs:                3,
					MaxLegs:                4,
					MinLegConfidence:       0.55,
					MinLegEdge:             0.02,
					MinCombinedProbability: 0.15,
					StakeFraction:          0.005,
				},
				{
					Name:                   "aggressive",
					LegCount:               6,
					MinLegs:                5,
					MaxLegs:                6,
					MinLegConfidence:       0.50,
					MinLegEdge:             0.01,
					MinCombinedProbability: 0.10,
					StakeFraction:          0.0025,
				},
			},
		},
		Scheduler: SchedulerConfig{
			MaxSingles:          5,
			MinEdge:             0.02,
			MinConfidence:       0.50,
			LateNightCutoffHour: 22,
			NextDayHorizon:      duration{6 * time.Hour},
			RetryDelay:          duration{30 * time.Second},
			MaxRetryDelay:       duration{10 * time.Minute},
			MaxSleep:            duration{15 * time.Minute},
		},
		Feed: FeedConfig{
			Kind:   "redis",
			Stream: "predictions",
			Prefix: "predictions",
		},
		Execution: ExecutionConfig{
			Kind:          "paper",
			RatePerSecond: 2,
			Burst:         2,
			DedupTTL:      duration{24 * time.Hour},
			Topic:         "wager-executions",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			Namespace:    "wagerbot",
			StreamMaxLen: 10_000,
			LockTTL:      duration{10 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerbot-data",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events:       []string{"incident", "cycle_summary"},
			NotifyLimit:  5,
			NotifyWindow: duration{time.Hour},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Reconcile: ReconcileConfig{
			Enabled:       true,
			Interval:      duration{5 * time.Minute},
			ResultsStream: "results",
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"cycle":  true,
	"settle": true,
	"paper":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFeeds = map[string]bool{
	"redis": true,
	"s3":    true,
	"ws":    true,
	"file":  true,
}

var validStrategies = map[string]bool{
	"strict":  true,
	"relaxed": true,
}

// UsesPostgres reports whether the mode persists to PostgreSQL. Paper mode
// keeps everything in memory.
func (c *Config) UsesPostgres() bool {
	return strings.ToLower(c.Mode) != "paper"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, cycle, settle, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Accounts
	if len(c.Accounts) == 0 {
		errs = append(errs, "accounts: at least one account is required")
	}
	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d]: id must not be empty", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("accounts: duplicate id %q", a.ID))
		}
		seen[a.ID] = true
		if a.OpeningCents < 0 {
			errs = append(errs, fmt.Sprintf("account %s: opening_cents must be >= 0", a.ID))
		}
		if a.MaxStakeFraction <= 0 || a.MaxStakeFraction > 1 {
			errs = append(errs, fmt.Sprintf("account %s: max_stake_fraction must be in (0, 1]", a.ID))
		}
		if a.DailyLossCapCents < 0 {
			errs = append(errs, fmt.Sprintf("account %s: daily_loss_cap_cents must be >= 0", a.ID))
		}
		if _, err := a.Location(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Staking
	if c.Staking.Multiplier <= 0 || c.Staking.Multiplier > 1 {
		errs = append(errs, "staking: multiplier must be in (0, 1]")
	}
	if c.Staking.MaxFraction <= 0 || c.Staking.MaxFraction > 1 {
		errs = append(errs, "staking: max_fraction must be in (0, 1]")
	}
	if c.Staking.MinStakeCents < 0 {
		errs = append(errs, "staking: min_stake_cents must be >= 0")
	}

	// Parlay
	if len(c.Parlay.Strategies) == 0 {
		errs = append(errs, "parlay: strategies must not be empty")
	}
	for _, s := range c.Parlay.Strategies {
		if !validStrategies[s] {
			errs = append(errs, fmt.Sprintf("parlay: unknown strategy %q (valid: strict, relaxed)", s))
		}
	}
	legCounts := make(map[int]bool)
	for i, t := range c.Parlay.Tiers {
		if t.LegCount < 2 {
			errs = append(errs, fmt.Sprintf("parlay.tiers[%d]: leg_count must be >= 2", i))
		}
		if legCounts[t.LegCount] {
			errs = append(errs, fmt.Sprintf("parlay.tiers[%d]: duplicate leg_count %d", i, t.LegCount))
		}
		legCounts[t.LegCount] = true
		if t.MaxLegs > 0 && t.MinLegs > t.MaxLegs {
			errs = append(errs, fmt.Sprintf("parlay.tiers[%d]: min_legs must not exceed max_legs", i))
		}
		if t.MinCombinedProbability < 0 || t.MinCombinedProbability > 1 {
			errs = append(errs, fmt.Sprintf("parlay.tiers[%d]: min_combined_probability must be in [0, 1]", i))
		}
		if t.StakeFraction < 0 || t.StakeFraction > 1 {
			errs = append(errs, fmt.Sprintf("parlay.tiers[%d]: stake_fraction must be in [0, 1]", i))
		}
	}

	// Scheduler
	if c.Scheduler.MaxSingles < 0 {
		errs = append(errs, "scheduler: max_singles must be >= 0")
	}
	if c.Scheduler.LateNightCutoffHour < 0 || c.Scheduler.LateNightCutoffHour > 23 {
		errs = append(errs, "scheduler: late_night_cutoff_hour must be 0-23 (0 disables)")
	}
	if c.Scheduler.RetryDelay.Duration <= 0 {
		errs = append(errs, "scheduler: retry_delay must be > 0")
	}
	if c.Scheduler.MaxSleep.Duration <= 0 {
		errs = append(errs, "scheduler: max_sleep must be > 0")
	}

	// Feed
	switch {
	case !validFeeds[c.Feed.Kind]:
		errs = append(errs, fmt.Sprintf("feed: unknown kind %q (valid: redis, s3, ws, file)", c.Feed.Kind))
	case c.Feed.Kind == "redis" && c.Feed.Stream == "":
		errs = append(errs, "feed: stream is required for kind redis")
	case c.Feed.Kind == "ws" && c.Feed.URL == "":
		errs = append(errs, "feed: url is required for kind ws")
	case c.Feed.Kind == "file" && c.Feed.Path == "":
		errs = append(errs, "feed: path is required for kind file")
	}

	// Execution
	switch c.Execution.Kind {
	case "paper":
		if c.Execution.RatePerSecond < 0 {
			errs = append(errs, "execution: rate_per_second must be >= 0")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "execution: kafka.brokers is required for kind kafka")
		}
		if c.Execution.Topic == "" {
			errs = append(errs, "execution: topic is required for kind kafka")
		}
	default:
		errs = append(errs, fmt.Sprintf("execution: unknown kind %q (valid: paper, kafka)", c.Execution.Kind))
	}

	// Supabase
	if c.UsesPostgres() {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.NeedsRedis() {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.NeedsS3() && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Archive
	if c.Archive.Enabled {
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron %q must have 5 fields", c.Archive.Cron))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Reconcile
	if c.Reconcile.Enabled {
		if c.Reconcile.Interval.Duration <= 0 {
			errs = append(errs, "reconcile: interval must be > 0")
		}
		if c.Reconcile.ResultsStream == "" {
			errs = append(errs, "reconcile: results_stream must not be empty")
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.UsesPostgres() || c.Feed.Kind == "redis" || c.Reconcile.Enabled
}

// NeedsS3 reports whether any configured component talks to object storage.
func (c *Config) NeedsS3() bool {
	return c.Feed.Kind == "s3" || (c.Archive.Enabled && c.UsesPostgres())
}

// StrategyNames returns the parlay strategy chain in configured order with
// duplicates removed.
func (c *Config) StrategyNames() []string {
	var out []string
	for _, s := range c.Parlay.Strategies {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
