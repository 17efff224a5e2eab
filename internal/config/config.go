// Package config defines the top-level configuration for the signal engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BANDBOT_* environment variables.
type Config struct {
	Instruments []InstrumentConfig  `toml:"instrument"`
	Risk        RiskConfig          `toml:"risk"`
	Cache       CacheConfig         `toml:"cache"`
	Scheduler   SchedulerConfig     `toml:"scheduler"`
	Notify      NotifyConfig        `toml:"notify"`
	Telegram    TelegramConfig      `toml:"telegram"`
	Discord     DiscordConfig       `toml:"discord"`
	Redis       RedisConfig         `toml:"redis"`
	Postgres    PostgresConfig      `toml:"postgres"`
	S3          S3Config            `toml:"s3"`
	Lifetimes   map[string]duration `toml:"order_lifetime"`
	LogLevel    string              `toml:"log_level"`
}

// InstrumentConfig describes one tradable instrument and its session windows.
type InstrumentConfig struct {
	Symbol    string          `toml:"symbol"`
	Timeframe string          `toml:"timeframe"`
	Sessions  []SessionConfig `toml:"sessions"`
	// TradeWeekends keeps the instrument active on Saturday/Sunday. Off by
	// default: most markets covered here observe the weekend close.
	TradeWeekends bool `toml:"trade_weekends"`
}

// SessionConfig is a daily trading window in HH:MM wall-clock form. An
// instrument with no sessions is tradable around the clock (subject to the
// weekend rule).
type SessionConfig struct {
	Open  string   `toml:"open"`
	Close string   `toml:"close"`
	Days  []string `toml:"days"` // empty = every trading day
}

// RiskConfig holds position sizing and exposure parameters.
type RiskConfig struct {
	AccountValue  float64 `toml:"account_value"`
	RiskPct       float64 `toml:"risk_pct"`        // % of account risked per trade
	ATRMultiplier float64 `toml:"atr_multiplier"`  // stop distance = ATR × multiplier
	RiskReward    float64 `toml:"risk_reward"`     // TP distance = stop distance × ratio
	MaxPositions  int     `toml:"max_positions"`   // concurrent-position ceiling per instrument
}

// CacheConfig holds signal dedup parameters.
type CacheConfig struct {
	Tolerance     float64  `toml:"tolerance"`      // price bucket width
	TolerancePct  bool     `toml:"tolerance_pct"`  // interpret tolerance as a fraction of price
	LiveTTL       duration `toml:"live_ttl"`       // dedup window for live runs
	ReplayTTL     duration `toml:"replay_ttl"`     // dedup window for historical replay
	SweepInterval duration `toml:"sweep_interval"` // periodic purge of expired entries
}

// SchedulerConfig holds tick cadence and worker pool parameters.
type SchedulerConfig struct {
	Interval      duration `toml:"interval"`       // wall-clock tick alignment
	OverlapPolicy string   `toml:"overlap_policy"` // "skip" or "queue"
	Workers       int      `toml:"workers"`        // bounded pool, one task per instrument
	Bars          int      `toml:"bars"`           // data window size per evaluation
	FetchAttempts int      `toml:"fetch_attempts"` // per-instrument retry budget
	FetchBackoff  duration `toml:"fetch_backoff"`  // initial backoff between retries
	DataAPIKey    string   `toml:"data_api_key"`
	DataAPISecret string   `toml:"data_api_secret"`
}

// NotifyConfig holds dispatcher fan-out parameters.
type NotifyConfig struct {
	Enabled          bool     `toml:"enabled"`
	TargetTimeout    duration `toml:"target_timeout"`    // per-target delivery budget
	MaxAttempts      int      `toml:"max_attempts"`      // per-target send attempts
	RetryBackoff     duration `toml:"retry_backoff"`     // initial retry backoff
	FailureThreshold int      `toml:"failure_threshold"` // consecutive failures before removal
}

// TelegramConfig holds Telegram bot credentials and subscriber chats.
type TelegramConfig struct {
	BotToken string   `toml:"bot_token"`
	ChatIDs  []string `toml:"chat_ids"`
}

// DiscordConfig holds Discord webhook subscribers.
type DiscordConfig struct {
	Webhooks []string `toml:"webhooks"`
}

// RedisConfig holds the durable dedup tier connection parameters. An empty
// Addr disables the durable tier; the cache runs in-process only.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the trade-log connection parameters.
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
}

// S3Config holds the optional run-archive object storage parameters. An empty
// Bucket disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("5m", "2h30m", ...).
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults. Load merges the
// TOML file on top of this.
func Defaults() Config {
	return Config{
		Risk: RiskConfig{
			AccountValue:  100_000,
			RiskPct:       1.0,
			ATRMultiplier: 1.2,
			RiskReward:    2.5,
			MaxPositions:  1,
		},
		Cache: CacheConfig{
			Tolerance:     0.0005,
			LiveTTL:       duration{6 * time.Hour},
			ReplayTTL:     duration{48 * time.Hour},
			SweepInterval: duration{30 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			Interval:      duration{5 * time.Minute},
			OverlapPolicy: "skip",
			Workers:       4,
			Bars:          100,
			FetchAttempts: 3,
			FetchBackoff:  duration{2 * time.Second},
		},
		Notify: NotifyConfig{
			Enabled:          true,
			TargetTimeout:    duration{15 * time.Second},
			MaxAttempts:      3,
			RetryBackoff:     duration{time.Second},
			FailureThreshold: 5,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Lifetimes: map[string]duration{
			"5m":  {4 * time.Hour},
			"15m": {12 * time.Hour},
			"30m": {24 * time.Hour},
			"1h":  {48 * time.Hour},
			"4h":  {5 * 24 * time.Hour},
			"1d":  {14 * 24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validTimeframes enumerates the bar intervals instruments may trade on.
var validTimeframes = map[string]bool{
	"5m": true, "15m": true, "30m": true, "1h": true, "4h": true, "1d": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. A non-nil error is fatal
// at startup.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Instruments) == 0 {
		errs = append(errs, "at least one [[instrument]] block is required")
	}
	for i, inst := range c.Instruments {
		if inst.Symbol == "" {
			errs = append(errs, fmt.Sprintf("instrument[%d]: symbol must not be empty", i))
		}
		if !validTimeframes[inst.Timeframe] {
			errs = append(errs, fmt.Sprintf("instrument[%d]: unknown timeframe %q", i, inst.Timeframe))
		}
		for j, s := range inst.Sessions {
			if _, err := time.Parse("15:04", s.Open); err != nil {
				errs = append(errs, fmt.Sprintf("instrument[%d].sessions[%d]: bad open %q", i, j, s.Open))
			}
			if _, err := time.Parse("15:04", s.Close); err != nil {
				errs = append(errs, fmt.Sprintf("instrument[%d].sessions[%d]: bad close %q", i, j, s.Close))
			}
		}
	}

	if c.Risk.AccountValue <= 0 {
		errs = append(errs, "risk: account_value must be > 0")
	}
	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct > 100 {
		errs = append(errs, fmt.Sprintf("risk: risk_pct must be in (0, 100], got %v", c.Risk.RiskPct))
	}
	if c.Risk.ATRMultiplier <= 0 {
		errs = append(errs, "risk: atr_multiplier must be > 0")
	}
	if c.Risk.RiskReward <= 0 {
		errs = append(errs, "risk: risk_reward must be > 0")
	}
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}

	if c.Cache.Tolerance < 0 {
		errs = append(errs, "cache: tolerance must be >= 0")
	}
	if c.Cache.LiveTTL.Duration <= 0 {
		errs = append(errs, "cache: live_ttl must be > 0")
	}
	if c.Cache.ReplayTTL.Duration <= 0 {
		errs = append(errs, "cache: replay_ttl must be > 0")
	}

	if c.Scheduler.Interval.Duration <= 0 {
		errs = append(errs, "scheduler: interval must be > 0")
	}
	switch c.Scheduler.OverlapPolicy {
	case "skip", "queue":
	default:
		errs = append(errs, fmt.Sprintf("scheduler: overlap_policy must be \"skip\" or \"queue\", got %q", c.Scheduler.OverlapPolicy))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, "scheduler: workers must be >= 1")
	}
	if c.Scheduler.Bars < 2 {
		errs = append(errs, "scheduler: bars must be >= 2")
	}
	if c.Scheduler.FetchAttempts < 1 {
		errs = append(errs, "scheduler: fetch_attempts must be >= 1")
	}

	if c.Notify.Enabled {
		if c.Notify.MaxAttempts < 1 {
			errs = append(errs, "notify: max_attempts must be >= 1")
		}
		if c.Notify.FailureThreshold < 1 {
			errs = append(errs, "notify: failure_threshold must be >= 1")
		}
		if len(c.Telegram.ChatIDs) > 0 && c.Telegram.BotToken == "" {
			errs = append(errs, "telegram: bot_token is required when chat_ids are set")
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region is required when bucket is set")
	}

	for tfName := range c.Lifetimes {
		if !validTimeframes[tfName] {
			errs = append(errs, fmt.Sprintf("order_lifetime: unknown timeframe %q", tfName))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LifetimeFor returns the maximum order lifetime for the given timeframe.
// Longer timeframes get longer allowances; a missing entry falls back to ten
// bar intervals.
func (c *Config) LifetimeFor(tf domain.Timeframe) time.Duration {
	if d, ok := c.Lifetimes[string(tf)]; ok {
		return d.Duration
	}
	return 10 * tf.Duration()
}
