package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BANDBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BANDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Market data ──
	setStr(&cfg.Scheduler.DataAPIKey, "BANDBOT_DATA_API_KEY")
	setStr(&cfg.Scheduler.DataAPISecret, "BANDBOT_DATA_API_SECRET")

	// ── Telegram ──
	setStr(&cfg.Telegram.BotToken, "BANDBOT_TELEGRAM_BOT_TOKEN")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BANDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BANDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BANDBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "BANDBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BANDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BANDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BANDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BANDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BANDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BANDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BANDBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "BANDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BANDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BANDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BANDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BANDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BANDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "BANDBOT_S3_FORCE_PATH_STYLE")

	// ── Misc ──
	setStr(&cfg.LogLevel, "BANDBOT_LOG_LEVEL")
}

// setStr overwrites dst with the environment variable's value when set.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overwrites dst when the environment variable parses as an int.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setBool overwrites dst when the environment variable parses as a bool.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
