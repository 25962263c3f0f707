package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies BETENGINE_*
// overrides. A missing file is not an error when path is empty. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.URL, "BETENGINE_FEED_URL")
	setDuration(&cfg.Feed.BaseDelay, "BETENGINE_FEED_BASE_DELAY")
	setDuration(&cfg.Feed.MaxDelay, "BETENGINE_FEED_MAX_DELAY")
	setInt(&cfg.Router.MaxCachedKeys, "BETENGINE_ROUTER_MAX_CACHED_KEYS")

	// ── Engine ──
	setFloat64(&cfg.Engine.PayoutRatio, "BETENGINE_ENGINE_PAYOUT_RATIO")
	setFloat64(&cfg.Engine.StartingBalance, "BETENGINE_ENGINE_STARTING_BALANCE")
	setStr(&cfg.Engine.DefaultSymbol, "BETENGINE_ENGINE_DEFAULT_SYMBOL")
	setDuration(&cfg.Engine.TickInterval, "BETENGINE_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.PersistTimeout, "BETENGINE_ENGINE_PERSIST_TIMEOUT")
	setDuration(&cfg.Engine.SessionLockTTL, "BETENGINE_ENGINE_SESSION_LOCK_TTL")

	// ── History ──
	setStr(&cfg.History.RESTURL, "BETENGINE_HISTORY_REST_URL")
	setStr(&cfg.History.Interval, "BETENGINE_HISTORY_INTERVAL")
	setInt(&cfg.History.Limit, "BETENGINE_HISTORY_LIMIT")

	// ── Store ──
	setStr(&cfg.Store.Backend, "BETENGINE_STORE_BACKEND")
	setInt(&cfg.Store.RetentionDays, "BETENGINE_STORE_RETENTION_DAYS")
	setDuration(&cfg.Store.ArchiveInterval, "BETENGINE_STORE_ARCHIVE_INTERVAL")
	setStr(&cfg.SQLite.Path, "BETENGINE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "BETENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETENGINE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "BETENGINE_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETENGINE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BETENGINE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BETENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETENGINE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BETENGINE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BETENGINE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETENGINE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BETENGINE_MODE")
	setStr(&cfg.LogLevel, "BETENGINE_LOG_LEVEL")
}

// Each helper only mutates the target when the variable is set and parses.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
