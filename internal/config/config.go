// Package config defines the betting engine configuration and its
// validation rules.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by BETENGINE_* environment variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Router   RouterConfig   `toml:"router"`
	Engine   EngineConfig   `toml:"engine"`
	History  HistoryConfig  `toml:"history"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig configures the upstream price stream.
type FeedConfig struct {
	URL       string   `toml:"url"`
	BaseDelay duration `toml:"base_delay"`
	MaxDelay  duration `toml:"max_delay"`
}

// RouterConfig bounds the last-price cache.
type RouterConfig struct {
	MaxCachedKeys int `toml:"max_cached_keys"`
}

// EngineConfig tunes bet sessions.
type EngineConfig struct {
	PayoutRatio     float64  `toml:"payout_ratio"`
	StartingBalance float64  `toml:"starting_balance"`
	DefaultSymbol   string   `toml:"default_symbol"`
	TickInterval    duration `toml:"tick_interval"`
	PersistTimeout  duration `toml:"persist_timeout"`
	SessionLockTTL  duration `toml:"session_lock_ttl"`
}

// HistoryConfig controls the opening bar series.
type HistoryConfig struct {
	RESTURL        string `toml:"rest_url"`
	Interval       string `toml:"interval"`
	Limit          int    `toml:"limit"`
	SyntheticCount int    `toml:"synthetic_count"`
}

// StoreConfig selects the bet store backend.
type StoreConfig struct {
	Backend       string `toml:"backend"`
	RetentionDays int    `toml:"retention_days"`

	// ArchiveInterval is how often full and archive modes move old bets to S3.
	ArchiveInterval duration `toml:"archive_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// SQLiteConfig locates the embedded database file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
	StreamLen  int64    `toml:"stream_max_len"`
}

// S3Config holds the archive bucket parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the API server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds chat notification credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration lets TOML carry Go duration strings such as "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			URL:       "wss://stream.binance.com:9443/ws/!ticker@arr",
			BaseDelay: duration{500 * time.Millisecond},
			MaxDelay:  duration{30 * time.Second},
		},
		Router: RouterConfig{MaxCachedKeys: 4096},
		Engine: EngineConfig{
			PayoutRatio:     0.8,
			StartingBalance: 1000,
			DefaultSymbol:   "BINANCE:BTCUSDT",
			TickInterval:    duration{time.Second},
			PersistTimeout:  duration{10 * time.Second},
			SessionLockTTL:  duration{30 * time.Second},
		},
		History: HistoryConfig{
			RESTURL:        "https://api.binance.com",
			Interval:       "1m",
			Limit:          500,
			SyntheticCount: 200,
		},
		Store: StoreConfig{
			Backend:         "postgres",
			RetentionDays:   90,
			ArchiveInterval: duration{6 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "betengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "betengine.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{5 * time.Minute},
			StreamLen:  10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "betengine-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"bet_settled", "persistence_error"},
		},
		Mode:     "engine",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"engine":  true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// Validate checks the configuration and returns every problem found,
// joined into one error.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty")
	}
	if c.Feed.BaseDelay.Duration <= 0 {
		errs = append(errs, "feed: base_delay must be positive")
	}
	if c.Feed.MaxDelay.Duration < c.Feed.BaseDelay.Duration {
		errs = append(errs, "feed: max_delay must not be below base_delay")
	}
	if c.Router.MaxCachedKeys < 1 {
		errs = append(errs, "router: max_cached_keys must be >= 1")
	}

	if c.Engine.PayoutRatio <= 0 {
		errs = append(errs, "engine: payout_ratio must be positive")
	}
	if c.Engine.StartingBalance < 0 {
		errs = append(errs, "engine: starting_balance must not be negative")
	}
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be positive")
	}
	if c.Engine.SessionLockTTL.Duration < time.Second {
		errs = append(errs, "engine: session_lock_ttl must be at least 1s")
	}

	if c.History.Limit < 1 || c.History.Limit > 1000 {
		errs = append(errs, fmt.Sprintf("history: limit must be 1-1000, got %d", c.History.Limit))
	}

	backend := strings.ToLower(c.Store.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, sqlite, memory)", c.Store.Backend))
	}
	if c.Store.RetentionDays < 1 {
		errs = append(errs, "store: retention_days must be >= 1")
	}
	if c.Store.ArchiveInterval.Duration < time.Minute {
		errs = append(errs, "store: archive_interval must be at least 1m")
	}
	if mode != "engine" && backend == "memory" {
		errs = append(errs, "store: the memory backend cannot be archived")
	}

	if backend == "postgres" {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if backend == "sqlite" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if mode == "archive" || mode == "full" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must not be negative")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
