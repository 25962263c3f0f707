package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.8, cfg.Engine.PayoutRatio)
	assert.Equal(t, time.Second, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, "engine", cfg.Mode)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "full"

[engine]
payout_ratio = 0.75
tick_interval = "250ms"

[store]
backend = "sqlite"

[sqlite]
path = "/tmp/bets.db"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 0.75, cfg.Engine.PayoutRatio)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/bets.db", cfg.SQLite.Path)
	// untouched sections keep their defaults
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Feed.MaxDelay.Duration)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[engine]
tick_interval = "soon"
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BETENGINE_MODE", "archive")
	t.Setenv("BETENGINE_ENGINE_PAYOUT_RATIO", "0.9")
	t.Setenv("BETENGINE_ENGINE_PERSIST_TIMEOUT", "3s")
	t.Setenv("BETENGINE_SERVER_PORT", "9090")
	t.Setenv("BETENGINE_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("BETENGINE_REDIS_TLS_ENABLED", "true")
	t.Setenv("BETENGINE_POSTGRES_POOL_MAX_CONNS", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "archive", cfg.Mode)
	assert.Equal(t, 0.9, cfg.Engine.PayoutRatio)
	assert.Equal(t, 3*time.Second, cfg.Engine.PersistTimeout.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Redis.TLSEnabled)
	assert.Equal(t, 10, cfg.Postgres.PoolMaxConns, "unparsable values are ignored")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Store.Backend = "mongo"
	cfg.Engine.PayoutRatio = 0
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, `unknown backend "mongo"`)
	assert.Contains(t, msg, "payout_ratio")
	assert.Contains(t, msg, "telegram_chat_id")
}

func TestValidateBackendRules(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Store.Backend = "memory"
	require.ErrorContains(t, cfg.Validate(), "memory backend")

	cfg = Defaults()
	cfg.Postgres.Host = ""
	require.ErrorContains(t, cfg.Validate(), "postgres: host")

	cfg.Postgres.DSN = "postgres://u:p@db:5432/bets"
	require.NoError(t, cfg.Validate())

	cfg = Defaults()
	cfg.Store.Backend = "sqlite"
	cfg.SQLite.Path = ""
	require.ErrorContains(t, cfg.Validate(), "sqlite: path")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:secret@db/bets"
	cfg.Postgres.Password = "secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "unset secrets stay empty")

	// the original is untouched
	assert.Equal(t, "secret", cfg.Postgres.Password)
	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
