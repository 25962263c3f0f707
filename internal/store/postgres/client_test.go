package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/bets?sslmode=disable", DSN(ClientConfig{
		Host: "db", Database: "bets", User: "u", Password: "p",
	}))
	assert.Equal(t, "postgres://u:p@db:6543/bets?sslmode=require", DSN(ClientConfig{
		Host: "db", Port: 6543, Database: "bets", User: "u", Password: "p", SSLMode: "require",
	}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: " postgres://explicit ", Host: "ignored"}))
}

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(ClientConfig{Host: "db", Database: "bets", User: "bet user", Password: "p@ss/word"})
	assert.Equal(t, "postgres://bet%20user:p%40ss%2Fword@db:5432/bets?sslmode=disable", dsn)
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, "001_bets.sql", migrations[0].name)
	assert.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS bets")
	assert.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS balances")
	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].name, migrations[i].name)
	}
}
