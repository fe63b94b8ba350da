package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

func TestWindowed(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name      string
		args      []any
		desc      bool
		opts      domain.ListOpts
		wantQuery string
		wantArgs  int
	}{
		{
			name:      "no options",
			desc:      true,
			wantQuery: "SELECT x WHERE 1=1 ORDER BY created_at DESC",
		},
		{
			name:      "window after bound arg",
			args:      []any{"acct"},
			opts:      domain.ListOpts{Since: &since, Until: &until},
			wantQuery: "SELECT x WHERE 1=1 AND created_at >= $2 AND created_at <= $3 ORDER BY created_at",
			wantArgs:  3,
		},
		{
			name:      "pagination",
			desc:      true,
			opts:      domain.ListOpts{Since: &since, Limit: 10, Offset: 20},
			wantQuery: "SELECT x WHERE 1=1 AND created_at >= $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
			wantArgs:  3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := windowed("SELECT x WHERE 1=1", tt.args, "created_at", tt.desc, tt.opts)
			assert.Equal(t, tt.wantQuery, q)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/wagers?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "wagers", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://custom", DSN(ClientConfig{DSN: "postgres://custom", Host: "ignored"}))
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"ledgers", "wagers", "parlay_legs", "daily_cycle_states", "audit_log", "data_incidents"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
}
