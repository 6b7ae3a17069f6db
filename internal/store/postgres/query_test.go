package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		owner    string
		opts     domain.ListOpts
		wantSQL  string
		wantArgs int
	}{
		{
			name:    "no filters",
			wantSQL: "SELECT report FROM cycle_reports ORDER BY started_at DESC",
		},
		{
			name:     "owner and limit",
			owner:    "0xabc",
			opts:     domain.ListOpts{Limit: 10},
			wantSQL:  "SELECT report FROM cycle_reports WHERE owner = $1 ORDER BY started_at DESC LIMIT $2",
			wantArgs: 2,
		},
		{
			name:     "window and offset",
			opts:     domain.ListOpts{Since: &since, Until: &since, Offset: 5},
			wantSQL:  "SELECT report FROM cycle_reports WHERE started_at >= $1 AND started_at <= $2 ORDER BY started_at DESC OFFSET $3",
			wantArgs: 3,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := newListQuery("SELECT report FROM cycle_reports")
			if tc.owner != "" {
				q.and("owner = " + q.arg(tc.owner))
			}
			q.filter("started_at", tc.opts)
			assert.Equal(t, tc.wantSQL, q.String())
			assert.Len(t, q.args, tc.wantArgs)
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/hedgebot?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "hedgebot"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestDSN_EscapesCredentials(t *testing.T) {
	got := DSN(ClientConfig{User: "bot", Password: "p@ss/word", Host: "db", Port: 6432, Database: "hedgebot", SSLMode: "require"})
	assert.Equal(t, "postgres://bot:p%40ss%2Fword@db:6432/hedgebot?sslmode=require", got)
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}
