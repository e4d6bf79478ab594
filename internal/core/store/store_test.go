package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/config"
)

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.StoreConfig
		dsn    string
		local  bool
		memory bool
	}{
		{
			name: "remote url gets auth token",
			cfg:  config.StoreConfig{URL: "libsql://relay.turso.io", AuthToken: "token123", Path: "ignored.db"},
			dsn:  "libsql://relay.turso.io?authToken=token123",
		},
		{
			name: "existing query is kept",
			cfg:  config.StoreConfig{URL: "libsql://relay.turso.io?foo=bar", AuthToken: "token123"},
			dsn:  "libsql://relay.turso.io?authToken=token123&foo=bar",
		},
		{
			name: "explicit token in url wins",
			cfg:  config.StoreConfig{URL: "libsql://relay.turso.io?authToken=mine", AuthToken: "other"},
			dsn:  "libsql://relay.turso.io?authToken=mine",
		},
		{
			name:  "file prefix is local",
			cfg:   config.StoreConfig{Path: "file:./keyrelay.db"},
			dsn:   "file:./keyrelay.db",
			local: true,
		},
		{
			name:   "memory",
			cfg:    config.StoreConfig{Path: ":memory:"},
			dsn:    ":memory:",
			local:  true,
			memory: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTarget(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.dsn, got.dsn)
			assert.Equal(t, tt.local, got.local)
			assert.Equal(t, tt.memory, got.memory)
		})
	}
}

func TestResolveTargetBarePathCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay", "keyrelay.db")

	got, err := resolveTarget(config.StoreConfig{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, got.dsn)
	assert.True(t, got.local)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveTargetRequiresLocation(t *testing.T) {
	_, err := resolveTarget(config.StoreConfig{})
	require.Error(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestRateLimitQueryWhereClause(t *testing.T) {
	where, args, err := RateLimitQuery{Prefix: "10_0%"}.whereClause()
	require.NoError(t, err)
	require.Contains(t, where, "LIKE")
	require.Equal(t, []any{`10\_0\%%`}, args)

	where, args, err = RateLimitQuery{All: true}.whereClause()
	require.NoError(t, err)
	require.Empty(t, where)
	require.Nil(t, args)

	_, _, err = RateLimitQuery{}.whereClause()
	require.ErrorIs(t, err, ErrNoSelector)
}

func TestRateLimitQueryCombinesFilters(t *testing.T) {
	idle := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	where, args, err := RateLimitQuery{Blocked: true}.whereClause()
	require.NoError(t, err)
	assert.Equal(t, "WHERE denied = 1", where)
	assert.Empty(t, args)

	where, args, err = RateLimitQuery{Prefix: "10.", Blocked: true, IdleBefore: idle}.whereClause()
	require.NoError(t, err)
	assert.Equal(t, `WHERE client_id LIKE ? ESCAPE '\' AND denied = 1 AND last_seen < ?`, where)
	assert.Equal(t, []any{"10.%", idle.UnixMilli()}, args)

	// IdleBefore alone selects nothing.
	_, _, err = RateLimitQuery{IdleBefore: idle}.whereClause()
	require.ErrorIs(t, err, ErrNoSelector)
}
