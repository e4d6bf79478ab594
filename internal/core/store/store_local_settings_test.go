//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/config"
)

func TestOpenTunesLocalFile(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{Path: filepath.Join(t.TempDir(), "keyrelay.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	assert.Equal(t, driverLibsql, st.Driver())
	assert.Equal(t, 1, st.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, st.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, st.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, localBusyTimeoutMillis, busyTimeout)
}

func TestOpenMemorySharesOneConnection(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	// A second query must see the schema the first connection created.
	var tables int
	require.NoError(t, st.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'credentials'").Scan(&tables))
	assert.Equal(t, 1, tables)
}
