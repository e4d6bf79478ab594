//go:build cgo

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/core"
)

func openMemoryStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations must be idempotent")

	version, err := store.schemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
	require.NoError(t, store.Close())
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	_, err := store.DB.ExecContext(ctx, "PRAGMA user_version = 99")
	require.NoError(t, err)

	err = store.Migrate(ctx)
	require.ErrorContains(t, err, "newer than this binary")
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	first := &core.Credential{
		OwnerIdentity: "Ahmet",
		Name:          "ahmet",
		Key:           "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Source:        core.SourceUpstream,
		IssuedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	second := &core.Credential{
		OwnerIdentity: "Ahmet",
		Name:          "ahmet",
		Key:           "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		IssuedAt:      first.IssuedAt.Add(time.Minute),
	}
	other := &core.Credential{OwnerIdentity: "Mehmet", Name: "mehmet", Key: "cccccccccccccccccccccccccccccccc"}

	require.NoError(t, store.SaveCredential(ctx, first))
	require.NoError(t, store.SaveCredential(ctx, second))
	require.NoError(t, store.SaveCredential(ctx, other))
	assert.NotZero(t, first.ID)
	assert.Equal(t, core.SourceFallback, second.Source)

	t.Run("DuplicateKey", func(t *testing.T) {
		dup := &core.Credential{OwnerIdentity: "Zeynep", Name: "zeynep", Key: first.Key}
		require.ErrorIs(t, store.SaveCredential(ctx, dup), core.ErrDuplicateCredentialKey)
	})

	t.Run("ListByOwnerInIssuanceOrder", func(t *testing.T) {
		creds, err := store.ListCredentialsByOwner(ctx, "Ahmet")
		require.NoError(t, err)
		require.Len(t, creds, 2)
		assert.Equal(t, first.Key, creds[0].Key)
		assert.Equal(t, second.Key, creds[1].Key)
		assert.Equal(t, core.SourceUpstream, creds[0].Source)
		assert.True(t, first.IssuedAt.Equal(creds[0].IssuedAt))
	})

	t.Run("ListByOwnerIsExact", func(t *testing.T) {
		creds, err := store.ListCredentialsByOwner(ctx, "ahmet")
		require.NoError(t, err)
		assert.Empty(t, creds)
	})

	t.Run("GetByKey", func(t *testing.T) {
		cred, err := store.GetCredentialByKey(ctx, other.Key)
		require.NoError(t, err)
		assert.Equal(t, "Mehmet", cred.OwnerIdentity)

		_, err = store.GetCredentialByKey(ctx, "missing")
		require.ErrorIs(t, err, core.ErrCredentialNotFound)
	})

	t.Run("IncrementRequestCount", func(t *testing.T) {
		require.NoError(t, store.IncrementRequestCount(ctx, first.Key))
		require.NoError(t, store.IncrementRequestCount(ctx, first.Key))

		cred, err := store.GetCredentialByKey(ctx, first.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), cred.RequestCount)

		require.ErrorIs(t, store.IncrementRequestCount(ctx, "missing"), core.ErrCredentialNotFound)
	})

	t.Run("ListAllWithLimit", func(t *testing.T) {
		creds, err := store.ListCredentials(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, creds, 2)

		all, err := store.ListCredentials(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestUsageLog(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	params := []core.QueryParam{{Key: "soyad", Value: "YILMAZ"}, {Key: "ad", Value: "AHMET"}}
	require.NoError(t, store.AppendUsage(ctx, core.UsageEntry{
		APIKey:     "k1",
		Endpoint:   "adsoyad",
		Parameters: params,
		RecordedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.AppendUsage(ctx, core.UsageEntry{APIKey: "k1", Endpoint: "tc"}))
	require.NoError(t, store.AppendUsage(ctx, core.UsageEntry{APIKey: "k2", Endpoint: "ip"}))

	entries, err := store.ListUsage(ctx, "k1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "tc", entries[0].Endpoint)
	assert.Empty(t, entries[0].Parameters)
	assert.Equal(t, params, entries[1].Parameters)
}

func TestApplyWindow(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)
	policy := core.WindowPolicy{Limit: 3, Window: time.Minute}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		window, allowed, err := store.ApplyWindow(ctx, "10.0.0.1", start.Add(time.Duration(i)*time.Second), policy)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, i, window.RequestCount)
		assert.True(t, start.Add(time.Second).Equal(window.WindowStart))
	}

	window, allowed, err := store.ApplyWindow(ctx, "10.0.0.1", start.Add(30*time.Second), policy)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, window.RequestCount)
	assert.True(t, start.Add(time.Second).Equal(window.WindowStart), "denial must not move the window")
	assert.True(t, start.Add(30*time.Second).Equal(window.LastSeen))

	// other clients are independent
	_, allowed, err = store.ApplyWindow(ctx, "10.0.0.2", start.Add(30*time.Second), policy)
	require.NoError(t, err)
	assert.True(t, allowed)

	window, allowed, err = store.ApplyWindow(ctx, "10.0.0.1", start.Add(61*time.Second), policy)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, window.RequestCount)
	assert.True(t, start.Add(61*time.Second).Equal(window.WindowStart))

	stored, err := store.GetRateWindow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.RequestCount)

	missing, err := store.GetRateWindow(ctx, "10.9.9.9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveCredentialConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)

	const writers = 20
	var (
		wg         sync.WaitGroup
		failed     atomic.Int32
		sharedWins atomic.Int32
		sharedDups atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			owner := "Ahmet"
			if i%2 == 1 {
				owner = fmt.Sprintf("owner-%d", i)
			}
			cred := &core.Credential{OwnerIdentity: owner, Name: strings.ToLower(owner), Key: fmt.Sprintf("key-%02d", i)}
			if err := store.SaveCredential(ctx, cred); err != nil {
				failed.Add(1)
			}
		}(i)
		go func() {
			defer wg.Done()
			cred := &core.Credential{OwnerIdentity: "Zeynep", Name: "zeynep", Key: "shared-key"}
			switch err := store.SaveCredential(ctx, cred); {
			case err == nil:
				sharedWins.Add(1)
			case errors.Is(err, core.ErrDuplicateCredentialKey):
				sharedDups.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.Equal(t, int32(1), sharedWins.Load())
	assert.Equal(t, int32(writers-1), sharedDups.Load())

	creds, err := store.ListCredentials(ctx, 0)
	require.NoError(t, err)
	require.Len(t, creds, writers+1)

	keys := map[string]bool{}
	for _, cred := range creds {
		keys[cred.Key] = true
	}
	assert.Len(t, keys, writers+1)

	ahmet, err := store.ListCredentialsByOwner(ctx, "Ahmet")
	require.NoError(t, err)
	assert.Len(t, ahmet, writers/2)
}

func TestApplyWindowConcurrent(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)
	policy := core.WindowPolicy{Limit: 1, Window: time.Minute}
	now := time.Now().UTC()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.ApplyWindow(ctx, "shared", now, policy)
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load())
}

func TestRateWindowAdmin(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)
	policy := core.WindowPolicy{Limit: 5, Window: time.Minute}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, client := range []string{"10.0.0.1", "10.0.0.2", "192.168.1.1"} {
		_, _, err := store.ApplyWindow(ctx, client, base.Add(time.Duration(i)*time.Minute), policy)
		require.NoError(t, err)
	}

	_, err := store.ListRateWindows(ctx, RateLimitQuery{})
	require.Error(t, err)

	windows, err := store.ListRateWindows(ctx, RateLimitQuery{Prefix: "10.0."})
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, "10.0.0.1", windows[0].ClientID)

	count, err := store.CountRateWindows(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	removed, err := store.ResetRateWindows(ctx, RateLimitQuery{ClientID: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	swept, err := store.SweepWindows(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	remaining, err := store.ListRateWindows(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "192.168.1.1", remaining[0].ClientID)
}

func TestRateWindowAdminBlockedClients(t *testing.T) {
	ctx := context.Background()
	store := openMemoryStore(t)
	policy := core.WindowPolicy{Limit: 1, Window: time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := store.ApplyWindow(ctx, "10.0.0.1", now, policy)
	require.NoError(t, err)
	_, _, err = store.ApplyWindow(ctx, "10.0.0.2", now, policy)
	require.NoError(t, err)
	window, ok, err := store.ApplyWindow(ctx, "10.0.0.2", now.Add(time.Second), policy)
	require.NoError(t, err)
	require.False(t, ok)
	assert.True(t, window.Blocked)

	blocked, err := store.ListRateWindows(ctx, RateLimitQuery{Blocked: true})
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "10.0.0.2", blocked[0].ClientID)
	assert.True(t, blocked[0].Blocked)

	removed, err := store.ResetRateWindows(ctx, RateLimitQuery{Blocked: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The unblocked client starts a fresh window.
	_, ok, err = store.ApplyWindow(ctx, "10.0.0.2", now.Add(2*time.Second), policy)
	require.NoError(t, err)
	assert.True(t, ok)

	idle, err := store.CountRateWindows(ctx, RateLimitQuery{All: true, IdleBefore: now.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, idle)
}
