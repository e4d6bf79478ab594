//go:build cgo

package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/server"
)

func TestBuildRelayServesIssuanceAndHostedProxy(t *testing.T) {
	ctx := context.Background()

	var cfg config.Config
	cfg.Store = config.StoreConfig{Driver: "libsql", Path: filepath.Join(t.TempDir(), "keyrelay.db")}
	cfg.RateLimit.Backend = BackendMemory
	cfg.RateLimit.Limit = 5
	cfg.RateLimit.Window = time.Minute
	cfg.Upstream.BaseURL = "http://127.0.0.1:1"
	cfg.Upstream.IssueTimeout = 200 * time.Millisecond
	cfg.Credentials.Endpoints = []string{"adsoyad"}
	cfg.Proxy.Hosted = true
	cfg.Health.Enabled = true

	rl, err := buildRelay(ctx, &cfg, nil, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rl.close(context.Background()) })

	require.NotNil(t, rl.deps.Credentials)
	require.NotNil(t, rl.deps.Proxy)
	require.NotNil(t, rl.deps.Health)

	srv := server.New(cfg, rl.deps)
	req := httptest.NewRequest(http.MethodPost, "/credentials", strings.NewReader("owner_identity=Ahmet"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ready := httptest.NewRecorder()
	srv.Handler().ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, ready.Code, ready.Body.String())
}

func TestBuildRelayWithoutHostedProxy(t *testing.T) {
	var cfg config.Config
	cfg.Store = config.StoreConfig{Driver: "libsql", Path: ":memory:"}
	cfg.RateLimit.Backend = BackendStore

	rl, err := buildRelay(context.Background(), &cfg, nil, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rl.close(context.Background()) })

	assert.Nil(t, rl.deps.Proxy)
	assert.Same(t, rl.store, rl.limiter.Store)
}
