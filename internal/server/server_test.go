package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/core/proxy"
	"github.com/keyrelay/keyrelay/internal/core/upstream"
	apperrors "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/server/handlers"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Server.Host = "127.0.0.1"
	cfg.Health.Enabled = true
	cfg.Proxy.Hosted = true
	return cfg
}

func hostedProxy(t *testing.T) *proxy.Handler {
	t.Helper()

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(upstreamSrv.Close)

	return &proxy.Handler{
		Source: proxy.StaticSource{Definition: proxy.Definition{
			Name:            "ahmet",
			APIKey:          "k-123",
			UpstreamBaseURL: upstreamSrv.URL,
			Timeout:         2 * time.Second,
		}},
		Forwarder: &upstream.Client{},
	}
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(testConfig(), Deps{})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist/at/all", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerIndexDescribesService(t *testing.T) {
	srv := New(testConfig(), Deps{Proxy: hostedProxy(t)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body handlers.IndexResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body.Endpoints, "POST /credentials")
	assert.NotEmpty(t, body.ProxyRoute)
}

func TestServerRoutesHostedProxy(t *testing.T) {
	srv := New(testConfig(), Deps{Proxy: hostedProxy(t)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ahmet/adsoyad?api_key=k-123&ad=AHMET", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"path":"/ahmet/adsoyad"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ahmet/adsoyad?api_key=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerSkipsHostedProxyWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.Hosted = false
	srv := New(cfg, Deps{Proxy: hostedProxy(t)})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ahmet/adsoyad?api_key=k-123", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerMountsHealthProbes(t *testing.T) {
	health := handlers.NewHealthManager("test")
	srv := New(testConfig(), Deps{Health: health})

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServerAddrJoinsHostAndPort(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 8088
	assert.Equal(t, "127.0.0.1:8088", New(cfg, Deps{}).Addr())
}
