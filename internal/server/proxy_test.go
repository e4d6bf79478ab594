package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/keyrelay/keyrelay/internal/server/handlers"
)

func TestStandaloneServesEndpointRoute(t *testing.T) {
	handler := hostedProxy(t)
	core, logs := observer.New(zapcore.InfoLevel)
	handler.Observe = ObserveProxy(zap.New(core))

	srv := NewStandalone(testConfig(), handler, handlers.NewHealthManager("test"))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adsoyad?api_key=k-123&ad=AHMET", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"path":"/ahmet/adsoyad"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/credentials/mine", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	entries := logs.FilterMessage("proxy request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ahmet", fields["api_name"])
	assert.Equal(t, "adsoyad", fields["endpoint"])
	assert.Equal(t, "forwarded", fields["outcome"])
	for _, value := range fields {
		if s, ok := value.(string); ok {
			assert.NotContains(t, s, "k-123")
		}
	}
}

func TestObserveProxyLogsFailuresAtWarn(t *testing.T) {
	handler := hostedProxy(t)
	core, logs := observer.New(zapcore.InfoLevel)
	handler.Observe = ObserveProxy(zap.New(core))

	srv := New(testConfig(), Deps{Proxy: handler})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ahmet/adsoyad?api_key=nope", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "unauthorized", entries[0].ContextMap()["outcome"])
}
