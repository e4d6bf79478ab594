package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/metrics"
	"github.com/keyrelay/keyrelay/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestMetricsEmitsRequestSeries(t *testing.T) {
	collector := setupTelemetry(t)

	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"api_key":"k"}`))
	}))

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/credentials", strings.NewReader(`{"owner":"ahmet"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"api_key":"k"}`, rec.Body.String())
	for _, name := range []string{
		metrics.HTTPRequestsTotal,
		metrics.HTTPRequestDuration,
		metrics.HTTPRequestSizeBytes,
		metrics.HTTPResponseSizeBytes,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
	assert.Zero(t, collector.CountMetricsByName(metrics.HTTPErrorsTotal))
}

func TestRequestMetricsCountsErrors(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		collector := setupTelemetry(t)

		h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		rec := serve(h, httptest.NewRequest(http.MethodPost, "/credentials", nil))

		assert.Equal(t, status, rec.Code)
		assert.Greater(t, collector.CountMetricsByName(metrics.HTTPErrorsTotal), 0, "status %d", status)
	}
}

func TestRequestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.Equal(t, http.StatusNoContent, serve(h, httptest.NewRequest(http.MethodGet, "/version", nil)).Code)
}

func TestRequestMetricsKeepsRequestID(t *testing.T) {
	collector := setupTelemetry(t)

	h := RequestID(RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("X-Request-ID", "relay-req-1")

	rec := serve(h, req)

	assert.Equal(t, "relay-req-1", rec.Header().Get("X-Request-ID"))
	assert.Greater(t, collector.CountMetricsByName(metrics.HTTPRequestsTotal), 0)
}

func TestStatusRecorderFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	_, _ = sr.Write([]byte("chunk"))
	sr.Flush()

	assert.True(t, rec.Flushed)
	assert.Equal(t, int64(5), sr.bytes)
}

func TestRouteLabelWithoutRouter(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/credentials/export-all", "/credentials/export-all"},
		{"/credentials/unknown", UnknownRoute},
		{"/ahmet/adsoyad", UnknownRoute},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, routeLabel(httptest.NewRequest(http.MethodGet, tt.path, nil)))
		})
	}
}

func TestRouteLabelHidesCredentialName(t *testing.T) {
	r := chi.NewRouter()
	var seen string
	r.Get("/{name}/{endpoint}", func(w http.ResponseWriter, req *http.Request) {
		seen = routeLabel(req)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/ahmet/adsoyad?api_key=secret", nil))

	assert.Equal(t, "/{name}/{endpoint}", seen)
}
