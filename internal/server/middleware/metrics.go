package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/metrics"
	"github.com/keyrelay/keyrelay/internal/observability"
)

// UnknownRoute labels requests that matched no route.
const UnknownRoute = "/unknown"

var knownRoutes = map[string]bool{
	"/":                       true,
	"/version":                true,
	"/metrics":                true,
	"/credentials":            true,
	"/credentials/mine":       true,
	"/credentials/export":     true,
	"/credentials/export-all": true,
	"/credentials/logout":     true,
}

// statusRecorder captures the status code and body size a handler writes.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Flush lets streamed proxy responses through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel is the chi route pattern for r. Hosted proxy paths carry the
// credential name and must never become a label.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	switch path := r.URL.Path; {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case knownRoutes[path]:
		return path
	}
	return UnknownRoute
}

// RequestMetrics records request metrics and writes one log line per request.
// Health probes log at debug level.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := routeLabel(r)
		duration := time.Since(start)
		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		metrics.RecordHTTPRequest(metrics.HTTPSample{
			Method:       r.Method,
			Endpoint:     endpoint,
			Status:       rec.status,
			Duration:     duration,
			RequestSize:  requestSize,
			ResponseSize: rec.bytes,
		})

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.Int64("request_size", requestSize),
			zap.Int64("response_size", rec.bytes),
			zap.String("request_id", GetRequestID(r.Context())),
		}
		if endpoint == "/health/*" {
			logger.Debug("HTTP request completed", fields...)
			return
		}
		logger.Info("HTTP request completed", fields...)
	})
}
