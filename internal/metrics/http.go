package metrics

import (
	"strconv"
	"time"

	"github.com/keyrelay/keyrelay/internal/observability"
)

// HTTP metric names
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDuration   = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
)

// HTTPSample describes one served request. Endpoint must be a route pattern.
type HTTPSample struct {
	Method       string
	Endpoint     string
	Status       int
	Duration     time.Duration
	RequestSize  int64
	ResponseSize int64
}

// RecordHTTPRequest emits the request counter, duration, sizes and, for 4xx
// and 5xx statuses, the error counter.
func RecordHTTPRequest(s HTTPSample) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	status := strconv.Itoa(s.Status)
	labels := map[string]string{"method": s.Method, "endpoint": s.Endpoint, "status": status}
	sizeLabels := map[string]string{"method": s.Method, "endpoint": s.Endpoint}

	_ = sys.Counter(HTTPRequestsTotal, 1, labels)
	_ = sys.Histogram(HTTPRequestDuration, s.Duration, labels)
	_ = sys.Gauge(HTTPRequestSizeBytes, float64(s.RequestSize), sizeLabels)
	_ = sys.Gauge(HTTPResponseSizeBytes, float64(s.ResponseSize), sizeLabels)

	if s.Status < 400 {
		return
	}
	errorType := "client_error"
	if s.Status >= 500 {
		errorType = "server_error"
	}
	_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
		"method":     s.Method,
		"endpoint":   s.Endpoint,
		"status":     status,
		"error_type": errorType,
	})
}
