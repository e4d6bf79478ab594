package metrics

import (
	"strconv"

	"github.com/keyrelay/keyrelay/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// UnmatchedRoute labels errors for requests no route matched.
const UnmatchedRoute = "unmatched"

func count(name string, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, labels)
	}
}

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	count(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	count(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error by route pattern. Pass the chi route
// pattern, never the raw path: hosted proxy paths carry credential names.
func RecordErrorByEndpoint(route string, errorCode string) {
	if route == "" {
		route = UnmatchedRoute
	}
	count(ErrorsByEndpointName, map[string]string{
		"endpoint":   route,
		"error_code": errorCode,
	})
}
