package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/observability"
)

// prometheusContentType is sent when the exporter omits a content type.
const prometheusContentType = "text/plain; version=0.0.4"

var metricsProxyClient = &http.Client{Timeout: 5 * time.Second}

// scrapeHeaders are the exporter response headers passed to the caller.
var scrapeHeaders = []string{"Content-Type", "Content-Encoding", "Content-Length"}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	MetricsHandler(s.cfg.Metrics.Port)(w, r)
}

// MetricsHandler serves /metrics on the main listener by scraping the local
// Prometheus exporter. configuredPort is used when the exporter has not
// reported its bound port.
func MetricsHandler(configuredPort int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if observability.PrometheusExporter == nil {
			HandleError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
			return
		}

		scrapeURL := exporterURL(configuredPort)
		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, scrapeURL, nil)
		if err != nil {
			HandleError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to build metrics scrape request"))
			return
		}
		if accept := r.Header.Get("Accept"); accept != "" {
			req.Header.Set("Accept", accept)
		}

		resp, err := metricsProxyClient.Do(req)
		if err != nil {
			HandleError(w, r, apperrors.WrapExternalService(r.Context(), err, "Prometheus exporter unavailable"))
			return
		}
		defer resp.Body.Close() // nolint:errcheck // read to EOF below

		for _, name := range scrapeHeaders {
			if value := resp.Header.Get(name); value != "" {
				w.Header().Set(name, value)
			}
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", prometheusContentType)
		}

		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to write metrics response", zap.Error(err))
		}
	}
}

func exporterURL(configuredPort int) string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = configuredPort
	}
	if port == 0 {
		port = observability.DefaultMetricsPort
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}
