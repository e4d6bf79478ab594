package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/core/proxy"
	"github.com/keyrelay/keyrelay/internal/metrics"
	servermw "github.com/keyrelay/keyrelay/internal/server/middleware"
)

// ObserveProxy returns a proxy.Handler observer that records forward metrics
// and writes one access log line per request. The query string is never
// logged because it carries the api key.
func ObserveProxy(access *zap.Logger) func(r *http.Request, ev proxy.Event) {
	if access == nil {
		access = zap.NewNop()
	}

	return func(r *http.Request, ev proxy.Event) {
		metrics.RecordProxyForward(ev.Outcome, ev.Duration)

		fields := []zap.Field{
			zap.String("api_name", ev.Name),
			zap.String("endpoint", ev.Endpoint),
			zap.String("outcome", ev.Outcome),
			zap.Int("status", ev.Status),
			zap.Duration("duration", ev.Duration),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("request_id", servermw.GetRequestID(r.Context())),
		}
		if ev.Err != nil {
			fields = append(fields, zap.Error(ev.Err))
		}

		switch ev.Outcome {
		case proxy.OutcomeUpstreamError, proxy.OutcomeInternalError:
			access.Warn("proxy request failed", fields...)
		default:
			access.Info("proxy request", fields...)
		}
	}
}
