package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/appid"
	"github.com/keyrelay/keyrelay/internal/observability"
	"github.com/keyrelay/keyrelay/internal/server/handlers"
)

// registerRoutes mounts ops, credential and proxy routes. A standalone server
// mounts only ops routes and /{endpoint}. The hosted proxy
// route /{name}/{endpoint} is registered last; chi prefers the static
// credential paths over it regardless of order.
func (s *Server) registerRoutes() {
	if s.cfg.Health.Enabled && s.deps.Health != nil {
		health := s.deps.Health
		s.router.Get("/health", health.HealthHandler)
		s.router.Get("/health/live", health.LivenessHandler)
		s.router.Get("/health/ready", health.ReadinessHandler)
		s.router.Get("/health/startup", health.StartupHandler)
	}

	s.router.Get("/version", handlers.VersionHandler)
	if s.cfg.Metrics.Enabled {
		s.router.Get("/metrics", s.metricsHandler)
	}
	if s.cfg.Debug.Enabled && s.cfg.Debug.PprofEnabled {
		s.router.Mount("/debug", middleware.Profiler())
	}
	s.registerAdminEndpoint()

	if s.standalone {
		if s.deps.Proxy != nil {
			s.deps.Proxy.Routes(s.router, false)
		}
		return
	}

	hosted := s.cfg.Proxy.Hosted && s.deps.Proxy != nil
	s.router.Get("/", handlers.IndexHandler(hosted))

	if s.deps.Credentials != nil {
		s.deps.Credentials.Routes(s.router)
	}
	if hosted {
		s.deps.Proxy.Routes(s.router, true)
	}
}

// registerAdminEndpoint mounts the gofulmen signal endpoint when
// KEYRELAY_ADMIN_TOKEN is set.
func (s *Server) registerAdminEndpoint() {
	tokenVar := appid.EnvPrefix + "ADMIN_TOKEN"
	adminToken := os.Getenv(tokenVar)
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled", zap.String("env", tokenVar))
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
