package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/core/proxy"
	apperrors "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/metrics"
	"github.com/keyrelay/keyrelay/internal/observability"
	"github.com/keyrelay/keyrelay/internal/server/handlers"
	servermw "github.com/keyrelay/keyrelay/internal/server/middleware"
)

// Deps are the request handlers the server mounts. Nil members are skipped.
type Deps struct {
	Credentials *handlers.CredentialHandler
	Proxy       *proxy.Handler
	Health      *handlers.HealthManager
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.Config
	deps   Deps

	standalone  bool
	activeConns atomic.Int64
}

// New builds the router for cfg and deps.
func New(cfg config.Config, deps Deps) *Server {
	return build(cfg, deps, false)
}

// NewStandalone builds a router serving one proxy handler on /{endpoint},
// for `keyrelay proxy --definition`.
func NewStandalone(cfg config.Config, handler *proxy.Handler, health *handlers.HealthManager) *Server {
	return build(cfg, Deps{Proxy: handler, Health: health}, true)
}

func build(cfg config.Config, deps Deps, standalone bool) *Server {
	r := chi.NewRouter()

	if cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:     r,
		cfg:        cfg,
		deps:       deps,
		standalone: standalone,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes()

	return s
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       durationOr(s.cfg.Server.ReadTimeout, 30*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      durationOr(s.cfg.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:       durationOr(s.cfg.Server.IdleTimeout, 120*time.Second),
		ConnState:         s.trackConn,
	}
	metrics.SetServerStartTime(time.Now().Unix())

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Starting HTTP server",
			zap.String("addr", s.server.Addr),
			zap.Bool("standalone_proxy", s.standalone),
			zap.Bool("hosted_proxy", !s.standalone && s.deps.Proxy != nil && s.cfg.Proxy.Hosted),
			zap.Bool("trust_proxy_headers", s.cfg.Server.TrustProxyHeaders))
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.cfg.Server.Port
}

func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		metrics.SetActiveConnections(s.activeConns.Add(1))
	case http.StateClosed, http.StateHijacked:
		metrics.SetActiveConnections(s.activeConns.Add(-1))
	}
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

// HandleError writes err as an error envelope.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
