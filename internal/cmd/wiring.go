package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/appid"
	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/core/engine"
	"github.com/keyrelay/keyrelay/internal/core/issuer"
	"github.com/keyrelay/keyrelay/internal/core/proxy"
	"github.com/keyrelay/keyrelay/internal/core/store"
	"github.com/keyrelay/keyrelay/internal/core/upstream"
	"github.com/keyrelay/keyrelay/internal/core/usage"
	apperrors "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/metrics"
	"github.com/keyrelay/keyrelay/internal/server"
	"github.com/keyrelay/keyrelay/internal/server/handlers"
	"github.com/keyrelay/keyrelay/internal/session"
)

// Rate limit backends.
const (
	BackendStore  = "store"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// relay holds the components serve wires together. close releases them in
// reverse dependency order.
type relay struct {
	store    *store.Store
	limiter  *engine.RateLimiter
	upstream *upstream.Client
	recorder *usage.Recorder
	deps     server.Deps

	closers []func(ctx context.Context) error
}

// buildRelay opens the store and builds every component serve mounts. logger
// may be nil.
func buildRelay(ctx context.Context, cfg *config.Config, logger *logging.Logger, version string) (*relay, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(ctx, err, "open credential store")
	}

	r := &relay{store: st}
	r.closers = append(r.closers, func(context.Context) error { return st.Close() })

	windows, windowCheck, err := r.windowStore(ctx, cfg)
	if err != nil {
		_ = r.close(ctx)
		return nil, err
	}

	r.limiter = newLimiter(cfg, windows, logger)
	r.upstream = newUpstreamClient(cfg, version)
	r.recorder = newRecorder(cfg, st, logger)
	r.closers = append(r.closers, r.recorder.Close)

	secret, generated, err := sessionSecret(cfg)
	if err != nil {
		_ = r.close(ctx)
		return nil, apperrors.WrapConfigInvalid(ctx, err, "session secret")
	}
	if generated && logger != nil {
		logger.Warn("No session secret configured; using a random one, sessions end on restart",
			zap.String("env", appid.EnvPrefix+"SESSION_SECRET"))
	}
	sessions, err := session.NewStore(secret, session.Options{
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Session.Secure,
	})
	if err != nil {
		_ = r.close(ctx)
		return nil, apperrors.WrapConfigInvalid(ctx, err, "session store")
	}

	generator := newGenerator(cfg, st)
	iss := &issuer.Issuer{
		Limiter:         r.limiter,
		Upstream:        r.upstream,
		Store:           st,
		Endpoints:       cfg.Credentials.Endpoints,
		ExampleEndpoint: cfg.Credentials.ExampleEndpoint,
		ExampleQuery:    cfg.Credentials.ExampleQuery,
		KeyBytes:        cfg.Credentials.KeyBytes,
	}

	health := handlers.NewHealthManager(version)
	health.RegisterChecker("store", handlers.CheckFunc(st.DB.PingContext))
	if windowCheck != nil {
		health.RegisterChecker("rate_limit_"+cfg.RateLimit.Backend, windowCheck)
	}
	health.RegisterOptionalChecker("upstream", handlers.CheckFunc(r.upstream.Ping))

	r.deps = server.Deps{
		Credentials: &handlers.CredentialHandler{
			Issuer:     iss,
			Store:      st,
			Sessions:   sessions,
			Generator:  generator,
			RetryAfter: cfg.RateLimit.Window,
		},
		Health: health,
	}
	if cfg.Proxy.Hosted {
		r.deps.Proxy = &proxy.Handler{
			Source:    proxy.StoreSource{Credentials: st, Generator: generator},
			Forwarder: r.upstream,
			Usage:     r.recorder,
		}
	}

	return r, nil
}

// windowStore picks the rate window backend. The returned checker is nil for
// backends that need no health check of their own.
func (r *relay) windowStore(ctx context.Context, cfg *config.Config) (engine.WindowStore, handlers.HealthChecker, error) {
	switch backend := strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend)); backend {
	case "", BackendStore:
		return r.store, nil, nil
	case BackendMemory:
		return engine.NewMemoryWindowStore(), nil, nil
	case BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		r.closers = append(r.closers, func(context.Context) error { return rdb.Close() })

		windows := engine.NewRedisWindowStore(rdb,
			engine.WithWindowPrefix(cfg.RateLimit.Redis.Prefix),
			engine.WithWindowIdleTTL(cfg.RateLimit.IdleTTL))
		if err := windows.Ping(ctx); err != nil {
			return nil, nil, apperrors.WrapExternalService(ctx, err, "redis rate limit backend unreachable")
		}
		return windows, handlers.CheckFunc(windows.Ping), nil
	default:
		return nil, nil, apperrors.WrapConfigInvalid(ctx,
			fmt.Errorf("unknown rate limit backend %q", backend),
			"rate_limit.backend must be store, memory or redis")
	}
}

// close runs closers last-registered first and joins their errors.
func (r *relay) close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return stderrors.Join(errs...)
}

func newLimiter(cfg *config.Config, windows engine.WindowStore, logger *logging.Logger) *engine.RateLimiter {
	return &engine.RateLimiter{
		Store:      windows,
		Policy:     core.WindowPolicy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window},
		IdleTTL:    cfg.RateLimit.IdleTTL,
		SweepEvery: cfg.RateLimit.SweepInterval,
		OnSweep: func(removed int64, err error) {
			if err != nil {
				if logger != nil {
					logger.Warn("Rate window sweep failed", zap.Error(err))
				}
				return
			}
			metrics.RecordRateLimitSweep(removed)
			if removed > 0 && logger != nil {
				logger.Debug("Swept idle rate windows", zap.Int64("removed", removed))
			}
		},
	}
}

func newUpstreamClient(cfg *config.Config, version string) *upstream.Client {
	agent := appid.BinaryName
	if version != "" {
		agent += "/" + version
	}
	return &upstream.Client{
		BaseURL:      cfg.Upstream.BaseURL,
		IssuePath:    cfg.Upstream.IssuePath,
		IssueTimeout: cfg.Upstream.IssueTimeout,
		UserAgent:    agent,
	}
}

func newGenerator(cfg *config.Config, creds proxy.CredentialLister) *proxy.Generator {
	return &proxy.Generator{
		UpstreamBaseURL: cfg.Upstream.BaseURL,
		Timeout:         cfg.Proxy.Timeout,
		MaxConcurrent:   cfg.Proxy.MaxConcurrent,
		RatePerSecond:   cfg.Proxy.RatePerSecond,
		Burst:           cfg.Proxy.Burst,
		Endpoints:       cfg.Credentials.Endpoints,
		ExampleEndpoint: cfg.Credentials.ExampleEndpoint,
		ExampleQuery:    cfg.Credentials.ExampleQuery,
		Credentials:     creds,
	}
}

// newRecorder starts a usage recorder. Dropped entries and write failures are
// counted and logged without the key.
func newRecorder(cfg *config.Config, sink usage.Sink, logger *logging.Logger) *usage.Recorder {
	return usage.NewRecorder(sink, usage.Options{
		Buffer: cfg.Usage.Buffer,
		OnDrop: func(entry core.UsageEntry) {
			metrics.RecordUsageDropped()
			if logger != nil {
				logger.Warn("Usage entry dropped", zap.String("endpoint", entry.Endpoint))
			}
		},
		OnError: func(entry core.UsageEntry, err error) {
			metrics.RecordUsageWriteFailure()
			if logger != nil {
				logger.Error("Usage entry write failed",
					zap.String("endpoint", entry.Endpoint),
					zap.Error(err))
			}
		},
	})
}

// sessionSecret returns the configured secret, or a random one when none is
// set. generated reports the latter.
func sessionSecret(cfg *config.Config) (secret []byte, generated bool, err error) {
	if value := strings.TrimSpace(cfg.Session.Secret); value != "" {
		return []byte(value), false, nil
	}
	random, err := session.RandomSecret()
	if err != nil {
		return nil, false, err
	}
	return []byte(random), true, nil
}
