package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/config"
	errwrap "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/observability"
	"github.com/keyrelay/keyrelay/internal/server"
	"github.com/keyrelay/keyrelay/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the credential API and hosted proxy",
	Long: `Start the HTTP server: credential issuance, session-bound listing and
export, and the hosted proxy on /{name}/{endpoint}.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file (restart to apply changes)

Shutdown stops the HTTP server, drains queued usage entries, closes the
store and flushes logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		cfg, err := loadConfig(ctx, serveOverrides(cmd))
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "load config")
		}

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("rate_limit_backend", cfg.RateLimit.Backend),
			zap.Int("rate_limit", cfg.RateLimit.Limit),
			zap.Duration("rate_window", cfg.RateLimit.Window),
			zap.Bool("hosted_proxy", cfg.Proxy.Hosted),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		rl, err := buildRelay(ctx, cfg, logger, versionInfo.Version)
		if err != nil {
			return err
		}

		if rl.deps.Proxy != nil {
			access, err := observability.NewAccessLogger(observability.AccessLogConfig{Path: cfg.Proxy.AccessLog})
			if err != nil {
				_ = rl.close(ctx)
				return errwrap.WrapConfigInvalid(ctx, err, "proxy access log")
			}
			rl.deps.Proxy.Observe = server.ObserveProxy(access)
			rl.closers = append(rl.closers, func(context.Context) error {
				_ = access.Sync()
				return nil
			})
		}

		janitorCtx, stopJanitor := context.WithCancel(context.Background())
		rl.limiter.StartJanitor(janitorCtx)

		handlers.SetAppIdentity(identity)
		srv := server.New(*cfg, rl.deps)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run last-registered first.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Stopping metrics exporter failed", zap.Error(err))
			}
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopJanitor()
			closeCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := rl.close(closeCtx); err != nil {
				logger.Warn("Releasing components failed", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "component shutdown failed")
			}
			logger.Info("Usage recorder drained and store closed")
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-reading configuration")

			reloaded, err := config.Load(ctx)
			if err != nil {
				logger.Error("Failed to reload config file",
					zap.String("file", config.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			logger.Info("Configuration re-read; restart to apply listener, limiter and store changes",
				zap.String("file", config.ConfigFileUsed()),
				zap.Int("rate_limit", reloaded.RateLimit.Limit),
				zap.Duration("rate_window", reloaded.RateLimit.Window))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			stopJanitor()
			_ = rl.close(context.Background())
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

// serveOverrides turns explicitly set --host/--port flags into config
// overrides so they win over file and environment values.
func serveOverrides(cmd *cobra.Command) map[string]any {
	return listenOverrides(cmd, serverHost, serverPort)
}

func listenOverrides(cmd *cobra.Command, host string, port int) map[string]any {
	listen := map[string]any{}
	if cmd.Flags().Changed("host") {
		listen["host"] = host
	}
	if cmd.Flags().Changed("port") {
		listen["port"] = port
	}
	if len(listen) == 0 {
		return nil
	}
	return map[string]any{"server": listen}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
