package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/core/proxy"
	"github.com/keyrelay/keyrelay/internal/core/upstream"
	errwrap "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/observability"
	"github.com/keyrelay/keyrelay/internal/server"
	"github.com/keyrelay/keyrelay/internal/server/handlers"
)

var (
	proxyDefinition  string
	proxyHost        string
	proxyPort        int
	proxyAccessLog   string
	proxyQuietAccess bool
	proxyRecordUsage bool
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Serve one exported proxy definition",
	Long: `Serve a single proxy definition exported with "credentials export".

Requests to /{endpoint}?api_key=... are checked against the definition's key
and forwarded to its upstream. Access lines go to stdout and, with
--access-log, to a rotating JSON file. --record-usage also appends each call
to the configured store's usage log.`,
	Example: `  keyrelay proxy --definition ahmet_proxy.yaml --port 8081`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		identity := GetAppIdentity()

		def, err := proxy.LoadDefinition(proxyDefinition)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "load proxy definition")
		}

		cfg, err := loadConfig(ctx, listenOverrides(cmd, proxyHost, proxyPort))
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "load config")
		}
		if !cmd.Flags().Changed("port") {
			cfg.Server.Port = proxyPort
		}
		// The standalone proxy serves no credential routes.
		cfg.Proxy.Hosted = false
		cfg.Metrics.Enabled = false

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, identity.TelemetryNamespace())
		logger := observability.ServerLogger

		accessPath := proxyAccessLog
		if accessPath == "" {
			accessPath = cfg.Proxy.AccessLog
		}
		access, err := observability.NewAccessLogger(observability.AccessLogConfig{
			Path:    accessPath,
			Console: !proxyQuietAccess,
		})
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "proxy access log")
		}

		handler := &proxy.Handler{
			Source:    proxy.StaticSource{Definition: *def},
			Forwarder: &upstream.Client{BaseURL: def.UpstreamBaseURL, UserAgent: identity.BinaryName + "/" + versionInfo.Version},
			Observe:   server.ObserveProxy(access),
		}

		health := handlers.NewHealthManager(versionInfo.Version)
		closers := []func(context.Context) error{
			func(context.Context) error {
				_ = access.Sync()
				return nil
			},
		}

		if proxyRecordUsage {
			st, err := openStore(ctx, cfg)
			if err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "open usage store")
			}
			recorder := newRecorder(cfg, st, logger)
			handler.Usage = recorder
			health.RegisterChecker("store", handlers.CheckFunc(st.DB.PingContext))
			closers = append(closers,
				func(context.Context) error { return st.Close() },
				recorder.Close)
		}

		handlers.SetAppIdentity(identity)
		srv := server.NewStandalone(*cfg, handler, health)

		logger.Info("Serving proxy definition",
			zap.String("name", def.Name),
			zap.String("upstream", def.UpstreamBaseURL),
			zap.String("addr", srv.Addr()),
			zap.String("access_log", accessPath),
			zap.Bool("record_usage", proxyRecordUsage))

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		signals.OnShutdown(func(ctx context.Context) error {
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i](ctx); err != nil {
					logger.Warn("Releasing proxy resources failed", zap.Error(err))
				}
			}
			_ = logger.Sync()
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "proxy shutdown failed")
			}
			return nil
		})

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil {
				errChan <- err
			}
		}()
		go func() {
			if err := signals.Listen(ctx); err != nil {
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "proxy server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(proxyCmd)

	proxyCmd.Flags().StringVarP(&proxyDefinition, "definition", "d", "", "proxy definition YAML from \"credentials export\"")
	proxyCmd.Flags().StringVar(&proxyHost, "host", "localhost", "listen host")
	proxyCmd.Flags().IntVarP(&proxyPort, "port", "p", 5001, "listen port")
	proxyCmd.Flags().StringVar(&proxyAccessLog, "access-log", "", "rotating access log file (default proxy.access_log)")
	proxyCmd.Flags().BoolVar(&proxyQuietAccess, "quiet", false, "do not mirror access lines to stdout")
	proxyCmd.Flags().BoolVar(&proxyRecordUsage, "record-usage", false, "append calls to the configured store's usage log")
	_ = proxyCmd.MarkFlagRequired("definition")
}
