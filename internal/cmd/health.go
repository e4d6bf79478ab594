package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/config"
	errwrap "github.com/keyrelay/keyrelay/internal/errors"
	"github.com/keyrelay/keyrelay/internal/observability"
)

var (
	healthTimeout  time.Duration
	healthUpstream bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check configuration, store and upstream reachability",
	Long: `Run the checks serve depends on without starting a listener: the
configuration decodes, the store opens and migrates, the rate limit backend
answers and, with --upstream, the upstream base URL responds.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing",
				errwrap.NewConfigInvalidError("version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(ctx, nil)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid",
				errwrap.WrapConfigInvalid(ctx, err, "load config"))
			return
		}
		logger.Info("✅ Configuration loaded", zap.String("file", configFileLabel()))

		rl, err := buildRelay(ctx, cfg, nil, versionInfo.Version)
		if err != nil {
			ExitWithCode(logger, ExitCodeFor(err), "Dependencies unavailable", err)
			return
		}
		defer func() { _ = rl.close(context.Background()) }()

		if err := rl.store.DB.PingContext(ctx); err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Store unreachable",
				errwrap.WrapDatabaseError(ctx, err, "ping store"))
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", rl.store.Driver()))
		logger.Info("✅ Rate limit backend ready", zap.String("backend", cfg.RateLimit.Backend))

		if healthUpstream {
			if err := rl.upstream.Ping(ctx); err != nil {
				// Issuance falls back to local keys, so this only warns.
				logger.Warn("⚠️  Upstream unreachable; issuance will use fallback keys",
					zap.String("base_url", cfg.Upstream.BaseURL),
					zap.Error(err))
			} else {
				logger.Info("✅ Upstream reachable", zap.String("base_url", cfg.Upstream.BaseURL))
			}
		}

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func configFileLabel() string {
	if used := config.ConfigFileUsed(); used != "" {
		return used
	}
	return "(defaults and environment)"
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "overall check timeout")
	healthCmd.Flags().BoolVar(&healthUpstream, "upstream", false, "also probe the upstream base URL")
}
