package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, effective configuration and version information. Secrets are shown as (set) or (not set).",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== keyrelay Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Server:")
		log.Info(fmt.Sprintf("  Listen:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info(fmt.Sprintf("  Trust Proxy:    %t", cfg.Server.TrustProxyHeaders))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("  Config File:    " + configFileLabel())
		log.Info("  Default Config: " + config.DefaultConfigPath())
		log.Info("  Env File:       " + envFileLabel())
		log.Info("")

		log.Info("Store:")
		log.Info("  Driver:         " + cfg.Store.Driver)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  URL:            " + cfg.Store.URL)
			log.Info("  Auth Token:     " + setOrNot(cfg.Store.AuthToken))
		} else {
			log.Info("  Path:           " + cfg.Store.Path)
		}
		log.Info("")

		log.Info("Rate Limit:")
		log.Info("  Backend:        " + cfg.RateLimit.Backend)
		log.Info(fmt.Sprintf("  Window:         %d per %s", cfg.RateLimit.Limit, cfg.RateLimit.Window))
		log.Info("  Idle TTL:       " + cfg.RateLimit.IdleTTL.String())
		if cfg.RateLimit.Backend == BackendRedis {
			log.Info("  Redis:          " + cfg.RateLimit.Redis.Addr)
		}
		log.Info("")

		log.Info("Upstream & Proxy:")
		log.Info("  Base URL:       " + cfg.Upstream.BaseURL)
		log.Info("  Issue Path:     " + cfg.Upstream.IssuePath)
		log.Info(fmt.Sprintf("  Hosted Proxy:   %t", cfg.Proxy.Hosted))
		log.Info("  Proxy Timeout:  " + cfg.Proxy.Timeout.String())
		log.Info(fmt.Sprintf("  Endpoints:      %d", len(cfg.Credentials.Endpoints)))
		log.Info("  Session Secret: " + setOrNot(cfg.Session.Secret))
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func setOrNot(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return "(not set)"
	}
	return "(set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}

func envFileLabel() string {
	if envFile != "" {
		return envFile
	}
	return "./.env (optional)"
}
