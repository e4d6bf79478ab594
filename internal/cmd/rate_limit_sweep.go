package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/core/engine"
)

var rateLimitSweepIdle time.Duration

var rateLimitSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored rate windows idle longer than the idle TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		idle := cfg.RateLimit.IdleTTL
		if cmd.Flags().Changed("idle") {
			idle = rateLimitSweepIdle
		}

		limiter := &engine.RateLimiter{
			Store:   db,
			Policy:  core.WindowPolicy{Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window},
			IdleTTL: idle,
		}
		removed, err := limiter.Sweep(cmd.Context())
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d rate window(s) idle for more than %s\n", removed, limiter.EffectiveIdleTTL())
		return err
	},
}

func init() {
	rateLimitSweepCmd.Flags().DurationVar(&rateLimitSweepIdle, "idle", 0, "Idle threshold (default rate_limit.idle_ttl)")
}
