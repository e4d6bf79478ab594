package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/keyrelay/keyrelay/internal/core/store"
	"github.com/keyrelay/keyrelay/internal/output"
)

var (
	rateLimitListClient  string
	rateLimitListPrefix  string
	rateLimitListBlocked bool
	rateLimitListIdle    time.Duration
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		db, _, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.RateLimitQuery{
			ClientID:   strings.TrimSpace(rateLimitListClient),
			Prefix:     strings.TrimSpace(rateLimitListPrefix),
			Blocked:    rateLimitListBlocked,
			IdleBefore: idleCutoff(rateLimitListIdle),
		}
		query.All = query.Validate() != nil

		windows, err := db.ListRateWindows(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := commandSink(cmd, format, "rate-limit.list", publicFile)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		if len(windows) == 0 && format == output.FormatTable {
			_, err = fmt.Fprint(sink, ascii.DrawBox("Rate Windows\n\n(no stored rate windows)", 0))
			return err
		}

		rendered, err := output.RateWindows(format, windows)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink, rendered)
		return err
	},
}

func init() {
	addOutputFlags(rateLimitListCmd, "table|json|markdown")
	rateLimitListCmd.Flags().StringVar(&rateLimitListClient, "client", "", "List one client address (exact match)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List client addresses with matching prefix")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListBlocked, "blocked", false, "Only clients whose last request was denied")
	rateLimitListCmd.Flags().DurationVar(&rateLimitListIdle, "idle", 0, "Only windows not seen for at least this long")
}

// idleCutoff turns an --idle duration into a last_seen bound. Zero disables it.
func idleCutoff(idle time.Duration) time.Time {
	if idle <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-idle)
}
