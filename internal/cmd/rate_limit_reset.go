package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyrelay/keyrelay/internal/core/store"
	"github.com/keyrelay/keyrelay/internal/output"
)

var (
	rateLimitResetAll     bool
	rateLimitResetClient  string
	rateLimitResetPrefix  string
	rateLimitResetBlocked bool
	rateLimitResetIdle    time.Duration
	rateLimitResetYes     bool
	rateLimitResetDryRun  bool
)

type rateLimitResetResult struct {
	Matched int   `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored rate windows so clients may issue again",
	Example: `  keyrelay rate-limit reset --blocked --yes
  keyrelay rate-limit reset --prefix 10.0. --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.RateLimitQuery{
			All:      rateLimitResetAll,
			ClientID: strings.TrimSpace(rateLimitResetClient),
			Prefix:   strings.TrimSpace(rateLimitResetPrefix),
			Blocked:  rateLimitResetBlocked,
		}
		query.IdleBefore = idleCutoff(rateLimitResetIdle)
		if err := query.Validate(); err != nil {
			return err
		}
		bulk := query.All || (query.ClientID == "" && query.Prefix == "")
		if bulk && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all and --blocked require --yes (or use --dry-run)")
		}

		db, _, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		result := rateLimitResetResult{DryRun: rateLimitResetDryRun}
		result.Matched, err = db.CountRateWindows(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := commandSink(cmd, format, "rate-limit.reset", publicFile)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		if !result.DryRun {
			result.Deleted, err = db.ResetRateWindows(cmd.Context(), query)
			if err != nil {
				return err
			}
		}
		return writeRateLimitResetResult(format, sink, result)
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, result rateLimitResetResult) error {
	if format == output.FormatJSON {
		payload, err := output.JSON(result)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, payload)
		return err
	}

	if result.DryRun {
		_, err := fmt.Fprintf(w, "Would delete %d rate window(s)\n", result.Matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d rate window(s)\n", result.Deleted, result.Matched)
	return err
}

func init() {
	addOutputFlags(rateLimitResetCmd, "table|json")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset every client")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetClient, "client", "", "Reset one client address (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset client addresses with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetBlocked, "blocked", false, "Reset clients whose last request was denied")
	rateLimitResetCmd.Flags().DurationVar(&rateLimitResetIdle, "idle", 0, "Only windows not seen for at least this long")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
}
