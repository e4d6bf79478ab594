package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyrelay/keyrelay/internal/output"
)

var (
	usageListKey   string
	usageListLimit int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect the proxy usage log",
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded calls for one credential, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(usageListKey)
		if key == "" {
			return errors.New("--key is required")
		}
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		db, _, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListUsage(cmd.Context(), key, usageListLimit)
		if err != nil {
			return err
		}

		sink, err := commandSink(cmd, format, "usage."+output.MaskKey(key), publicFile)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		rendered, err := output.Usage(format, entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageListCmd)

	addOutputFlags(usageListCmd, "table|json|markdown")
	usageListCmd.Flags().StringVar(&usageListKey, "key", "", "api key of the credential")
	usageListCmd.Flags().IntVar(&usageListLimit, "limit", 50, "Maximum entries to list")
}
