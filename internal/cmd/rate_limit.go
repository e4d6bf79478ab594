package cmd

import "github.com/spf13/cobra"

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset stored issuance rate windows",
	Long: `Inspect and reset the fixed rate windows kept by the store backend.

Windows held by the memory or redis backends live outside the store and are
not visible here.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rateLimitCmd.AddCommand(rateLimitSweepCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
