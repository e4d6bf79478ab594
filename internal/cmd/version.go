package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyrelay/keyrelay/internal/server/handlers"
)

var (
	extended    bool
	versionJSON bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the binary name and version. --extended adds the build stamp, Go
runtime and gofulmen versions; --json prints the same report GET /version serves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		report := handlers.CurrentVersion()

		if versionJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		fmt.Fprintf(w, "%s %s\n", GetAppIdentity().BinaryName, versionInfo.Version)
		if !extended {
			return nil
		}
		fmt.Fprintf(w, "Commit:   %s\n", versionInfo.Commit)
		fmt.Fprintf(w, "Built:    %s\n", versionInfo.BuildDate)
		fmt.Fprintf(w, "Go:       %s (%s)\n", report.Go, report.Platform)
		fmt.Fprintf(w, "Gofulmen: %s\n", report.Gofulmen)
		fmt.Fprintf(w, "Crucible: %s\n", report.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show build, runtime and dependency versions")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print the version report as JSON")
}
