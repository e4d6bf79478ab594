package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/observability"
	"github.com/keyrelay/keyrelay/internal/output"
)

var (
	credentialsListOwner  string
	credentialsListLimit  int
	credentialsListReveal bool

	credentialsExportKey    string
	credentialsExportOut    string
	credentialsExportOutDir string

	credentialsExportAllOwner  string
	credentialsExportAllFormat string
	credentialsExportAllOut    string
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "List and export issued credentials",
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued credentials (keys masked unless --reveal)",
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

		var creds []core.Credential
		if owner := credentialsListOwner; strings.TrimSpace(owner) != "" {
			creds, err = db.ListCredentialsByOwner(cmd.Context(), owner)
		} else {
			creds, err = db.ListCredentials(cmd.Context(), credentialsListLimit)
		}
		if err != nil {
			return err
		}

		mode := publicFile
		if credentialsListReveal {
			mode = secretFile
		}
		sink, err := commandSink(cmd, format, "credentials.list", mode)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		rendered, err := output.Credentials(format, creds, output.CredentialOptions{RevealKeys: credentialsListReveal})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink, rendered)
		return err
	},
}

var credentialsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the proxy definition for one credential",
	Long: `Write the YAML proxy definition bound to one credential. Serve it with
"keyrelay proxy --definition <file>".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.TrimSpace(credentialsExportKey)
		if key == "" {
			return errors.New("--key is required")
		}
		credentialsExportOut = strings.TrimSpace(credentialsExportOut)
		credentialsExportOutDir = strings.TrimSpace(credentialsExportOutDir)
		if credentialsExportOut != "" && credentialsExportOutDir != "" {
			return errOutConflict
		}

		db, cfg, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		cred, err := db.GetCredentialByKey(cmd.Context(), key)
		if err != nil {
			return err
		}
		def := newGenerator(cfg, db).Materialize(*cred)

		outPath, err := outputPath(credentialsExportOut, credentialsExportOutDir, sanitizeFilename(def.Name)+"_proxy.yaml")
		if err != nil {
			return err
		}
		sink, err := openSink(outPath, secretFile)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		if err := def.EncodeYAML(sink); err != nil {
			return err
		}
		if !sink.stdout() {
			observability.CLILogger.Info("Proxy definition written",
				zap.String("name", def.Name),
				zap.String("path", sink.path))
		}
		return nil
	},
}

var credentialsExportAllCmd = &cobra.Command{
	Use:   "export-all",
	Short: "Write the credential catalog for one owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner := credentialsExportAllOwner
		if strings.TrimSpace(owner) == "" {
			return errors.New("--owner is required")
		}

		db, cfg, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		catalog, err := newGenerator(cfg, db).MaterializeCatalog(cmd.Context(), owner)
		if err != nil {
			return err
		}
		body, _, _, err := catalog.Render(credentialsExportAllFormat)
		if err != nil {
			return err
		}

		sink, err := openSink(credentialsExportAllOut, secretFile)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		_, err = sink.Write(body)
		return err
	},
}

func init() {
	rootCmd.AddCommand(credentialsCmd)
	credentialsCmd.AddCommand(credentialsListCmd, credentialsExportCmd, credentialsExportAllCmd)

	addOutputFlags(credentialsListCmd, "table|json|markdown")
	credentialsListCmd.Flags().StringVar(&credentialsListOwner, "owner", "", "Only credentials of this owner identity (exact, case-sensitive)")
	credentialsListCmd.Flags().IntVar(&credentialsListLimit, "limit", 100, "Maximum credentials to list (ignored with --owner)")
	credentialsListCmd.Flags().BoolVar(&credentialsListReveal, "reveal", false, "Show full api keys")

	credentialsExportCmd.Flags().StringVar(&credentialsExportKey, "key", "", "api key of the credential")
	credentialsExportCmd.Flags().StringVar(&credentialsExportOut, "out", "", "Write to a file (default stdout)")
	credentialsExportCmd.Flags().StringVar(&credentialsExportOutDir, "out-dir", "", "Write <name>_proxy.yaml into a directory")

	credentialsExportAllCmd.Flags().StringVar(&credentialsExportAllOwner, "owner", "", "Owner identity (exact, case-sensitive)")
	credentialsExportAllCmd.Flags().StringVar(&credentialsExportAllFormat, "format", "text", "Catalog format: text|json|yaml")
	credentialsExportAllCmd.Flags().StringVar(&credentialsExportAllOut, "out", "", "Write to a file (default stdout)")
}
