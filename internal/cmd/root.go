package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/appid"
	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/observability"
)

// buildStamp is the ldflags version info main hands over.
type buildStamp struct {
	Version   string
	Commit    string
	BuildDate string
}

var (
	cfgFile string
	envFile string
	verbose bool

	appIdentity *appidentity.Identity
	versionInfo = buildStamp{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetVersionInfo records the build stamp for version output and user agents.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = buildStamp{Version: version, Commit: commit, BuildDate: buildDate}
}

// GetAppIdentity returns the identity resolved before any command runs.
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

var rootCmd = &cobra.Command{
	Use:   appid.BinaryName,
	Short: appid.Description,
	Long: appid.BinaryName + ` - ` + appid.Description + `

Run "serve" to start the credential API with the hosted proxy, or
"proxy --definition <file>" to serve a single exported credential.

Configuration layers, lowest first: built-in defaults, the config file,
` + appid.EnvPrefix + `* environment variables (optionally from --env-file or ./.env),
then command flags.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads layered config; overrides are nested maps that win over
// every other layer.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	if len(overrides) == 0 {
		return config.Load(ctx)
	}
	return config.Load(ctx, overrides)
}

func init() {
	// Config loading may touch gofulmen telemetry before serve sets it up.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", appid.ConfigName))
	flags.StringVar(&envFile, "env-file", "", "dotenv file to read "+appid.EnvPrefix+"* variables from (default ./.env if present)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug-level CLI logging")
}

func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to resolve app identity", err)
	}
	appIdentity = identity

	observability.InitCLILogger(identity.BinaryName, verbose)
	config.SetConfigFile(cfgFile)
	config.SetEnvFile(envFile)

	if verbose {
		observability.CLILogger.Debug("Configuration sources",
			zap.String("config", cfgFile),
			zap.String("env_file", envFile))
	}
}
