package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrelay/keyrelay/internal/config"
	"github.com/keyrelay/keyrelay/internal/core/store"
	"github.com/keyrelay/keyrelay/internal/observability"
)

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// openConfiguredStore loads config and opens the store, for admin commands.
func openConfiguredStore(ctx context.Context) (*store.Store, *config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the credential store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the credential store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		location := cfg.Store.Path
		if cfg.Store.URL != "" {
			location = cfg.Store.URL
		}
		observability.CLILogger.Info("Store schema is current",
			zap.String("driver", db.Driver()),
			zap.String("location", location),
			zap.Int("schema_version", store.SchemaVersion))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeMigrateCmd)
}
