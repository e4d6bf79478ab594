package store

import (
	"context"
	"errors"
	"fmt"
)

// migration is one schema step. Steps run in order and each bumps the
// database's user_version to its index + 1.
type migration struct {
	name  string
	stmts []string
}

var migrations = []migration{
	{
		name: "credentials",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS credentials (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_identity TEXT NOT NULL,
				api_name TEXT NOT NULL,
				api_key TEXT NOT NULL UNIQUE,
				issued_at INTEGER NOT NULL,
				request_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_identity)`,
			`CREATE INDEX IF NOT EXISTS idx_credentials_name ON credentials(api_name)`,
		},
	},
	{
		name: "rate_limits",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS rate_limits (
				client_id TEXT PRIMARY KEY,
				request_count INTEGER NOT NULL DEFAULT 0,
				window_start INTEGER NOT NULL,
				last_seen INTEGER NOT NULL,
				denied INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rate_limits_last_seen ON rate_limits(last_seen)`,
		},
	},
	{
		name: "usage_log",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS usage_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				api_key TEXT NOT NULL,
				endpoint TEXT NOT NULL,
				parameters TEXT NOT NULL,
				recorded_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_log_key ON usage_log(api_key, recorded_at)`,
		},
	},
	{
		name: "credential_source",
		stmts: []string{
			`ALTER TABLE credentials ADD COLUMN source TEXT NOT NULL DEFAULT 'fallback'`,
		},
	},
}

// SchemaVersion is the user_version a fully migrated store reports.
var SchemaVersion = len(migrations)

// Migrate applies pending migrations. Each step commits with its version, so
// an interrupted run resumes where it stopped.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("store schema version %d is newer than this binary (%d)", current, SchemaVersion)
	}

	for i := current; i < SchemaVersion; i++ {
		if err := s.apply(ctx, i+1, migrations[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) apply(ctx context.Context, version int, m migration) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: %w", m.name, err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	// PRAGMA does not take bind parameters; version is an int.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("migration %s: set version: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: %w", m.name, err)
	}
	return nil
}
