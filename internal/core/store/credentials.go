package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyrelay/keyrelay/internal/core"
)

const credentialColumns = `id, owner_identity, api_name, api_key, source, issued_at, request_count`

// SaveCredential inserts a newly issued credential and fills in its id.
// A key collision returns core.ErrDuplicateCredentialKey.
func (s *Store) SaveCredential(ctx context.Context, cred *core.Credential) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if cred == nil {
		return errors.New("credential is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(cred.Key) == "" || strings.TrimSpace(cred.Name) == "" {
		return errors.New("credential name and key are required")
	}

	issuedAt := cred.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	source := cred.Source
	if source == "" {
		source = core.SourceFallback
	}

	result, err := s.DB.ExecContext(ctx, `
		INSERT INTO credentials (owner_identity, api_name, api_key, source, issued_at, request_count)
		VALUES (?, ?, ?, ?, ?, 0)
	`, cred.OwnerIdentity, cred.Name, cred.Key, string(source), issuedAt.UTC().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateCredentialKey
		}
		return fmt.Errorf("store credential: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		cred.ID = id
	}
	cred.IssuedAt = time.Unix(issuedAt.UTC().Unix(), 0).UTC()
	cred.Source = source
	cred.RequestCount = 0
	return nil
}

// ListCredentialsByOwner returns the owner's credentials in issuance order.
func (s *Store) ListCredentialsByOwner(ctx context.Context, owner string) ([]core.Credential, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, core.ErrOwnerRequired
	}

	return s.queryCredentials(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE owner_identity = ?
		ORDER BY issued_at ASC, id ASC
	`, owner)
}

// ListCredentials returns up to limit credentials across all owners, newest
// first. A non-positive limit returns everything.
func (s *Store) ListCredentials(ctx context.Context, limit int) ([]core.Credential, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if limit <= 0 {
		limit = -1
	}

	return s.queryCredentials(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		ORDER BY issued_at DESC, id DESC
		LIMIT ?
	`, limit)
}

// GetCredentialByKey looks a credential up by its exact key.
func (s *Store) GetCredentialByKey(ctx context.Context, key string) (*core.Credential, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if key == "" {
		return nil, core.ErrCredentialNotFound
	}

	creds, err := s.queryCredentials(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE api_key = ?
	`, key)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, core.ErrCredentialNotFound
	}
	return &creds[0], nil
}

// IncrementRequestCount adds one to the credential's served-request counter.
func (s *Store) IncrementRequestCount(ctx context.Context, key string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE credentials
		SET request_count = request_count + 1
		WHERE api_key = ?
	`, key)
	if err != nil {
		return fmt.Errorf("increment request count: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment request count: %w", err)
	}
	if affected == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}

func (s *Store) queryCredentials(ctx context.Context, query string, args ...any) ([]core.Credential, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	creds := []core.Credential{}
	for rows.Next() {
		var (
			cred     core.Credential
			source   sql.NullString
			issuedAt int64
		)
		if err := rows.Scan(&cred.ID, &cred.OwnerIdentity, &cred.Name, &cred.Key, &source, &issuedAt, &cred.RequestCount); err != nil {
			return nil, fmt.Errorf("scan credentials: %w", err)
		}
		cred.Source = core.CredentialSource(source.String)
		cred.IssuedAt = time.Unix(issuedAt, 0).UTC()
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	return creds, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
