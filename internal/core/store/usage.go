package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keyrelay/keyrelay/internal/core"
)

// AppendUsage writes one proxied call to the usage log.
func (s *Store) AppendUsage(ctx context.Context, entry core.UsageEntry) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	params := entry.Parameters
	if params == nil {
		params = []core.QueryParam{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode usage parameters: %w", err)
	}

	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO usage_log (api_key, endpoint, parameters, recorded_at)
		VALUES (?, ?, ?, ?)
	`, entry.APIKey, entry.Endpoint, string(payload), recordedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store usage: %w", err)
	}
	return nil
}

// ListUsage returns the most recent usage entries for a key, newest first.
func (s *Store) ListUsage(ctx context.Context, key string, limit int) ([]core.UsageEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, api_key, endpoint, parameters, recorded_at
		FROM usage_log
		WHERE api_key = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.UsageEntry{}
	for rows.Next() {
		var (
			entry      core.UsageEntry
			payload    string
			recordedAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.APIKey, &entry.Endpoint, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &entry.Parameters); err != nil {
			return nil, fmt.Errorf("decode usage parameters: %w", err)
		}
		entry.RecordedAt = time.UnixMilli(recordedAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	return entries, nil
}
