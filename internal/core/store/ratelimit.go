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

// applyWindowSQL advances one client's window in a single statement. SQLite
// evaluates every SET expression against the pre-update row, so the CASE
// branches agree on whether the window expired.
const applyWindowSQL = `
	INSERT INTO rate_limits (client_id, request_count, window_start, last_seen, denied)
	VALUES (?, 1, ?, ?, 0)
	ON CONFLICT(client_id) DO UPDATE SET
		request_count = CASE
			WHEN ? - rate_limits.window_start >= ? THEN 1
			WHEN rate_limits.request_count >= ? THEN rate_limits.request_count
			ELSE rate_limits.request_count + 1
		END,
		window_start = CASE
			WHEN ? - rate_limits.window_start >= ? THEN ?
			ELSE rate_limits.window_start
		END,
		last_seen = ?,
		denied = CASE
			WHEN ? - rate_limits.window_start >= ? THEN 0
			WHEN rate_limits.request_count >= ? THEN 1
			ELSE 0
		END
	RETURNING request_count, window_start, last_seen, denied
`

// ApplyWindow records one request for clientID and reports whether it fits in
// the current window.
func (s *Store) ApplyWindow(ctx context.Context, clientID string, now time.Time, policy core.WindowPolicy) (core.RateWindow, bool, error) {
	if s == nil || s.DB == nil {
		return core.RateWindow{}, false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return core.RateWindow{}, false, errors.New("client id is required")
	}

	nowMs := now.UTC().UnixMilli()
	windowMs := policy.Window.Milliseconds()
	limit := policy.Limit

	var (
		requestCount int
		windowStart  int64
		lastSeen     int64
		denied       int
	)

	row := s.DB.QueryRowContext(ctx, applyWindowSQL,
		clientID, nowMs, nowMs,
		nowMs, windowMs, limit,
		nowMs, windowMs, nowMs,
		nowMs,
		nowMs, windowMs, limit,
	)
	if err := row.Scan(&requestCount, &windowStart, &lastSeen, &denied); err != nil {
		return core.RateWindow{}, false, fmt.Errorf("apply rate window: %w", err)
	}

	window := core.RateWindow{
		ClientID:     clientID,
		RequestCount: requestCount,
		WindowStart:  time.UnixMilli(windowStart).UTC(),
		LastSeen:     time.UnixMilli(lastSeen).UTC(),
		Blocked:      denied != 0,
	}
	return window, denied == 0, nil
}

// GetRateWindow returns the stored window for clientID, or nil when none exists.
func (s *Store) GetRateWindow(ctx context.Context, clientID string) (*core.RateWindow, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errors.New("client id is required")
	}

	var (
		requestCount int
		windowStart  int64
		lastSeen     int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT request_count, window_start, last_seen
		FROM rate_limits
		WHERE client_id = ?
	`, clientID)

	if err := row.Scan(&requestCount, &windowStart, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate window: %w", err)
	}

	return &core.RateWindow{
		ClientID:     clientID,
		RequestCount: requestCount,
		WindowStart:  time.UnixMilli(windowStart).UTC(),
		LastSeen:     time.UnixMilli(lastSeen).UTC(),
	}, nil
}

// SweepWindows deletes windows whose last request is older than idleBefore.
func (s *Store) SweepWindows(ctx context.Context, idleBefore time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limits WHERE last_seen < ?`, idleBefore.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep rate windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rate windows: %w", err)
	}
	return affected, nil
}
