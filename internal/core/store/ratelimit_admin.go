package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyrelay/keyrelay/internal/core"
)

// ErrNoSelector is returned when a rate window query names no clients.
var ErrNoSelector = errors.New("must specify --all, --client, --prefix or --blocked")

// RateLimitQuery selects stored rate windows for the admin commands. At least
// one of All, ClientID, Prefix or Blocked must be set; IdleBefore narrows any
// of them to windows last seen before that instant.
type RateLimitQuery struct {
	All        bool
	ClientID   string
	Prefix     string
	Blocked    bool
	IdleBefore time.Time
}

// Validate reports ErrNoSelector for an empty query.
func (q RateLimitQuery) Validate() error {
	if q.All || q.Blocked || strings.TrimSpace(q.ClientID) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return ErrNoSelector
}

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var (
		conds []string
		args  []any
	)
	switch {
	case strings.TrimSpace(q.ClientID) != "":
		conds = append(conds, "client_id = ?")
		args = append(args, strings.TrimSpace(q.ClientID))
	case strings.TrimSpace(q.Prefix) != "":
		conds = append(conds, `client_id LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(strings.TrimSpace(q.Prefix))+"%")
	}
	if q.Blocked {
		conds = append(conds, "denied = 1")
	}
	if !q.IdleBefore.IsZero() {
		conds = append(conds, "last_seen < ?")
		args = append(args, q.IdleBefore.UTC().UnixMilli())
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// scoped validates q and prepares a statement over the rate_limits table.
func (s *Store) scoped(ctx context.Context, q RateLimitQuery, format string) (context.Context, string, []any, error) {
	if s == nil || s.DB == nil {
		return nil, "", nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	where, args, err := q.whereClause()
	if err != nil {
		return nil, "", nil, err
	}
	return ctx, fmt.Sprintf(format, where), args, nil
}

// ListRateWindows returns matching windows ordered by client.
func (s *Store) ListRateWindows(ctx context.Context, q RateLimitQuery) ([]core.RateWindow, error) {
	ctx, stmt, args, err := s.scoped(ctx, q,
		`SELECT client_id, request_count, window_start, last_seen, denied FROM rate_limits %s ORDER BY client_id`)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list rate windows: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	windows := []core.RateWindow{}
	for rows.Next() {
		var (
			w                     core.RateWindow
			windowStart, lastSeen int64
			denied                int
		)
		if err := rows.Scan(&w.ClientID, &w.RequestCount, &windowStart, &lastSeen, &denied); err != nil {
			return nil, fmt.Errorf("scan rate windows: %w", err)
		}
		w.WindowStart = time.UnixMilli(windowStart).UTC()
		w.LastSeen = time.UnixMilli(lastSeen).UTC()
		w.Blocked = denied != 0
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate windows: %w", err)
	}
	return windows, nil
}

// CountRateWindows counts matching windows.
func (s *Store) CountRateWindows(ctx context.Context, q RateLimitQuery) (int, error) {
	ctx, stmt, args, err := s.scoped(ctx, q, `SELECT COUNT(*) FROM rate_limits %s`)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate windows: %w", err)
	}
	return count, nil
}

// ResetRateWindows deletes matching windows so those clients start fresh.
func (s *Store) ResetRateWindows(ctx context.Context, q RateLimitQuery) (int64, error) {
	ctx, stmt, args, err := s.scoped(ctx, q, `DELETE FROM rate_limits %s`)
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate windows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate windows: %w", err)
	}
	return affected, nil
}
