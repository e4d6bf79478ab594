package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyrelay/keyrelay/internal/core"
)

// applyWindowScript advances one client's window atomically inside redis.
// KEYS[1] window hash; ARGV now_ms, window_ms, limit, ttl_ms.
var applyWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'count', 'start')
local count = tonumber(state[1])
local start = tonumber(state[2])
local allowed = 1

if (not count) or (not start) or (now - start >= window) then
	count = 1
	start = now
elseif count >= limit then
	allowed = 0
else
	count = count + 1
end

redis.call('HSET', KEYS[1], 'count', count, 'start', start, 'last', now)
redis.call('PEXPIRE', KEYS[1], ttl)
return {count, start, allowed}
`)

// RedisWindowStore keeps rate windows in redis so several keyrelay processes
// share one limit. Idle windows expire through key TTLs.
type RedisWindowStore struct {
	rdb redis.UniversalClient

	prefix  string
	idleTTL time.Duration
}

type RedisWindowOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindowStore) {
		if trimmed := strings.Trim(prefix, ":"); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

// WithWindowIdleTTL keeps a window around for ttl after its last request.
// ApplyWindow raises it to the window length when ttl is shorter.
func WithWindowIdleTTL(ttl time.Duration) RedisWindowOption {
	return func(s *RedisWindowStore) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

func NewRedisWindowStore(rdb redis.UniversalClient, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:     rdb,
		prefix:  "keyrelay:ratelimit",
		idleTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyWindow implements WindowStore.
func (s *RedisWindowStore) ApplyWindow(ctx context.Context, clientID string, now time.Time, policy core.WindowPolicy) (core.RateWindow, bool, error) {
	if s == nil || s.rdb == nil {
		return core.RateWindow{}, false, errors.New("redis window store is not initialized")
	}

	ttl := s.idleTTL
	if ttl < policy.Window {
		ttl = policy.Window
	}

	nowMs := now.UTC().UnixMilli()
	values, err := applyWindowScript.Run(ctx, s.rdb, []string{s.key(clientID)},
		nowMs, policy.Window.Milliseconds(), policy.Limit, ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return core.RateWindow{}, false, fmt.Errorf("apply redis rate window: %w", err)
	}
	if len(values) != 3 {
		return core.RateWindow{}, false, fmt.Errorf("apply redis rate window: unexpected reply length %d", len(values))
	}

	window := core.RateWindow{
		ClientID:     clientID,
		RequestCount: int(values[0]),
		WindowStart:  time.UnixMilli(values[1]).UTC(),
		LastSeen:     time.UnixMilli(nowMs).UTC(),
		Blocked:      values[2] == 0,
	}
	return window, values[2] == 1, nil
}

// SweepWindows implements WindowStore. Redis expires idle windows on its own.
func (s *RedisWindowStore) SweepWindows(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping checks connectivity for health reporting.
func (s *RedisWindowStore) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis window store is not initialized")
	}
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisWindowStore) key(clientID string) string {
	return s.prefix + ":" + clientID
}
