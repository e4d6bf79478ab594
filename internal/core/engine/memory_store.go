package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/keyrelay/keyrelay/internal/core"
)

const windowShards = 64

// MemoryWindowStore keeps rate windows in process memory, striped by client id.
type MemoryWindowStore struct {
	shards [windowShards]windowShard
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string]*core.RateWindow
}

// NewMemoryWindowStore returns an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	s := &MemoryWindowStore{}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]*core.RateWindow)
	}
	return s
}

// ApplyWindow implements WindowStore.
func (s *MemoryWindowStore) ApplyWindow(_ context.Context, clientID string, now time.Time, policy core.WindowPolicy) (core.RateWindow, bool, error) {
	shard := s.shard(clientID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	next, allowed := policy.Advance(shard.windows[clientID], clientID, now)
	shard.windows[clientID] = &next
	return next, allowed, nil
}

// SweepWindows implements WindowStore.
func (s *MemoryWindowStore) SweepWindows(_ context.Context, idleBefore time.Time) (int64, error) {
	var removed int64
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for id, window := range shard.windows {
			if window.LastSeen.Before(idleBefore) {
				delete(shard.windows, id)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// Windows returns a snapshot of all windows ordered by client id.
func (s *MemoryWindowStore) Windows() []core.RateWindow {
	out := []core.RateWindow{}
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for _, window := range shard.windows {
			out = append(out, *window)
		}
		shard.mu.Unlock()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ClientID < out[b].ClientID })
	return out
}

func (s *MemoryWindowStore) shard(clientID string) *windowShard {
	return &s.shards[xxhash.Sum64String(clientID)%windowShards]
}
