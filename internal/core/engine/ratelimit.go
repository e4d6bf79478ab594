package engine

import (
	"context"
	"strings"
	"time"

	"github.com/keyrelay/keyrelay/internal/core"
)

// RateLimiter enforces a fixed window per client id.
//
// Up to Limit requests at the tail of one window plus Limit at the head of the
// next can pass within less than one window length.
type RateLimiter struct {
	Store      WindowStore
	Policy     core.WindowPolicy
	Clock      func() time.Time
	IdleTTL    time.Duration
	SweepEvery time.Duration
	OnSweep    func(removed int64, err error)
}

// WindowStore applies a request to a client's window atomically.
//
// Implementations must run the read-modify-write for one client id as a single
// linearizable step and must not serialize unrelated client ids behind one lock.
type WindowStore interface {
	ApplyWindow(ctx context.Context, clientID string, now time.Time, policy core.WindowPolicy) (core.RateWindow, bool, error)
	SweepWindows(ctx context.Context, idleBefore time.Time) (int64, error)
}

// Check reports whether clientID may proceed and records the request.
// Store failures fail open and are returned alongside allow=true.
func (r *RateLimiter) Check(ctx context.Context, clientID string) (bool, error) {
	if r == nil || r.Store == nil {
		return true, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = "unknown"
	}

	_, allowed, err := r.Store.ApplyWindow(ctx, clientID, r.now(), r.policy())
	if err != nil {
		return true, err
	}
	return allowed, nil
}

// Sweep removes windows idle for longer than IdleTTL. The cutoff never falls
// inside the current window length, so a live window is not evicted early.
func (r *RateLimiter) Sweep(ctx context.Context) (int64, error) {
	if r == nil || r.Store == nil {
		return 0, nil
	}
	return r.Store.SweepWindows(ctx, r.now().Add(-r.EffectiveIdleTTL()))
}

// StartJanitor sweeps idle windows every SweepEvery until ctx is done.
func (r *RateLimiter) StartJanitor(ctx context.Context) {
	if r == nil || r.Store == nil || r.SweepEvery <= 0 {
		return
	}

	ticker := time.NewTicker(r.SweepEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := r.Sweep(ctx)
				if r.OnSweep != nil {
					r.OnSweep(removed, err)
				}
			}
		}
	}()
}

func (r *RateLimiter) policy() core.WindowPolicy {
	policy := r.Policy
	if policy.Limit <= 0 {
		policy.Limit = core.DefaultWindowPolicy.Limit
	}
	if policy.Window <= 0 {
		policy.Window = core.DefaultWindowPolicy.Window
	}
	return policy
}

// EffectiveIdleTTL is IdleTTL (ten minutes when unset), raised to the window
// length when shorter.
func (r *RateLimiter) EffectiveIdleTTL() time.Duration {
	ttl := r.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if window := r.policy().Window; ttl < window {
		ttl = window
	}
	return ttl
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
