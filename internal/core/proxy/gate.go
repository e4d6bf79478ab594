package proxy

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// gate bounds concurrent forwards for one definition and optionally paces
// them with a token bucket.
type gate struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

func newGate(def *Definition) *gate {
	g := &gate{}
	if def.MaxConcurrent > 0 {
		g.sem = make(chan struct{}, def.MaxConcurrent)
	}
	if def.RatePerSecond > 0 {
		burst := def.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(def.RatePerSecond), burst)
	}
	return g
}

// acquire waits for a slot and a token until ctx ends.
func (g *gate) acquire(ctx context.Context) (func(), bool) {
	release := func() {}
	if g.sem != nil {
		select {
		case g.sem <- struct{}{}:
			release = func() { <-g.sem }
		case <-ctx.Done():
			return nil, false
		}
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			release()
			return nil, false
		}
	}
	return release, true
}

type gateSet struct {
	mu    sync.Mutex
	gates map[string]*gate
}

func (s *gateSet) get(def *Definition) *gate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gates == nil {
		s.gates = make(map[string]*gate)
	}
	key := def.Name + "\x00" + def.APIKey
	g, ok := s.gates[key]
	if !ok {
		g = newGate(def)
		s.gates[key] = g
	}
	return g
}
