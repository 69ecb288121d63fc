package transport

import (
	"sync"
	"time"

	"loginrelay/internal/model"
)

// ReplayGuard remembers recently accepted event keys so a broadcast that is
// delivered twice (broker redelivery, HTTP retry) is appended once.
type ReplayGuard struct {
	mu    sync.Mutex
	items map[model.EventKey]time.Time
	ttl   time.Duration
	max   int
}

func NewReplayGuard(ttl time.Duration, max int) *ReplayGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &ReplayGuard{items: make(map[model.EventKey]time.Time), ttl: ttl, max: max}
}

func (g *ReplayGuard) Seen(key model.EventKey, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ts, ok := g.items[key]; ok && now.Sub(ts) <= g.ttl {
		return true
	}
	g.items[key] = now
	if len(g.items) > g.max {
		g.compact(now)
	}
	return false
}

func (g *ReplayGuard) compact(now time.Time) {
	for k, ts := range g.items {
		if now.Sub(ts) > g.ttl {
			delete(g.items, k)
		}
	}
}
