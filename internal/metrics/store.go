package metrics

import (
	"sort"
	"sync"
	"time"
)

// StrategyCounters tracks delivery outcomes of one transport strategy.
type StrategyCounters struct {
	Strategy  string    `json:"strategy"`
	Delivered int64     `json:"delivered"`
	Failed    int64     `json:"failed"`
	Dropped   int64     `json:"dropped"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	mu         sync.RWMutex
	byStrategy map[string]*StrategyCounters
	limit      int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 32
	}
	return &Store{
		byStrategy: make(map[string]*StrategyCounters),
		limit:      limit,
	}
}

func (s *Store) Delivered(strategy string) {
	s.update(strategy, func(c *StrategyCounters) { c.Delivered++ })
}

func (s *Store) Failed(strategy string, err error) {
	s.update(strategy, func(c *StrategyCounters) {
		c.Failed++
		if err != nil {
			c.LastError = err.Error()
		}
	})
}

// Dropped counts messages that were received but rejected or had nowhere to go.
func (s *Store) Dropped(strategy string) {
	s.update(strategy, func(c *StrategyCounters) { c.Dropped++ })
}

func (s *Store) update(strategy string, fn func(*StrategyCounters)) {
	if s == nil || strategy == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byStrategy[strategy]
	if !ok {
		c = &StrategyCounters{Strategy: strategy}
		s.byStrategy[strategy] = c
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	if len(s.byStrategy) > s.limit {
		s.evictOldest(strategy)
	}
}

func (s *Store) Get(strategy string) (StrategyCounters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byStrategy[strategy]
	if !ok {
		return StrategyCounters{}, false
	}
	return *c, true
}

// Snapshot returns all counters ordered by strategy name.
func (s *Store) Snapshot() []StrategyCounters {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StrategyCounters, 0, len(s.byStrategy))
	for _, c := range s.byStrategy {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

func (s *Store) evictOldest(keep string) {
	var oldestKey string
	var oldest time.Time
	for k, c := range s.byStrategy {
		if k == keep {
			continue
		}
		if oldestKey == "" || c.UpdatedAt.Before(oldest) {
			oldestKey = k
			oldest = c.UpdatedAt
		}
	}
	if oldestKey != "" {
		delete(s.byStrategy, oldestKey)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStrategy = make(map[string]*StrategyCounters)
}
