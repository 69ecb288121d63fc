// Package activity is the read side of the admin dashboard: the merged
// login feed plus the filters and aggregates shown next to it.
package activity

import (
	"sync"
	"time"

	"loginrelay/internal/dedupe"
	"loginrelay/internal/model"
)

// Board holds the latest merged feed, newest first.
type Board struct {
	mu        sync.RWMutex
	events    []model.LoginEvent
	updatedAt time.Time
}

func NewBoard() *Board {
	return &Board{}
}

// Publish replaces the feed with the deduplicated, sorted events.
func (b *Board) Publish(events []model.LoginEvent) {
	merged := dedupe.Merge(events)
	b.mu.Lock()
	b.events = merged
	b.updatedAt = time.Now().UTC()
	b.mu.Unlock()
}

// Add folds in a pushed event without waiting for the next refresh.
func (b *Board) Add(ev model.LoginEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = dedupe.Merge([]model.LoginEvent{ev}, b.events)
	b.updatedAt = time.Now().UTC()
}

func (b *Board) Snapshot() []model.LoginEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.LoginEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *Board) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

func (b *Board) Clear() {
	b.mu.Lock()
	b.events = nil
	b.updatedAt = time.Now().UTC()
	b.mu.Unlock()
}
