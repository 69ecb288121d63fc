package dedupe

import (
	"sort"

	"loginrelay/internal/model"
)

// Events keeps the first occurrence of every (userId, timestamp) key and
// drops events missing either field. Survivors keep their input order.
func Events(events []model.LoginEvent) []model.LoginEvent {
	seen := NewSeenSet(len(events))
	out := make([]model.LoginEvent, 0, len(events))
	for _, ev := range events {
		if !ev.Valid() {
			continue
		}
		if seen.Seen(ev.Key()) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// SortNewestFirst orders by timestamp descending; ties keep their order.
func SortNewestFirst(events []model.LoginEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp > events[j].Timestamp
	})
}

// Merge concatenates the sources in order, dedupes and sorts newest first.
func Merge(sources ...[]model.LoginEvent) []model.LoginEvent {
	total := 0
	for _, src := range sources {
		total += len(src)
	}
	all := make([]model.LoginEvent, 0, total)
	for _, src := range sources {
		all = append(all, src...)
	}
	out := Events(all)
	SortNewestFirst(out)
	return out
}

type SeenSet struct {
	items map[model.EventKey]struct{}
}

func NewSeenSet(hint int) *SeenSet {
	return &SeenSet{items: make(map[model.EventKey]struct{}, hint)}
}

// Seen records key and reports whether it was already present.
func (s *SeenSet) Seen(key model.EventKey) bool {
	if _, ok := s.items[key]; ok {
		return true
	}
	s.items[key] = struct{}{}
	return false
}

func (s *SeenSet) Len() int {
	return len(s.items)
}
