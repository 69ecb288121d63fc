package metrics

import (
	"errors"
	"testing"
)

func TestCounters(t *testing.T) {
	s := NewStore(10)
	s.Delivered("handoff")
	s.Delivered("handoff")
	s.Failed("broadcast", errors.New("no broker"))
	s.Dropped("broadcast")

	h, ok := s.Get("handoff")
	if !ok || h.Delivered != 2 {
		t.Fatalf("handoff counters: %+v", h)
	}
	b, _ := s.Get("broadcast")
	if b.Failed != 1 || b.Dropped != 1 || b.LastError != "no broker" {
		t.Fatalf("broadcast counters: %+v", b)
	}
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Strategy != "broadcast" {
		t.Fatalf("snapshot order: %+v", snap)
	}
}

func TestLimitEvictsOldest(t *testing.T) {
	s := NewStore(2)
	s.Delivered("a")
	s.Delivered("b")
	s.Delivered("c")
	if len(s.Snapshot()) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(s.Snapshot()))
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatalf("newest strategy evicted")
	}
}

func TestClearAndNil(t *testing.T) {
	s := NewStore(0)
	s.Delivered("relay")
	s.Clear()
	if len(s.Snapshot()) != 0 {
		t.Fatalf("expected empty after clear")
	}
	var nilStore *Store
	nilStore.Delivered("x")
	if nilStore.Snapshot() != nil {
		t.Fatalf("nil store snapshot should be nil")
	}
}
