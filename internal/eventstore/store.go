// Package eventstore keeps the bounded, append-only login log of one origin
// namespace. Every operation is best-effort: failures are logged, never
// returned, so login tracking cannot break the login itself.
package eventstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"loginrelay/internal/dedupe"
	"loginrelay/internal/model"
	"loginrelay/internal/storage"
)

const DefaultCapacity = 100

type Options struct {
	Namespace    string
	CanonicalKey string
	LegacyKeys   []string
	Capacity     int
}

type Store struct {
	backend storage.Backend
	logger  *slog.Logger
	opts    Options
	// serializes read-modify-write inside this process; other processes
	// writing the same namespace can still lose updates
	mu sync.Mutex
}

func New(backend storage.Backend, opts Options, logger *slog.Logger) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.CanonicalKey == "" {
		opts.CanonicalKey = "unihelp_login_events"
	}
	return &Store{backend: backend, logger: logger, opts: opts}
}

func (s *Store) Namespace() string {
	return s.opts.Namespace
}

func (s *Store) Capacity() int {
	return s.opts.Capacity
}

func (s *Store) Append(ctx context.Context, ev model.LoginEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events, err := s.load(ctx, s.opts.CanonicalKey)
	if err != nil {
		s.warn("login event not stored, current log unreadable", "user_id", ev.UserID, "timestamp", ev.Timestamp, "err", err)
		return
	}
	events = append(events, ev)
	events = trimFront(events, s.opts.Capacity)
	if err := s.write(ctx, events); err != nil {
		s.warn("login event not stored", "user_id", ev.UserID, "timestamp", ev.Timestamp, "err", err)
	}
}

// ReadAll returns the stored events in insertion order. Missing or corrupt
// data reads as empty.
func (s *Store) ReadAll(ctx context.Context) []model.LoginEvent {
	return s.read(ctx, s.opts.CanonicalKey)
}

func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, 1+len(s.opts.LegacyKeys))
	keys = append(keys, storage.Key(s.opts.Namespace, s.opts.CanonicalKey))
	for _, k := range s.opts.LegacyKeys {
		keys = append(keys, storage.Key(s.opts.Namespace, k))
	}
	if err := s.backend.Delete(ctx, keys...); err != nil {
		s.warn("clear login events failed", "err", err)
	}
}

// Migrate folds legacy keys into the canonical one and removes them. It
// returns how many legacy events were carried over.
func (s *Store) Migrate(ctx context.Context) int {
	if len(s.opts.LegacyKeys) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var legacy []model.LoginEvent
	var found []string
	for _, k := range s.opts.LegacyKeys {
		events := s.read(ctx, k)
		if len(events) == 0 {
			continue
		}
		legacy = append(legacy, events...)
		found = append(found, storage.Key(s.opts.Namespace, k))
	}
	if len(found) == 0 {
		return 0
	}
	current, err := s.load(ctx, s.opts.CanonicalKey)
	if err != nil {
		s.warn("legacy migration skipped, current log unreadable", "err", err)
		return 0
	}
	merged := dedupe.Events(append(current, legacy...))
	merged = trimFront(merged, s.opts.Capacity)
	if err := s.write(ctx, merged); err != nil {
		s.warn("legacy migration not written, legacy keys kept", "err", err)
		return 0
	}
	if err := s.backend.Delete(ctx, found...); err != nil {
		s.warn("legacy keys not removed", "err", err)
	}
	if s.logger != nil {
		s.logger.Info("migrated legacy login events", "namespace", s.opts.Namespace, "keys", len(found), "events", len(legacy))
	}
	return len(legacy)
}

func (s *Store) read(ctx context.Context, key string) []model.LoginEvent {
	events, err := s.load(ctx, key)
	if err != nil {
		s.warn("read login events failed", "key", key, "err", err)
		return nil
	}
	return events
}

// load returns an error only when the backend failed. Absent or corrupt
// data reads as empty and may be overwritten.
func (s *Store) load(ctx context.Context, key string) ([]model.LoginEvent, error) {
	data, err := s.backend.Get(ctx, storage.Key(s.opts.Namespace, key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	events, err := model.DecodeEvents(data)
	if err != nil {
		if !errors.Is(err, model.ErrEmptyPayload) {
			s.warn("stored login events unreadable, treating as empty", "key", key, "err", err)
		}
		return nil, nil
	}
	return events, nil
}

func (s *Store) write(ctx context.Context, events []model.LoginEvent) error {
	data, err := model.EncodeEvents(events)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, storage.Key(s.opts.Namespace, s.opts.CanonicalKey), data)
}

func (s *Store) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, append([]any{"namespace", s.opts.Namespace}, args...)...)
	}
}

func trimFront(events []model.LoginEvent, capacity int) []model.LoginEvent {
	if len(events) <= capacity {
		return events
	}
	return append([]model.LoginEvent(nil), events[len(events)-capacity:]...)
}
