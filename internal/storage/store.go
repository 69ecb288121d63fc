package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"loginrelay/internal/config"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Backend is a per-origin key-value store. Values are opaque bytes; the
// event store keeps one JSON document per key.
type Backend interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// Take returns the value and removes it, so only one reader gets it.
	Take(ctx context.Context, key string) ([]byte, error)
	Close() error
}

func NewBackend(cfg config.StorageConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemory(cfg.MaxValueBytes), nil
	case "sqlite":
		b, err = NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		b, err = NewPostgres(cfg.DSN)
	case "redis":
		b, err = NewRedis(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.MaxValueBytes > 0 {
		b = WithQuota(b, cfg.MaxValueBytes)
	}
	return b, nil
}

// Key scopes key to an origin namespace.
func Key(namespace, key string) string {
	return namespace + ":" + key
}

type quotaBackend struct {
	Backend
	max int
}

// WithQuota rejects writes larger than max bytes, the way a browser store
// rejects writes past its quota.
func WithQuota(b Backend, max int) Backend {
	return &quotaBackend{Backend: b, max: max}
}

func (q *quotaBackend) Set(ctx context.Context, key string, value []byte) error {
	if q.max > 0 && len(value) > q.max {
		return fmt.Errorf("%w: %d bytes > %d", ErrQuotaExceeded, len(value), q.max)
	}
	return q.Backend.Set(ctx, key, value)
}

// sqlStore implements Backend over database/sql; drivers differ only in
// placeholder syntax and DDL.
type sqlStore struct {
	db      *sql.DB
	ddl     []string
	qGet    string
	qUpsert string
	qDelete string
	qTake   string
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, s.qGet, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.qUpsert, key, value, nowMillis())
	return err
}

func (s *sqlStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.qDelete)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Take(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, s.qTake, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
