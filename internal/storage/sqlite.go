package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

func NewSQLite(dsn string) (Backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:loginrelay.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	return &sqlStore{
		db: db,
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS kv (
				k TEXT PRIMARY KEY,
				v BLOB NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		},
		qGet: `SELECT v FROM kv WHERE k = ?`,
		qUpsert: `INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		qDelete: `DELETE FROM kv WHERE k = ?`,
		qTake:   `DELETE FROM kv WHERE k = ? RETURNING v`,
	}, nil
}
