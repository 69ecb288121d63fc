package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewPostgres(dsn string) (Backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/loginrelay?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{
		db: db,
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS kv (
				k TEXT PRIMARY KEY,
				v BYTEA NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
		},
		qGet: `SELECT v FROM kv WHERE k = $1`,
		qUpsert: `INSERT INTO kv (k, v, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, updated_at = EXCLUDED.updated_at`,
		qDelete: `DELETE FROM kv WHERE k = $1`,
		qTake:   `DELETE FROM kv WHERE k = $1 RETURNING v`,
	}, nil
}
