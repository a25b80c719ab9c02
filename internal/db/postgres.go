package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &DB{Pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS request_logs (
    id           BIGSERIAL PRIMARY KEY,
    account_id   TEXT NOT NULL,
    model        TEXT NOT NULL,
    provider     TEXT NOT NULL DEFAULT '',
    stream       BOOLEAN NOT NULL DEFAULT FALSE,
    status_code  INTEGER NOT NULL,
    usage_charge DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS request_logs_account_ts ON request_logs (account_id, timestamp);
`

// EnsureSchema creates the request log table if it does not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, schema)
	return err
}

func (db *DB) Close() {
	db.Pool.Close()
}
