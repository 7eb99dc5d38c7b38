package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/levelwatch/internal/config"
)

// Querier is the subset of pgxpool.Pool used by the store and writers.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db Querier) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS structural_levels (
		id               UUID PRIMARY KEY,
		symbol           TEXT NOT NULL,
		trading_date     DATE NOT NULL,
		level_type       TEXT NOT NULL,
		price            DOUBLE PRECISION NOT NULL,
		source           TEXT NOT NULL,
		timeframe        TEXT NOT NULL,
		priority         TEXT NOT NULL DEFAULT 'standard',
		description      TEXT,
		touches          INTEGER NOT NULL DEFAULT 0,
		first_touch_time TIMESTAMPTZ,
		last_touch_time  TIMESTAMPTZ,
		imported_by      TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (symbol, trading_date, level_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_structural_levels_symbol_date
		ON structural_levels (symbol, trading_date)`,
	`CREATE TABLE IF NOT EXISTS level_interactions (
		id           UUID PRIMARY KEY,
		symbol       TEXT NOT NULL,
		price        DOUBLE PRECISION NOT NULL,
		volume       BIGINT NOT NULL,
		side         TEXT NOT NULL,
		level_type   TEXT NOT NULL,
		level_price  DOUBLE PRECISION NOT NULL,
		kind         TEXT NOT NULL,
		distance     DOUBLE PRECISION NOT NULL,
		priority     TEXT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_level_interactions_symbol_ts
		ON level_interactions (symbol, ts)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id           UUID PRIMARY KEY,
		symbol       TEXT NOT NULL,
		kind         TEXT NOT NULL,
		priority     TEXT NOT NULL,
		message      TEXT NOT NULL,
		price        DOUBLE PRECISION NOT NULL,
		rule_id      TEXT,
		level_type   TEXT,
		level_price  DOUBLE PRECISION,
		ts           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_symbol_ts
		ON alerts (symbol, ts)`,
}
