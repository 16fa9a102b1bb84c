package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevinKickass/OpenRigCore/internal/config"
)

// querier is the subset of *pgxpool.Pool the client uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresClient struct {
	pool *pgxpool.Pool
	db   querier
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool, db: pool}, nil
}

func (p *PostgresClient) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS rig_readings (
	id          UUID PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	source      TEXT NOT NULL,
	peripheral  SMALLINT NOT NULL,
	value       DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS rig_readings_source_time ON rig_readings (source, recorded_at DESC);

CREATE TABLE IF NOT EXISTS rig_transitions (
	id         BIGSERIAL PRIMARY KEY,
	run_id     UUID NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rig_transitions_run ON rig_transitions (run_id, at);
`

// EnsureSchema creates the reading and transition tables if they are missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
