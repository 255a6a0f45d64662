// Package target writes extracted batches into the analytics PostgreSQL
// database and keeps the per-table sync-status control table there.
package target

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
)

// DB is the narrow slice of pgxpool.Pool the target layer depends on.
// Tests substitute an in-memory fake.
type DB interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Connect opens the target connection pool. Both the loader and the
// watermark store share it.
func Connect(ctx context.Context, cfg *config.EngineConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Target.DSN)
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "invalid target DSN")
	}

	// Workers plus one connection for watermark bookkeeping.
	poolCfg.MaxConns = int32(cfg.Performance.GetWorkers() + 1)
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	if cfg.Timeouts.Connection > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.Timeouts.Connection
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConnection, "failed to create target pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConnection, "target ping failed")
	}

	return pool, nil
}
