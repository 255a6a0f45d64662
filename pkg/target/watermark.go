package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
)

// SyncStatus is the recorded outcome of a table's latest sync attempt
type SyncStatus string

const (
	StatusSuccess    SyncStatus = "success"
	StatusFailed     SyncStatus = "failed"
	StatusInProgress SyncStatus = "in_progress"
)

// SyncWatermark is the durable per-table sync record. LastWatermark is
// nil for tables that have never completed a successful sync.
type SyncWatermark struct {
	TableName      string
	LastWatermark  *time.Time
	LastSyncStatus SyncStatus
	RowsProcessed  int64
	UpdatedAt      time.Time
}

// statusTable is the control table name within the load schema
const statusTable = "etl_sync_status"

// Store persists sync watermarks in the target database. Commit is a
// single-statement atomic upsert and must be the last action of a
// table's sync attempt: watermark advancement never precedes data
// durability.
type Store struct {
	db     DB
	schema string
	logger *zap.Logger
}

// NewStore creates a watermark store in the configured load schema
func NewStore(db DB, cfg *config.EngineConfig, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		schema: cfg.Target.LoadSchema(),
		logger: logger.With(zap.String("component", "watermark_store")),
	}
}

// EnsureSchema creates the load schema and control table when missing.
// Run during environment validation, before any table is processed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{s.schema}.Sanitize()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			table_name           text PRIMARY KEY,
			last_watermark_value timestamp,
			last_sync_status     text NOT NULL,
			rows_processed       bigint NOT NULL DEFAULT 0,
			updated_at           timestamptz NOT NULL DEFAULT now()
		)`, pgx.Identifier{s.schema}.Sanitize(), statusTable),
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return etlerrors.Wrap(err, etlerrors.ErrorTypeWatermark, "failed to ensure sync status table")
		}
	}
	return nil
}

// Get returns the watermark record for a table, or nil when the table
// has never been synced.
func (s *Store) Get(ctx context.Context, table string) (*SyncWatermark, error) {
	query := fmt.Sprintf(`
		SELECT table_name, last_watermark_value, last_sync_status, rows_processed, updated_at
		FROM %s.%s WHERE table_name = $1`,
		pgx.Identifier{s.schema}.Sanitize(), statusTable)

	var wm SyncWatermark
	err := s.db.QueryRow(ctx, query, table).Scan(
		&wm.TableName, &wm.LastWatermark, &wm.LastSyncStatus, &wm.RowsProcessed, &wm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeWatermark, "failed to read sync status").
			WithDetail("table", table)
	}
	return &wm, nil
}

// Commit atomically upserts a table's sync record. The stored watermark
// only ever advances, and only on success: a failed attempt updates the
// status and row count but leaves the prior watermark intact so the next
// run re-extracts the same window.
func (s *Store) Commit(ctx context.Context, table string, watermark *time.Time, rows int64, status SyncStatus) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.%s (table_name, last_watermark_value, last_sync_status, rows_processed, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (table_name) DO UPDATE SET
			last_watermark_value = CASE
				WHEN EXCLUDED.last_sync_status = 'success'
					AND EXCLUDED.last_watermark_value IS NOT NULL
					AND (%[3]s.last_watermark_value IS NULL
						OR EXCLUDED.last_watermark_value > %[3]s.last_watermark_value)
				THEN EXCLUDED.last_watermark_value
				ELSE %[3]s.last_watermark_value
			END,
			last_sync_status = EXCLUDED.last_sync_status,
			rows_processed   = EXCLUDED.rows_processed,
			updated_at       = now()`,
		pgx.Identifier{s.schema}.Sanitize(), statusTable, statusTable)

	if _, err := s.db.Exec(ctx, query, table, watermark, string(status), rows); err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeWatermark, "failed to commit sync status").
			WithDetail("table", table).
			WithDetail("status", string(status))
	}

	s.logger.Debug("sync status committed",
		zap.String("table", table),
		zap.String("status", string(status)),
		zap.Int64("rows", rows))

	return nil
}
