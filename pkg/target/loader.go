package target

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/models"
)

// Loader appends extracted batches into the analytics schema. It is
// stateless and retry-safe: truncation policy for full refreshes belongs
// to the orchestration boundary, never here.
type Loader struct {
	db         DB
	schema     string
	chunkLimit int
	logger     *zap.Logger
}

// NewLoader creates a loader writing into the configured load schema.
// Dry-run configurations redirect to the isolated test schema.
func NewLoader(db DB, cfg *config.EngineConfig, logger *zap.Logger) *Loader {
	return &Loader{
		db:         db,
		schema:     cfg.Target.LoadSchema(),
		chunkLimit: cfg.Target.ChunkLimit,
		logger:     logger.With(zap.String("component", "loader")),
	}
}

// Schema returns the schema the loader writes into
func (l *Loader) Schema() string {
	return l.schema
}

// Load appends one batch, splitting it when it exceeds the target's
// per-statement chunk limit. Any write failure aborts immediately; the
// caller owns watermark handling.
func (l *Loader) Load(ctx context.Context, batch *models.ExtractionBatch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	table := strings.ToLower(batch.Table)
	columns := make([]string, len(batch.Columns))
	for i, col := range batch.Columns {
		columns[i] = strings.ToLower(col)
	}

	rows := batch.Rows()
	var written int64

	for start := 0; start < len(rows); start += l.chunkLimit {
		end := start + l.chunkLimit
		if end > len(rows) {
			end = len(rows)
		}

		n, err := l.db.CopyFrom(ctx,
			pgx.Identifier{l.schema, table},
			columns,
			pgx.CopyFromRows(rows[start:end]))
		if err != nil {
			return written, etlerrors.Wrap(err, etlerrors.ErrorTypeLoad, "bulk copy failed").
				WithDetail("table", batch.Table).
				WithDetail("chunk_rows", end-start)
		}
		written += n
	}

	l.logger.Debug("batch loaded",
		zap.String("table", table),
		zap.Int64("rows", written))

	return written, nil
}

// Truncate clears a table ahead of a full refresh. Exposed separately so
// the orchestrator can apply truncation policy without the loader
// carrying state.
func (l *Loader) Truncate(ctx context.Context, table string) error {
	ident := pgx.Identifier{l.schema, strings.ToLower(table)}
	if _, err := l.db.Exec(ctx, "TRUNCATE TABLE "+ident.Sanitize()); err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeLoad, "truncate failed").
			WithDetail("table", table)
	}
	return nil
}
