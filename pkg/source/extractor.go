package source

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/models"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/registry"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/schema"
)

// watermarkLayouts are the textual datetime formats the source driver
// hands back when parseTime is not enabled on the DSN.
var watermarkLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Extractor builds and executes read queries for one table at a time,
// streaming results as ordered batches.
type Extractor struct {
	guard  *Guard
	logger *zap.Logger
}

// NewExtractor creates an extractor reading through the given guard
func NewExtractor(guard *Guard, logger *zap.Logger) *Extractor {
	return &Extractor{
		guard:  guard,
		logger: logger.With(zap.String("component", "extractor")),
	}
}

// extractionPlan is the resolved query for one table and run
type extractionPlan struct {
	strategy    registry.Strategy // effective strategy for this run
	query       string
	args        []interface{}
	primaryWM   string
	secondaryWM string
}

// Extract streams batches for the table. An incremental table with no
// prior watermark degrades to a full scan for this one run; the watermark
// columns are still tracked so the run can record a starting point.
// Batches arrive ordered by the effective watermark column, so the
// maximum observed value is a safe watermark candidate once every batch
// has been durably loaded.
func (e *Extractor) Extract(ctx context.Context, tc *registry.TableConfig, lastWatermark *time.Time) (<-chan *models.ExtractionBatch, <-chan error) {
	batchChan := make(chan *models.ExtractionBatch, 1)
	errorChan := make(chan error, 1)

	go func() {
		defer close(batchChan)
		defer close(errorChan)

		plan, err := e.buildPlan(ctx, tc, lastWatermark)
		if err != nil {
			errorChan <- err
			return
		}

		if err := e.streamBatches(ctx, tc, plan, batchChan); err != nil {
			errorChan <- err
		}
	}()

	return batchChan, errorChan
}

// buildPlan resolves watermark columns and builds the read query
func (e *Extractor) buildPlan(ctx context.Context, tc *registry.TableConfig, lastWatermark *time.Time) (*extractionPlan, error) {
	plan := &extractionPlan{
		strategy:    tc.Strategy,
		primaryWM:   tc.WatermarkColumn,
		secondaryWM: tc.SecondaryWatermarkColumn,
	}

	// Discover watermark columns from the catalog when the registry
	// doesn't declare them.
	if tc.Strategy == registry.StrategyIncremental && plan.primaryWM == "" {
		columns, err := e.guard.Columns(ctx, tc.Name)
		if err != nil {
			return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeExtraction, "failed to read column catalog")
		}
		resolved := schema.Resolve(columns)
		if !resolved.HasWatermark() {
			// Configuration warning, not a failure: the table simply
			// cannot sync incrementally.
			e.logger.Warn("no timestamp column found, falling back to full extraction",
				zap.String("table", tc.Name))
			plan.strategy = registry.StrategyFull
		} else {
			plan.primaryWM = resolved.Updated
			if plan.secondaryWM == "" {
				plan.secondaryWM = resolved.Created
			}
			if resolved.Fallback {
				e.logger.Warn("no modification-time pattern matched, using first timestamp column",
					zap.String("table", tc.Name),
					zap.String("column", resolved.Updated))
			}
		}
	}

	// First-ever sync of an incremental table scans everything.
	incremental := plan.strategy == registry.StrategyIncremental && lastWatermark != nil

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(quoteIdent(tc.Name))

	if incremental {
		// Strict greater-than on both columns: rows at exactly the last
		// watermark were captured by the run that recorded it, so ties
		// are neither dropped nor duplicated across runs.
		sb.WriteString(" WHERE ")
		sb.WriteString(quoteIdent(plan.primaryWM))
		sb.WriteString(" > ?")
		plan.args = append(plan.args, *lastWatermark)
		if plan.secondaryWM != "" && plan.secondaryWM != plan.primaryWM {
			sb.WriteString(" OR ")
			sb.WriteString(quoteIdent(plan.secondaryWM))
			sb.WriteString(" > ?")
			plan.args = append(plan.args, *lastWatermark)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteIdent(plan.primaryWM))
	} else {
		switch {
		case tc.PrimaryKey != "":
			// Primary-key order keeps full-scan chunking deterministic.
			sb.WriteString(" ORDER BY ")
			sb.WriteString(quoteIdent(tc.PrimaryKey))
		case plan.primaryWM != "":
			sb.WriteString(" ORDER BY ")
			sb.WriteString(quoteIdent(plan.primaryWM))
		}
	}

	plan.query = sb.String()
	return plan, nil
}

// streamBatches executes the plan and chunks rows into batches
func (e *Extractor) streamBatches(ctx context.Context, tc *registry.TableConfig, plan *extractionPlan, batchChan chan<- *models.ExtractionBatch) error {
	rows, err := e.guard.Query(ctx, plan.query, plan.args...)
	if err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeExtraction, "extraction query failed")
	}
	defer rows.Close() // Ignore close error

	columns, err := rows.Columns()
	if err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeExtraction, "failed to read result columns")
	}

	batch := e.newBatch(tc.Name, columns, tc.BatchSize)
	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		select {
		case <-ctx.Done():
			batch.Release()
			return ctx.Err()
		default:
		}

		if err := rows.Scan(scanArgs...); err != nil {
			batch.Release()
			return etlerrors.Wrap(err, etlerrors.ErrorTypeData, "failed to scan source row")
		}

		record := models.NewRecord(tc.Name)
		for i, col := range columns {
			record.SetData(col, convertSourceValue(values[i]))
		}
		batch.Records = append(batch.Records, record)

		if wm, ok := rowWatermark(record, plan.primaryWM, plan.secondaryWM); ok && wm.After(batch.MaxWatermark) {
			batch.MaxWatermark = wm
		}

		if len(batch.Records) >= tc.BatchSize {
			select {
			case batchChan <- batch:
				batch = e.newBatch(tc.Name, columns, tc.BatchSize)
			case <-ctx.Done():
				batch.Release()
				return ctx.Err()
			}
		}
	}

	if err := rows.Err(); err != nil {
		batch.Release()
		return etlerrors.Wrap(err, etlerrors.ErrorTypeExtraction, "error iterating source rows")
	}

	// Final partial batch
	if len(batch.Records) > 0 {
		select {
		case batchChan <- batch:
		case <-ctx.Done():
			batch.Release()
			return ctx.Err()
		}
	}

	return nil
}

func (e *Extractor) newBatch(table string, columns []string, capacity int) *models.ExtractionBatch {
	return &models.ExtractionBatch{
		Table:   table,
		Columns: columns,
		Records: make([]*models.Record, 0, capacity),
	}
}

// rowWatermark returns the highest watermark value carried by the row
// across both watermark columns. The OR predicate means either column
// may independently indicate the change.
func rowWatermark(record *models.Record, primary, secondary string) (time.Time, bool) {
	var max time.Time
	var found bool
	for _, col := range []string{primary, secondary} {
		if col == "" {
			continue
		}
		if v, ok := record.GetData(col); ok {
			if t, ok := parseWatermarkValue(v); ok {
				found = true
				if t.After(max) {
					max = t
				}
			}
		}
	}
	return max, found
}

// parseWatermarkValue coerces a scanned column value into a time
func parseWatermarkValue(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range watermarkLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	case []byte:
		return parseWatermarkValue(string(val))
	}
	return time.Time{}, false
}

// convertSourceValue normalizes driver values for loading
func convertSourceValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case sql.RawBytes:
		return string(val)
	default:
		return v
	}
}

// quoteIdent backtick-quotes a MySQL identifier
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
