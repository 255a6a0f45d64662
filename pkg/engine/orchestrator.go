// Package engine drives sync runs: table selection, priority ordering,
// the worker pool, per-table retries, and run reporting. Table failures
// are isolated; only configuration and access errors abort a run.
package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/metrics"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/models"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/observability"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/registry"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/target"
)

// Mode selects the extraction behavior of a run
type Mode string

const (
	// ModeFull forces a full refresh of every selected table
	ModeFull Mode = "full"
	// ModeIncremental extracts changes since each table's watermark
	ModeIncremental Mode = "incremental"
)

// Extractor streams batches for one table
type Extractor interface {
	Extract(ctx context.Context, tc *registry.TableConfig, lastWatermark *time.Time) (<-chan *models.ExtractionBatch, <-chan error)
}

// Loader writes batches into the target and applies truncation on
// behalf of the orchestrator
type Loader interface {
	Load(ctx context.Context, batch *models.ExtractionBatch) (int64, error)
	Truncate(ctx context.Context, table string) error
}

// WatermarkStore persists per-table sync state
type WatermarkStore interface {
	Get(ctx context.Context, table string) (*target.SyncWatermark, error)
	Commit(ctx context.Context, table string, watermark *time.Time, rows int64, status target.SyncStatus) error
}

// Options selects the table set for one run
type Options struct {
	Mode       Mode
	Tables     []string
	Importance []registry.Importance
}

// Orchestrator coordinates one sync run at a time
type Orchestrator struct {
	cfg        *config.EngineConfig
	reg        *registry.Registry
	extractor  Extractor
	loader     Loader
	watermarks WatermarkStore
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewOrchestrator wires the engine together. collector may be nil when
// metrics are disabled.
func NewOrchestrator(cfg *config.EngineConfig, reg *registry.Registry, extractor Extractor, loader Loader, watermarks WatermarkStore, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		reg:        reg,
		extractor:  extractor,
		loader:     loader,
		watermarks: watermarks,
		collector:  collector,
		logger:     logger.With(zap.String("component", "orchestrator")),
	}
}

// selectTables resolves Options into a priority-ordered table list
func (o *Orchestrator) selectTables(opts Options) ([]*registry.TableConfig, error) {
	var tables []*registry.TableConfig

	switch {
	case len(opts.Tables) > 0:
		found, missing := o.reg.Filter(opts.Tables)
		for _, name := range missing {
			o.logger.Warn("table not in registry, skipping", zap.String("table", name))
		}
		tables = found
	case len(opts.Importance) > 0:
		tables = o.reg.ByImportance(opts.Importance)
	default:
		tables = o.reg.All()
	}

	if len(tables) == 0 {
		return nil, etlerrors.New(etlerrors.ErrorTypeConfig, "no tables selected for sync")
	}

	return registry.PriorityOrder(tables), nil
}

// Run executes one sync run. Cancelling ctx stops dispatching new
// tables immediately; tables already in flight finish to a consistent
// state (committed or not committed this run), never cut off mid-batch.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunReport, error) {
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}

	tables, err := o.selectTables(opts)
	if err != nil {
		return nil, err
	}

	if o.cfg.Timeouts.Run > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeouts.Run)
		defer cancel()
	}

	runCtx, span := observability.Tracer().Start(ctx, "sync_run")
	span.SetAttributes(
		attribute.String("mode", string(opts.Mode)),
		attribute.Int("tables", len(tables)),
	)
	defer span.End()

	report := NewRunReport(string(opts.Mode))

	o.logger.Info("sync run starting",
		zap.String("mode", string(opts.Mode)),
		zap.Int("tables", len(tables)),
		zap.Int("workers", o.cfg.Performance.GetWorkers()))

	queue := make(chan *registry.TableConfig, len(tables))
	for _, tc := range tables {
		queue <- tc
	}
	close(queue)

	results := make(chan TableResult, len(tables))

	// In-flight tables must finish even after run cancellation; only
	// dispatch observes runCtx.
	tableCtx := context.WithoutCancel(runCtx)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Performance.GetWorkers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tc := range queue {
				if runCtx.Err() != nil {
					results <- TableResult{
						Table: tc.Name,
						Error: "run cancelled before table was dispatched",
					}
					continue
				}
				results <- o.syncTable(tableCtx, tc, opts.Mode)
			}
		}()
	}

	wg.Wait()
	close(results)

	for res := range results {
		report.Add(res)
	}
	report.Finish()

	if failed := report.Failed(); len(failed) > 0 {
		span.SetStatus(codes.Error, "some tables failed")
		o.logger.Warn("sync run finished with failures",
			zap.Strings("failed_tables", failed),
			zap.Int("succeeded", report.Succeeded()),
			zap.Duration("duration", report.Duration()))
	} else {
		o.logger.Info("sync run finished",
			zap.Int("tables", len(report.Tables)),
			zap.Int64("rows", report.TotalRows()),
			zap.Duration("duration", report.Duration()))
	}

	return report, nil
}

// syncTable processes one table end-to-end: extract, load, commit
// watermark. Returned as data so the orchestrator's failure isolation is
// a plain aggregation, with no error propagation across the worker
// boundary.
func (o *Orchestrator) syncTable(ctx context.Context, tc *registry.TableConfig, mode Mode) TableResult {
	start := time.Now()
	log := o.logger.With(zap.String("table", tc.Name))

	ctx, span := observability.Tracer().Start(ctx, "sync_table")
	span.SetAttributes(attribute.String("table", tc.Name))
	defer span.End()

	if o.collector != nil {
		o.collector.TableStarted()
		defer o.collector.TableFinished()
	}

	result := TableResult{Table: tc.Name}

	fail := func(err error) TableResult {
		result.Success = false
		result.Error = err.Error()
		result.Duration = time.Since(start)
		span.SetStatus(codes.Error, err.Error())
		if o.collector != nil {
			o.collector.RecordOutcome(tc.Name, false, result.Duration)
		}
		log.Error("table sync failed", zap.Error(err), zap.Duration("duration", result.Duration))
		return result
	}

	prior, err := o.watermarks.Get(ctx, tc.Name)
	if err != nil {
		return fail(err)
	}

	var lastWatermark *time.Time
	if prior != nil {
		lastWatermark = prior.LastWatermark
	}
	if mode == ModeFull {
		// Forced refresh ignores the stored watermark for extraction but
		// still records a fresh one on success.
		lastWatermark = nil
	}

	// Best-effort progress marker; failure here is not fatal.
	if err := o.watermarks.Commit(ctx, tc.Name, nil, 0, target.StatusInProgress); err != nil {
		log.Warn("failed to mark table in progress", zap.Error(err))
	}

	truncate := mode == ModeFull || tc.Strategy == registry.StrategyFull

	var rows int64
	var maxWatermark time.Time

	policy := NewRetryPolicy(tc.MaxRetries+1, tc.RetryDelay)
	attempt := 0
	syncErr := policy.ExecuteWithCondition(ctx, func() error {
		attempt++
		if attempt > 1 {
			log.Info("retrying table sync", zap.Int("attempt", attempt))
			if o.collector != nil {
				o.collector.RecordRetry(tc.Name)
			}
		}
		rows = 0
		maxWatermark = time.Time{}
		return o.attemptSync(ctx, tc, lastWatermark, truncate, &rows, &maxWatermark)
	}, etlerrors.IsRetryable)

	if syncErr != nil {
		// Watermark stays untouched so the next run re-extracts the same
		// window. Recording the failed status is best effort.
		if err := o.watermarks.Commit(ctx, tc.Name, nil, rows, target.StatusFailed); err != nil {
			log.Warn("failed to record failed sync status", zap.Error(err))
		}
		return fail(syncErr)
	}

	// Only incremental tables advance a watermark; full refreshes are
	// repeated wholesale every run.
	var newWatermark *time.Time
	if tc.Strategy == registry.StrategyIncremental && !maxWatermark.IsZero() {
		newWatermark = &maxWatermark
	}

	commitErr := AggressiveRetryPolicy(o.cfg.Reliability.WatermarkRetryAttempts).Execute(ctx, func() error {
		return o.watermarks.Commit(ctx, tc.Name, newWatermark, rows, target.StatusSuccess)
	})
	if commitErr != nil {
		// Data is durable but the bookkeeping is not: report the table
		// failed and tolerate the overlapping re-extraction next run.
		return fail(etlerrors.Wrap(commitErr, etlerrors.ErrorTypeWatermark,
			"rows loaded but watermark commit failed"))
	}

	result.Success = true
	result.Rows = rows
	result.Duration = time.Since(start)
	result.Watermark = newWatermark
	if o.collector != nil {
		o.collector.RecordOutcome(tc.Name, true, result.Duration)
	}
	log.Info("table synced",
		zap.Int64("rows", rows),
		zap.Duration("duration", result.Duration))

	return result
}

// attemptSync performs one extract-and-load pass over a table
func (o *Orchestrator) attemptSync(ctx context.Context, tc *registry.TableConfig, lastWatermark *time.Time, truncate bool, rows *int64, maxWatermark *time.Time) error {
	if truncate {
		if err := o.loader.Truncate(ctx, tc.Name); err != nil {
			return err
		}
	}

	batches, errs := o.extractor.Extract(ctx, tc, lastWatermark)

	// Drain remaining batches on early return so the extractor goroutine
	// can finish.
	defer func() {
		for batch := range batches {
			batch.Release()
		}
	}()

	for batch := range batches {
		n := int64(batch.Len())
		if o.collector != nil {
			o.collector.RecordExtracted(tc.Name, n)
		}

		written, err := o.loader.Load(ctx, batch)
		if err != nil {
			batch.Release()
			return err
		}

		if o.collector != nil {
			o.collector.RecordLoaded(tc.Name, written)
		}
		*rows += written
		if batch.MaxWatermark.After(*maxWatermark) {
			*maxWatermark = batch.MaxWatermark
		}
		batch.Release()
	}

	if err := <-errs; err != nil {
		return err
	}
	return nil
}
