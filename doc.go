// Package clinicetl provides a watermark-driven sync engine that copies
// tables from an operational OpenDental MySQL database into a PostgreSQL
// analytics warehouse.
//
// Each table syncs either as a full refresh or incrementally: rows whose
// modification or creation timestamp is strictly greater than the table's
// last recorded watermark are extracted, bulk-loaded with COPY, and only
// then is the watermark advanced. Watermarks move forward monotonically
// and only on success, so a failed run is always safe to repeat.
//
// # Quick Start
//
// Configure credentials in the environment (see .env.example), then:
//
//	clinic-etl incremental-sync --config configs/etl.yml
//	clinic-etl full-sync --tables patient,appointment --dry-run
//	clinic-etl list-tables
//
// Exit codes: 0 all tables synced, 1 some tables failed, 2 the environment
// (config, source guard, target) failed validation before any table ran.
//
// # Key Packages
//
//	pkg/engine    - Run orchestration: worker pool, retries, reporting
//	pkg/source    - Read-only source guard and the batch extractor
//	pkg/target    - Bulk loader and the durable watermark store
//	pkg/registry  - Versioned per-table sync configuration
//	pkg/schema    - Watermark column discovery from the column catalog
//	pkg/config    - Unified engine configuration
//	pkg/etlerrors - Structured error handling
//	pkg/logger    - Structured logging
//	pkg/metrics   - Prometheus instrumentation
//
// # Source Protection
//
// The engine never trusts its own configuration to be harmless. The source
// guard refuses privileged account names outright, verifies at connect time
// that a write probe fails against the live connection, and filters every
// statement down to the SELECT class before it reaches the source.
//
// # Configuration
//
// Engine settings live in a YAML file with ${VAR_NAME} environment
// substitution; the table registry is a separate versioned YAML file
// declaring each table's importance, strategy, and watermark columns.
// Tables without declared watermark columns have them discovered from
// information_schema at run time.
package clinicetl
