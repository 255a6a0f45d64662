// Package config provides the unified configuration system for the sync
// engine. A single EngineConfig is constructed at process start and passed
// by reference into the orchestrator and all workers; there is no ambient
// package-level configuration state.
//
// The configuration is organized into logical sections:
//   - Source: operational database connection (read-only)
//   - Target: analytics database connection and schema placement
//   - Performance: worker pool and batch sizing
//   - Reliability: retry behavior
//   - Timeouts: connection and run deadlines
//   - Observability: logging, metrics, tracing
package config

import (
	"fmt"
	"runtime"
	"time"
)

// EngineConfig is the complete configuration for one sync process.
type EngineConfig struct {
	// Source configures the operational database connection
	Source SourceConfig `yaml:"source" json:"source"`

	// Target configures the analytics database connection
	Target TargetConfig `yaml:"target" json:"target"`

	// Performance settings control throughput and resource usage
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Reliability settings for error handling and resilience
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// RegistryPath locates the versioned table registry file
	RegistryPath string `yaml:"registry_path" json:"registry_path"`
}

// SourceConfig describes the operational source database. The account
// named in the DSN must be an unprivileged read-only user; the source
// guard rejects anything else before extraction begins.
type SourceConfig struct {
	// DSN is the MySQL connection string
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxConnections bounds the source connection pool. The source has a
	// finite safe concurrent-connection budget shared with the clinic's
	// operational traffic.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
}

// TargetConfig describes the analytics target database.
type TargetConfig struct {
	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn" json:"dsn"`
	// Schema is the target schema rows are loaded into
	Schema string `yaml:"schema" json:"schema"`
	// ChunkLimit caps rows per bulk-copy statement; batches above it are
	// split before the copy call
	ChunkLimit int `yaml:"chunk_limit" json:"chunk_limit"`
	// DryRun redirects all writes to an isolated test schema
	DryRun bool `yaml:"dry_run" json:"dry_run"`
}

// LoadSchema returns the schema writes should go to, honoring dry-run
// redirection.
func (t *TargetConfig) LoadSchema() string {
	if t.DryRun {
		return t.Schema + "_test"
	}
	return t.Schema
}

// PerformanceConfig contains worker pool and batch settings.
type PerformanceConfig struct {
	// Workers is the number of tables synced concurrently
	Workers int `yaml:"workers" json:"workers"`
	// DefaultBatchSize applies to tables without an explicit batch size
	DefaultBatchSize int `yaml:"default_batch_size" json:"default_batch_size"`
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}

// ReliabilityConfig contains retry settings.
type ReliabilityConfig struct {
	// MaxRetries applies to tables without an explicit retry count
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the fixed delay between table-level retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// WatermarkRetryAttempts governs the aggressive retry of sync-status
	// commits after data is already durable
	WatermarkRetryAttempts int `yaml:"watermark_retry_attempts" json:"watermark_retry_attempts"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Query timeout for individual statements
	Query time.Duration `yaml:"query" json:"query"`
	// Run bounds an entire sync run; zero means no deadline
	Run time.Duration `yaml:"run" json:"run"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
}

// NewEngineConfig creates an EngineConfig with production defaults.
// Callers load a YAML file over the top of it and then Validate.
func NewEngineConfig() *EngineConfig {
	return &EngineConfig{
		Source: SourceConfig{
			MaxConnections: 5,
		},
		Target: TargetConfig{
			Schema:     "raw",
			ChunkLimit: 50000,
		},
		Performance: PerformanceConfig{
			Workers:          4,
			DefaultBatchSize: 10000,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:             3,
			RetryDelay:             30 * time.Second,
			WatermarkRetryAttempts: 5,
		},
		Timeouts: TimeoutConfig{
			Connection: 10 * time.Second,
			Query:      5 * time.Minute,
			Run:        0,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
			EnableTracing: false,
		},
		RegistryPath: "configs/tables.yml",
	}
}

// Validate checks required fields and value ranges. It catches
// configuration errors before any table is touched.
func (c *EngineConfig) Validate() error {
	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}
	if c.Target.DSN == "" {
		return fmt.Errorf("target.dsn is required")
	}
	if c.Target.Schema == "" {
		return fmt.Errorf("target.schema is required")
	}
	if c.Target.ChunkLimit <= 0 {
		return fmt.Errorf("target.chunk_limit must be positive")
	}
	if c.Performance.DefaultBatchSize <= 0 {
		return fmt.Errorf("performance.default_batch_size must be positive")
	}
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("reliability.max_retries cannot be negative")
	}
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path is required")
	}
	return nil
}
