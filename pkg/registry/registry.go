// Package registry holds the static, versioned per-table sync
// configuration. The registry is loaded once at process start and passed
// by reference into the orchestrator and all workers; table entries are
// immutable for the duration of a run and may be reloaded between runs to
// pick up configuration drift.
package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/config"
	"github.com/BenjaminRains/dbt-dental-clinic-sub008/pkg/etlerrors"
)

// Importance classifies a table for processing priority and monitoring
// strictness.
type Importance string

const (
	ImportanceCritical  Importance = "critical"
	ImportanceImportant Importance = "important"
	ImportanceAudit     Importance = "audit"
	ImportanceReference Importance = "reference"
	ImportanceStandard  Importance = "standard"
)

// rank orders importance classes for scheduling; lower syncs first.
var importanceRank = map[Importance]int{
	ImportanceCritical:  0,
	ImportanceImportant: 1,
	ImportanceAudit:     2,
	ImportanceReference: 3,
	ImportanceStandard:  4,
}

// Valid reports whether the importance class is known
func (i Importance) Valid() bool {
	_, ok := importanceRank[i]
	return ok
}

// Rank returns the scheduling rank; unknown classes sort last
func (i Importance) Rank() int {
	if r, ok := importanceRank[i]; ok {
		return r
	}
	return len(importanceRank)
}

// Strategy selects how a table is extracted
type Strategy string

const (
	// StrategyFull copies the entire table every run
	StrategyFull Strategy = "full"
	// StrategyIncremental copies rows changed since the last watermark
	StrategyIncremental Strategy = "incremental"
)

// Valid reports whether the strategy is known
func (s Strategy) Valid() bool {
	return s == StrategyFull || s == StrategyIncremental
}

// TableConfig describes how one source table is synchronized. Created at
// configuration-load time and immutable during a run.
type TableConfig struct {
	// Name is the source table name, unique within the registry
	Name string `yaml:"name" json:"name"`
	// Importance classifies the table for priority ordering
	Importance Importance `yaml:"importance" json:"importance"`
	// Strategy selects full or incremental extraction
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	// WatermarkColumn is the modification-time column driving incremental
	// extraction; empty means discover it from the column catalog
	WatermarkColumn string `yaml:"watermark_column,omitempty" json:"watermark_column,omitempty"`
	// SecondaryWatermarkColumn is the creation-time column OR-ed into the
	// incremental predicate; either column may independently indicate a change
	SecondaryWatermarkColumn string `yaml:"secondary_watermark_column,omitempty" json:"secondary_watermark_column,omitempty"`
	// PrimaryKey orders full scans for deterministic chunking
	PrimaryKey string `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
	// BatchSize is the number of rows per extraction batch; zero means
	// the engine default
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	// EstimatedRows hints at table size for priority ordering
	EstimatedRows int64 `yaml:"estimated_rows,omitempty" json:"estimated_rows,omitempty"`
	// MaxRetries bounds per-table retry attempts; zero means the engine default
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	// RetryDelay is the fixed delay between retries; zero means the engine default
	RetryDelay time.Duration `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
}

// registryFile is the on-disk shape of the table registry
type registryFile struct {
	Version int           `yaml:"version"`
	Tables  []TableConfig `yaml:"tables"`
}

// Registry is the loaded, validated table registry.
type Registry struct {
	version int
	tables  map[string]*TableConfig
	ordered []*TableConfig
}

// Load reads and validates the registry file at path, applying engine
// defaults to per-table settings left unset.
func Load(path string, defaults *config.EngineConfig) (*Registry, error) {
	var file registryFile
	if err := config.Load(path, &file); err != nil {
		return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "failed to load table registry")
	}

	if len(file.Tables) == 0 {
		return nil, etlerrors.New(etlerrors.ErrorTypeConfig, "table registry is empty")
	}

	r := &Registry{
		version: file.Version,
		tables:  make(map[string]*TableConfig, len(file.Tables)),
		ordered: make([]*TableConfig, 0, len(file.Tables)),
	}

	for i := range file.Tables {
		tc := file.Tables[i]
		if err := validateTable(&tc); err != nil {
			return nil, err
		}
		if _, exists := r.tables[tc.Name]; exists {
			return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "duplicate table %q in registry", tc.Name)
		}
		applyDefaults(&tc, defaults)
		r.tables[tc.Name] = &tc
		r.ordered = append(r.ordered, &tc)
	}

	return r, nil
}

// NewRegistry builds a registry directly from table configs. Used by
// callers that construct configuration programmatically, and by tests.
func NewRegistry(version int, tables []TableConfig, defaults *config.EngineConfig) (*Registry, error) {
	r := &Registry{
		version: version,
		tables:  make(map[string]*TableConfig, len(tables)),
		ordered: make([]*TableConfig, 0, len(tables)),
	}
	for i := range tables {
		tc := tables[i]
		if err := validateTable(&tc); err != nil {
			return nil, err
		}
		if _, exists := r.tables[tc.Name]; exists {
			return nil, etlerrors.Newf(etlerrors.ErrorTypeConfig, "duplicate table %q in registry", tc.Name)
		}
		if defaults != nil {
			applyDefaults(&tc, defaults)
		}
		r.tables[tc.Name] = &tc
		r.ordered = append(r.ordered, &tc)
	}
	return r, nil
}

func validateTable(tc *TableConfig) error {
	if tc.Name == "" {
		return etlerrors.New(etlerrors.ErrorTypeConfig, "table entry missing name")
	}
	if tc.Importance == "" {
		tc.Importance = ImportanceStandard
	}
	if !tc.Importance.Valid() {
		return etlerrors.Newf(etlerrors.ErrorTypeConfig, "table %q: unknown importance %q", tc.Name, tc.Importance)
	}
	if tc.Strategy == "" {
		tc.Strategy = StrategyFull
	}
	if !tc.Strategy.Valid() {
		return etlerrors.Newf(etlerrors.ErrorTypeConfig, "table %q: unknown strategy %q", tc.Name, tc.Strategy)
	}
	if tc.BatchSize < 0 {
		return etlerrors.Newf(etlerrors.ErrorTypeConfig, "table %q: batch_size cannot be negative", tc.Name)
	}
	return nil
}

func applyDefaults(tc *TableConfig, defaults *config.EngineConfig) {
	if tc.BatchSize == 0 {
		tc.BatchSize = defaults.Performance.DefaultBatchSize
	}
	if tc.MaxRetries == 0 {
		tc.MaxRetries = defaults.Reliability.MaxRetries
	}
	if tc.RetryDelay == 0 {
		tc.RetryDelay = defaults.Reliability.RetryDelay
	}
}

// Version returns the registry file version
func (r *Registry) Version() int {
	return r.version
}

// Get returns the configuration for a table, or nil when the table is
// not registered.
func (r *Registry) Get(name string) *TableConfig {
	return r.tables[name]
}

// Len returns the number of registered tables
func (r *Registry) Len() int {
	return len(r.ordered)
}

// All returns every registered table in file order
func (r *Registry) All() []*TableConfig {
	out := make([]*TableConfig, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Filter returns the configurations for the named tables. Unknown names
// are reported so callers can warn rather than silently skip.
func (r *Registry) Filter(names []string) (found []*TableConfig, missing []string) {
	for _, name := range names {
		if tc, ok := r.tables[strings.TrimSpace(name)]; ok {
			found = append(found, tc)
		} else {
			missing = append(missing, name)
		}
	}
	return found, missing
}

// ByImportance returns tables belonging to any of the given importance
// classes.
func (r *Registry) ByImportance(levels []Importance) []*TableConfig {
	want := make(map[Importance]bool, len(levels))
	for _, l := range levels {
		want[l] = true
	}
	var out []*TableConfig
	for _, tc := range r.ordered {
		if want[tc.Importance] {
			out = append(out, tc)
		}
	}
	return out
}

// PriorityOrder sorts tables for processing: importance class first, then
// estimated size descending so the largest important tables start before
// the time budget runs out, then name for determinism.
func PriorityOrder(tables []*TableConfig) []*TableConfig {
	out := make([]*TableConfig, len(tables))
	copy(out, tables)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Importance.Rank(), out[j].Importance.Rank()
		if ri != rj {
			return ri < rj
		}
		if out[i].EstimatedRows != out[j].EstimatedRows {
			return out[i].EstimatedRows > out[j].EstimatedRows
		}
		return out[i].Name < out[j].Name
	})
	return out
}
