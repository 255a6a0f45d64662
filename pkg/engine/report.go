package engine

import (
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// Process exit codes. Environment failures are distinguished from table
// failures so monitoring can tell "nothing was attempted" from "some
// tables need attention".
const (
	ExitOK            = 0
	ExitTableFailures = 1
	ExitEnvironment   = 2
)

// TableResult is the disposition of one table in a run
type TableResult struct {
	Table     string        `json:"table"`
	Success   bool          `json:"success"`
	Rows      int64         `json:"rows"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Watermark *time.Time    `json:"watermark,omitempty"`
}

// RunReport aggregates the outcome of one sync run. It is produced for
// monitoring only; the watermark store remains authoritative for
// resumability.
type RunReport struct {
	Mode       string                 `json:"mode"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Tables     map[string]TableResult `json:"tables"`
}

// NewRunReport creates an empty report for the given mode
func NewRunReport(mode string) *RunReport {
	return &RunReport{
		Mode:      mode,
		StartedAt: time.Now(),
		Tables:    make(map[string]TableResult),
	}
}

// Add records one table's result
func (r *RunReport) Add(res TableResult) {
	r.Tables[res.Table] = res
}

// Finish stamps the end of the run
func (r *RunReport) Finish() {
	r.FinishedAt = time.Now()
}

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed returns the names of failed tables, sorted
func (r *RunReport) Failed() []string {
	var failed []string
	for name, res := range r.Tables {
		if !res.Success {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Succeeded returns the number of successful tables
func (r *RunReport) Succeeded() int {
	n := 0
	for _, res := range r.Tables {
		if res.Success {
			n++
		}
	}
	return n
}

// TotalRows returns the total rows written across all tables
func (r *RunReport) TotalRows() int64 {
	var total int64
	for _, res := range r.Tables {
		total += res.Rows
	}
	return total
}

// ExitCode maps the report to a process exit status
func (r *RunReport) ExitCode() int {
	if len(r.Failed()) > 0 {
		return ExitTableFailures
	}
	return ExitOK
}

// JSON serializes the report for file output
func (r *RunReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
