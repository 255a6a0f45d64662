// Package models provides the data structures handed between the extractor
// and the loader. Records are pooled to keep allocation pressure low on
// large table scans.
package models

import (
	"sync"
	"time"
)

// Record represents a single source row in flight
type Record struct {
	// Source identifies the table the row came from
	Source string
	// Data holds column name to value pairs
	Data map[string]interface{}
	// Metadata carries processing information
	Metadata RecordMetadata
}

// RecordMetadata carries per-record processing information
type RecordMetadata struct {
	Table     string
	Timestamp time.Time
}

var recordPool = sync.Pool{
	New: func() interface{} {
		return &Record{
			Data: make(map[string]interface{}, 16),
		}
	},
}

// NewRecord returns a pooled record bound to the given source table
func NewRecord(source string) *Record {
	r := recordPool.Get().(*Record)
	r.Source = source
	r.Metadata.Table = source
	r.Metadata.Timestamp = time.Now()
	return r
}

// SetData sets a column value on the record
func (r *Record) SetData(column string, value interface{}) {
	r.Data[column] = value
}

// GetData returns a column value and whether it was present
func (r *Record) GetData(column string) (interface{}, bool) {
	v, ok := r.Data[column]
	return v, ok
}

// Release returns the record to the pool. The record must not be used
// after Release.
func (r *Record) Release() {
	for k := range r.Data {
		delete(r.Data, k)
	}
	r.Source = ""
	r.Metadata = RecordMetadata{}
	recordPool.Put(r)
}

// ExtractionBatch is one ordered chunk of extracted rows plus the maximum
// watermark value observed within it. It is owned exclusively by the
// extractor-to-loader handoff for one table at a time and is never persisted.
type ExtractionBatch struct {
	// Table is the source table name
	Table string
	// Columns fixes the column order for bulk loading
	Columns []string
	// Records holds the extracted rows
	Records []*Record
	// MaxWatermark is the highest watermark value seen in this batch.
	// Zero when the table has no usable watermark column.
	MaxWatermark time.Time
}

// Len returns the number of records in the batch
func (b *ExtractionBatch) Len() int {
	return len(b.Records)
}

// Rows materializes the batch as positional rows following Columns order,
// the shape bulk copy interfaces expect.
func (b *ExtractionBatch) Rows() [][]interface{} {
	rows := make([][]interface{}, len(b.Records))
	for i, rec := range b.Records {
		row := make([]interface{}, len(b.Columns))
		for j, col := range b.Columns {
			row[j] = rec.Data[col]
		}
		rows[i] = row
	}
	return rows
}

// Release returns all records in the batch to the pool
func (b *ExtractionBatch) Release() {
	for _, rec := range b.Records {
		rec.Release()
	}
	b.Records = b.Records[:0]
}
