// Package schema resolves watermark metadata columns from a table's
// column catalog. OpenDental names its audit columns inconsistently across
// tables (DateTStamp, SecDateTEdit, SecDateTEntry, DateEntry, ...), so
// discovery is pattern-list driven rather than fixed.
package schema

import "strings"

// Column is one entry of a table's column catalog
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// WatermarkColumns is the resolver result. Either field may be empty when
// no suitable column exists; a table with both empty is only eligible for
// full extraction.
type WatermarkColumns struct {
	// Created is the creation-time column, if any
	Created string
	// Updated is the modification-time column, if any
	Updated string
	// Fallback is true when Updated was not matched by pattern but filled
	// from the first timestamp column found, to keep some incremental
	// capability rather than forcing a full scan
	Fallback bool
}

// creationPatterns lists creation-time column names in preference order
var creationPatterns = []string{
	"secdatetentry",
	"datetentry",
	"dateentry",
	"datecreated",
	"created_at",
	"createdat",
	"insertdate",
}

// modificationPatterns lists modification-time column names in preference order
var modificationPatterns = []string{
	"datetstamp",
	"secdatetedit",
	"datetedit",
	"datemodified",
	"updated_at",
	"updatedat",
	"lastmodified",
}

// timestampTypes are catalog data types usable as watermark columns
var timestampTypes = map[string]bool{
	"timestamp": true,
	"datetime":  true,
}

// Resolve selects creation-time and modification-time watermark columns
// from a column catalog. It is a pure function: the same catalog always
// yields the same result.
func Resolve(columns []Column) WatermarkColumns {
	byName := make(map[string]string, len(columns))
	var firstTimestamp string

	for _, col := range columns {
		if !IsTimestampType(col.DataType) {
			continue
		}
		lower := strings.ToLower(col.Name)
		if _, seen := byName[lower]; !seen {
			byName[lower] = col.Name
		}
		if firstTimestamp == "" {
			firstTimestamp = col.Name
		}
	}

	var result WatermarkColumns

	for _, pattern := range creationPatterns {
		if name, ok := byName[pattern]; ok {
			result.Created = name
			break
		}
	}

	for _, pattern := range modificationPatterns {
		if name, ok := byName[pattern]; ok {
			result.Updated = name
			break
		}
	}

	// No modification pattern matched but the table does carry timestamps:
	// fall back to the first one so incremental sync stays possible.
	if result.Updated == "" && firstTimestamp != "" {
		result.Updated = firstTimestamp
		result.Fallback = true
	}

	return result
}

// IsTimestampType reports whether a catalog data type can serve as a
// watermark column.
func IsTimestampType(dataType string) bool {
	return timestampTypes[strings.ToLower(dataType)]
}

// HasWatermark reports whether the table supports incremental extraction
// at all.
func (w WatermarkColumns) HasWatermark() bool {
	return w.Updated != "" || w.Created != ""
}
