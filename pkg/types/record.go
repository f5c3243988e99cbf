package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wire format for record timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// RecordColumns is the fixed column order of the staged tabular format.
var RecordColumns = []string{
	"Name", "Description", "Layer", "Width", "Height",
	"EntityCount", "HasAttributes", "AttributeNames",
	"Units", "LastModified", "Author", "Category",
}

// BlockMetadataRecord is the unit produced by the collector: one per block
// definition per source file. The contract fields map 1:1 onto RecordColumns;
// SourceFile and Handle form the composite key the index upserts by.
type BlockMetadataRecord struct {
	// Composite key
	SourceFile string
	Handle     string

	// Contract fields, in column order
	Name           string
	Description    string
	Layer          string
	Width          float64
	Height         float64
	EntityCount    int
	HasAttributes  bool
	AttributeNames []string
	Units          Units
	LastModified   time.Time
	Author         string
	Category       string

	// Supplemental fields outside the tabular contract
	EntityTypes []string

	// Partial marks a record whose derived fields could not be computed
	// (for example a reference cycle during extent calculation). Derived
	// columns are staged empty for partial records.
	Partial bool
}

// round3 matches the exporter's three-decimal rounding of extents.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func formatExtent(v float64) string {
	return strconv.FormatFloat(round3(v), 'f', -1, 64)
}

// ToRow renders the record in the fixed staged column order.
func (r *BlockMetadataRecord) ToRow() []string {
	width, height, count := "", "", ""
	if !r.Partial {
		width = formatExtent(r.Width)
		height = formatExtent(r.Height)
		count = strconv.Itoa(r.EntityCount)
	}
	return []string{
		r.Name,
		r.Description,
		r.Layer,
		width,
		height,
		count,
		strconv.FormatBool(r.HasAttributes),
		strings.Join(r.AttributeNames, "|"),
		string(r.Units),
		r.LastModified.Format(TimestampLayout),
		r.Author,
		r.Category,
	}
}

// RecordFromRow parses a staged row back into a record. The composite key
// travels in the batch manifest, not the contract columns, so SourceFile
// and Handle stay empty here.
func RecordFromRow(row []string) (*BlockMetadataRecord, error) {
	if len(row) != len(RecordColumns) {
		return nil, fmt.Errorf("staged row has %d columns, want %d", len(row), len(RecordColumns))
	}

	r := &BlockMetadataRecord{
		Name:        row[0],
		Description: row[1],
		Layer:       row[2],
		Units:       Units(row[8]),
		Author:      row[10],
		Category:    row[11],
	}

	if row[3] == "" && row[4] == "" && row[5] == "" {
		r.Partial = true
	} else {
		var err error
		if r.Width, err = strconv.ParseFloat(row[3], 64); err != nil {
			return nil, fmt.Errorf("parsing Width %q: %w", row[3], err)
		}
		if r.Height, err = strconv.ParseFloat(row[4], 64); err != nil {
			return nil, fmt.Errorf("parsing Height %q: %w", row[4], err)
		}
		if r.EntityCount, err = strconv.Atoi(row[5]); err != nil {
			return nil, fmt.Errorf("parsing EntityCount %q: %w", row[5], err)
		}
	}

	hasAttrs, err := strconv.ParseBool(row[6])
	if err != nil {
		return nil, fmt.Errorf("parsing HasAttributes %q: %w", row[6], err)
	}
	r.HasAttributes = hasAttrs

	if row[7] != "" {
		r.AttributeNames = strings.Split(row[7], "|")
	}

	ts, err := time.ParseInLocation(TimestampLayout, row[9], time.Local)
	if err != nil {
		return nil, fmt.Errorf("parsing LastModified %q: %w", row[9], err)
	}
	r.LastModified = ts

	return r, nil
}
