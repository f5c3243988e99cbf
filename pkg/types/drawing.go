package types

import (
	"path/filepath"
	"strings"
	"time"
)

// DrawingFormat identifies the on-disk format of a source drawing,
// detected by file extension.
type DrawingFormat string

const (
	FormatDWG     DrawingFormat = "dwg"
	FormatDXF     DrawingFormat = "dxf"
	FormatUnknown DrawingFormat = "unknown"
)

// DrawingFile is a candidate source drawing discovered by the locator.
// Identity is the absolute path; the struct is immutable after creation.
type DrawingFile struct {
	Path    string // Absolute path to the source file
	Size    int64
	ModTime time.Time
	Format  DrawingFormat
}

// DetectFormat maps a file extension to a DrawingFormat.
func DetectFormat(path string) DrawingFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dwg":
		return FormatDWG
	case ".dxf":
		return FormatDXF
	default:
		return FormatUnknown
	}
}

// Units is the measurement system of a source drawing, inferred from the
// drawing's $INSUNITS header setting.
type Units string

const (
	UnitsImperial Units = "Imperial"
	UnitsMetric   Units = "Metric"
)

// imperial $INSUNITS codes: inches, feet, miles, microinches, mils, yards.
// Code 0 (unitless) keeps the AutoCAD imperial default.
var imperialUnitCodes = map[int]bool{
	0: true, 1: true, 2: true, 3: true, 8: true, 9: true, 10: true,
}

// UnitsFromCode maps a raw $INSUNITS code to the two-valued Units enum.
func UnitsFromCode(code int) Units {
	if imperialUnitCodes[code] {
		return UnitsImperial
	}
	return UnitsMetric
}
