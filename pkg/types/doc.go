// Package types provides shared type definitions for the blockindex pipeline.
//
// This package defines the domain model used across the extraction pipeline:
// drawing files, parsed block tables, block and attribute definitions,
// anomalies, and the metadata records that are staged and published.
//
// # Core Types
//
// BlockDefinition represents a named, reusable collection of drawing entities
// parsed from an interchange (DXF) file:
//
//	block := &types.BlockDefinition{
//	    Name:   "DOOR-36",
//	    Handle: "2A4F",
//	    Layer:  "A-DOOR",
//	}
//
// BlockMetadataRecord is the unit of output, one per block definition per
// source file. Its field set and ordering mirror the staged CSV contract:
//
//	record := &types.BlockMetadataRecord{
//	    Name:        "DOOR-36",
//	    Layer:       "A-DOOR",
//	    Width:       36,
//	    Height:      2,
//	    EntityCount: 5,
//	    Units:       types.UnitsImperial,
//	}
//
// # Anomalies
//
// An Anomaly is a non-fatal data-quality finding attached to an otherwise
// valid extraction result (orphaned attribute references, block reference
// cycles, zero scale factors, dangling references). Anomalies are reported
// in the end-of-run summary; they never abort processing of sibling blocks.
//
// # Validation
//
// Types carry validation methods where the data model states invariants:
//
//	if err := ref.Validate(); err != nil {
//	    // zero scale factor, missing target block, ...
//	}
package types
