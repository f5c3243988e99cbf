//go:build !fts5
// +build !fts5

package index

// This file is compiled when building without the fts5 tag. It uses a
// pure Go SQLite implementation, which ships FTS5 support without CGO.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
