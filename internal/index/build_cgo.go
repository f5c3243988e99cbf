//go:build fts5
// +build fts5

package index

// This file is compiled when building with CGO and the fts5 tag.
// It uses the C SQLite driver with FTS5 full-text search enabled.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
