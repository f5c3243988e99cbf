// Package index persists published block metadata documents in a SQLite
// search index.
//
// # Schema
//
// Documents live in a single table keyed by the composite
// (source_file, block_handle) pair:
//
//	CREATE TABLE documents (
//	    source_file TEXT NOT NULL,
//	    block_handle TEXT NOT NULL,
//	    ...
//	    UNIQUE(source_file, block_handle)
//	);
//
// Upserts use INSERT ... ON CONFLICT DO UPDATE, so republishing the same
// block after a re-run of the pipeline rewrites the existing row instead
// of inserting a duplicate. This is what makes the whole pipeline
// idempotent over unchanged inputs.
//
// # Full-text search
//
// An FTS5 virtual table mirrors the discoverable fields (name,
// description, attribute names, category, layer), maintained by triggers.
// Search queries rank with FTS5's built-in relevance; builds without FTS5
// fall back to LIKE matching.
//
// # Drivers
//
// Two SQLite drivers are supported via build tags:
//
//   - default: modernc.org/sqlite (pure Go, no CGO required)
//   - -tags fts5: github.com/mattn/go-sqlite3 (CGO, C SQLite with FTS5)
//
// # Migrations
//
// Schema migrations are embedded and applied at open, ordered by semantic
// version. Each applied version is recorded in schema_version.
package index
