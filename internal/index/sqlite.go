package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested document doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteIndex implements the Index interface using SQLite
type SQLiteIndex struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; the index connection pool is sized independently of
	// the file worker pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteIndex opens (or creates) the index database and applies
// migrations.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteIndex) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocument(ctx, t.tx, doc)
}

const documentColumns = `id, source_file, block_handle, name, description, layer,
       width, height, entity_count, has_attributes, attribute_names,
       entity_types, units, last_modified, author, category, partial,
       created_at, updated_at`

// upsertDocument inserts or replaces by the (source_file, block_handle)
// composite key. Republishing an unchanged block is a no-op row rewrite,
// never a duplicate.
func upsertDocument(ctx context.Context, q querier, doc *Document) error {
	query := `
		INSERT INTO documents (source_file, block_handle, name, description, layer,
			width, height, entity_count, has_attributes, attribute_names,
			entity_types, units, last_modified, author, category, partial,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_file, block_handle) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			layer = excluded.layer,
			width = excluded.width,
			height = excluded.height,
			entity_count = excluded.entity_count,
			has_attributes = excluded.has_attributes,
			attribute_names = excluded.attribute_names,
			entity_types = excluded.entity_types,
			units = excluded.units,
			last_modified = excluded.last_modified,
			author = excluded.author,
			category = excluded.category,
			partial = excluded.partial,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		doc.SourceFile, doc.BlockHandle, doc.Name, doc.Description, doc.Layer,
		doc.Width, doc.Height, doc.EntityCount, doc.HasAttributes, doc.AttributeNames,
		doc.EntityTypes, doc.Units, doc.LastModified, doc.Author, doc.Category, doc.Partial,
		now, now).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	doc.UpdatedAt = now
	return nil
}

func (s *SQLiteIndex) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocument(ctx, s.db, doc)
}

func scanDocument(scan func(...interface{}) error) (*Document, error) {
	var doc Document
	var lastModified sql.NullTime
	err := scan(
		&doc.ID, &doc.SourceFile, &doc.BlockHandle, &doc.Name, &doc.Description,
		&doc.Layer, &doc.Width, &doc.Height, &doc.EntityCount, &doc.HasAttributes,
		&doc.AttributeNames, &doc.EntityTypes, &doc.Units, &lastModified,
		&doc.Author, &doc.Category, &doc.Partial, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastModified.Valid {
		doc.LastModified = lastModified.Time
	}
	return &doc, nil
}

func (s *SQLiteIndex) GetDocument(ctx context.Context, sourceFile, blockHandle string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE source_file = ? AND block_handle = ?`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, sourceFile, blockHandle).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLiteIndex) ListDocuments(ctx context.Context, sourceFile string) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE source_file = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, sourceFile)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Search queries the FTS index, falling back to LIKE matching when FTS is
// unavailable in the current build.
func (s *SQLiteIndex) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	ftsQuery := `
		SELECT ` + qualify(documentColumns, "d") + `
		FROM documents_fts f
		JOIN documents d ON d.id = f.rowid
		WHERE documents_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, ftsQuery, query, limit)
	if err != nil {
		return s.searchLike(ctx, query, limit)
	}
	defer func() { _ = rows.Close() }()

	return collectResults(rows)
}

// searchLike is the degraded search path for builds without FTS5.
func (s *SQLiteIndex) searchLike(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	pattern := "%" + query + "%"
	likeQuery := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE name LIKE ? OR description LIKE ? OR attribute_names LIKE ? OR category LIKE ?
		ORDER BY name
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, likeQuery, pattern, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectResults(rows)
}

func collectResults(rows *sql.Rows) ([]SearchResult, error) {
	var results []SearchResult
	rank := 0
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		rank++
		results = append(results, SearchResult{Document: doc, Rank: rank})
	}
	return results, rows.Err()
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// qualify prefixes each column in a comma-separated list with a table
// alias.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
