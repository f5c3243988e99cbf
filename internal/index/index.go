package index

import (
	"context"
	"strings"
	"time"

	"github.com/northshore/blockindex/pkg/types"
)

// Document is the publish-time projection of a block metadata record,
// keyed by (source file, block handle) so republishing is an idempotent
// upsert.
type Document struct {
	ID             int64
	SourceFile     string
	BlockHandle    string
	Name           string
	Description    string
	Layer          string
	Width          float64
	Height         float64
	EntityCount    int
	HasAttributes  bool
	AttributeNames string // |-joined, matching the staged format
	EntityTypes    string // |-joined sorted inventory
	Units          string
	LastModified   time.Time
	Author         string
	Category       string
	Partial        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FromRecord projects a metadata record into an index document.
func FromRecord(rec *types.BlockMetadataRecord) *Document {
	return &Document{
		SourceFile:     rec.SourceFile,
		BlockHandle:    rec.Handle,
		Name:           rec.Name,
		Description:    rec.Description,
		Layer:          rec.Layer,
		Width:          rec.Width,
		Height:         rec.Height,
		EntityCount:    rec.EntityCount,
		HasAttributes:  rec.HasAttributes,
		AttributeNames: strings.Join(rec.AttributeNames, "|"),
		EntityTypes:    strings.Join(rec.EntityTypes, "|"),
		Units:          string(rec.Units),
		LastModified:   rec.LastModified,
		Author:         rec.Author,
		Category:       rec.Category,
		Partial:        rec.Partial,
	}
}

// SearchResult pairs a document with its relevance rank.
type SearchResult struct {
	Document *Document
	Rank     int // 1-based position in the result set
}

// Index is the search index contract the publisher and query surface
// depend on.
type Index interface {
	// UpsertDocument inserts or replaces a document by its composite key.
	UpsertDocument(ctx context.Context, doc *Document) error

	// GetDocument fetches one document by composite key.
	GetDocument(ctx context.Context, sourceFile, blockHandle string) (*Document, error)

	// ListDocuments returns every document for one source file.
	ListDocuments(ctx context.Context, sourceFile string) ([]*Document, error)

	// Search runs a full-text query over names, descriptions, attribute
	// names, and categories.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Count returns the total number of indexed documents.
	Count(ctx context.Context) (int, error)

	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transactional view of the index.
type Tx interface {
	Commit() error
	Rollback() error
	UpsertDocument(ctx context.Context, doc *Document) error
}
