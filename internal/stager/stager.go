// Package stager persists collected block records to a durable tabular
// staging store before they are published to the search index.
//
// The staged file is CSV in the fixed record column order, one header row
// then one row per record. Record provenance (source file, block handle,
// entity type inventory) travels in a companion manifest file so the
// contract columns of the staged file stay exactly as specified. A batch
// is removed only after confirmed publication.
package stager

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/northshore/blockindex/internal/metrics"
	"github.com/northshore/blockindex/pkg/types"
)

var manifestColumns = []string{"SourceFile", "Handle", "EntityTypes"}

// Batch identifies one staged batch on disk.
type Batch struct {
	ID           string
	Path         string // Records CSV (contract columns)
	ManifestPath string // Row-aligned provenance CSV
	Count        int
}

// Load reads a staged batch back into records, joining the manifest by
// row index.
func (b *Batch) Load() ([]*types.BlockMetadataRecord, error) {
	rf, err := os.Open(b.Path)
	if err != nil {
		return nil, fmt.Errorf("opening staged records: %w", err)
	}
	defer func() { _ = rf.Close() }()

	mf, err := os.Open(b.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("opening batch manifest: %w", err)
	}
	defer func() { _ = mf.Close() }()

	rows, err := csv.NewReader(rf).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading staged records: %w", err)
	}
	meta, err := csv.NewReader(mf).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading batch manifest: %w", err)
	}

	if len(rows) == 0 || len(rows) != len(meta) {
		return nil, fmt.Errorf("staged batch %s is inconsistent: %d record rows, %d manifest rows",
			b.ID, len(rows), len(meta))
	}

	records := make([]*types.BlockMetadataRecord, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ { // skip headers
		rec, err := types.RecordFromRow(rows[i])
		if err != nil {
			return nil, fmt.Errorf("staged row %d: %w", i, err)
		}
		if len(meta[i]) != len(manifestColumns) {
			return nil, fmt.Errorf("manifest row %d has %d columns, want %d", i, len(meta[i]), len(manifestColumns))
		}
		rec.SourceFile = meta[i][0]
		rec.Handle = meta[i][1]
		if meta[i][2] != "" {
			rec.EntityTypes = strings.Split(meta[i][2], "|")
		}
		records = append(records, rec)
	}
	return records, nil
}

// Remove deletes the batch files. Called only after confirmed publication.
func (b *Batch) Remove() error {
	if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(b.ManifestPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Stager serializes record writes behind a single writer goroutine.
// Producers hand records off over a channel, so a slow disk applies
// backpressure without interleaving row bytes.
type Stager struct {
	batch    *Batch
	retries  int
	logger   *zap.Logger
	records  chan *types.BlockMetadataRecord
	done     chan struct{}
	writeErr error

	recFile  *os.File
	recCSV   *csv.Writer
	metaFile *os.File
	metaCSV  *csv.Writer

	closeOnce sync.Once
}

// Open creates a new staged batch in dir and starts the writer.
func Open(dir string, retries int, logger *zap.Logger) (*Stager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	id := uuid.New().String()
	batch := &Batch{
		ID:           id,
		Path:         filepath.Join(dir, "batch-"+id+".csv"),
		ManifestPath: filepath.Join(dir, "batch-"+id+".manifest.csv"),
	}

	recFile, err := os.OpenFile(batch.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating staged batch file: %w", err)
	}
	metaFile, err := os.OpenFile(batch.ManifestPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		_ = recFile.Close()
		return nil, fmt.Errorf("creating batch manifest: %w", err)
	}

	s := &Stager{
		batch:    batch,
		retries:  retries,
		logger:   logger.With(zap.String("component", "stager"), zap.String("batch", id)),
		records:  make(chan *types.BlockMetadataRecord, 256),
		done:     make(chan struct{}),
		recFile:  recFile,
		recCSV:   csv.NewWriter(recFile),
		metaFile: metaFile,
		metaCSV:  csv.NewWriter(metaFile),
	}

	if err := s.writeHeaders(); err != nil {
		_ = recFile.Close()
		_ = metaFile.Close()
		return nil, fmt.Errorf("writing staging headers: %w", err)
	}

	go s.writeLoop()
	return s, nil
}

// Stage hands one record to the writer. Safe for concurrent producers.
func (s *Stager) Stage(rec *types.BlockMetadataRecord) {
	s.records <- rec
}

// Close drains the queue, flushes and fsyncs the batch, and returns it.
// A write error that survived its retries is returned here; the batch is
// unusable in that case.
func (s *Stager) Close() (*Batch, error) {
	s.closeOnce.Do(func() {
		close(s.records)
	})
	<-s.done

	flushErr := func() error {
		s.recCSV.Flush()
		if err := s.recCSV.Error(); err != nil {
			return err
		}
		s.metaCSV.Flush()
		if err := s.metaCSV.Error(); err != nil {
			return err
		}
		if err := s.recFile.Sync(); err != nil {
			return err
		}
		return s.metaFile.Sync()
	}()

	if err := s.recFile.Close(); err != nil && flushErr == nil {
		flushErr = err
	}
	if err := s.metaFile.Close(); err != nil && flushErr == nil {
		flushErr = err
	}

	if s.writeErr != nil {
		return nil, s.writeErr
	}
	if flushErr != nil {
		return nil, fmt.Errorf("finalizing staged batch: %w", flushErr)
	}
	return s.batch, nil
}

// writeLoop is the single writer. Each record is flushed as a whole row so
// a crash mid-run never leaves a partial row visible to a reader.
func (s *Stager) writeLoop() {
	defer close(s.done)
	for rec := range s.records {
		if s.writeErr != nil {
			continue // drain after a fatal staging error
		}

		row := rec.ToRow()
		meta := []string{rec.SourceFile, rec.Handle, strings.Join(rec.EntityTypes, "|")}

		// Each half of the pair is tracked separately so a retry never
		// rewrites a row that already landed. A duplicated record row
		// would shift the row-index join against the manifest.
		var err error
		recDone, metaDone := false, false
		for attempt := 0; attempt <= s.retries; attempt++ {
			if err = s.writePair(row, meta, &recDone, &metaDone); err == nil {
				break
			}
			s.logger.Warn("staging write failed, retrying",
				zap.Int("attempt", attempt+1), zap.Error(err))
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
		}
		if err != nil {
			s.writeErr = fmt.Errorf("staging write for block %q: %w", rec.Name, err)
			continue
		}

		s.batch.Count++
		metrics.RecordsStaged.Inc()
	}
}

func (s *Stager) writeHeaders() error {
	if err := writeFlush(s.recCSV, types.RecordColumns); err != nil {
		return err
	}
	return writeFlush(s.metaCSV, manifestColumns)
}

func (s *Stager) writePair(row, meta []string, recDone, metaDone *bool) error {
	if !*recDone {
		if err := writeFlush(s.recCSV, row); err != nil {
			return err
		}
		*recDone = true
	}
	if !*metaDone {
		if err := writeFlush(s.metaCSV, meta); err != nil {
			return err
		}
		*metaDone = true
	}
	return nil
}

func writeFlush(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// DiscoverBatches lists staged batches left in dir, oldest first, so an
// interrupted run's staged work can still be published.
func DiscoverBatches(dir string) ([]*Batch, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var batches []*Batch
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "batch-") ||
			!strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".manifest.csv") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "batch-"), ".csv")
		manifest := filepath.Join(dir, "batch-"+id+".manifest.csv")
		if _, err := os.Stat(manifest); err != nil {
			continue
		}
		batches = append(batches, &Batch{
			ID:           id,
			Path:         filepath.Join(dir, name),
			ManifestPath: manifest,
		})
	}
	return batches, nil
}
