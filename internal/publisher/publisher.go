// Package publisher drains staged batches into the search index.
//
// Records are upserted in transactional batches. A batch-level failure
// (index unreachable, locked database) is retried with exponential
// backoff; once attempts are exhausted the batch files move to the
// dead-letter store instead of being dropped. A staged batch is removed
// only after every one of its records has been published.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/northshore/blockindex/internal/index"
	"github.com/northshore/blockindex/internal/metrics"
	"github.com/northshore/blockindex/internal/stager"
	"github.com/northshore/blockindex/pkg/types"
)

// Report summarizes one publication run.
type Report struct {
	Published    int
	Batches      int
	DeadLettered int
	Errors       []string
}

// Publisher upserts staged records into the index.
type Publisher struct {
	idx           index.Index
	batchSize     int
	retry         RetryConfig
	deadLetterDir string
	logger        *zap.Logger
}

// New creates a Publisher writing to idx. batchSize bounds documents per
// transaction; retries failing that many times dead-letters the batch.
func New(idx index.Index, batchSize int, retry RetryConfig, deadLetterDir string, logger *zap.Logger) *Publisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Publisher{
		idx:           idx,
		batchSize:     batchSize,
		retry:         retry,
		deadLetterDir: deadLetterDir,
		logger:        logger.With(zap.String("component", "publisher")),
	}
}

// Publish drains one staged batch. On success the staged files are
// reclaimed; on exhausted retries they are dead-lettered and the error
// recorded in the report. A cancelled context leaves the batch staged
// for the next run.
func (p *Publisher) Publish(ctx context.Context, batch *stager.Batch) *Report {
	report := &Report{Batches: 1}

	records, err := batch.Load()
	if err != nil {
		p.logger.Error("staged batch unreadable, dead-lettering",
			zap.String("batch", batch.ID), zap.Error(err))
		p.deadLetter(batch, report, err)
		return report
	}

	for start := 0; start < len(records); start += p.batchSize {
		end := start + p.batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		err := retryWithBackoff(ctx, p.retry, func() error {
			if err := p.upsertChunk(ctx, chunk); err != nil {
				metrics.PublishRetries.Inc()
				return err
			}
			return nil
		})
		if err != nil {
			// Cancellation is not an index failure: the batch stays
			// staged so the next run's leftover scan publishes it.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logger.Warn("publish interrupted, batch stays staged",
					zap.String("batch", batch.ID),
					zap.Int("published_so_far", report.Published))
				report.Errors = append(report.Errors,
					fmt.Sprintf("batch %s deferred to the next run: %v", batch.ID, err))
				return report
			}
			p.logger.Error("publish attempts exhausted, dead-lettering",
				zap.String("batch", batch.ID),
				zap.Int("published_so_far", report.Published),
				zap.Error(err))
			p.deadLetter(batch, report, err)
			return report
		}

		report.Published += len(chunk)
		metrics.RecordsPublished.Add(float64(len(chunk)))
	}

	// Every record is confirmed in the index; only now may the staged
	// rows be reclaimed.
	if err := batch.Remove(); err != nil {
		report.Errors = append(report.Errors,
			fmt.Sprintf("batch %s published but not reclaimed: %v", batch.ID, err))
	}
	p.logger.Info("batch published",
		zap.String("batch", batch.ID), zap.Int("records", report.Published))
	return report
}

// upsertChunk writes one transactional slice of records.
func (p *Publisher) upsertChunk(ctx context.Context, records []*types.BlockMetadataRecord) error {
	tx, err := p.idx.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin publish transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if err := tx.UpsertDocument(ctx, index.FromRecord(rec)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// deadLetter moves the batch files into the dead-letter directory. The
// records are never silently dropped: if even the move fails the paths are
// kept in the report.
func (p *Publisher) deadLetter(batch *stager.Batch, report *Report, cause error) {
	report.DeadLettered++
	report.Errors = append(report.Errors, fmt.Sprintf("batch %s: %v", batch.ID, cause))
	metrics.BatchesDeadLettered.Inc()

	if err := os.MkdirAll(p.deadLetterDir, 0o755); err != nil {
		report.Errors = append(report.Errors,
			fmt.Sprintf("batch %s stranded at %s: %v", batch.ID, batch.Path, err))
		return
	}
	for _, path := range []string{batch.Path, batch.ManifestPath} {
		dest := filepath.Join(p.deadLetterDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil && !os.IsNotExist(err) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("batch %s stranded at %s: %v", batch.ID, path, err))
		}
	}
}
