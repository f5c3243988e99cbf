// Package pipeline orchestrates the extraction run: locate drawings,
// convert, parse, collect, stage, and publish, with a bounded worker pool
// and per-stage error isolation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/northshore/blockindex/internal/collector"
	"github.com/northshore/blockindex/internal/config"
	"github.com/northshore/blockindex/internal/converter"
	"github.com/northshore/blockindex/internal/dxf"
	"github.com/northshore/blockindex/internal/index"
	"github.com/northshore/blockindex/internal/locator"
	"github.com/northshore/blockindex/internal/metrics"
	"github.com/northshore/blockindex/internal/publisher"
	"github.com/northshore/blockindex/internal/stager"
	"github.com/northshore/blockindex/pkg/types"
)

// ErrRunInProgress is returned when a second run is started on the same
// pipeline instance.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// maxSampled bounds the per-kind failure and anomaly samples kept in the
// run summary; totals are always exact.
const maxSampled = 25

// FileFailure is one per-file failure in the end-of-run summary.
type FileFailure struct {
	File   string
	Kind   string // converter failure kind or "ParseError"
	Detail string
}

// Summary reports what a run did: what succeeded, what was skipped, and
// what was dead-lettered. The run always completes and reports, rather
// than halting on the first error.
type Summary struct {
	RunID           string
	FilesDiscovered int
	FilesProcessed  int
	FilesFailed     int
	BlocksCollected int
	Published       int
	DeadLettered    int
	Duration        time.Duration

	FailureCounts map[string]int
	Failures      []FileFailure // bounded sample

	AnomalyCounts map[types.AnomalyKind]int
	Anomalies     []types.Anomaly // bounded sample
}

// Pipeline wires the stages together. Stages communicate through queue
// boundaries (the stager's record channel, the publisher's batch handoff),
// so one slow or failing stage never blocks unrelated files.
type Pipeline struct {
	cfg    *config.Config
	conv   *converter.Converter
	parser *dxf.Parser
	coll   *collector.Collector
	idx    index.Index
	logger *zap.Logger

	lock runLock
}

// New builds a Pipeline. The converter binary is resolved and verified
// here; a missing binary aborts before any file is touched.
func New(cfg *config.Config, idx index.Index, logger *zap.Logger) (*Pipeline, error) {
	binary, err := cfg.ResolveConverter()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	conv, err := converter.New(binary, filepath.Join(cfg.StagingDir, "converted"), cfg.ConvertTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	return &Pipeline{
		cfg:    cfg,
		conv:   conv,
		parser: dxf.New(),
		coll:   collector.New(cfg.MaxBlockDepth),
		idx:    idx,
		logger: logger.With(zap.String("component", "pipeline")),
	}, nil
}

// Run executes one full pass over the input tree. Cancelling ctx stops
// dispatch of new files; in-flight conversions run to their own timeout.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if !p.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer p.lock.Release()

	start := time.Now()
	summary := &Summary{
		RunID:         uuid.New().String(),
		FailureCounts: make(map[string]int),
		AnomalyCounts: make(map[types.AnomalyKind]int),
	}
	logger := p.logger.With(zap.String("run", summary.RunID))

	// Publish batches a previous interrupted run left behind before
	// producing new ones.
	if err := p.publishLeftovers(ctx, summary, logger); err != nil {
		return nil, err
	}

	loc := locator.New(p.cfg.RootDir, p.cfg.Extensions)
	files, err := loc.Discover()
	if err != nil {
		return nil, fmt.Errorf("discovering drawings: %w", err)
	}
	summary.FilesDiscovered = len(files)
	logger.Info("run started",
		zap.Int("files", len(files)), zap.Int("workers", p.cfg.Workers))

	st, err := stager.Open(p.cfg.StagingDir, p.cfg.StagingRetries, logger)
	if err != nil {
		return nil, fmt.Errorf("opening staging store: %w", err)
	}

	var (
		processed int32
		failed    int32
		blocks    int32
		mu        sync.Mutex // protects summary samples
	)

	g, gctx := errgroup.WithContext(ctx)
	semaphore := make(chan struct{}, p.cfg.Workers)

	for _, file := range files {
		file := file // per-iteration copy; the go directive predates Go 1.22 loop semantics
		select {
		case <-gctx.Done():
			// Stop dispatching; workers already running finish on
			// their own.
		case semaphore <- struct{}{}:
			g.Go(func() error {
				defer func() { <-semaphore }()
				p.processFile(file, st, summary, &mu, &processed, &failed, &blocks)
				return nil
			})
			continue
		}
		break
	}

	_ = g.Wait()

	batch, err := st.Close()
	if err != nil {
		return nil, fmt.Errorf("staging store failed: %w", err)
	}

	if batch.Count > 0 {
		pub := p.newPublisher(logger)
		report := pub.Publish(ctx, batch)
		p.mergeReport(summary, report)
	} else {
		_ = batch.Remove()
	}

	summary.FilesProcessed = int(processed)
	summary.FilesFailed = int(failed)
	summary.BlocksCollected = int(blocks)
	summary.Duration = time.Since(start)

	logger.Info("run finished",
		zap.Int("processed", summary.FilesProcessed),
		zap.Int("failed", summary.FilesFailed),
		zap.Int("blocks", summary.BlocksCollected),
		zap.Int("published", summary.Published),
		zap.Int("dead_lettered", summary.DeadLettered),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// processFile runs one file's convert -> parse -> collect -> stage leg.
// Every failure is recorded and isolated; nothing here aborts the run.
func (p *Pipeline) processFile(file types.DrawingFile, st *stager.Stager,
	summary *Summary, mu *sync.Mutex, processed, failed, blocks *int32) {

	result := p.conv.Convert(file)
	if !result.Ok() {
		atomic.AddInt32(failed, 1)
		metrics.FilesProcessed.WithLabelValues(string(result.Failure.Kind)).Inc()
		p.recordFailure(summary, mu, FileFailure{
			File:   file.Path,
			Kind:   string(result.Failure.Kind),
			Detail: result.Failure.Error(),
		})
		return
	}

	table, anomalies, err := p.parser.ParseFile(result.Output)
	if err != nil {
		atomic.AddInt32(failed, 1)
		metrics.FilesProcessed.WithLabelValues("ParseError").Inc()
		p.recordFailure(summary, mu, FileFailure{
			File:   file.Path,
			Kind:   "ParseError",
			Detail: err.Error(),
		})
		return
	}

	res := p.coll.Collect(table, file.ModTime)
	for i := range res.Records {
		// Records carry the source drawing's identity, not the
		// intermediate interchange path.
		res.Records[i].SourceFile = file.Path
		st.Stage(res.Records[i])
	}

	atomic.AddInt32(processed, 1)
	atomic.AddInt32(blocks, int32(len(res.Records)))
	metrics.FilesProcessed.WithLabelValues("ok").Inc()

	if len(anomalies) > 0 || len(res.Anomalies) > 0 {
		mu.Lock()
		for _, a := range append(anomalies, res.Anomalies...) {
			a.File = file.Path
			summary.AnomalyCounts[a.Kind]++
			if len(summary.Anomalies) < maxSampled {
				summary.Anomalies = append(summary.Anomalies, a)
			}
		}
		mu.Unlock()
	}
}

func (p *Pipeline) recordFailure(summary *Summary, mu *sync.Mutex, f FileFailure) {
	mu.Lock()
	defer mu.Unlock()
	summary.FailureCounts[f.Kind]++
	if len(summary.Failures) < maxSampled {
		summary.Failures = append(summary.Failures, f)
	}
}

func (p *Pipeline) newPublisher(logger *zap.Logger) *publisher.Publisher {
	retry := publisher.DefaultRetryConfig()
	if p.cfg.PublishRetries > 0 {
		retry.MaxRetries = p.cfg.PublishRetries
	}
	return publisher.New(p.idx, p.cfg.PublishBatchSize, retry, p.cfg.DeadLetterDir, logger)
}

// publishLeftovers drains staged batches from interrupted runs.
func (p *Pipeline) publishLeftovers(ctx context.Context, summary *Summary, logger *zap.Logger) error {
	leftovers, err := stager.DiscoverBatches(p.cfg.StagingDir)
	if err != nil {
		return fmt.Errorf("scanning staging store: %w", err)
	}
	if len(leftovers) == 0 {
		return nil
	}

	logger.Info("publishing staged batches from a previous run",
		zap.Int("batches", len(leftovers)))
	pub := p.newPublisher(logger)
	for _, batch := range leftovers {
		p.mergeReport(summary, pub.Publish(ctx, batch))
	}
	return nil
}

func (p *Pipeline) mergeReport(summary *Summary, report *publisher.Report) {
	summary.Published += report.Published
	summary.DeadLettered += report.DeadLettered
	for _, msg := range report.Errors {
		summary.FailureCounts["PublishFailure"]++
		if len(summary.Failures) < maxSampled {
			summary.Failures = append(summary.Failures, FileFailure{
				Kind:   "PublishFailure",
				Detail: msg,
			})
		}
	}
}
