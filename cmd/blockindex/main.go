package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/northshore/blockindex/internal/config"
	"github.com/northshore/blockindex/internal/index"
	"github.com/northshore/blockindex/internal/logging"
	"github.com/northshore/blockindex/internal/pipeline"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration file")
		searchQuery = flag.String("search", "", "query the index instead of running the pipeline")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("blockindex\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", index.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", index.DriverName)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	idx, err := index.NewSQLiteIndex(cfg.IndexPath)
	if err != nil {
		logger.Fatal("opening search index", zap.Error(err))
	}
	defer func() { _ = idx.Close() }()

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, stopping dispatch of new files",
			zap.String("signal", sig.String()))
		cancel()
	}()

	if *searchQuery != "" {
		runSearch(ctx, idx, *searchQuery)
		return
	}

	p, err := pipeline.New(cfg, idx, logger)
	if err != nil {
		logger.Fatal("pipeline setup failed", zap.Error(err))
	}

	summary, err := p.Run(ctx)
	if err != nil {
		logger.Fatal("pipeline run failed", zap.Error(err))
	}

	printSummary(summary)
	if summary.DeadLettered > 0 {
		os.Exit(2)
	}
}

func runSearch(ctx context.Context, idx index.Index, query string) {
	results, err := idx.Search(ctx, query, 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search failed: %v\n", err)
		os.Exit(1)
	}
	for _, r := range results {
		d := r.Document
		fmt.Printf("%2d. %-24s layer=%-12s %gx%g  %s\n",
			r.Rank, d.Name, d.Layer, d.Width, d.Height, d.SourceFile)
	}
	if len(results) == 0 {
		fmt.Println("no matches")
	}
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Printf("  files:     %d discovered, %d processed, %d failed\n",
		s.FilesDiscovered, s.FilesProcessed, s.FilesFailed)
	fmt.Printf("  blocks:    %d collected, %d published, %d batches dead-lettered\n",
		s.BlocksCollected, s.Published, s.DeadLettered)

	if len(s.FailureCounts) > 0 {
		fmt.Println("  failures by kind:")
		kinds := make([]string, 0, len(s.FailureCounts))
		for k := range s.FailureCounts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("    %-16s %d\n", k, s.FailureCounts[k])
		}
		for _, f := range s.Failures {
			fmt.Printf("    [%s] %s: %s\n", f.Kind, f.File, f.Detail)
		}
	}

	if len(s.AnomalyCounts) > 0 {
		fmt.Println("  anomalies by kind:")
		for kind, n := range s.AnomalyCounts {
			fmt.Printf("    %-24s %d\n", kind, n)
		}
	}
}
