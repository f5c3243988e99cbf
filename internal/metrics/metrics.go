// Package metrics exposes Prometheus metrics for the extraction pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindex_files_processed_total",
			Help: "Source files processed, by terminal status",
		},
		[]string{"status"},
	)

	ConversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockindex_conversion_duration_seconds",
			Help:    "Wall time of external converter invocations",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	BlocksExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindex_blocks_extracted_total",
			Help: "Block metadata records produced by the collector",
		},
	)

	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindex_anomalies_total",
			Help: "Non-fatal data-quality findings, by kind",
		},
		[]string{"kind"},
	)

	RecordsStaged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindex_records_staged_total",
			Help: "Records appended to the staging store",
		},
	)

	RecordsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindex_records_published_total",
			Help: "Documents upserted into the search index",
		},
	)

	PublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindex_publish_retries_total",
			Help: "Publish attempts that were retried after a failure",
		},
	)

	BatchesDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindex_batches_dead_lettered_total",
			Help: "Staged batches moved to the dead-letter store",
		},
	)
)

// ObserveConversion records the wall time of one converter invocation.
func ObserveConversion(d time.Duration) {
	ConversionDuration.Observe(d.Seconds())
}
