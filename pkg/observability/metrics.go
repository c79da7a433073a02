package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// RecordsProcessed tracks temporal records flowing through the record stage
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectormill_records_processed_total",
			Help: "Total number of temporal records processed per stream",
		},
		[]string{"stream"},
	)

	// SamplesEmitted tracks assembled samples surviving the postprocess stage
	SamplesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectormill_samples_emitted_total",
			Help: "Total number of assembled samples emitted",
		},
	)

	// SamplesDropped tracks samples removed by coverage policies
	SamplesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectormill_samples_dropped_total",
			Help: "Total number of samples dropped by coverage policies",
		},
	)

	// ArtifactsBuilt tracks materialized artifacts per key
	ArtifactsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectormill_artifacts_built_total",
			Help: "Total number of artifacts materialized",
		},
		[]string{"artifact"},
	)

	// BuildsSkipped tracks build invocations skipped by the config hash gate
	BuildsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectormill_builds_skipped_total",
			Help: "Total number of build invocations skipped because the config hash was unchanged",
		},
	)

	// BuildDuration measures artifact materialization duration in seconds
	BuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vectormill_build_duration_seconds",
			Help:    "Artifact materialization duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"artifact"},
	)

	// SpoolBytesWritten tracks bytes appended to disk spool caches
	SpoolBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vectormill_spool_bytes_written_total",
			Help: "Total bytes appended to disk spool caches",
		},
	)
)
