package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors. Both the API and the worker embed
// these into their own registries, so construction takes a Registerer
// instead of building one.
type Metrics struct {
	mutationsTotal     *prometheus.CounterVec
	mutationDuration   *prometheus.HistogramVec
	activeMutations    prometheus.Gauge
	lockRejections     *prometheus.CounterVec
	versionsEvicted    prometheus.Counter
	compressOutcomes   *prometheus.CounterVec
	thumbnailsRendered *prometheus.CounterVec
	bytesSavedTotal    prometheus.Counter
	pixelsTotal        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_engine_mutations_total",
			Help: "Total mutation attempts by operation and final status.",
		}, []string{"operation", "status"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetools_engine_mutation_duration_seconds",
			Help:    "End to end duration of committed mutations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		activeMutations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagetools_engine_active_mutations",
			Help: "Mutations currently holding an image lock.",
		}),
		lockRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_engine_lock_rejections_total",
			Help: "Lock acquisitions that failed, by waiting policy.",
		}, []string{"policy"}),
		versionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_engine_versions_evicted_total",
			Help: "History versions evicted to respect the depth bound.",
		}),
		compressOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_engine_compress_outcomes_total",
			Help: "Compress operations by whether the byte target was met.",
		}, []string{"outcome"}),
		thumbnailsRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_engine_thumbnails_rendered_total",
			Help: "Thumbnails rendered, split by commit path and read path.",
		}, []string{"trigger"}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_usage_bytes_saved_total",
			Help: "Bytes trimmed from images across all compress commits.",
		}),
		pixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_usage_pixels_processed_total",
			Help: "Pixels decoded across all committed mutations.",
		}),
	}

	reg.MustRegister(
		m.mutationsTotal,
		m.mutationDuration,
		m.activeMutations,
		m.lockRejections,
		m.versionsEvicted,
		m.compressOutcomes,
		m.thumbnailsRendered,
		m.bytesSavedTotal,
		m.pixelsTotal,
	)
	return m
}

// NopMetrics registers nothing and is handy in tests.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
