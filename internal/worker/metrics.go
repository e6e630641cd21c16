package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry     *prometheus.Registry
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	imagesPurged prometheus.Counter
	blobsSwept   prometheus.Counter
}

// newMetrics registers on a shared registry so the engine series from
// in-worker purges land on the same /metrics endpoint.
func newMetrics(registry *prometheus.Registry) *metrics {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_worker_runs_total",
			Help: "Total maintenance runs by task type and final status.",
		}, []string{"task", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetools_worker_run_duration_seconds",
			Help:    "Duration of each maintenance run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		imagesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_worker_images_purged_total",
			Help: "Total expired images removed by the purge task.",
		}),
		blobsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_worker_orphan_blobs_removed_total",
			Help: "Total orphaned blobs removed by the sweep task.",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.imagesPurged,
		m.blobsSwept,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
