package ruletrace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Update Controller
// =============================================================================

var (
	// rebuildsTotal counts snapshot rebuilds.
	// Labels: kind (full, incremental), status (ok, error)
	rebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ruletrace",
		Subsystem: "engine",
		Name:      "rebuilds_total",
		Help:      "Total snapshot rebuilds",
	}, []string{"kind", "status"})

	rebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ruletrace",
		Subsystem: "engine",
		Name:      "rebuild_duration_seconds",
		Help:      "Time to rebuild and publish a snapshot",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// filesScanned counts source files by how their scan result was obtained.
	// Labels: source (scan, cache, memory)
	filesScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ruletrace",
		Subsystem: "engine",
		Name:      "files_scanned_total",
		Help:      "Source files processed during rebuilds",
	}, []string{"source"})

	watchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ruletrace",
		Subsystem: "watch",
		Name:      "errors_total",
		Help:      "Total file watcher failures",
	})

	publishedVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ruletrace",
		Subsystem: "engine",
		Name:      "published_version",
		Help:      "Version of the currently published snapshot",
	})
)
