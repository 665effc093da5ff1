package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every tagsearch collector. It is separate from the
// prometheus default registry so tests can inspect it in isolation.
var Registry = prometheus.NewRegistry()

var (
	// CyclesTotal counts update cycles by method and outcome.
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagsearch",
		Name:      "cycles_total",
		Help:      "Update cycles by method and outcome (ok, shape_mismatch, normalization, error).",
	}, []string{"method", "outcome"})

	// UnknownTagsTotal counts raw ids that matched neither the grid nor the target.
	UnknownTagsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tagsearch",
		Name:      "unknown_tags_total",
		Help:      "Detected ids that matched no grid cell and no target id.",
	})

	// TargetReadsTotal counts orientations whose reading contained a target id.
	TargetReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tagsearch",
		Name:      "target_reads_total",
		Help:      "Orientation readings that contained a target id.",
	})

	// CycleSeconds observes the wall time of a full cycle including hardware I/O.
	CycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tagsearch",
		Name:      "cycle_seconds",
		Help:      "Wall time of one collect-and-update cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// MaxProbability tracks the largest cell probability after the last cycle.
	MaxProbability = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tagsearch",
		Name:      "max_cell_probability",
		Help:      "Largest cell probability after the most recent successful cycle.",
	})
)

func init() {
	Registry.MustRegister(
		CyclesTotal,
		UnknownTagsTotal,
		TargetReadsTotal,
		CycleSeconds,
		MaxProbability,
		collectors.NewGoCollector(),
	)
}

// MetricsHandler serves Registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
