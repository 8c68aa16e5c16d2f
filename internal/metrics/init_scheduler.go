package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSchedulerMetrics() {
	r.SchedulerRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowdb_scheduler_runs_total",
			Help: "Total number of persist cycles run, by outcome",
		},
		[]string{"outcome"},
	)

	r.SchedulerRunDuration = promauto.With(r.registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "rowdb_scheduler_run_duration_seconds",
		Help:    "Duration of a persist cycle",
		Buckets: prometheus.DefBuckets,
	})

	r.SchedulerSkippedTotal = promauto.With(r.registry).NewCounter(prometheus.CounterOpts{
		Name: "rowdb_scheduler_skipped_total",
		Help: "Total number of persist cycles skipped because one was already running",
	})
}
