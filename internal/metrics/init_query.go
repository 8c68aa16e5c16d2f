package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueryMetrics() {
	r.QueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowdb_queries_total",
			Help: "Total number of executed queries, by status",
		},
		[]string{"status"},
	)

	r.QueryDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowdb_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plan"},
	)

	r.QueryRowsScanned = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowdb_query_rows_scanned",
			Help:    "Number of rows scanned per query",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
		},
		[]string{"plan"},
	)

	r.QueryMemoryBytes = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_query_memory_bytes",
		Help: "Bytes currently checked out of the query memory manager's buffer pool",
	})

	r.QuerySpillsTotal = promauto.With(r.registry).NewCounter(prometheus.CounterOpts{
		Name: "rowdb_query_spills_total",
		Help: "Total number of times an operator spilled to disk",
	})
}
