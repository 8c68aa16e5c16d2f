package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStorageMetrics() {
	r.StorageRowsTotal = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_storage_rows_total",
		Help: "Total number of rows across all tables on this node",
	})

	r.StorageOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowdb_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	r.StorageOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rowdb_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	r.StorageDiskUsageBytes = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_storage_disk_usage_bytes",
		Help: "Disk space used by storage files in bytes",
	})

	r.LSMFlushesTotal = promauto.With(r.registry).NewCounter(prometheus.CounterOpts{
		Name: "rowdb_lsm_flushes_total",
		Help: "Total number of memtable-to-sstable flushes",
	})

	r.LSMCompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowdb_lsm_compactions_total",
			Help: "Total number of compactions run, by outcome",
		},
		[]string{"outcome"},
	)

	r.LSMLevelSSTables = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowdb_lsm_level_sstables",
			Help: "Number of SSTables currently resident in each level",
		},
		[]string{"table", "level"},
	)

	r.LSMMemTableBytes = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_lsm_memtable_bytes",
		Help: "Approximate size in bytes of the active memtable",
	})
}
