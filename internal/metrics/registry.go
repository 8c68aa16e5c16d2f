// Package metrics exposes one process-wide Prometheus registry covering
// storage, replication, cluster and query concerns.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the engine emits.
type Registry struct {
	// Storage / LSM
	StorageRowsTotal         prometheus.Gauge
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageDiskUsageBytes    prometheus.Gauge
	LSMFlushesTotal          prometheus.Counter
	LSMCompactionsTotal      *prometheus.CounterVec
	LSMLevelSSTables         *prometheus.GaugeVec
	LSMMemTableBytes         prometheus.Gauge

	// Scheduler
	SchedulerRunsTotal      *prometheus.CounterVec
	SchedulerRunDuration    prometheus.Histogram
	SchedulerSkippedTotal   prometheus.Counter

	// Replication / cluster
	ReplicationLagLSN            *prometheus.GaugeVec
	ReplicationThroughputBytes   *prometheus.CounterVec
	ReplicationConnectedReplicas prometheus.Gauge
	ClusterNodesTotal            prometheus.Gauge
	ClusterSuspectNodesTotal     prometheus.Gauge
	ReshuffleRunsTotal           *prometheus.CounterVec
	ReshuffleUnderRepairedRows   prometheus.Gauge

	// Query
	QueriesTotal       *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	QueryRowsScanned   *prometheus.HistogramVec
	QueryMemoryBytes   prometheus.Gauge
	QuerySpillsTotal   prometheus.Counter

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}

	r.initStorageMetrics()
	r.initSchedulerMetrics()
	r.initReplicationMetrics()
	r.initQueryMetrics()

	return r
}

func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
