package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.ReplicationLagLSN = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rowdb_replication_lag_lsn",
			Help: "Difference between primary LSN and last-acked replica LSN",
		},
		[]string{"replica"},
	)

	r.ReplicationThroughputBytes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowdb_replication_throughput_bytes_total",
			Help: "Total bytes shipped to replicas",
		},
		[]string{"replica"},
	)

	r.ReplicationConnectedReplicas = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_replication_connected_replicas",
		Help: "Number of replicas currently online",
	})

	r.ClusterNodesTotal = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_cluster_nodes_total",
		Help: "Total number of known cluster nodes",
	})

	r.ClusterSuspectNodesTotal = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_cluster_suspect_nodes_total",
		Help: "Number of nodes currently in the suspect state",
	})

	r.ReshuffleRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowdb_reshuffle_runs_total",
			Help: "Total number of reshuffle procedures run, by outcome",
		},
		[]string{"outcome"},
	)

	r.ReshuffleUnderRepairedRows = promauto.With(r.registry).NewGauge(prometheus.GaugeOpts{
		Name: "rowdb_reshuffle_under_repaired_rows",
		Help: "Number of rows currently left under-repaired after exhausting retries",
	})
}
