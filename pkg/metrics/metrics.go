package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster membership metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapguard_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapguard_raft_is_leader",
			Help: "Whether this node is the Raft cluster manager (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapguard_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapguard_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapguard_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapguard_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapguard_raft_commit_duration_seconds",
			Help:    "Time taken to commit a cluster-state update in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapguard_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapguard_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reactive updater metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapguard_reconciliation_duration_seconds",
			Help:    "Time taken for a heartbeat reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snapguard_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// Snapshot engine metrics
	SnapshotsInProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapguard_snapshots_in_progress",
			Help: "Number of snapshots currently in progress by repository",
		},
		[]string{"repository"},
	)

	ShardStateTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapguard_shard_state_total",
			Help: "Number of shard snapshot statuses currently in each state",
		},
		[]string{"state"},
	)

	RepositoryGeneration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapguard_repository_generation",
			Help: "Current repository generation by repository",
		},
		[]string{"repository"},
	)

	SnapshotCreateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapguard_snapshot_create_total",
			Help: "Total number of createSnapshot calls by outcome",
		},
		[]string{"outcome"},
	)

	SnapshotFinalizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapguard_snapshot_finalization_duration_seconds",
			Help:    "Time taken to finalize a snapshot against the repository in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeletionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapguard_deletion_duration_seconds",
			Help:    "Time taken to complete a deleteSnapshots call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(SnapshotsInProgress)
	prometheus.MustRegister(ShardStateTotal)
	prometheus.MustRegister(RepositoryGeneration)
	prometheus.MustRegister(SnapshotCreateTotal)
	prometheus.MustRegister(SnapshotFinalizationDuration)
	prometheus.MustRegister(DeletionDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
