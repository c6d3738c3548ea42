/*
Package metrics provides Prometheus metrics collection and exposition for
the snapshot orchestration engine.

The metrics package defines and registers every exported metric using the
Prometheus client library, giving observability into cluster membership,
Raft health, API traffic, and the snapshot/deletion lifecycle. Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Cluster: Node count by role/status         │          │
	│  │  Raft: Leader status, log index, peers      │          │
	│  │  API: Request count, duration               │          │
	│  │  Snapshot: In progress, shard states,       │          │
	│  │            repository generation,           │          │
	│  │            create/finalize/delete duration  │          │
	│  │  Reconciler: Cycle duration, count          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Collector:
  - Polls clusterstate.Bus on a 15-second interval
  - Republishes node counts, snapshot/shard counts, and repository
    generations as gauges
  - Raft leadership state is read directly from the Bus rather than
    cached, since a stale leader gauge is worse than a slightly delayed
    one

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to a histogram (or histogram vector)

# Metrics Catalog

Cluster Metrics:

snapguard_nodes_total{role, status}:
  - Type: Gauge
  - Description: Total nodes by role (manager/data) and status (ready/down)
  - Example: snapguard_nodes_total{role="data",status="ready"} 5

Raft Metrics:

snapguard_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is the Raft cluster manager (1/0)

snapguard_raft_peers_total, snapguard_raft_log_index, snapguard_raft_applied_index:
  - Type: Gauge
  - Description: Peer count, current log index, last applied index

snapguard_raft_apply_duration_seconds, snapguard_raft_commit_duration_seconds:
  - Type: Histogram
  - Description: Time to apply/commit a cluster-state update

API Metrics:

snapguard_api_requests_total{method, status}:
  - Type: Counter
  - Description: Total API requests by method and status

snapguard_api_request_duration_seconds{method}:
  - Type: Histogram
  - Description: API request duration in seconds

Snapshot Engine Metrics:

snapguard_snapshots_in_progress{repository}:
  - Type: Gauge
  - Description: Snapshots currently in progress, by repository

snapguard_shard_state_total{state}:
  - Type: Gauge
  - Description: Shard snapshot statuses currently in each state across
    all in-progress entries

snapguard_repository_generation{repository}:
  - Type: Gauge
  - Description: Current repository generation

snapguard_snapshot_create_total{outcome}:
  - Type: Counter
  - Description: createSnapshot calls by outcome (accepted, rejected)

snapguard_snapshot_finalization_duration_seconds:
  - Type: Histogram
  - Description: Time to finalize a completed snapshot against the
    repository driver

snapguard_deletion_duration_seconds:
  - Type: Histogram
  - Description: Time to complete a deleteSnapshots call

Reconciler Metrics:

snapguard_reconciliation_duration_seconds, snapguard_reconciliation_cycles_total:
  - Type: Histogram / Counter
  - Description: Heartbeat-reconciliation cycle duration and count

# Usage

	import "github.com/cuemby/snapguard/pkg/metrics"

	metrics.NodesTotal.WithLabelValues("data", "ready").Set(5)
	metrics.SnapshotCreateTotal.WithLabelValues("accepted").Inc()

	timer := metrics.NewTimer()
	// ... finalize snapshot ...
	timer.ObserveDuration(metrics.SnapshotFinalizationDuration)

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/clusterstate: Bus.SubmitUpdate observes RaftCommitDuration; the
    Collector sets RaftLeader from the Bus
  - pkg/reconciler: Tracks reconciliation cycle duration and count
  - pkg/api: Instruments request count and duration, and records
    createSnapshot outcomes
  - Prometheus: Scrapes /metrics endpoint

RaftPeers, RaftLogIndex, RaftAppliedIndex, RaftApplyDuration,
SnapshotFinalizationDuration and DeletionDuration are registered, but no
package sets or observes them, so they keep their zero values.

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so metrics are available before main() runs

Label Discipline:
  - Labels are bounded: role, status, state, outcome, method — never a
    snapshot UUID or node ID

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
