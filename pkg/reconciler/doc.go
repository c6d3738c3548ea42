/*
Package reconciler implements the reactive updater: the component that
reacts to cluster-state changes (node loss, routing-table changes,
cluster-manager handover) by correcting the shards of in-flight
snapshots, rather than by polling.

# Architecture

Unlike the ticking reconciliation loop a container orchestrator runs
(check everything every N seconds regardless of whether anything moved),
this reconciler registers itself as a clusterstate.Applier and is invoked
synchronously whenever a new cluster state commits:

	┌──────────────────────────────────────────────────────────┐
	│              clusterstate.Bus.SubmitUpdate                │
	│                         │ commits                         │
	│                         ▼                                 │
	│              Reconciler.onNewClusterState(old, new)       │
	└─────────────────┬──────────────────────────┬─────────────┘
	                  │                          │
	                  ▼                          ▼
	          node removed from           node status changed
	          cluster membership          (heartbeat timeout)
	                  │                          │
	                  ▼                          ▼
	          fail in-flight shards       (detected by the
	          assigned to that node       5-second ticker below)

A lightweight 5-second ticker remains only to detect heartbeat timeouts:
node liveness is wall-clock-derived (time since LastHeartbeat), not
itself a field that changes via a cluster-state apply, so there is
nothing for an Applier callback to react to until the ticker submits the
correction. A heartbeat timeout alone is confirmed with a direct TCP
probe (pkg/health) to the node's advertised address before its shards
are failed, so a node that is merely slow to send its next heartbeat
isn't treated the same as one that is actually gone.

# Shard reaction rules

  - UNASSIGNED_QUEUED (queued, no node): left as-is; it inherits whatever
    knownFailure reason a previous assignment attempt recorded. Promotion
    off this state happens in ShardStateExecutor, not here.
  - WAITING whose routing key just changed to primary STARTED: promoted
    directly to INIT here, assigned to the primary's new node.
  - WAITING whose routing key just changed to primary still
    INITIALIZING/RELOCATING: left WAITING.
  - WAITING whose routing key just changed to primary UNASSIGNED: FAILED,
    with failure and knownFailure set to "shard is unassigned".
  - Any non-completed shard whose assigned node just disappeared or went
    DOWN: FAILED, with failure and knownFailure both set to "node
    shutdown".
  - PAUSED_FOR_NODE_REMOVAL: deliberately untouched. It is neither
    Completed nor Active — it simply waits for the node to finish
    leaving or to rejoin.

# Cluster-manager handover

checkLeadershipLoss runs on the same ticker: the instant this node stops
being the Raft leader, every outstanding snapshot/deletion listener is
failed via ListenerRegistry.FailAll and the per-repository op queues are
cleared, so callers waiting on this node never hang after a handover.
*/
package reconciler
