/*
Package types defines the core data structures shared by the snapshot
engine, the cluster-state replica, and the repository driver.

This package holds the domain model: node identity and routing
projections (Node, RoutingShard), repository bookkeeping
(RepositoryMetadata, DeletionEntry), and the snapshot/shard state machine
itself (SnapshotEntry, ShardSnapshotStatus). Every other package imports
from here rather than defining its own copies, so a SnapshotEntry
replicated by pkg/clusterstate is byte-for-byte the same value
pkg/snapshot reasons about and pkg/api serializes onto the wire.

# Core Types

Cluster topology:
  - Node: a manager or data node, its role, address, and last heartbeat
  - NodeRole: manager or data
  - NodeStatus: ready, down, unknown

Routing:
  - RoutingShard: one primary shard's current node and allocation state
  - RoutingShardState: unassigned, initializing, relocating, started

Repositories:
  - RepositoryMetadata: name, type, settings, and generation bookkeeping
  - DeletionEntry: an in-flight deleteSnapshots call and the names it covers
  - DeletionState: waiting (shards still aborting) or started (repository write running)

Snapshots:
  - SnapshotId: repository + name + UUID
  - SnapshotEntry: one in-progress snapshot or clone and its shard map
  - SnapshotState: init, started, aborted, failed, success
  - SnapshotSource: the clone parent a cloneSnapshot entry copies from
  - ShardSnapshotStatus: one shard's node, state, generation, and failure
  - ShardState: init, waiting, queued, success, failed, missing, aborted,
    pausedForNodeRemoval

# UNASSIGNED_QUEUED

A ShardSnapshotStatus with State == ShardStateQueued and an empty NodeID
represents a shard waiting on a resource another operation on the same
repository currently holds, or on a repository deletion that is STARTED.
IsUnassignedQueued reports this case; it is a sentinel combination of two
existing fields rather than a distinct ShardState, since the information
it needs (which repository shard, not which node) is already present on
the status.

# Thread Safety

Values in this package are treated as immutable once attached to a
clusterstate.State: every mutation clones the owning SnapshotEntry or
RoutingShard rather than writing through a shared pointer. Callers that
need to change a field copy the struct first.
*/
package types
