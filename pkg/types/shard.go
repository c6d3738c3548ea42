package types

// ShardState is the lifecycle state of a single shard within a
// SnapshotEntry. The zero value is never used directly; entries are
// always created with an explicit state.
type ShardState string

const (
	// ShardStateInit means the shard snapshot has been recorded but no
	// data-node work has been dispatched yet.
	ShardStateInit ShardState = "INIT"

	// ShardStateWaiting means the primary is not yet in a state the
	// engine can snapshot (initializing, relocating, or unassigned) and
	// the shard is waiting for the routing table to settle.
	ShardStateWaiting ShardState = "WAITING"

	// ShardStateQueued means the shard is runnable but deferred because
	// the per-node or per-repository concurrency limit is currently
	// saturated. A ShardState of QUEUED with an empty NodeID is the
	// "unassigned queued" sentinel: another in-progress operation on the
	// same repository holds the shard (or a deletion of the repository
	// is STARTED), so no node has been picked for it yet; it must be
	// treated differently from a queued shard with a known node on delete.
	ShardStateQueued ShardState = "QUEUED"

	ShardStateSuccess ShardState = "SUCCESS"
	ShardStateFailed  ShardState = "FAILED"
	ShardStateMissing ShardState = "MISSING"
	ShardStateAborted ShardState = "ABORTED"

	// ShardStatePausedForNodeRemoval means the data node holding the
	// shard is being gracefully removed from the cluster. It is
	// deliberately NOT Completed() and NOT Active(): it neither
	// occupies a concurrency slot nor finishes the snapshot, it simply
	// waits to be reassigned once the node departs or rejoins.
	ShardStatePausedForNodeRemoval ShardState = "PAUSED_FOR_NODE_REMOVAL"
)

// Completed reports whether this state is terminal for accounting
// purposes (no longer contributes to "in progress" counts).
func (s ShardState) Completed() bool {
	switch s {
	case ShardStateSuccess, ShardStateFailed, ShardStateMissing, ShardStateAborted:
		return true
	}
	return false
}

// Active reports whether a shard in this state currently occupies a
// per-node concurrency slot on a data node.
func (s ShardState) Active() bool {
	return s == ShardStateInit
}

// NewShardGen is the shard generation sentinel meaning "no prior
// generation exists" — used for the first successful snapshot of a shard.
const NewShardGen = ""

// ShardSnapshotStatus is the per-shard record inside a SnapshotEntry.
type ShardSnapshotStatus struct {
	NodeID       string // empty for UNASSIGNED_QUEUED and not-yet-assigned shards
	State        ShardState
	Failure      string
	Generation   string // shard generation written to the repository, "" if none yet
	KnownFailure string // sticky failure reason carried across reassignment attempts
}

// IsUnassignedQueued reports the spec's "unassigned but queued" sentinel:
// QUEUED state with no assigned node, which must be treated specially on
// delete-snapshot interaction (it has no data-node work to wait on).
func (s *ShardSnapshotStatus) IsUnassignedQueued() bool {
	return s.State == ShardStateQueued && s.NodeID == ""
}
