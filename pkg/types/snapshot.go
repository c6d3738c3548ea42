package types

import "time"

// SnapshotId is the unique identity of a snapshot: a human name plus a
// per-repository UUID. The UUID lets two snapshots share a name across
// time (delete-then-recreate) without colliding in internal bookkeeping.
type SnapshotId struct {
	Repository string
	Name       string
	UUID       string
}

// SnapshotState is the lifecycle state of a SnapshotEntry.
type SnapshotState string

const (
	SnapshotStateInit    SnapshotState = "INIT"
	SnapshotStateStarted SnapshotState = "STARTED"
	SnapshotStateAborted SnapshotState = "ABORTED"
	SnapshotStateFailed  SnapshotState = "FAILED"
	SnapshotStateSuccess SnapshotState = "SUCCESS"
)

// Completed reports whether the entry no longer participates in
// concurrency accounting or shard-state reactions.
func (s SnapshotState) Completed() bool {
	return s == SnapshotStateFailed || s == SnapshotStateSuccess
}

// SnapshotSource records the originating snapshot of a clone operation.
// Zero value means the entry is an ordinary (non-clone) snapshot.
type SnapshotSource struct {
	Name string
	UUID string
}

// IsClone reports whether this entry was created by cloneSnapshot rather
// than createSnapshot.
func (s SnapshotSource) IsClone() bool {
	return s.UUID != ""
}

// SnapshotFailure records why a snapshot or one of its shards did not
// complete successfully.
type SnapshotFailure struct {
	Reason string
	NodeID string
}

// SnapshotEntry is the in-flight bookkeeping record for one snapshot
// that is currently being created, initialized, or cloned. Entries live
// in ClusterState.SnapshotsInProgress for the duration of the operation
// and are removed once the entry reaches a Completed state and has been
// finalized against the repository.
type SnapshotEntry struct {
	ID                    SnapshotId
	State                 SnapshotState
	Indices               []IndexId
	DataStreams           []string
	StartTimeMillis       int64
	RepositoryGeneration  int64 // repository generation this entry targets, RepoGenUnknown (-2) if unknown
	RepositoryMetaVersion string
	UserMetadata          map[string]interface{}
	Source                SnapshotSource
	Failure               string

	// Exactly one of Shards or Clones is populated, never both, decided
	// at creation time by whether Source.IsClone() is true.
	Shards map[RepositoryShardId]*ShardSnapshotStatus
	Clones map[RepositoryShardId]*ShardSnapshotStatus

	Partial bool // whether missing/failed shards still allow SUCCESS overall
}

// StartTime returns StartTimeMillis as a time.Time for logging/metrics.
func (e *SnapshotEntry) StartTime() time.Time {
	return time.UnixMilli(e.StartTimeMillis)
}

// ShardMap returns the active per-shard map regardless of whether this
// entry is a clone or an ordinary snapshot.
func (e *SnapshotEntry) ShardMap() map[RepositoryShardId]*ShardSnapshotStatus {
	if e.Source.IsClone() {
		return e.Clones
	}
	return e.Shards
}
