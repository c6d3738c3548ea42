package snapshot

import "errors"

// Sentinel errors returned across the engine's public surface. Callers
// (the gRPC server, the CLI) map these to wire-level error codes rather
// than inspecting error strings.
var (
	ErrConcurrentSnapshotExecution = errors.New("a snapshot is already in progress for this repository")
	ErrInvalidSnapshotName         = errors.New("invalid snapshot name")
	ErrSnapshotMissing             = errors.New("snapshot not found")
	ErrSnapshotNameExists          = errors.New("snapshot with this name already exists")
	ErrSnapshotException          = errors.New("snapshot failed")
	ErrRepositoryException        = errors.New("repository operation failed")
	ErrRepositoryMissing          = errors.New("repository not found")
	ErrNotClusterManager          = errors.New("this node is not the cluster manager")
	ErrFailedToCommitClusterState = errors.New("failed to commit cluster state")
	ErrCloneSourceNotFound        = errors.New("clone source snapshot not found")
	ErrDeletionInProgress         = errors.New("a deletion is already in progress for this repository")
	ErrUnsupportedOnOlderNodes    = errors.New("operation requires a higher minimum node version than currently in the cluster")
	ErrConcurrencyLimitReached    = errors.New("snapshot.max_concurrent_operations reached")
	ErrMissingShardsNotPartial    = errors.New("snapshot includes a shard that cannot be assigned and partial is not set")
)
