package storage

// RepositoryStore defines the durable backing store a local repository
// implementation uses to persist the blob-store-equivalent data a real
// object-storage repository would keep: the repository's root metadata
// blob ("index-N"), per-snapshot info blobs, and per-index metadata
// blobs written during FinalizeSnapshot. It is the storage substrate for
// pkg/repository's RepositoryDriver implementation, not the consensus
// document managed by pkg/clusterstate — a repository write is durable
// local (or object-store) state, never something the whole cluster
// votes on.
type RepositoryStore interface {
	// GetRootGeneration returns the currently-committed root generation
	// number, or RepoGenEmpty (-1) if the repository has never been
	// written to.
	GetRootGeneration(repo string) (int64, error)

	// PutRootGeneration atomically records a new root generation along
	// with the serialized RepositoryData blob for that generation. It
	// returns an error if expectedPrevious does not match the stored
	// value (optimistic concurrency: a real repository would do this
	// with compare-and-swap on a cloud object's generation/etag).
	PutRootGeneration(repo string, expectedPrevious, next int64, data []byte) error

	// GetRepositoryData returns the RepositoryData blob for the current
	// root generation.
	GetRepositoryData(repo string) ([]byte, error)

	// PutSnapshotInfo stores the SnapshotInfo blob for a completed or
	// failed snapshot.
	PutSnapshotInfo(repo, snapshotUUID string, data []byte) error
	GetSnapshotInfo(repo, snapshotUUID string) ([]byte, error)
	DeleteSnapshotInfo(repo, snapshotUUID string) error

	// PutIndexMetadata/GetIndexMetadata store the per-index metadata
	// blob written once per distinct (index UUID, metadata identifier)
	// pair — repeated snapshots of an unchanged index share the blob.
	PutIndexMetadata(repo, indexUUID, metaUUID string, data []byte) error
	GetIndexMetadata(repo, indexUUID, metaUUID string) ([]byte, error)

	// PutShardGeneration/GetShardGeneration store the latest shard
	// generation blob identifier per (index UUID, shard index), used to
	// avoid re-uploading unchanged shard state across snapshots.
	PutShardGeneration(repo, indexUUID string, shardIndex int, generation string) error
	GetShardGeneration(repo, indexUUID string, shardIndex int) (string, error)

	// DeleteRepository removes all data associated with a repository
	// name. Nothing in this module calls it.
	DeleteRepository(repo string) error

	Close() error
}
