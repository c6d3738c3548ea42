/*
Package storage provides a BoltDB-backed local implementation of the
repository blob store the snapshot engine's RepositoryDriver writes to.

It is deliberately not part of the consensus-replicated cluster state:
repository data is written by whichever node is currently performing a
snapshot/clone/delete operation, and is read back by generation number,
the same compare-and-swap discipline a real object-storage backend
(S3, GCS, Azure Blob) provides natively via conditional writes.

# Architecture

	┌──────────────────── BOLTDB REPOSITORY STORE ─────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/repository.db            │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ root_generation  (repo)    │             │          │
	│  │  │ repository_data  (repo/gen)│             │          │
	│  │  │ snapshot_info    (repo/uuid)│            │          │
	│  │  │ index_metadata   (repo/idx/meta)│        │          │
	│  │  │ shard_generation (repo/idx/shard)│        │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

PutRootGeneration enforces that the caller's expected previous generation
still matches what is stored before accepting a write, giving the local
store the same single-writer-wins semantics a cloud object store's ETag
check would provide.
*/
package storage
