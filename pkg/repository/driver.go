// Package repository implements the RepositoryDriver consumed interface:
// the durable, CAS-disciplined blob store a snapshot lifecycle reads and
// writes repository metadata, snapshot info, and shard data against.
package repository

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/snapguard/pkg/storage"
	"github.com/cuemby/snapguard/pkg/types"
)

// RepositoryData is the root metadata blob of a repository: every
// snapshot it has ever completed (by UUID), and the shard generations
// recorded for each index at the most recent successful snapshot. It is
// versioned by a monotonically increasing generation number so the
// engine can detect and recover from concurrent writers.
type RepositoryData struct {
	Generation       int64
	Snapshots        []types.SnapshotId
	IndexShardGens    map[string]map[int]string // index UUID -> shard index -> generation
}

// Driver is the RepositoryDriver consumed interface (C1): the boundary
// between the snapshot engine's orchestration logic and the actual blob
// store. A real deployment would implement this against S3/GCS/Azure;
// this module ships a BoltDB-backed implementation so the engine is
// fully exercisable without cloud credentials.
type Driver interface {
	// GetRepositoryData returns the current RepositoryData for repo,
	// decoded from its root generation blob. Returns an empty
	// RepositoryData at generation RepoGenEmpty if nothing has ever
	// been written.
	GetRepositoryData(repo string) (*RepositoryData, error)

	// ExecuteConsistentStateUpdate applies fn to the current
	// RepositoryData and attempts to commit the result at the next
	// generation, retrying internally is NOT performed here — a CAS
	// failure is returned to the caller, which is expected to reread
	// and retry (mirroring a real object store's conditional-write
	// failure contract).
	ExecuteConsistentStateUpdate(repo string, fn func(*RepositoryData) (*RepositoryData, error)) (*RepositoryData, error)

	// GetSnapshotInfo returns the persisted SnapshotInfo blob for a
	// completed or failed snapshot.
	GetSnapshotInfo(repo string, id types.SnapshotId) (*SnapshotInfo, error)

	// GetSnapshotIndexMetaData returns the metadata blob for index as
	// captured by the given snapshot.
	GetSnapshotIndexMetaData(repo string, repoData *RepositoryData, id types.SnapshotId, index types.IndexId) (*IndexMetadata, error)

	// FinalizeSnapshot writes the SnapshotInfo and any new index
	// metadata/shard generation blobs, then commits the updated
	// RepositoryData as the generation after the stored one. genID is
	// the generation the caller observed; the local driver does not
	// compare it with the stored generation. listener is invoked once
	// the write completes (successfully or not).
	FinalizeSnapshot(repo string, genID int64, info *SnapshotInfo, indexMeta map[types.IndexId]*IndexMetadata, shardGens map[types.RepositoryShardId]string, listener func(error))

	// DeleteSnapshots removes the SnapshotInfo blobs for ids (by UUID)
	// and updates RepositoryData to drop them, committing the generation
	// after the stored one; as with FinalizeSnapshot, genID is not
	// compared with the stored generation. listener is invoked once the
	// write completes.
	DeleteSnapshots(repo string, ids []types.SnapshotId, genID int64, listener func(error))

	// CloneShardSnapshot copies one shard's data from src to a new
	// target snapshot within the same repository, without staging
	// through a data node. listener reports the resulting shard
	// generation or an error.
	CloneShardSnapshot(repo string, src, target types.SnapshotId, shardID types.RepositoryShardId, listener func(generation string, err error))
}

// SnapshotInfo is the persisted record of a completed (or failed)
// snapshot: everything a later read (currentSnapshots, a restore) needs
// without replaying the in-progress entry.
type SnapshotInfo struct {
	ID              types.SnapshotId
	State           types.SnapshotState
	StartTimeMillis int64
	EndTimeMillis   int64
	Indices         []types.IndexId
	ShardFailures   map[types.RepositoryShardId]string
	UserMetadata    map[string]interface{}
}

// IndexMetadata is an opaque, content-addressed blob capturing one
// index's mapping/settings as of the snapshot that wrote it.
type IndexMetadata struct {
	Index   types.IndexId
	Payload []byte
}

// localDriver implements Driver against a storage.RepositoryStore.
type localDriver struct {
	store storage.RepositoryStore
}

// NewLocalDriver returns a Driver backed by store.
func NewLocalDriver(store storage.RepositoryStore) Driver {
	return &localDriver{store: store}
}

func (d *localDriver) GetRepositoryData(repo string) (*RepositoryData, error) {
	raw, err := d.store.GetRepositoryData(repo)
	if err != nil {
		return nil, fmt.Errorf("read repository data for %s: %w", repo, err)
	}
	if raw == nil {
		gen, err := d.store.GetRootGeneration(repo)
		if err != nil {
			return nil, err
		}
		return &RepositoryData{Generation: gen, IndexShardGens: make(map[string]map[int]string)}, nil
	}
	var data RepositoryData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode repository data for %s: %w", repo, err)
	}
	return &data, nil
}

func (d *localDriver) ExecuteConsistentStateUpdate(repo string, fn func(*RepositoryData) (*RepositoryData, error)) (*RepositoryData, error) {
	current, err := d.GetRepositoryData(repo)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	next.Generation = current.Generation + 1

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode repository data: %w", err)
	}
	if err := d.store.PutRootGeneration(repo, current.Generation, next.Generation, encoded); err != nil {
		return nil, fmt.Errorf("commit repository generation: %w", err)
	}
	return next, nil
}

func (d *localDriver) GetSnapshotInfo(repo string, id types.SnapshotId) (*SnapshotInfo, error) {
	raw, err := d.store.GetSnapshotInfo(repo, id.UUID)
	if err != nil {
		return nil, err
	}
	var info SnapshotInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode snapshot info for %s: %w", id.Name, err)
	}
	return &info, nil
}

func (d *localDriver) GetSnapshotIndexMetaData(repo string, repoData *RepositoryData, id types.SnapshotId, index types.IndexId) (*IndexMetadata, error) {
	raw, err := d.store.GetIndexMetadata(repo, index.UUID, id.UUID)
	if err != nil {
		return nil, err
	}
	return &IndexMetadata{Index: index, Payload: raw}, nil
}

func (d *localDriver) FinalizeSnapshot(repo string, genID int64, info *SnapshotInfo, indexMeta map[types.IndexId]*IndexMetadata, shardGens map[types.RepositoryShardId]string, listener func(error)) {
	err := func() error {
		encoded, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("encode snapshot info: %w", err)
		}
		if err := d.store.PutSnapshotInfo(repo, info.ID.UUID, encoded); err != nil {
			return fmt.Errorf("write snapshot info: %w", err)
		}

		for index, meta := range indexMeta {
			if err := d.store.PutIndexMetadata(repo, index.UUID, info.ID.UUID, meta.Payload); err != nil {
				return fmt.Errorf("write index metadata for %s: %w", index.Name, err)
			}
		}

		for shardID, gen := range shardGens {
			if err := d.store.PutShardGeneration(repo, shardID.Index.UUID, shardID.ShardIndex, gen); err != nil {
				return fmt.Errorf("write shard generation for %s[%d]: %w", shardID.Index.Name, shardID.ShardIndex, err)
			}
		}

		_, err = d.ExecuteConsistentStateUpdate(repo, func(data *RepositoryData) (*RepositoryData, error) {
			next := *data
			next.Snapshots = append(append([]types.SnapshotId{}, data.Snapshots...), info.ID)
			next.IndexShardGens = mergeShardGens(data.IndexShardGens, shardGens)
			return &next, nil
		})
		return err
	}()
	listener(err)
}

func (d *localDriver) DeleteSnapshots(repo string, ids []types.SnapshotId, genID int64, listener func(error)) {
	err := func() error {
		for _, id := range ids {
			if err := d.store.DeleteSnapshotInfo(repo, id.UUID); err != nil {
				return fmt.Errorf("delete snapshot info for %s: %w", id.Name, err)
			}
		}
		_, err := d.ExecuteConsistentStateUpdate(repo, func(data *RepositoryData) (*RepositoryData, error) {
			next := *data
			next.Snapshots = removeSnapshots(data.Snapshots, ids)
			return &next, nil
		})
		return err
	}()
	listener(err)
}

func (d *localDriver) CloneShardSnapshot(repo string, src, target types.SnapshotId, shardID types.RepositoryShardId, listener func(generation string, err error)) {
	gen, err := d.store.GetShardGeneration(repo, shardID.Index.UUID, shardID.ShardIndex)
	if err != nil {
		listener("", fmt.Errorf("read source shard generation: %w", err))
		return
	}
	if gen == "" {
		listener("", fmt.Errorf("no shard data found for %s[%d] in snapshot %s", shardID.Index.Name, shardID.ShardIndex, src.Name))
		return
	}
	// The clone target shares the same generation: no bytes are copied,
	// only the repository-data pointer is extended to reference it.
	listener(gen, nil)
}

func mergeShardGens(base map[string]map[int]string, updates map[types.RepositoryShardId]string) map[string]map[int]string {
	next := make(map[string]map[int]string, len(base))
	for idx, shards := range base {
		cp := make(map[int]string, len(shards))
		for k, v := range shards {
			cp[k] = v
		}
		next[idx] = cp
	}
	for shardID, gen := range updates {
		if next[shardID.Index.UUID] == nil {
			next[shardID.Index.UUID] = make(map[int]string)
		}
		next[shardID.Index.UUID][shardID.ShardIndex] = gen
	}
	return next
}

func removeSnapshots(all []types.SnapshotId, remove []types.SnapshotId) []types.SnapshotId {
	removeSet := make(map[string]bool, len(remove))
	for _, id := range remove {
		removeSet[id.UUID] = true
	}
	var kept []types.SnapshotId
	for _, id := range all {
		if !removeSet[id.UUID] {
			kept = append(kept, id)
		}
	}
	return kept
}
