package snapshot

import (
	"sort"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/types"
)

// ShardUpdate is a single observed fact about one shard's snapshot
// progress: a data node reporting completion/failure via
// innerUpdateSnapshotState, or the engine itself recording a new
// assignment. ShardStateExecutor never talks to a data node directly —
// it only ever reduces a batch of these into the next cluster state.
type ShardUpdate struct {
	SnapshotUUID string
	ShardID      types.RepositoryShardId
	NewState     types.ShardState
	Generation   string
	Failure      string
}

// ReduceShardUpdates is the ShardStateExecutor (C4): a pure function
// from (current state, a batch of shard-state observations) to the next
// state.
//
// It runs in two passes over every in-progress entry, oldest admission
// first so promotion order is deterministic across replicas replaying
// the same log:
//
//  1. Apply each update to its own entry's shard, recording which
//     (repository, RepositoryShardId) resources that transition just
//     freed (the shard became Completed).
//  2. Release each freed resource to the single oldest entry whose copy
//     of that same shard is UNASSIGNED_QUEUED — the §4.2 FIFO handoff.
//     A resource freed by an ordinary snapshot shard can unblock a
//     clone's UNASSIGNED_QUEUED copy of the same RepositoryShardId and
//     vice versa, since both key off the same coordinate.
//
// It never calls out to Raft or the repository itself — SubmitUpdate
// wraps it in an UpdateTask so it composes with the rest of the bus.
func ReduceShardUpdates(state *clusterstate.State, updates []ShardUpdate) *clusterstate.State {
	if len(updates) == 0 {
		return state
	}

	byUUID := make(map[string]map[types.RepositoryShardId]ShardUpdate, len(updates))
	for _, u := range updates {
		m, ok := byUUID[u.SnapshotUUID]
		if !ok {
			m = make(map[types.RepositoryShardId]ShardUpdate)
			byUUID[u.SnapshotUUID] = m
		}
		m[u.ShardID] = u
	}

	next := state.Clone()
	order := orderedEntries(next)

	type freedResource struct {
		nodeID     string
		generation string
	}
	freed := make(map[string]map[types.RepositoryShardId]freedResource)
	touched := make(map[string]map[types.RepositoryShardId]*types.ShardSnapshotStatus, len(next.SnapshotsInProgress))

	// Pass 1: apply each entry's own updates.
	for _, oe := range order {
		entry := oe.entry
		if entry.State.Completed() {
			continue
		}
		updatesForEntry, hasUpdates := byUUID[oe.uuid]
		if !hasUpdates {
			continue
		}
		shardMap := entry.ShardMap()
		changes := make(map[types.RepositoryShardId]*types.ShardSnapshotStatus)
		for shardID, u := range updatesForEntry {
			status, ok := shardMap[shardID]
			if !ok || status.State.Completed() {
				// Unknown shard, or an idempotent retry of an
				// already-terminal shard: drop silently.
				continue
			}
			applied := applyShardUpdate(status, u)
			changes[shardID] = applied
			if applied.State.Completed() {
				repo := entry.ID.Repository
				if freed[repo] == nil {
					freed[repo] = make(map[types.RepositoryShardId]freedResource)
				}
				freed[repo][shardID] = freedResource{nodeID: applied.NodeID, generation: applied.Generation}
			}
		}
		if len(changes) > 0 {
			touched[oe.uuid] = changes
		}
	}

	// Pass 2: release each freed resource to the oldest still-waiting
	// UNASSIGNED_QUEUED holder of that same shard, within the same
	// repository. order is already oldest-first, so the first match
	// found for a given resource is the one that gets it.
	for _, oe := range order {
		entry := oe.entry
		if entry.State.Completed() {
			continue
		}
		resources := freed[entry.ID.Repository]
		if len(resources) == 0 {
			continue
		}
		changes := touched[oe.uuid]
		for shardID, status := range entry.ShardMap() {
			if changes != nil {
				if c, ok := changes[shardID]; ok {
					status = c
				}
			}
			if !status.IsUnassignedQueued() {
				continue
			}
			res, ok := resources[shardID]
			if !ok {
				continue
			}
			if changes == nil {
				changes = make(map[types.RepositoryShardId]*types.ShardSnapshotStatus)
			}
			changes[shardID] = &types.ShardSnapshotStatus{
				NodeID:     res.nodeID,
				State:      types.ShardStateInit,
				Generation: res.generation,
			}
			delete(resources, shardID)
		}
		if changes != nil {
			touched[oe.uuid] = changes
		}
	}

	for uuid, changes := range touched {
		entry := next.SnapshotsInProgress[uuid]
		shardMap := entry.ShardMap()
		newShardMap := make(map[types.RepositoryShardId]*types.ShardSnapshotStatus, len(shardMap))
		for shardID, status := range shardMap {
			if c, ok := changes[shardID]; ok {
				newShardMap[shardID] = c
			} else {
				newShardMap[shardID] = status
			}
		}

		newEntry := *entry
		if entry.Source.IsClone() {
			newEntry.Clones = newShardMap
		} else {
			newEntry.Shards = newShardMap
		}
		if newEntry.State == types.SnapshotStateStarted && allShardsCompleted(newShardMap) {
			newEntry.State = types.SnapshotStateSuccess
			for _, s := range newShardMap {
				if s.State == types.ShardStateFailed && !entry.Partial {
					newEntry.State = types.SnapshotStateFailed
					break
				}
			}
		}
		next.SnapshotsInProgress[uuid] = &newEntry
	}

	return next
}

// applyShardUpdate computes the new status for one shard given an
// observed update. Callers are expected to have already checked that
// current is not Completed(); once a shard reaches a terminal state it
// is not moved again, neither by this reducer nor by the reactive
// updater's node-loss path, which skips completed shards too.
func applyShardUpdate(current *types.ShardSnapshotStatus, u ShardUpdate) *types.ShardSnapshotStatus {
	next := *current
	next.State = u.NewState
	if u.Generation != "" {
		next.Generation = u.Generation
	}
	if u.Failure != "" {
		next.Failure = u.Failure
		next.KnownFailure = u.Failure
	}
	return &next
}

func allShardsCompleted(m map[types.RepositoryShardId]*types.ShardSnapshotStatus) bool {
	for _, s := range m {
		if !s.State.Completed() {
			return false
		}
	}
	return true
}

type orderedEntry struct {
	uuid  string
	entry *types.SnapshotEntry
}

// orderedEntries returns every in-progress entry sorted oldest admission
// first (ties broken by UUID for a stable total order), the iteration
// order §4.2's FIFO handoff and entry-visitation rules depend on.
func orderedEntries(state *clusterstate.State) []orderedEntry {
	out := make([]orderedEntry, 0, len(state.SnapshotsInProgress))
	for uuid, entry := range state.SnapshotsInProgress {
		out = append(out, orderedEntry{uuid: uuid, entry: entry})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].entry.StartTimeMillis != out[j].entry.StartTimeMillis {
			return out[i].entry.StartTimeMillis < out[j].entry.StartTimeMillis
		}
		return out[i].uuid < out[j].uuid
	})
	return out
}
