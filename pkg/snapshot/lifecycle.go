package snapshot

import (
	"fmt"
	"time"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/log"
	"github.com/cuemby/snapguard/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateSnapshotRequest describes a createSnapshot call.
type CreateSnapshotRequest struct {
	Repository   string
	Name         string
	Indices      []types.IndexId
	DataStreams  []string
	Partial      bool
	UserMetadata map[string]interface{}
}

// CloneSnapshotRequest describes a cloneSnapshot call.
type CloneSnapshotRequest struct {
	Repository string
	SourceName string
	SourceUUID string
	TargetName string
	Indices    []types.IndexId
}

// DeleteSnapshotsRequest describes a deleteSnapshots call.
type DeleteSnapshotsRequest struct {
	Repository string
	Names      []string
}

// Lifecycle is the SnapshotLifecycle (C5): admission control and
// state-machine transitions for create/clone/delete, expressed as
// UpdateTasks submitted to the ClusterStateBus. It never touches the
// repository directly for the create/clone/delete decision itself — that
// happens later, once the relevant shards finish, via RepoLoop.
type Lifecycle struct {
	bus       *clusterstate.Bus
	listeners *ListenerRegistry
	logger    zerolog.Logger
}

// NewLifecycle wires a Lifecycle against its bus and listener registry.
func NewLifecycle(bus *clusterstate.Bus, listeners *ListenerRegistry) *Lifecycle {
	return &Lifecycle{bus: bus, listeners: listeners, logger: log.WithComponent("snapshot-lifecycle")}
}

// CreateSnapshot admits a new snapshot into cluster state, assigning
// each requested index's primary shards per the current routing table
// and the shard locks already held by other in-progress operations, and
// registers onDone to be called once the snapshot completes.
func (l *Lifecycle) CreateSnapshot(req CreateSnapshotRequest, onDone CompletionListener) (types.SnapshotId, error) {
	if req.Name == "" {
		return types.SnapshotId{}, ErrInvalidSnapshotName
	}

	id := types.SnapshotId{Repository: req.Repository, Name: req.Name, UUID: uuid.New().String()}

	task := &clusterstate.TaskFunc{
		Label: fmt.Sprintf("create_snapshot[%s]", req.Name),
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			for _, entry := range current.SnapshotsInProgress {
				if entry.ID.Repository == req.Repository && entry.ID.Name == req.Name && !entry.State.Completed() {
					return nil, ErrConcurrentSnapshotExecution
				}
			}

			// concurrentCreate (§4.5) only becomes available once every
			// node in the cluster has rolled past FullConcurrencyVersion;
			// below that, the cluster behaves like the legacy engine did —
			// one in-flight snapshot in any repository, never alongside a
			// deletion.
			concurrencyAllowed := minClusterVersion(peerVersions(current)) >= FullConcurrencyVersion
			if !concurrencyAllowed {
				for _, entry := range current.SnapshotsInProgress {
					if !entry.State.Completed() {
						return nil, ErrConcurrentSnapshotExecution
					}
				}
				if len(current.SnapshotDeletions) > 0 {
					return nil, ErrConcurrentSnapshotExecution
				}
			} else if len(current.SnapshotsInProgress)+len(current.SnapshotDeletions) >= current.Settings.MaxConcurrentOperations {
				return nil, ErrConcurrencyLimitReached
			}

			shards := assignShards(current, req.Repository, req.Indices)
			if !req.Partial {
				for _, status := range shards {
					if status.State == types.ShardStateMissing {
						return nil, ErrMissingShardsNotPartial
					}
				}
			}

			// legacyCreate (§4.5): below NoRepoInitializeVersion the
			// engine must write a preliminary repository blob before any
			// shard work is allowed to start; modern clusters skip
			// straight to STARTED. See Engine.initializeSnapshot for the
			// INIT->STARTED transition this produces.
			initialState := types.SnapshotStateStarted
			if minClusterVersion(peerVersions(current)) < NoRepoInitializeVersion {
				initialState = types.SnapshotStateInit
			}

			entry := &types.SnapshotEntry{
				ID:                   id,
				State:                initialState,
				Indices:              req.Indices,
				DataStreams:          req.DataStreams,
				StartTimeMillis:      now(),
				RepositoryGeneration: repoGeneration(current, req.Repository),
				UserMetadata:         req.UserMetadata,
				Shards:               shards,
				Partial:              req.Partial,
			}

			next := current.Clone()
			next.SnapshotsInProgress[id.UUID] = entry
			return next, nil
		},
		OnFail: func(err error) {
			if onDone != nil {
				onDone(err)
			}
		},
		OnApplied: func(old, new *clusterstate.State) {
			if onDone != nil {
				l.listeners.AddSnapshotListener(id.UUID, onDone)
			}
		},
	}

	if err := l.bus.SubmitUpdate(task); err != nil {
		return types.SnapshotId{}, err
	}
	return id, nil
}

// CloneSnapshot admits a clone of an existing, completed snapshot's
// shards without staging the work through a data node: a clone copies
// repository blobs directly (see repository.Driver.CloneShardSnapshot).
//
// Preparation mirrors §4.1.2: (1) resolve and validate the source is not
// itself in progress, (2) compute the target shard list from the
// source's shard count, assigning each shard INIT (this node will drive
// the clone directly) unless another in-progress operation on this
// repository already holds that RepositoryShardId, in which case it is
// UNASSIGNED_QUEUED like any other contended shard. Engine drives every
// INIT clone shard through repository.Driver.CloneShardSnapshot once
// this update commits.
func (l *Lifecycle) CloneSnapshot(req CloneSnapshotRequest, onDone CompletionListener) (types.SnapshotId, error) {
	if req.TargetName == "" {
		return types.SnapshotId{}, ErrInvalidSnapshotName
	}

	id := types.SnapshotId{Repository: req.Repository, Name: req.TargetName, UUID: uuid.New().String()}

	task := &clusterstate.TaskFunc{
		Label: fmt.Sprintf("clone_snapshot[%s->%s]", req.SourceName, req.TargetName),
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			if minClusterVersion(peerVersions(current)) < CloneSnapshotVersion {
				return nil, ErrUnsupportedOnOlderNodes
			}

			// Step 1: resolve source — must not itself be in progress
			// (a clone reads completed repository data, not a live
			// in-memory entry).
			for _, entry := range current.SnapshotsInProgress {
				if entry.ID.Repository == req.Repository && entry.ID.UUID == req.SourceUUID {
					return nil, fmt.Errorf("%w: source snapshot still in progress", ErrConcurrentSnapshotExecution)
				}
			}

			// Step 2: compute target shard list — one clone entry per
			// requested index/shard, INIT if free or UNASSIGNED_QUEUED
			// if another operation currently holds the same repository
			// shard.
			held := heldShards(current, req.Repository)
			clones := make(map[types.RepositoryShardId]*types.ShardSnapshotStatus)
			for _, index := range req.Indices {
				shardCount := countShardsForIndex(current, index)
				for i := 0; i < shardCount; i++ {
					shardID := types.RepositoryShardId{Index: index, ShardIndex: i}
					if held[shardID] {
						clones[shardID] = &types.ShardSnapshotStatus{State: types.ShardStateQueued}
						continue
					}
					clones[shardID] = &types.ShardSnapshotStatus{NodeID: l.bus.NodeID(), State: types.ShardStateInit}
				}
			}

			// Step 3: admit.
			entry := &types.SnapshotEntry{
				ID:                   id,
				State:                types.SnapshotStateStarted,
				Indices:              req.Indices,
				StartTimeMillis:      now(),
				RepositoryGeneration: repoGeneration(current, req.Repository),
				Source:               types.SnapshotSource{Name: req.SourceName, UUID: req.SourceUUID},
				Clones:               clones,
			}

			next := current.Clone()
			next.SnapshotsInProgress[id.UUID] = entry
			return next, nil
		},
		OnFail: func(err error) {
			if onDone != nil {
				onDone(err)
			}
		},
		OnApplied: func(old, new *clusterstate.State) {
			if onDone != nil {
				l.listeners.AddSnapshotListener(id.UUID, onDone)
			}
		},
	}

	if err := l.bus.SubmitUpdate(task); err != nil {
		return types.SnapshotId{}, err
	}
	return id, nil
}

// DeleteSnapshots admits a deletion, merging into an existing WAITING
// deletion for the same repository or attaching to a matching STARTED
// one rather than rejecting outright (§8: "duplicate delete request for
// same ids attaches listener to existing deletion"). UNASSIGNED_QUEUED
// shards of a named snapshot are dropped from its entry rather than
// waited on, since no data node is ever going to report progress on
// them; all other in-flight shards are marked ABORTED
// and the delete waits (state WAITING) for them to actually stop before
// the repository is mutated.
func (l *Lifecycle) DeleteSnapshots(req DeleteSnapshotsRequest, onDone DeletionListener) error {
	task := &clusterstate.TaskFunc{
		Label: fmt.Sprintf("delete_snapshots[%s]", req.Repository),
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			if len(req.Names) > 1 && minClusterVersion(peerVersions(current)) < MultiDeleteVersion {
				return nil, ErrUnsupportedOnOlderNodes
			}

			if existing, ok := current.SnapshotDeletions[req.Repository]; ok && existing.State == types.DeletionStateStarted {
				// The repository write for the existing deletion is
				// already running; this call just attaches its listener
				// and waits for that write, rather than starting a
				// second one against the same repository.
				return current.Clone(), nil
			}

			next := current.Clone()
			nameSet := make(map[string]bool, len(req.Names))
			for _, n := range req.Names {
				nameSet[n] = true
			}

			for uuid, entry := range next.SnapshotsInProgress {
				if entry.ID.Repository != req.Repository || !nameSet[entry.ID.Name] {
					continue
				}
				abortEntry(entry)
				next.SnapshotsInProgress[uuid] = entry
			}

			if existing, ok := next.SnapshotDeletions[req.Repository]; ok {
				next.SnapshotDeletions[req.Repository] = mergeDeletionNames(existing, req.Names)
				return next, nil
			}

			next.SnapshotDeletions[req.Repository] = &types.DeletionEntry{
				Repository:           req.Repository,
				SnapshotNames:        req.Names,
				State:                types.DeletionStateWaiting,
				StartTimeMillis:      now(),
				RepositoryGeneration: repoGeneration(current, req.Repository),
			}
			return next, nil
		},
		OnFail: func(err error) {
			if onDone != nil {
				onDone(err)
			}
		},
		OnApplied: func(old, new *clusterstate.State) {
			if onDone != nil {
				l.listeners.AddDeletionListener(req.Repository, onDone)
			}
		},
	}

	return l.bus.SubmitUpdate(task)
}

// mergeDeletionNames folds names into existing's name list, deduplicated,
// without disturbing its State/StartTimeMillis — a second deleteSnapshots
// call for a repository already WAITING just widens the set of names the
// single in-flight deletion will remove.
func mergeDeletionNames(existing *types.DeletionEntry, names []string) *types.DeletionEntry {
	seen := make(map[string]bool, len(existing.SnapshotNames))
	merged := append([]string{}, existing.SnapshotNames...)
	for _, n := range merged {
		seen[n] = true
	}
	for _, n := range names {
		if !seen[n] {
			merged = append(merged, n)
			seen[n] = true
		}
	}
	next := *existing
	next.SnapshotNames = merged
	return &next
}

// abortEntry marks every non-completed shard ABORTED, except shards that
// are UNASSIGNED_QUEUED — those are dropped outright since no node was
// ever told to run them.
//
// This does not itself promote whatever other entry may be waiting on a
// shard this entry was holding: per the open question in §9, that
// promotion is left to the next ShardStateExecutor pass over an
// unrelated shard update, not triggered synchronously from here. Callers
// must not assume a waiting shard is unblocked the instant a delete
// commits.
func abortEntry(entry *types.SnapshotEntry) {
	shardMap := entry.ShardMap()
	newMap := make(map[types.RepositoryShardId]*types.ShardSnapshotStatus, len(shardMap))
	for id, status := range shardMap {
		if status.IsUnassignedQueued() {
			continue
		}
		if status.State.Completed() {
			newMap[id] = status
			continue
		}
		aborted := *status
		aborted.State = types.ShardStateAborted
		newMap[id] = &aborted
	}
	if entry.Source.IsClone() {
		entry.Clones = newMap
	} else {
		entry.Shards = newMap
	}
	if entry.State == types.SnapshotStateStarted || entry.State == types.SnapshotStateInit {
		entry.State = types.SnapshotStateAborted
	}
}

// assignShards implements the §4.1.1 per-(index, shardId) resolution:
//
//   - another in-progress operation on this repository already holds the
//     shard, or a deletion for this repository is STARTED -> UNASSIGNED_QUEUED
//   - primary unassigned -> MISSING("primary shard is not allocated")
//   - primary initializing/relocating -> WAITING
//   - primary started -> assigned to the primary's current node, INIT
//
// An index with no routing entries at all (the "index deleted from
// metadata" case) simply contributes no shards, since this routing
// projection has no other way to enumerate a shard count for it; no
// distinct MISSING("index deleted") entry is produced.
func assignShards(state *clusterstate.State, repo string, indices []types.IndexId) map[types.RepositoryShardId]*types.ShardSnapshotStatus {
	shards := make(map[types.RepositoryShardId]*types.ShardSnapshotStatus)
	held := heldShards(state, repo)
	deletionStarted := false
	if d, ok := state.SnapshotDeletions[repo]; ok && d.State == types.DeletionStateStarted {
		deletionStarted = true
	}

	for _, index := range indices {
		for _, routing := range state.Routing {
			if routing.Index != index {
				continue
			}
			shardID := types.RepositoryShardId{Index: index, ShardIndex: routing.ShardIndex}

			if held[shardID] || deletionStarted {
				shards[shardID] = &types.ShardSnapshotStatus{State: types.ShardStateQueued}
				continue
			}

			switch routing.State {
			case types.RoutingShardStarted:
				shards[shardID] = &types.ShardSnapshotStatus{NodeID: routing.NodeID, State: types.ShardStateInit}
			case types.RoutingShardUnassigned:
				shards[shardID] = &types.ShardSnapshotStatus{State: types.ShardStateMissing, Failure: "primary shard is not allocated"}
			default: // initializing, relocating
				shards[shardID] = &types.ShardSnapshotStatus{NodeID: routing.NodeID, State: types.ShardStateWaiting}
			}
		}
	}
	return shards
}

// heldShards returns the set of RepositoryShardId values currently
// occupied by a non-completed shard status in any other in-progress
// entry for repo — the cross-operation lock a new entry's own shards
// must queue behind (InFlightShardSnapshotStates in §4.1.1).
func heldShards(state *clusterstate.State, repo string) map[types.RepositoryShardId]bool {
	held := make(map[types.RepositoryShardId]bool)
	for _, entry := range state.SnapshotsInProgress {
		if entry.ID.Repository != repo || entry.State.Completed() {
			continue
		}
		for shardID, status := range entry.ShardMap() {
			if !status.State.Completed() {
				held[shardID] = true
			}
		}
	}
	return held
}

func countShardsForIndex(state *clusterstate.State, index types.IndexId) int {
	count := 0
	for _, routing := range state.Routing {
		if routing.Index == index {
			count++
		}
	}
	return count
}

func repoGeneration(state *clusterstate.State, repo string) int64 {
	if meta, ok := state.Repositories[repo]; ok {
		return meta.Generation
	}
	return types.RepoGenUnknown
}

func now() int64 { return time.Now().UnixMilli() }
