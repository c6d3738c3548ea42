package snapshot

import (
	"fmt"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/events"
	"github.com/cuemby/snapguard/pkg/log"
	"github.com/cuemby/snapguard/pkg/repository"
	"github.com/cuemby/snapguard/pkg/types"
	"github.com/rs/zerolog"
)

// cloneResult is the outcome of one repository.Driver.CloneShardSnapshot
// call, carried across its listener callback to the goroutine that turns
// it into a ShardUpdate.
type cloneResult struct {
	generation string
	err        error
}

// Engine is the public entry point the gRPC server and CLI talk to. It
// wires ClusterStateBus (C2), OngoingOps (C3), ShardStateExecutor (C4),
// SnapshotLifecycle (C5), RepoLoop (C6), and ListenerRegistry (C8)
// together and exposes the operations a cluster-manager node accepts.
//
// ReactiveUpdater (C7) is a separate type (pkg/reconciler) that
// registers itself as a clusterstate.Applier against the same Bus; the
// Engine doesn't call it directly, it only shares the Bus and listener
// registry.
type Engine struct {
	bus       *clusterstate.Bus
	driver    repository.Driver
	ongoing   *OngoingOps
	listeners *ListenerRegistry
	repoLoop  *RepoLoop
	lifecycle *Lifecycle
	broker    *events.Broker
	logger    zerolog.Logger
}

// New wires an Engine against an already-constructed bus and repository
// driver. Both must outlive the Engine.
func New(bus *clusterstate.Bus, driver repository.Driver) *Engine {
	ongoing := NewOngoingOps()
	listeners := NewListenerRegistry()
	broker := events.NewBroker()
	broker.Start()
	e := &Engine{
		bus:       bus,
		driver:    driver,
		ongoing:   ongoing,
		listeners: listeners,
		repoLoop:  NewRepoLoop(ongoing),
		lifecycle: NewLifecycle(bus, listeners),
		broker:    broker,
		logger:    log.WithComponent("snapshot-engine"),
	}
	bus.AddApplier(clusterstate.ApplierFunc(e.onNewClusterState))
	return e
}

// Stop shuts down the engine's background event broker. The bus and
// repository driver passed to New are owned by the caller and are not
// touched here.
func (e *Engine) Stop() {
	e.broker.Stop()
}

// Broker exposes the cluster event stream so other components (the
// reactive updater, the API layer) can publish node-membership events
// and so operators can subscribe to snapshot/deletion lifecycle events
// without polling CurrentSnapshots.
func (e *Engine) Broker() *events.Broker { return e.broker }

// onNewClusterState publishes lifecycle events for the change, starts
// the legacy repository initialize for newly admitted INIT entries,
// dispatches clone shards that just became INIT, and kicks off
// finalize/delete work for entries that just became Completed and for
// deletions whose aborted shards have settled.
func (e *Engine) onNewClusterState(old, new *clusterstate.State) {
	for uuid, entry := range new.SnapshotsInProgress {
		prev, existed := old.SnapshotsInProgress[uuid]
		if !existed {
			e.publishSnapshotEvent(events.EventSnapshotCreated, entry, "")
		} else if prev.State != types.SnapshotStateAborted && entry.State == types.SnapshotStateAborted {
			e.publishSnapshotEvent(events.EventSnapshotAborted, entry, "")
		}
		if !existed && entry.State == types.SnapshotStateInit {
			e.initializeSnapshot(entry)
		}
		if entry.Source.IsClone() {
			e.driveNewlyInitClones(entry, prev)
		}
		if existed && prev.State.Completed() {
			continue
		}
		if entry.State.Completed() {
			e.finalizeSnapshot(entry)
		}
	}
	for repo, deletion := range new.SnapshotDeletions {
		prevDeletion, existed := old.SnapshotDeletions[repo]
		if !existed {
			e.broker.Publish(&events.Event{
				Type:     events.EventDeletionStarted,
				Message:  fmt.Sprintf("deletion started for repository %s", repo),
				Metadata: map[string]string{"repository": repo},
			})
		}
		if existed && prevDeletion.State == types.DeletionStateStarted {
			continue
		}
		if allAbortedShardsSettled(new, repo) {
			e.runDeletion(repo, deletion)
		}
	}
}

// publishSnapshotEvent publishes typ for entry; detail, if non-empty, is
// appended to the event message (used for finalize errors).
func (e *Engine) publishSnapshotEvent(typ events.EventType, entry *types.SnapshotEntry, detail string) {
	msg := fmt.Sprintf("snapshot %s/%s", entry.ID.Repository, entry.ID.Name)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	e.broker.Publish(&events.Event{
		Type:    typ,
		Message: msg,
		Metadata: map[string]string{
			"repository": entry.ID.Repository,
			"snapshot":   entry.ID.Name,
			"uuid":       entry.ID.UUID,
		},
	})
}

// finalizeSnapshot runs FinalizeSnapshot against the repository, inside
// RepoLoop so it never races a concurrent delete or another finalize on
// the same repository, reports the outcome through the listener
// registry, and removes the entry from cluster state whether or not the
// repository write succeeded.
func (e *Engine) finalizeSnapshot(entry *types.SnapshotEntry) {
	repo := entry.ID.Repository
	e.repoLoop.Run(repo, func() {
		info := &repository.SnapshotInfo{
			ID:              entry.ID,
			State:           entry.State,
			StartTimeMillis: entry.StartTimeMillis,
			EndTimeMillis:   now(),
			Indices:         entry.Indices,
			UserMetadata:    entry.UserMetadata,
			ShardFailures:   make(map[types.RepositoryShardId]string),
		}
		indexMeta := make(map[types.IndexId]*repository.IndexMetadata)
		shardGens := make(map[types.RepositoryShardId]string)
		recordShardGens := minClusterVersion(peerVersions(e.bus.Current())) >= ShardGenInRepoDataVersion
		for shardID, status := range entry.ShardMap() {
			if status.State == types.ShardStateFailed || status.State == types.ShardStateMissing {
				info.ShardFailures[shardID] = status.Failure
			}
			if recordShardGens && status.Generation != "" {
				shardGens[shardID] = status.Generation
			}
		}

		done := make(chan error, 1)
		e.driver.FinalizeSnapshot(repo, entry.RepositoryGeneration, info, indexMeta, shardGens, func(err error) {
			done <- err
		})
		err := <-done

		if err != nil {
			e.logger.Error().Err(err).Str("snapshot", entry.ID.Name).Msg("failed to finalize snapshot")
		}
		if entry.State == types.SnapshotStateSuccess && err == nil {
			e.publishSnapshotEvent(events.EventSnapshotCompleted, entry, "")
		} else {
			detail := entry.Failure
			if err != nil {
				detail = err.Error()
			}
			e.publishSnapshotEvent(events.EventSnapshotFailed, entry, detail)
		}
		e.removeEntry(entry.ID.UUID)
		e.listeners.NotifySnapshot(entry.ID.UUID, err)
	})
}

// initializeSnapshot runs the legacy (pre-NoRepoInitializeVersion) step:
// write a preliminary repository blob before letting any shard work
// start, then flip the entry from INIT to STARTED. If a concurrent
// delete aborts this entry while the write is still in flight, this
// transition can race abortEntry's own finalize path and apply after the
// entry has already been marked ABORTED — the hasAbortedInitializations
// double-finalization hazard noted as an open question; it is guarded
// against going backwards (see the State check below) but not eliminated.
func (e *Engine) initializeSnapshot(entry *types.SnapshotEntry) {
	repo := entry.ID.Repository
	e.repoLoop.Run(repo, func() {
		_, err := e.driver.ExecuteConsistentStateUpdate(repo, func(data *repository.RepositoryData) (*repository.RepositoryData, error) {
			next := *data
			return &next, nil
		})

		task := &clusterstate.TaskFunc{
			Label: "finish_repo_initialize",
			Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
				existing, ok := current.SnapshotsInProgress[entry.ID.UUID]
				if !ok || existing.State != types.SnapshotStateInit {
					// Already transitioned away from INIT (aborted by a
					// concurrent delete, or already started) by the time
					// this write landed; leave it alone.
					return current, nil
				}
				next := current.Clone()
				updated := *existing
				if err != nil {
					updated.State = types.SnapshotStateAborted
					updated.Failure = err.Error()
				} else {
					updated.State = types.SnapshotStateStarted
				}
				next.SnapshotsInProgress[entry.ID.UUID] = &updated
				return next, nil
			},
		}
		if err := e.bus.SubmitUpdate(task); err != nil {
			e.logger.Error().Err(err).Str("snapshot", entry.ID.Name).Msg("failed to commit repository pre-initialize transition")
		}
	})
}

// driveNewlyInitClones invokes repository.Driver.CloneShardSnapshot for
// every clone shard that just became INIT — either because entry was
// just admitted with INIT clone shards, or because ShardStateExecutor
// just promoted one from UNASSIGNED_QUEUED. prev is nil for a brand-new
// entry. A shard that was already INIT in prev has already been
// dispatched by an earlier pass and is not redispatched.
func (e *Engine) driveNewlyInitClones(entry, prev *types.SnapshotEntry) {
	for shardID, status := range entry.Clones {
		if status.State != types.ShardStateInit {
			continue
		}
		if prev != nil {
			if prevStatus, ok := prev.Clones[shardID]; ok && prevStatus.State == types.ShardStateInit {
				continue
			}
		}
		e.runCloneShard(entry, shardID)
	}
}

// runCloneShard drives one clone shard's repository-side copy under
// RepoLoop (serialized against finalize/delete on the same repository)
// and submits the resulting ShardUpdate once the driver reports back.
func (e *Engine) runCloneShard(entry *types.SnapshotEntry, shardID types.RepositoryShardId) {
	repo := entry.ID.Repository
	src := types.SnapshotId{Repository: repo, Name: entry.Source.Name, UUID: entry.Source.UUID}
	e.repoLoop.Run(repo, func() {
		done := make(chan cloneResult, 1)
		e.driver.CloneShardSnapshot(repo, src, entry.ID, shardID, func(generation string, err error) {
			done <- cloneResult{generation: generation, err: err}
		})
		result := <-done

		update := ShardUpdate{SnapshotUUID: entry.ID.UUID, ShardID: shardID, Generation: result.generation}
		if result.err != nil {
			update.NewState = types.ShardStateFailed
			update.Failure = result.err.Error()
			e.logger.Error().Err(result.err).Str("snapshot", entry.ID.Name).Msg("failed to clone shard")
		} else {
			update.NewState = types.ShardStateSuccess
		}
		if err := e.InnerUpdateSnapshotState([]ShardUpdate{update}); err != nil {
			e.logger.Error().Err(err).Str("snapshot", entry.ID.Name).Msg("failed to commit clone shard result")
		}
	})
}

func (e *Engine) removeEntry(uuid string) {
	task := &clusterstate.TaskFunc{
		Label: "remove_completed_snapshot",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			if _, ok := current.SnapshotsInProgress[uuid]; !ok {
				return current, nil
			}
			next := current.Clone()
			delete(next.SnapshotsInProgress, uuid)
			return next, nil
		},
	}
	_ = e.bus.SubmitUpdate(task)
}

// runDeletion executes the repository-side removal for a WAITING
// deletion whose aborted snapshots have all finished settling, then
// clears the deletion entry and the named snapshot entries from cluster
// state, whether or not the repository write succeeded.
func (e *Engine) runDeletion(repo string, deletion *types.DeletionEntry) {
	e.repoLoop.Run(repo, func() {
		// The driver deletes by UUID, so each name is resolved against the
		// snapshot ids the repository has recorded.
		data, err := e.driver.GetRepositoryData(repo)
		ids := make([]types.SnapshotId, 0, len(deletion.SnapshotNames))
		if err == nil && data != nil {
			for _, id := range data.Snapshots {
				for _, name := range deletion.SnapshotNames {
					if id.Name == name {
						ids = append(ids, id)
					}
				}
			}
		}

		done := make(chan error, 1)
		if err != nil {
			done <- err
		} else {
			e.driver.DeleteSnapshots(repo, ids, deletion.RepositoryGeneration, func(err error) {
				done <- err
			})
		}
		err = <-done

		if err != nil {
			e.logger.Error().Err(err).Str("repository", repo).Msg("failed to delete snapshots")
		}
		msg := fmt.Sprintf("deletion completed for repository %s", repo)
		if err != nil {
			msg = fmt.Sprintf("%s: %s", msg, err.Error())
		}
		e.broker.Publish(&events.Event{
			Type:     events.EventDeletionCompleted,
			Message:  msg,
			Metadata: map[string]string{"repository": repo},
		})
		e.clearDeletion(repo, deletion.SnapshotNames)
		e.listeners.NotifyDeletion(repo, err)
	})
}

// clearDeletion removes the deletion bookkeeping entry and any
// SnapshotsInProgress entries for names once the repository write has
// finished, whatever its outcome.
func (e *Engine) clearDeletion(repo string, names []string) {
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}
	task := &clusterstate.TaskFunc{
		Label: "clear_completed_deletion",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			next := current.Clone()
			delete(next.SnapshotDeletions, repo)
			for uuid, entry := range next.SnapshotsInProgress {
				if entry.ID.Repository == repo && nameSet[entry.ID.Name] {
					delete(next.SnapshotsInProgress, uuid)
				}
			}
			return next, nil
		},
	}
	_ = e.bus.SubmitUpdate(task)
}

func allAbortedShardsSettled(state *clusterstate.State, repo string) bool {
	for _, entry := range state.SnapshotsInProgress {
		if entry.ID.Repository != repo {
			continue
		}
		for _, status := range entry.ShardMap() {
			if status.State == types.ShardStateAborted {
				continue
			}
			if !status.State.Completed() {
				return false
			}
		}
	}
	return true
}

// CreateSnapshot is the exposed createSnapshot operation.
func (e *Engine) CreateSnapshot(req CreateSnapshotRequest, onDone CompletionListener) (types.SnapshotId, error) {
	if !e.bus.IsLeader() {
		return types.SnapshotId{}, ErrNotClusterManager
	}
	return e.lifecycle.CreateSnapshot(req, onDone)
}

// CloneSnapshot is the exposed cloneSnapshot operation.
func (e *Engine) CloneSnapshot(req CloneSnapshotRequest, onDone CompletionListener) (types.SnapshotId, error) {
	if !e.bus.IsLeader() {
		return types.SnapshotId{}, ErrNotClusterManager
	}
	return e.lifecycle.CloneSnapshot(req, onDone)
}

// DeleteSnapshots is the exposed deleteSnapshots operation.
func (e *Engine) DeleteSnapshots(req DeleteSnapshotsRequest, onDone DeletionListener) error {
	if !e.bus.IsLeader() {
		return ErrNotClusterManager
	}
	return e.lifecycle.DeleteSnapshots(req, onDone)
}

// InnerUpdateSnapshotState is the data-node-to-manager RPC surface: a
// data node reports shard completion/failure, and the manager reduces it
// into cluster state via ShardStateExecutor.
func (e *Engine) InnerUpdateSnapshotState(updates []ShardUpdate) error {
	if !e.bus.IsLeader() {
		return ErrNotClusterManager
	}
	task := &clusterstate.TaskFunc{
		Label: "inner_update_snapshot_state",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			return ReduceShardUpdates(current, updates), nil
		},
	}
	return e.bus.SubmitUpdate(task)
}

// CurrentSnapshots is the exposed currentSnapshots operation: every
// snapshot entry currently in progress, optionally filtered by repository.
func (e *Engine) CurrentSnapshots(repo string) []*types.SnapshotEntry {
	state := e.bus.Current()
	var result []*types.SnapshotEntry
	for _, entry := range state.SnapshotsInProgress {
		if repo != "" && entry.ID.Repository != repo {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// SnapshottingIndices is the exposed snapshottingIndices operation: the
// set of indices any in-progress snapshot currently touches, used by
// callers deciding whether it's safe to delete or close an index.
func (e *Engine) SnapshottingIndices() map[types.IndexId]bool {
	state := e.bus.Current()
	result := make(map[types.IndexId]bool)
	for _, entry := range state.SnapshotsInProgress {
		for _, index := range entry.Indices {
			result[index] = true
		}
	}
	return result
}

// SnapshottingDataStreams is the exposed snapshottingDataStreams operation.
func (e *Engine) SnapshottingDataStreams() map[string]bool {
	state := e.bus.Current()
	result := make(map[string]bool)
	for _, entry := range state.SnapshotsInProgress {
		for _, ds := range entry.DataStreams {
			result[ds] = true
		}
	}
	return result
}

// Listeners exposes the registry so the reactive updater (C7) can fail
// outstanding listeners on cluster-manager loss.
func (e *Engine) Listeners() *ListenerRegistry { return e.listeners }

// Ongoing exposes the op queue so the reactive updater can clear it on
// cluster-manager loss.
func (e *Engine) Ongoing() *OngoingOps { return e.ongoing }
