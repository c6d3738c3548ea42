package snapshot

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBus bootstraps a real single-node clusterstate.Bus so Lifecycle
// can be exercised against its actual SubmitUpdate path rather than a
// hand-rolled double — Lifecycle has no bus interface to substitute,
// it talks to a concrete *clusterstate.Bus the same way the engine does.
func newTestBus(t *testing.T) *clusterstate.Bus {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	bus, err := clusterstate.New(&clusterstate.Config{NodeID: "node-1", BindAddr: addr, DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, bus.Bootstrap())
	require.Eventually(t, bus.IsLeader, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = bus.Shutdown() })
	return bus
}

func registerNode(t *testing.T, bus *clusterstate.Bus, node *types.Node) {
	t.Helper()
	task := &clusterstate.TaskFunc{
		Label: "register_node[" + node.ID + "]",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			next := current.Clone()
			next.Nodes[node.ID] = node
			return next, nil
		},
	}
	require.NoError(t, bus.SubmitUpdate(task))
}

func setRouting(t *testing.T, bus *clusterstate.Bus, shard *types.RoutingShard) {
	t.Helper()
	task := &clusterstate.TaskFunc{
		Label: "set_routing",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			next := current.Clone()
			next.Routing[clusterstate.RoutingKey(shard.Index, shard.ShardIndex)] = shard
			return next, nil
		},
	}
	require.NoError(t, bus.SubmitUpdate(task))
}

func setMaxConcurrentOperations(t *testing.T, bus *clusterstate.Bus, n int) {
	t.Helper()
	task := &clusterstate.TaskFunc{
		Label: "set_settings",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			next := current.Clone()
			next.Settings.MaxConcurrentOperations = n
			return next, nil
		},
	}
	require.NoError(t, bus.SubmitUpdate(task))
}

func TestLifecycleCreateSnapshotRejectsEmptyName(t *testing.T) {
	bus := newTestBus(t)
	l := NewLifecycle(bus, NewListenerRegistry())

	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups"}, nil)

	assert.ErrorIs(t, err, ErrInvalidSnapshotName)
}

func TestLifecycleCreateSnapshotRejectsConcurrentSameName(t *testing.T) {
	bus := newTestBus(t)
	l := NewLifecycle(bus, NewListenerRegistry())

	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily"}, nil)
	require.NoError(t, err)

	_, err = l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily"}, nil)
	assert.ErrorIs(t, err, ErrConcurrentSnapshotExecution)
}

func TestLifecycleCreateSnapshotAssignsStartedPrimaryToInit(t *testing.T) {
	bus := newTestBus(t)
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardStarted})

	l := NewLifecycle(bus, NewListenerRegistry())
	id, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)

	entry := bus.Current().SnapshotsInProgress[id.UUID]
	require.NotNil(t, entry)
	shard := entry.Shards[types.RepositoryShardId{Index: idx, ShardIndex: 0}]
	require.NotNil(t, shard)
	assert.Equal(t, types.ShardStateInit, shard.State)
	assert.Equal(t, "node-1", shard.NodeID)
}

func TestLifecycleCreateSnapshotMarksUnassignedPrimaryMissing(t *testing.T) {
	bus := newTestBus(t)
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, State: types.RoutingShardUnassigned})

	l := NewLifecycle(bus, NewListenerRegistry())
	id, err := l.CreateSnapshot(CreateSnapshotRequest{
		Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}, Partial: true,
	}, nil)
	require.NoError(t, err)

	shard := bus.Current().SnapshotsInProgress[id.UUID].Shards[types.RepositoryShardId{Index: idx, ShardIndex: 0}]
	require.NotNil(t, shard)
	assert.Equal(t, types.ShardStateMissing, shard.State)
	assert.Equal(t, "primary shard is not allocated", shard.Failure)
}

func TestLifecycleCreateSnapshotRejectsMissingShardWhenNotPartial(t *testing.T) {
	bus := newTestBus(t)
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, State: types.RoutingShardUnassigned})

	l := NewLifecycle(bus, NewListenerRegistry())
	_, err := l.CreateSnapshot(CreateSnapshotRequest{
		Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}, Partial: false,
	}, nil)

	assert.ErrorIs(t, err, ErrMissingShardsNotPartial)
}

func TestLifecycleCreateSnapshotQueuesShardHeldByAnotherEntry(t *testing.T) {
	bus := newTestBus(t)
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardStarted})
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: CurrentMinNodeVersion})

	l := NewLifecycle(bus, NewListenerRegistry())
	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)

	id2, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily-2", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)

	shard := bus.Current().SnapshotsInProgress[id2.UUID].Shards[types.RepositoryShardId{Index: idx, ShardIndex: 0}]
	require.NotNil(t, shard)
	assert.True(t, shard.IsUnassignedQueued(), "a shard already held by an in-progress entry on the same repository queues rather than racing it")
}

func TestLifecycleCreateSnapshotWaitsOnInitializingPrimary(t *testing.T) {
	bus := newTestBus(t)
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardInitializing})

	l := NewLifecycle(bus, NewListenerRegistry())
	id, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)

	shard := bus.Current().SnapshotsInProgress[id.UUID].Shards[types.RepositoryShardId{Index: idx, ShardIndex: 0}]
	assert.Equal(t, types.ShardStateWaiting, shard.State)
}

// TestLifecycleCreateSnapshotRejectsOverClusterWideConcurrencyLimit
// exercises the §4.5 concurrentCreate admission check: once every node
// is past FullConcurrencyVersion, snapshot.max_concurrent_operations
// bounds |SnapshotsInProgress|+|SnapshotDeletions| cluster-wide, not
// per-repository or per-node.
func TestLifecycleCreateSnapshotRejectsOverClusterWideConcurrencyLimit(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: CurrentMinNodeVersion})
	setMaxConcurrentOperations(t, bus, 1)

	l := NewLifecycle(bus, NewListenerRegistry())
	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily"}, nil)
	require.NoError(t, err)

	_, err = l.CreateSnapshot(CreateSnapshotRequest{Repository: "other-repo", Name: "daily"}, nil)
	assert.ErrorIs(t, err, ErrConcurrencyLimitReached)
}

// TestLifecycleCreateSnapshotRejectsConcurrentAcrossRepositoriesBelowFullConcurrency
// exercises the legacy concurrentCreate gating: below
// FullConcurrencyVersion a node behaves like the pre-queueing engine,
// where any second in-progress snapshot, in the same repository or
// another one, is rejected outright rather than queued, regardless of
// max_concurrent_operations.
func TestLifecycleCreateSnapshotRejectsConcurrentAcrossRepositoriesBelowFullConcurrency(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: FullConcurrencyVersion - 1})

	l := NewLifecycle(bus, NewListenerRegistry())
	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily"}, nil)
	require.NoError(t, err)

	_, err = l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily-2"}, nil)
	assert.ErrorIs(t, err, ErrConcurrentSnapshotExecution)

	_, err = l.CreateSnapshot(CreateSnapshotRequest{Repository: "other-repo", Name: "weekly"}, nil)
	assert.ErrorIs(t, err, ErrConcurrentSnapshotExecution)
}

func TestLifecycleCloneSnapshotRejectsEmptyTargetName(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: CurrentMinNodeVersion})
	l := NewLifecycle(bus, NewListenerRegistry())

	_, err := l.CloneSnapshot(CloneSnapshotRequest{Repository: "backups"}, nil)

	assert.ErrorIs(t, err, ErrInvalidSnapshotName)
}

func TestLifecycleCloneSnapshotRejectsOlderCluster(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: CloneSnapshotVersion - 1})
	l := NewLifecycle(bus, NewListenerRegistry())

	_, err := l.CloneSnapshot(CloneSnapshotRequest{Repository: "backups", TargetName: "clone-1"}, nil)

	assert.ErrorIs(t, err, ErrUnsupportedOnOlderNodes)
}

func TestLifecycleCloneSnapshotRejectsInProgressSource(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: CurrentMinNodeVersion})
	_, err := NewLifecycle(bus, NewListenerRegistry()).CreateSnapshot(
		CreateSnapshotRequest{Repository: "backups", Name: "daily"}, nil)
	require.NoError(t, err)
	srcUUID := firstUUID(t, bus)

	l := NewLifecycle(bus, NewListenerRegistry())
	_, err = l.CloneSnapshot(CloneSnapshotRequest{
		Repository: "backups", SourceName: "daily", SourceUUID: srcUUID, TargetName: "clone-1",
	}, nil)

	assert.ErrorIs(t, err, ErrConcurrentSnapshotExecution)
}

func TestLifecycleCloneSnapshotAssignsUnheldShardsInitOnThisNode(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: CurrentMinNodeVersion})
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0})
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 1})

	l := NewLifecycle(bus, NewListenerRegistry())
	id, err := l.CloneSnapshot(CloneSnapshotRequest{
		Repository: "backups", SourceName: "daily", SourceUUID: "src-uuid",
		TargetName: "clone-1", Indices: []types.IndexId{idx},
	}, nil)
	require.NoError(t, err)

	entry := bus.Current().SnapshotsInProgress[id.UUID]
	require.Len(t, entry.Clones, 2)
	for _, c := range entry.Clones {
		assert.Equal(t, types.ShardStateInit, c.State)
		assert.Equal(t, bus.NodeID(), c.NodeID)
	}
}

// TestLifecycleCloneSnapshotQueuesShardHeldByAnotherEntry confirms a
// clone target shard that collides with another in-progress operation's
// held RepositoryShardId is admitted UNASSIGNED_QUEUED instead of racing
// a direct repository.Driver.CloneShardSnapshot call against it.
func TestLifecycleCloneSnapshotQueuesShardHeldByAnotherEntry(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: CurrentMinNodeVersion})
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardStarted})

	l := NewLifecycle(bus, NewListenerRegistry())
	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)

	id, err := l.CloneSnapshot(CloneSnapshotRequest{
		Repository: "backups", SourceName: "daily", SourceUUID: "some-other-uuid",
		TargetName: "clone-1", Indices: []types.IndexId{idx},
	}, nil)
	require.NoError(t, err)

	shard := bus.Current().SnapshotsInProgress[id.UUID].Clones[types.RepositoryShardId{Index: idx, ShardIndex: 0}]
	require.NotNil(t, shard)
	assert.True(t, shard.IsUnassignedQueued())
}

// TestLifecycleDeleteSnapshotsMergesIntoWaitingDeletion confirms a second
// deleteSnapshots call for a repository already WAITING widens the
// existing deletion's name set instead of being rejected outright.
func TestLifecycleDeleteSnapshotsMergesIntoWaitingDeletion(t *testing.T) {
	bus := newTestBus(t)
	task := &clusterstate.TaskFunc{
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			next := current.Clone()
			next.SnapshotDeletions["backups"] = &types.DeletionEntry{
				Repository: "backups", SnapshotNames: []string{"daily"}, State: types.DeletionStateWaiting,
			}
			return next, nil
		},
	}
	require.NoError(t, bus.SubmitUpdate(task))

	l := NewLifecycle(bus, NewListenerRegistry())
	err := l.DeleteSnapshots(DeleteSnapshotsRequest{Repository: "backups", Names: []string{"weekly"}}, nil)
	require.NoError(t, err)

	deletion := bus.Current().SnapshotDeletions["backups"]
	require.NotNil(t, deletion)
	assert.Equal(t, types.DeletionStateWaiting, deletion.State)
	assert.ElementsMatch(t, []string{"daily", "weekly"}, deletion.SnapshotNames)
}

// TestLifecycleDeleteSnapshotsAttachesToStartedDeletion confirms a second
// deleteSnapshots call for a repository whose deletion is already
// STARTED (the repository write is in flight) just attaches its listener
// to the running deletion rather than starting a second repository write.
func TestLifecycleDeleteSnapshotsAttachesToStartedDeletion(t *testing.T) {
	bus := newTestBus(t)
	task := &clusterstate.TaskFunc{
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			next := current.Clone()
			next.SnapshotDeletions["backups"] = &types.DeletionEntry{
				Repository: "backups", SnapshotNames: []string{"daily"}, State: types.DeletionStateStarted,
			}
			return next, nil
		},
	}
	require.NoError(t, bus.SubmitUpdate(task))

	l := NewLifecycle(bus, NewListenerRegistry())
	err := l.DeleteSnapshots(DeleteSnapshotsRequest{Repository: "backups", Names: []string{"daily"}}, nil)
	require.NoError(t, err)

	deletion := bus.Current().SnapshotDeletions["backups"]
	require.NotNil(t, deletion)
	assert.Equal(t, types.DeletionStateStarted, deletion.State)
	assert.Equal(t, []string{"daily"}, deletion.SnapshotNames)
}

func TestLifecycleDeleteSnapshotsRejectsMultiDeleteOnOlderCluster(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: MultiDeleteVersion - 1})
	l := NewLifecycle(bus, NewListenerRegistry())

	err := l.DeleteSnapshots(DeleteSnapshotsRequest{Repository: "backups", Names: []string{"a", "b"}}, nil)

	assert.ErrorIs(t, err, ErrUnsupportedOnOlderNodes)
}

func TestLifecycleDeleteSnapshotsAllowsSingleNameOnOlderCluster(t *testing.T) {
	bus := newTestBus(t)
	registerNode(t, bus, &types.Node{ID: "node-1", MinPeerVersion: MultiDeleteVersion - 1})
	l := NewLifecycle(bus, NewListenerRegistry())

	err := l.DeleteSnapshots(DeleteSnapshotsRequest{Repository: "backups", Names: []string{"a"}}, nil)

	assert.NoError(t, err)
}

func TestLifecycleDeleteSnapshotsAbortsInFlightMatches(t *testing.T) {
	bus := newTestBus(t)
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardStarted})

	l := NewLifecycle(bus, NewListenerRegistry())
	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)

	err = l.DeleteSnapshots(DeleteSnapshotsRequest{Repository: "backups", Names: []string{"daily"}}, nil)
	require.NoError(t, err)

	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	var entry *types.SnapshotEntry
	for _, e := range bus.Current().SnapshotsInProgress {
		entry = e
	}
	require.NotNil(t, entry)
	assert.Equal(t, types.SnapshotStateAborted, entry.State)
	assert.Equal(t, types.ShardStateAborted, entry.Shards[shard].State)
	deletion := bus.Current().SnapshotDeletions["backups"]
	require.NotNil(t, deletion)
	assert.Equal(t, types.DeletionStateWaiting, deletion.State)
}

func TestLifecycleDeleteSnapshotsDropsUnassignedQueuedShards(t *testing.T) {
	bus := newTestBus(t)
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	setRouting(t, bus, &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardStarted})

	l := NewLifecycle(bus, NewListenerRegistry())
	// holder occupies the shard; daily is admitted UNASSIGNED_QUEUED
	// behind it.
	_, err := l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "holder", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)
	_, err = l.CreateSnapshot(CreateSnapshotRequest{Repository: "backups", Name: "daily", Indices: []types.IndexId{idx}}, nil)
	require.NoError(t, err)

	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	var dailyUUID string
	for uuid, e := range bus.Current().SnapshotsInProgress {
		if e.ID.Name == "daily" {
			dailyUUID = uuid
		}
	}
	require.NotEmpty(t, dailyUUID)
	require.True(t, bus.Current().SnapshotsInProgress[dailyUUID].Shards[shard].IsUnassignedQueued())

	err = l.DeleteSnapshots(DeleteSnapshotsRequest{Repository: "backups", Names: []string{"daily"}}, nil)
	require.NoError(t, err)

	entry := bus.Current().SnapshotsInProgress[dailyUUID]
	require.NotNil(t, entry)
	_, stillPresent := entry.Shards[shard]
	assert.False(t, stillPresent, "an unassigned-queued shard has no node to wait on and must be dropped, not aborted")
}

func firstUUID(t *testing.T, bus *clusterstate.Bus) string {
	t.Helper()
	for uuid := range bus.Current().SnapshotsInProgress {
		return uuid
	}
	t.Fatal("no snapshot entries found")
	return ""
}
