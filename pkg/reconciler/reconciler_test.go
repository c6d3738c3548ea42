package reconciler

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/health"
	"github.com/cuemby/snapguard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeState(nodes map[string]*types.Node) *clusterstate.State {
	s := clusterstate.NewState()
	for id, n := range nodes {
		s.Nodes[id] = n
	}
	return s
}

func TestChangedNodeIDsDetectsNewNode(t *testing.T) {
	old := nodeState(nil)
	new := nodeState(map[string]*types.Node{"node-1": {ID: "node-1", Status: types.NodeStatusReady}})

	assert.ElementsMatch(t, []string{"node-1"}, changedNodeIDs(old, new))
}

func TestChangedNodeIDsDetectsStatusChange(t *testing.T) {
	old := nodeState(map[string]*types.Node{"node-1": {ID: "node-1", Status: types.NodeStatusReady}})
	new := nodeState(map[string]*types.Node{"node-1": {ID: "node-1", Status: types.NodeStatusDown}})

	assert.ElementsMatch(t, []string{"node-1"}, changedNodeIDs(old, new))
}

func TestChangedNodeIDsIgnoresUnchangedNode(t *testing.T) {
	node := &types.Node{ID: "node-1", Status: types.NodeStatusReady}
	old := nodeState(map[string]*types.Node{"node-1": node})
	new := nodeState(map[string]*types.Node{"node-1": node})

	assert.Empty(t, changedNodeIDs(old, new))
}

func TestFailShardsOnDownNodesFailsShardsOnMissingNode(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	state := clusterstate.NewState()
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {NodeID: "node-1", State: types.ShardStateInit},
		},
	}

	next := failShardsOnDownNodes(state, []string{"node-1"})

	got := next.SnapshotsInProgress["snap-1"].Shards[shard]
	assert.Equal(t, types.ShardStateFailed, got.State)
	assert.Equal(t, "node shutdown", got.Failure)
	assert.Equal(t, "node shutdown", got.KnownFailure)
}

func TestFailShardsOnDownNodesLeavesCompletedShardsAlone(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	state := clusterstate.NewState()
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {NodeID: "node-1", State: types.ShardStateSuccess},
		},
	}

	next := failShardsOnDownNodes(state, []string{"node-1"})

	assert.Equal(t, types.ShardStateSuccess, next.SnapshotsInProgress["snap-1"].Shards[shard].State)
}

func TestFailShardsOnDownNodesLeavesPausedForNodeRemovalAlone(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	state := clusterstate.NewState()
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {NodeID: "node-1", State: types.ShardStatePausedForNodeRemoval},
		},
	}

	next := failShardsOnDownNodes(state, []string{"node-1"})

	assert.Equal(t, types.ShardStatePausedForNodeRemoval, next.SnapshotsInProgress["snap-1"].Shards[shard].State)
}

func TestFailShardsOnDownNodesLeavesUnassignedQueuedAlone(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	state := clusterstate.NewState()
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {State: types.ShardStateQueued, KnownFailure: "prior node shutdown"},
		},
	}

	next := failShardsOnDownNodes(state, []string{"node-1"})

	got := next.SnapshotsInProgress["snap-1"].Shards[shard]
	assert.Equal(t, types.ShardStateQueued, got.State)
	assert.Equal(t, "prior node shutdown", got.KnownFailure, "an unassigned-queued shard keeps its prior failure reason")
}

func TestFailShardsOnDownNodesSkipsCompletedEntries(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	state := clusterstate.NewState()
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateSuccess,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {NodeID: "node-1", State: types.ShardStateInit},
		},
	}

	next := failShardsOnDownNodes(state, []string{"node-1"})

	assert.Equal(t, types.ShardStateInit, next.SnapshotsInProgress["snap-1"].Shards[shard].State,
		"a completed snapshot entry is never revisited by node-loss reaction")
}

func TestReconcilerProbeNodeDebouncesBeforeReportingDown(t *testing.T) {
	r := &Reconciler{
		healthCfg: health.Config{Retries: 2, Timeout: 200 * time.Millisecond},
		nodeProbe: make(map[string]*health.Status),
	}

	// unreachableAddr is a loopback port that was just listened on and
	// closed, so the dial reliably fails fast without touching the
	// network under test.
	addr := unreachableAddr(t)

	assert.True(t, r.probeNode("node-1", addr), "a single failed probe must not report down yet")
	assert.False(t, r.probeNode("node-1", addr), "a second consecutive failure reaches the debounce threshold")
}

func TestReconcilerProbeNodeRecoversOnSuccess(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	r := &Reconciler{
		healthCfg: health.Config{Retries: 1, Timeout: 200 * time.Millisecond},
		nodeProbe: make(map[string]*health.Status),
	}

	assert.True(t, r.probeNode("node-1", l.Addr().String()))
}

func TestChangedRoutingKeysDetectsStateChange(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	key := clusterstate.RoutingKey(idx, 0)
	old := clusterstate.NewState()
	old.Routing[key] = &types.RoutingShard{Index: idx, ShardIndex: 0, State: types.RoutingShardInitializing}
	new := clusterstate.NewState()
	new.Routing[key] = &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardStarted}

	assert.True(t, changedRoutingKeys(old, new)[key])
}

func TestChangedRoutingKeysIgnoresUnchangedRouting(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	key := clusterstate.RoutingKey(idx, 0)
	shard := &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-1", State: types.RoutingShardStarted}
	old := clusterstate.NewState()
	old.Routing[key] = shard
	new := clusterstate.NewState()
	new.Routing[key] = shard

	assert.Empty(t, changedRoutingKeys(old, new))
}

func TestStartShardsPromotesWaitingToInitWhenPrimaryStarts(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	key := clusterstate.RoutingKey(idx, 0)

	state := clusterstate.NewState()
	state.Routing[key] = &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-2", State: types.RoutingShardStarted}
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {State: types.ShardStateWaiting},
		},
	}

	next := startShards(state, map[string]bool{key: true})

	got := next.SnapshotsInProgress["snap-1"].Shards[shard]
	assert.Equal(t, types.ShardStateInit, got.State)
	assert.Equal(t, "node-2", got.NodeID)
}

func TestStartShardsLeavesWaitingWhenPrimaryStillInitializing(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	key := clusterstate.RoutingKey(idx, 0)

	state := clusterstate.NewState()
	state.Routing[key] = &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-2", State: types.RoutingShardInitializing}
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {State: types.ShardStateWaiting},
		},
	}

	next := startShards(state, map[string]bool{key: true})

	assert.Equal(t, types.ShardStateWaiting, next.SnapshotsInProgress["snap-1"].Shards[shard].State)
}

func TestStartShardsFailsWaitingWhenPrimaryGoesUnassigned(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	key := clusterstate.RoutingKey(idx, 0)

	state := clusterstate.NewState()
	state.Routing[key] = &types.RoutingShard{Index: idx, ShardIndex: 0, State: types.RoutingShardUnassigned}
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {State: types.ShardStateWaiting},
		},
	}

	next := startShards(state, map[string]bool{key: true})

	got := next.SnapshotsInProgress["snap-1"].Shards[shard]
	assert.Equal(t, types.ShardStateFailed, got.State)
	assert.Equal(t, "shard is unassigned", got.Failure)
	assert.Equal(t, "shard is unassigned", got.KnownFailure)
}

func TestStartShardsIgnoresUnchangedRoutingKeys(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	key := clusterstate.RoutingKey(idx, 0)

	state := clusterstate.NewState()
	state.Routing[key] = &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-2", State: types.RoutingShardStarted}
	state.SnapshotsInProgress["snap-1"] = &types.SnapshotEntry{
		ID:    types.SnapshotId{Repository: "backups", Name: "daily", UUID: "snap-1"},
		State: types.SnapshotStateStarted,
		Shards: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {State: types.ShardStateWaiting},
		},
	}

	next := startShards(state, map[string]bool{"some-other-key": true})

	assert.Equal(t, types.ShardStateWaiting, next.SnapshotsInProgress["snap-1"].Shards[shard].State,
		"a routing key this entry doesn't reference must not perturb its shards")
}

func TestStartShardsSettlesClonesUsingCloneMap(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "u1"}
	shard := types.RepositoryShardId{Index: idx, ShardIndex: 0}
	key := clusterstate.RoutingKey(idx, 0)

	state := clusterstate.NewState()
	state.Routing[key] = &types.RoutingShard{Index: idx, ShardIndex: 0, NodeID: "node-2", State: types.RoutingShardStarted}
	state.SnapshotsInProgress["clone-1"] = &types.SnapshotEntry{
		ID:     types.SnapshotId{Repository: "backups", Name: "daily-copy", UUID: "clone-1"},
		State:  types.SnapshotStateStarted,
		Source: types.SnapshotSource{Name: "daily", UUID: "snap-0"},
		Clones: map[types.RepositoryShardId]*types.ShardSnapshotStatus{
			shard: {State: types.ShardStateWaiting},
		},
	}

	next := startShards(state, map[string]bool{key: true})

	got := next.SnapshotsInProgress["clone-1"].Clones[shard]
	assert.Equal(t, types.ShardStateInit, got.State, "a clone entry's waiting shard must be promoted via its Clones map, not Shards")
}

// unreachableAddr returns a loopback address nothing is listening on.
func unreachableAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
