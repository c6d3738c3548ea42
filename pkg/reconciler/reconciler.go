package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/events"
	"github.com/cuemby/snapguard/pkg/health"
	"github.com/cuemby/snapguard/pkg/log"
	"github.com/cuemby/snapguard/pkg/metrics"
	"github.com/cuemby/snapguard/pkg/snapshot"
	"github.com/cuemby/snapguard/pkg/types"
	"github.com/rs/zerolog"
)

// heartbeatTimeout mirrors the teacher's node-liveness window; a node
// that misses it is presumed down for routing purposes even before the
// cluster membership protocol formally evicts it.
const heartbeatTimeout = 30 * time.Second

// Reconciler is the ReactiveUpdater (C7): it registers itself as a
// clusterstate.Applier and reacts to every committed state change rather
// than polling on a fixed period, the way the teacher's container
// reconciler ticked every 10 seconds regardless of whether anything had
// changed. A background ticker is kept only for node-heartbeat-timeout
// detection, since node liveness isn't itself a cluster-state field this
// node can observe being "applied" — it has to be computed from wall
// clock time against the last known heartbeat.
type Reconciler struct {
	bus       *clusterstate.Bus
	engine    *snapshot.Engine
	logger    zerolog.Logger
	mu        sync.Mutex
	stopCh    chan struct{}
	wasLeader bool

	healthCfg health.Config
	nodeProbe map[string]*health.Status
}

// NewReconciler wires a Reconciler against the bus it reacts to and the
// engine whose listeners/queues it clears on cluster-manager loss.
func NewReconciler(bus *clusterstate.Bus, engine *snapshot.Engine) *Reconciler {
	r := &Reconciler{
		bus:       bus,
		engine:    engine,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
		healthCfg: health.Config{Retries: 2, Timeout: 2 * time.Second},
		nodeProbe: make(map[string]*health.Status),
	}
	bus.AddApplier(clusterstate.ApplierFunc(r.onNewClusterState))
	return r
}

// Start begins the heartbeat-timeout polling loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reactive updater started")

	for {
		select {
		case <-ticker.C:
			r.checkLeadershipLoss()
			if err := r.reconcileHeartbeats(); err != nil {
				r.logger.Error().Err(err).Msg("heartbeat reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reactive updater stopped")
			return
		}
	}
}

// checkLeadershipLoss fails every outstanding listener and drains the
// per-repository op queues the instant this node stops being cluster
// manager — those callers would otherwise hang forever waiting for a
// finalize that this node will never run again.
func (r *Reconciler) checkLeadershipLoss() {
	r.mu.Lock()
	defer r.mu.Unlock()

	isLeader := r.bus.IsLeader()
	if r.wasLeader && !isLeader {
		r.logger.Warn().Msg("lost cluster-manager status, failing outstanding snapshot listeners")
		r.engine.Listeners().FailAll(snapshot.ErrNotClusterManager)
		r.engine.Ongoing().ClearAll()
	}
	r.wasLeader = isLeader
}

// reconcileHeartbeats marks nodes down on heartbeat timeout and,
// for any node that just went down, reacts exactly like onNewClusterState
// does for a removed node: shards assigned to it are failed in place.
func (r *Reconciler) reconcileHeartbeats() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	if !r.bus.IsLeader() {
		return nil
	}

	current := r.bus.Current()
	now := time.Now()
	var changedNodes []string
	for id, node := range current.Nodes {
		if node.Status == types.NodeStatusDown || now.Sub(node.LastHeartbeat) <= heartbeatTimeout {
			continue
		}
		// A missed heartbeat alone can be a slow node, not a dead one;
		// confirm with a direct TCP probe before failing its shards.
		// probeNode debounces across healthCfg.Retries consecutive
		// failures, so a single dropped probe doesn't fail a node's
		// in-flight work on a false positive.
		if r.probeNode(id, node.Address) {
			continue
		}
		changedNodes = append(changedNodes, id)
	}
	if len(changedNodes) == 0 {
		return nil
	}

	task := &clusterstate.TaskFunc{
		Label: "mark_nodes_down",
		Fn: func(state *clusterstate.State) (*clusterstate.State, error) {
			next := state.Clone()
			for _, id := range changedNodes {
				if node, ok := next.Nodes[id]; ok {
					updated := *node
					updated.Status = types.NodeStatusDown
					next.Nodes[id] = &updated
					r.logger.Warn().Str("node_id", id).Msg("node heartbeat timed out, marking down")
					r.engine.Broker().Publish(&events.Event{
						Type:     events.EventNodeDown,
						Message:  fmt.Sprintf("node %s marked down after heartbeat timeout", id),
						Metadata: map[string]string{"node_id": id},
					})
				}
			}
			return failShardsOnDownNodes(next, changedNodes), nil
		},
	}
	return r.bus.SubmitUpdate(task)
}

// onNewClusterState is the core reactive logic (C7): whenever routing or
// node membership changes, recompute which shards must transition.
// changedNodeIDs (node Status edges) is not used on this path and is
// exercised only by its own tests; the node removal and routing
// reactions below are judged off old/new directly.
func (r *Reconciler) onNewClusterState(old, new *clusterstate.State) {
	// The state has already committed by the time an applier observes
	// it; any further correction (failing shards for a node that just
	// disappeared, starting shards whose primary just came up) is
	// submitted as a follow-up update rather than mutated here.
	var missing []string
	for id := range old.Nodes {
		if _, ok := new.Nodes[id]; !ok {
			missing = append(missing, id)
		}
	}
	changedRouting := changedRoutingKeys(old, new)
	if len(missing) == 0 && len(changedRouting) == 0 {
		return
	}

	task := &clusterstate.TaskFunc{
		Label: "react_to_cluster_change",
		Fn: func(state *clusterstate.State) (*clusterstate.State, error) {
			next := state.Clone()
			if len(missing) > 0 {
				next = failShardsOnDownNodes(next, missing)
			}
			if len(changedRouting) > 0 {
				next = startShards(next, changedRouting)
			}
			return next, nil
		},
	}
	_ = r.bus.SubmitUpdate(task)
}

// changedRoutingKeys returns every Routing key whose node or state
// differs between old and new, including keys that were added or
// removed outright — the input startShards reacts to.
func changedRoutingKeys(old, new *clusterstate.State) map[string]bool {
	changed := make(map[string]bool)
	for key, shard := range new.Routing {
		prev, ok := old.Routing[key]
		if !ok || prev.State != shard.State || prev.NodeID != shard.NodeID {
			changed[key] = true
		}
	}
	for key := range old.Routing {
		if _, ok := new.Routing[key]; !ok {
			changed[key] = true
		}
	}
	return changed
}

// startShards implements the §4.4 WAITING-shard transition rules: a
// WAITING shard only ever moves because of a routing change to its own
// (index, shardIndex), never spontaneously.
//
//   - primary started   -> INIT, assigned to the primary's node
//   - primary initializing/relocating -> stays WAITING
//   - primary unassigned -> FAILED("shard is unassigned")
//
// The failure is recorded on the failed shard only (Failure and
// KnownFailure); other entries touching the same repository shard are
// not failed with it. failShardsOnDownNodes records node-loss failures
// the same way, per shard.
func startShards(state *clusterstate.State, changedRouting map[string]bool) *clusterstate.State {
	for uuid, entry := range state.SnapshotsInProgress {
		if entry.State.Completed() {
			continue
		}
		shardMap := entry.ShardMap()
		newMap := make(map[types.RepositoryShardId]*types.ShardSnapshotStatus, len(shardMap))
		changed := false
		for shardID, status := range shardMap {
			newMap[shardID] = status
			if status.State != types.ShardStateWaiting {
				continue
			}
			key := clusterstate.RoutingKey(shardID.Index, shardID.ShardIndex)
			if !changedRouting[key] {
				continue
			}
			routing, ok := state.Routing[key]
			if !ok {
				continue
			}
			switch routing.State {
			case types.RoutingShardStarted:
				started := *status
				started.NodeID = routing.NodeID
				started.State = types.ShardStateInit
				newMap[shardID] = &started
				changed = true
			case types.RoutingShardUnassigned:
				failed := *status
				failed.State = types.ShardStateFailed
				failed.Failure = "shard is unassigned"
				failed.KnownFailure = "shard is unassigned"
				newMap[shardID] = &failed
				changed = true
			default:
				// initializing/relocating: stays WAITING.
			}
		}
		if !changed {
			continue
		}
		newEntry := *entry
		if entry.Source.IsClone() {
			newEntry.Clones = newMap
		} else {
			newEntry.Shards = newMap
		}
		if newEntry.State == types.SnapshotStateStarted && allShardsSettled(newMap) {
			newEntry.State = types.SnapshotStateSuccess
			for _, s := range newMap {
				if s.State == types.ShardStateFailed && !entry.Partial {
					newEntry.State = types.SnapshotStateFailed
					break
				}
			}
		}
		state.SnapshotsInProgress[uuid] = &newEntry
	}
	return state
}

func allShardsSettled(m map[types.RepositoryShardId]*types.ShardSnapshotStatus) bool {
	for _, s := range m {
		if !s.State.Completed() {
			return false
		}
	}
	return true
}

// probeNode confirms heartbeat-timeout suspicion with a direct TCP dial
// to the node's advertised address, debounced by healthCfg.Retries
// consecutive failures before reporting the node as actually down.
func (r *Reconciler) probeNode(nodeID, addr string) bool {
	status, ok := r.nodeProbe[nodeID]
	if !ok {
		status = health.NewStatus()
		r.nodeProbe[nodeID] = status
	}

	if addr == "" {
		status.Update(health.Result{Healthy: false, CheckedAt: time.Now()}, r.healthCfg)
		return status.Healthy
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.healthCfg.Timeout)
	defer cancel()
	result := health.NewTCPChecker(addr).WithTimeout(r.healthCfg.Timeout).Check(ctx)
	status.Update(result, r.healthCfg)
	return status.Healthy
}

func changedNodeIDs(old, new *clusterstate.State) []string {
	var changed []string
	for id, node := range new.Nodes {
		if prev, ok := old.Nodes[id]; !ok || prev.Status != node.Status {
			changed = append(changed, id)
		}
	}
	return changed
}

// failShardsOnDownNodes applies the per-shard reaction rules: a shard
// whose node just went missing or down is FAILED and a knownFailure
// reason is recorded so a later reassignment attempt doesn't retry
// blindly; a PAUSED_FOR_NODE_REMOVAL shard is left untouched — it is
// deliberately neither Completed nor Active, so it simply waits.
func failShardsOnDownNodes(state *clusterstate.State, downNodes []string) *clusterstate.State {
	down := make(map[string]bool, len(downNodes))
	for _, id := range downNodes {
		down[id] = true
	}

	for uuid, entry := range state.SnapshotsInProgress {
		if entry.State.Completed() {
			continue
		}
		shardMap := entry.ShardMap()
		newMap := make(map[types.RepositoryShardId]*types.ShardSnapshotStatus, len(shardMap))
		changed := false
		for shardID, status := range shardMap {
			if status.State.Completed() || status.State == types.ShardStatePausedForNodeRemoval {
				newMap[shardID] = status
				continue
			}
			if status.NodeID != "" && down[status.NodeID] {
				failed := *status
				failed.State = types.ShardStateFailed
				failed.Failure = "node shutdown"
				failed.KnownFailure = "node shutdown"
				newMap[shardID] = &failed
				changed = true
				continue
			}
			if status.IsUnassignedQueued() {
				// Inherits whatever knownFailure was previously
				// recorded rather than clearing it, so a shard that
				// keeps losing its assigned node before ever starting
				// doesn't forget why.
				newMap[shardID] = status
				continue
			}
			newMap[shardID] = status
		}
		if changed {
			newEntry := *entry
			if entry.Source.IsClone() {
				newEntry.Clones = newMap
			} else {
				newEntry.Shards = newMap
			}
			state.SnapshotsInProgress[uuid] = &newEntry
		}
	}
	return state
}
