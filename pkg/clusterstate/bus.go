package clusterstate

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/snapguard/pkg/log"
	"github.com/cuemby/snapguard/pkg/metrics"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures a Bus's local Raft participation.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Bus is the ClusterStateBus: the single consensus-replicated document
// plus the machinery to submit update tasks against it and to notify
// registered appliers when a new version commits. It is the engine's
// only path to durable, cluster-wide agreement — nothing else in this
// module talks to Raft directly.
type Bus struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft *raft.Raft
	fsm  *FSM

	logger zerolog.Logger

	mu       sync.Mutex
	appliers []Applier
}

// New creates a Bus that has not yet joined or bootstrapped a cluster.
func New(cfg *Config) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	b := &Bus{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(),
		logger:   log.WithComponent("clusterstate"),
	}
	b.fsm.SetApplyCallback(b.notifyAppliers)
	return b, nil
}

// AddApplier registers a callback invoked after every committed state
// transition, in registration order. Used by the reactive updater (C7)
// and the listener registry (C8) to react without polling.
func (b *Bus) AddApplier(a Applier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appliers = append(b.appliers, a)
}

func (b *Bus) notifyAppliers(old, new *State) {
	b.mu.Lock()
	appliers := make([]Applier, len(b.appliers))
	copy(appliers, b.appliers)
	b.mu.Unlock()

	for _, a := range appliers {
		a.OnNewClusterState(old, new)
	}
}

// raftTuning applies the same aggressive failover tuning regardless of
// whether this node is bootstrapping or joining: a cluster-manager
// election taking the library defaults (~1s heartbeat) leaves snapshot
// work stalled for longer than operators expect during a manager loss.
func raftTuning(config *raft.Config) {
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
}

func (b *Bus) newRaft(bootstrapSingle bool) error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(b.nodeID)
	raftTuning(config)

	addr, err := net.ResolveTCPAddr("tcp", b.bindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(b.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(b.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(b.dataDir + "/raft-log.db")
	if err != nil {
		return fmt.Errorf("create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(b.dataDir + "/raft-stable.db")
	if err != nil {
		return fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, b.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft: %w", err)
	}
	b.raft = r

	if bootstrapSingle {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{ID: config.LocalID, Address: transport.LocalAddr()},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	}
	return nil
}

// Bootstrap starts a brand-new single-node cluster that this node leads.
func (b *Bus) Bootstrap() error {
	return b.newRaft(true)
}

// Join starts Raft participation without bootstrapping; the caller is
// expected to have already been added as a voter by the current leader
// (see AddVoter), typically via an out-of-band join RPC.
func (b *Bus) Join() error {
	return b.newRaft(false)
}

// AddVoter adds a new voting member to the cluster. Only valid on the
// current cluster-manager (leader).
func (b *Bus) AddVoter(nodeID, address string) error {
	if b.raft.State() != raft.Leader {
		return fmt.Errorf("not the cluster manager")
	}
	future := b.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes a member from the cluster's voting configuration.
func (b *Bus) RemoveServer(nodeID string) error {
	if b.raft.State() != raft.Leader {
		return fmt.Errorf("not the cluster manager")
	}
	future := b.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// NodeID returns this bus's own Raft server ID, the node identity the
// lifecycle assigns to work it drives locally rather than dispatching to
// a data node (clone shard copies, legacy repository pre-initialize).
func (b *Bus) NodeID() string {
	return b.nodeID
}

// IsLeader reports whether this node currently holds the cluster-manager
// role — the only node allowed to accept createSnapshot/deleteSnapshots
// and the only node whose RepoLoop instances actually run.
func (b *Bus) IsLeader() bool {
	return b.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's bind address, or "" if unknown.
func (b *Bus) LeaderAddr() string {
	addr, _ := b.raft.LeaderWithID()
	return string(addr)
}

// Current returns the latest locally-observed committed state. On a
// follower this may lag the true leader state by the replication delay.
func (b *Bus) Current() *State {
	return b.fsm.Current()
}

// SubmitUpdate is the engine's one path to mutating cluster state. It
// loads the current document, calls task.Execute against it, and — on
// success — proposes the result to Raft. If this node is not the
// cluster-manager, or Raft rejects the proposal, OnFailure is invoked
// and no state change is observed. On success Processed is invoked with
// the before/after documents once the log entry is durably applied.
//
// Unlike a CRUD-over-Raft design where each field gets its own Apply
// call, the whole document is replaced in one log entry: tasks here
// routinely touch several maps at once (e.g. deleteSnapshots both
// records a DeletionEntry and marks affected SnapshotEntries aborted)
// and must be atomic with respect to other concurrent updates.
func (b *Bus) SubmitUpdate(task UpdateTask) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if b.raft == nil || b.raft.State() != raft.Leader {
		err := fmt.Errorf("not the cluster manager")
		task.OnFailure(err)
		return err
	}

	current := b.fsm.Current()
	next, err := task.Execute(current)
	if err != nil {
		task.OnFailure(err)
		return err
	}
	next.Version = current.Version + 1

	data, err := encodeCommand(next)
	if err != nil {
		task.OnFailure(err)
		return err
	}

	future := b.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		wrapped := fmt.Errorf("commit cluster state: %w", err)
		task.OnFailure(wrapped)
		return wrapped
	}
	if resp := future.Response(); resp != nil {
		if applyErr, ok := resp.(error); ok && applyErr != nil {
			task.OnFailure(applyErr)
			return applyErr
		}
	}

	task.Processed(current, next)
	return nil
}

// Shutdown stops Raft participation.
func (b *Bus) Shutdown() error {
	if b.raft == nil {
		return nil
	}
	return b.raft.Shutdown().Error()
}
