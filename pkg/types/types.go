package types

import (
	"time"
)

// Node represents a data node or cluster-manager node in the cluster.
//
// The snapshot engine only cares about a node's identity, role, and routing
// state — it never schedules workloads onto a node the way a container
// orchestrator would.
type Node struct {
	ID        string
	Role      NodeRole
	Address   string
	Labels    map[string]string
	Status    NodeStatus
	MinPeerVersion int // advertised protocol version, used for concurrency gating
	LastHeartbeat  time.Time
	CreatedAt      time.Time
}

// NodeRole defines the role of a node.
type NodeRole string

const (
	NodeRoleManager NodeRole = "manager"
	NodeRoleData    NodeRole = "data"
)

// NodeStatus represents the current state of a node.
type NodeStatus string

const (
	NodeStatusReady    NodeStatus = "ready"
	NodeStatusDown     NodeStatus = "down"
	NodeStatusUnknown  NodeStatus = "unknown"
)

// IndexId identifies a concrete index generation within a repository.
// Two indices with the same Name but different UUID are unrelated for
// snapshot purposes (the index was deleted and recreated).
type IndexId struct {
	Name string
	UUID string
}

// ShardId is the runtime routing coordinate for a primary shard: an index
// plus a zero-based shard number, resolved against the current routing
// table (which node currently holds the primary).
type ShardId struct {
	Index      IndexId
	ShardIndex int
}

// RepositoryShardId is the repository-persistent coordinate for a shard,
// used once data has been written to the repository and routing-table
// membership is no longer relevant (clones read the repository, not the
// routing table).
type RepositoryShardId struct {
	Index      IndexId
	ShardIndex int
}

// RoutingShard describes a single primary shard's current allocation, the
// minimal routing-table projection the engine needs to assign snapshot
// work and to react to node loss.
type RoutingShard struct {
	Index      IndexId
	ShardIndex int
	NodeID     string // empty if unassigned
	State      RoutingShardState
}

// RoutingShardState mirrors the subset of primary-shard allocation states
// the snapshot engine must distinguish.
type RoutingShardState string

const (
	RoutingShardUnassigned  RoutingShardState = "unassigned"
	RoutingShardInitializing RoutingShardState = "initializing"
	RoutingShardRelocating  RoutingShardState = "relocating"
	RoutingShardStarted     RoutingShardState = "started"
)
