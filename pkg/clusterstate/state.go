package clusterstate

import (
	"strconv"

	"github.com/cuemby/snapguard/pkg/types"
)

// Settings holds cluster-wide tunables that gate concurrency and
// compatibility decisions. They are themselves part of the replicated
// document so every node in the cluster agrees on them.
type Settings struct {
	// MaxConcurrentOperations bounds |SnapshotsInProgress| + |SnapshotDeletions|
	// cluster-wide (snapshot.max_concurrent_operations), not per-node or
	// per-repository.
	MaxConcurrentOperations int
}

// DefaultSettings mirrors the conservative defaults used by the upstream
// system this engine reimplements.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentOperations: 1000,
	}
}

// State is the single consensus-replicated document the snapshot engine
// operates on: the set of in-flight snapshots and deletions, the current
// routing table projection, known nodes, and cluster settings.
//
// All mutation goes through ExecuteConsistentStateUpdate-style
// compare-and-swap (see Bus.SubmitUpdate): callers never mutate a State
// in place, they produce a new one from the current one.
type State struct {
	Version int64 // monotonically increases on every applied update

	SnapshotsInProgress  map[string]*types.SnapshotEntry  // keyed by SnapshotId.UUID
	SnapshotDeletions    map[string]*types.DeletionEntry   // keyed by Repository
	Repositories         map[string]*types.RepositoryMetadata
	Nodes                map[string]*types.Node
	Routing              map[string]*types.RoutingShard // keyed by "index-name/index-uuid/shard-index"
	Settings             Settings
}

// NewState returns an empty document with default settings.
func NewState() *State {
	return &State{
		SnapshotsInProgress: make(map[string]*types.SnapshotEntry),
		SnapshotDeletions:   make(map[string]*types.DeletionEntry),
		Repositories:        make(map[string]*types.RepositoryMetadata),
		Nodes:               make(map[string]*types.Node),
		Routing:             make(map[string]*types.RoutingShard),
		Settings:            DefaultSettings(),
	}
}

// Clone produces a deep-enough copy for copy-on-write updates: the maps
// are copied (new map, same leaf pointers), since tasks replace leaf
// values wholesale rather than mutating them in place.
func (s *State) Clone() *State {
	n := &State{
		Version:             s.Version,
		SnapshotsInProgress: make(map[string]*types.SnapshotEntry, len(s.SnapshotsInProgress)),
		SnapshotDeletions:   make(map[string]*types.DeletionEntry, len(s.SnapshotDeletions)),
		Repositories:        make(map[string]*types.RepositoryMetadata, len(s.Repositories)),
		Nodes:               make(map[string]*types.Node, len(s.Nodes)),
		Routing:             make(map[string]*types.RoutingShard, len(s.Routing)),
		Settings:            s.Settings,
	}
	for k, v := range s.SnapshotsInProgress {
		n.SnapshotsInProgress[k] = v
	}
	for k, v := range s.SnapshotDeletions {
		n.SnapshotDeletions[k] = v
	}
	for k, v := range s.Repositories {
		n.Repositories[k] = v
	}
	for k, v := range s.Nodes {
		n.Nodes[k] = v
	}
	for k, v := range s.Routing {
		n.Routing[k] = v
	}
	return n
}

// RoutingKey builds the Routing map key for a shard coordinate.
func RoutingKey(index types.IndexId, shardIndex int) string {
	return index.Name + "/" + index.UUID + "/" + strconv.Itoa(shardIndex)
}
