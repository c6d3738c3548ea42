package snapshot

import "github.com/cuemby/snapguard/pkg/clusterstate"

// Peer-version gating constants. Every node advertises a protocol
// version (types.Node.MinPeerVersion); a behavior gated here is only
// enabled once every node currently in the cluster meets the minimum,
// so a rolling upgrade never has to reason about mixed-version shard
// assignment mid-flight.
const (
	// NoRepoInitializeVersion is the version at which the legacy
	// "initialize snapshot before any shard work starts" step became
	// unnecessary and was made a no-op for clusters fully above it.
	NoRepoInitializeVersion = 1

	// FullConcurrencyVersion is the version at which snapshot
	// concurrency moved from "one in-flight snapshot at a time" to the
	// queueing model described by ShardStateExecutor.
	FullConcurrencyVersion = 2

	// CloneSnapshotVersion is the version at which cloneSnapshot became
	// available.
	CloneSnapshotVersion = 3

	// ShardGenInRepoDataVersion is the version at which shard
	// generations moved from being inferred by listing blobs to being
	// recorded directly in RepositoryData.
	ShardGenInRepoDataVersion = 4

	// MultiDeleteVersion is the version at which deleteSnapshots
	// accepted more than one snapshot name per call.
	MultiDeleteVersion = 5

	// CurrentMinNodeVersion is the version this engine requires from
	// every node before accepting write operations.
	CurrentMinNodeVersion = MultiDeleteVersion
)

// minClusterVersion returns the lowest MinPeerVersion across all nodes
// currently known to cluster state, which gates every version-sensitive
// decision in the lifecycle and executor.
func minClusterVersion(peerVersions []int) int {
	if len(peerVersions) == 0 {
		return CurrentMinNodeVersion
	}
	min := peerVersions[0]
	for _, v := range peerVersions[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// peerVersions collects the advertised MinPeerVersion of every node
// currently known to cluster state, the input minClusterVersion gates
// version-sensitive lifecycle decisions on.
func peerVersions(state *clusterstate.State) []int {
	versions := make([]int, 0, len(state.Nodes))
	for _, n := range state.Nodes {
		versions = append(versions, n.MinPeerVersion)
	}
	return versions
}
