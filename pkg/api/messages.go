package api

import (
	"time"

	"github.com/cuemby/snapguard/pkg/snapshot"
	"github.com/cuemby/snapguard/pkg/types"
)

// CreateSnapshotRequest and CreateSnapshotResponse wrap
// snapshot.CreateSnapshotRequest/types.SnapshotId for the wire: every
// request/response pair here is a plain Go struct carrying json tags
// rather than a generated protobuf message, since no .proto toolchain
// is vendored in this module.
type CreateSnapshotRequest struct {
	Repository   string                 `json:"repository"`
	Name         string                 `json:"name"`
	Indices      []types.IndexId        `json:"indices"`
	DataStreams  []string               `json:"data_streams,omitempty"`
	Partial      bool                   `json:"partial,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

type CreateSnapshotResponse struct {
	SnapshotID types.SnapshotId `json:"snapshot_id"`
}

type CloneSnapshotRequest struct {
	Repository string          `json:"repository"`
	SourceName string          `json:"source_name"`
	SourceUUID string          `json:"source_uuid,omitempty"`
	TargetName string          `json:"target_name"`
	Indices    []types.IndexId `json:"indices"`
}

type CloneSnapshotResponse struct {
	SnapshotID types.SnapshotId `json:"snapshot_id"`
}

type DeleteSnapshotsRequest struct {
	Repository string   `json:"repository"`
	Names      []string `json:"names"`
}

type DeleteSnapshotsResponse struct {
	Accepted bool `json:"accepted"`
}

// UpdateShardStateRequest is the data-node-to-cluster-manager RPC a data
// node uses to report shard snapshot progress/completion/failure; it is
// the wire form of a batch of snapshot.ShardUpdate values.
type UpdateShardStateRequest struct {
	Updates []ShardUpdateWire `json:"updates"`
}

type ShardUpdateWire struct {
	SnapshotUUID string                  `json:"snapshot_uuid"`
	ShardID      types.RepositoryShardId `json:"shard_id"`
	NewState     types.ShardState        `json:"new_state"`
	Generation   string                  `json:"generation,omitempty"`
	Failure      string                  `json:"failure,omitempty"`
}

type UpdateShardStateResponse struct {
	Applied bool `json:"applied"`
}

func (w ShardUpdateWire) toDomain() snapshot.ShardUpdate {
	return snapshot.ShardUpdate{
		SnapshotUUID: w.SnapshotUUID,
		ShardID:      w.ShardID,
		NewState:     w.NewState,
		Generation:   w.Generation,
		Failure:      w.Failure,
	}
}

type CurrentSnapshotsRequest struct {
	Repository string `json:"repository,omitempty"`
}

type CurrentSnapshotsResponse struct {
	Entries []*types.SnapshotEntry `json:"entries"`
}

type RegisterNodeRequest struct {
	NodeID  string            `json:"node_id"`
	Role    types.NodeRole    `json:"role"`
	Address string            `json:"address"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type RegisterNodeResponse struct {
	Accepted bool `json:"accepted"`
}

type HeartbeatRequest struct {
	NodeID string `json:"node_id"`
}

type HeartbeatResponse struct {
	Acknowledged bool      `json:"acknowledged"`
	ServerTime   time.Time `json:"server_time"`
}

type ListNodesRequest struct{}

type ListNodesResponse struct {
	Nodes []*types.Node `json:"nodes"`
}
