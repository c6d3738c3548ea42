package client

import (
	"context"
	"time"

	"github.com/cuemby/snapguard/pkg/api"
	"github.com/cuemby/snapguard/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps a plain (non-mTLS) gRPC connection to a cluster manager's
// API server for CLI use. Authentication is out of scope for this
// system, so the dial options are deliberately minimal compared to the
// teacher's certificate-based client.
type Client struct {
	conn *grpc.ClientConn
	addr string
}

// NewClient dials addr using the JSON codec the server registers with.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, addr: addr}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return c.conn.Invoke(ctx, "/snapguard.SnapshotAPI/"+method, in, out)
}

// CreateSnapshot submits a createSnapshot request and returns the
// assigned snapshot ID. Completion happens asynchronously on the
// cluster manager; poll CurrentSnapshots for progress.
func (c *Client) CreateSnapshot(req api.CreateSnapshotRequest) (types.SnapshotId, error) {
	out := new(api.CreateSnapshotResponse)
	if err := c.invoke(context.Background(), "CreateSnapshot", &req, out); err != nil {
		return types.SnapshotId{}, err
	}
	return out.SnapshotID, nil
}

// CloneSnapshot submits a cloneSnapshot request.
func (c *Client) CloneSnapshot(req api.CloneSnapshotRequest) (types.SnapshotId, error) {
	out := new(api.CloneSnapshotResponse)
	if err := c.invoke(context.Background(), "CloneSnapshot", &req, out); err != nil {
		return types.SnapshotId{}, err
	}
	return out.SnapshotID, nil
}

// DeleteSnapshots submits a deleteSnapshots request.
func (c *Client) DeleteSnapshots(req api.DeleteSnapshotsRequest) error {
	out := new(api.DeleteSnapshotsResponse)
	return c.invoke(context.Background(), "DeleteSnapshots", &req, out)
}

// CurrentSnapshots lists in-progress snapshots, optionally filtered to
// one repository (pass "" for all repositories).
func (c *Client) CurrentSnapshots(repository string) ([]*types.SnapshotEntry, error) {
	out := new(api.CurrentSnapshotsResponse)
	in := &api.CurrentSnapshotsRequest{Repository: repository}
	if err := c.invoke(context.Background(), "CurrentSnapshots", in, out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ListNodes lists cluster membership.
func (c *Client) ListNodes() ([]*types.Node, error) {
	out := new(api.ListNodesResponse)
	if err := c.invoke(context.Background(), "ListNodes", &api.ListNodesRequest{}, out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

// RegisterNode registers this node with the cluster manager.
func (c *Client) RegisterNode(req api.RegisterNodeRequest) error {
	out := new(api.RegisterNodeResponse)
	return c.invoke(context.Background(), "RegisterNode", &req, out)
}

// Heartbeat reports liveness for nodeID.
func (c *Client) Heartbeat(nodeID string) error {
	out := new(api.HeartbeatResponse)
	return c.invoke(context.Background(), "Heartbeat", &api.HeartbeatRequest{NodeID: nodeID}, out)
}
