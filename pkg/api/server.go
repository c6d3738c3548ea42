package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/snapguard/pkg/clusterstate"
	"github.com/cuemby/snapguard/pkg/events"
	"github.com/cuemby/snapguard/pkg/log"
	"github.com/cuemby/snapguard/pkg/metrics"
	"github.com/cuemby/snapguard/pkg/snapshot"
	"github.com/cuemby/snapguard/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements SnapshotAPIServer over a snapshot.Engine and the
// clusterstate.Bus it sits on. Every write RPC is rejected when this
// node is not the Raft cluster manager: with codes.FailedPrecondition
// naming the leader's address when one is known, or codes.Unavailable
// when no leader is elected — the same "redirect to the leader" contract
// snapshot.Engine's public methods already enforce.
type Server struct {
	engine *snapshot.Engine
	bus    *clusterstate.Bus
	grpc   *grpc.Server
	logger zerolog.Logger
}

// NewServer creates an API server wrapping engine and bus.
func NewServer(engine *snapshot.Engine, bus *clusterstate.Bus) *Server {
	return &Server{
		engine: engine,
		bus:    bus,
		logger: log.WithComponent("api"),
	}
}

// Start begins serving gRPC on addr using the JSON codec in place of a
// generated protobuf codec.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.metricsInterceptor))
	s.grpc.RegisterService(&ServiceDesc, s)

	s.logger.Info().Str("addr", addr).Msg("api server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *Server) metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	timer := metrics.NewTimer()
	resp, err := handler(ctx, req)
	code := "OK"
	if err != nil {
		code = status.Code(err).String()
	}
	method := info.FullMethod
	metrics.APIRequestsTotal.WithLabelValues(method, code).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, method)
	return resp, err
}

func (s *Server) ensureLeader() error {
	if !s.bus.IsLeader() {
		leader := s.bus.LeaderAddr()
		if leader == "" {
			return status.Error(codes.Unavailable, "no cluster manager elected")
		}
		return status.Errorf(codes.FailedPrecondition, "not cluster manager, current leader at %s", leader)
	}
	return nil
}

// CreateSnapshot accepts a createSnapshot request. Completion is
// asynchronous: the caller learns the outcome via a later
// CurrentSnapshots poll, matching the teacher's fire-and-forget
// submitClusterStateUpdateTask contract rather than blocking the RPC on
// every shard finishing.
func (s *Server) CreateSnapshot(ctx context.Context, req *CreateSnapshotRequest) (*CreateSnapshotResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	id, err := s.engine.CreateSnapshot(snapshot.CreateSnapshotRequest{
		Repository:   req.Repository,
		Name:         req.Name,
		Indices:      req.Indices,
		DataStreams:  req.DataStreams,
		Partial:      req.Partial,
		UserMetadata: req.UserMetadata,
	}, func(err error) {
		if err != nil {
			s.logger.Warn().Str("snapshot", req.Name).Err(err).Msg("snapshot finished with error")
		} else {
			s.logger.Info().Str("snapshot", req.Name).Msg("snapshot completed")
		}
	})
	if err != nil {
		metrics.SnapshotCreateTotal.WithLabelValues("rejected").Inc()
		return nil, toGRPCError(err)
	}
	metrics.SnapshotCreateTotal.WithLabelValues("accepted").Inc()
	return &CreateSnapshotResponse{SnapshotID: id}, nil
}

func (s *Server) CloneSnapshot(ctx context.Context, req *CloneSnapshotRequest) (*CloneSnapshotResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	id, err := s.engine.CloneSnapshot(snapshot.CloneSnapshotRequest{
		Repository: req.Repository,
		SourceName: req.SourceName,
		SourceUUID: req.SourceUUID,
		TargetName: req.TargetName,
		Indices:    req.Indices,
	}, func(err error) {
		if err != nil {
			s.logger.Warn().Str("clone", req.TargetName).Err(err).Msg("clone finished with error")
		}
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &CloneSnapshotResponse{SnapshotID: id}, nil
}

func (s *Server) DeleteSnapshots(ctx context.Context, req *DeleteSnapshotsRequest) (*DeleteSnapshotsResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	err := s.engine.DeleteSnapshots(snapshot.DeleteSnapshotsRequest{
		Repository: req.Repository,
		Names:      req.Names,
	}, func(err error) {
		if err != nil {
			s.logger.Warn().Str("repository", req.Repository).Err(err).Msg("deletion finished with error")
		}
	})
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &DeleteSnapshotsResponse{Accepted: true}, nil
}

// UpdateShardState is the data-node-to-cluster-manager RPC a data node
// calls to report shard snapshot progress.
func (s *Server) UpdateShardState(ctx context.Context, req *UpdateShardStateRequest) (*UpdateShardStateResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	updates := make([]snapshot.ShardUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, u.toDomain())
	}
	if err := s.engine.InnerUpdateSnapshotState(updates); err != nil {
		return nil, toGRPCError(err)
	}
	return &UpdateShardStateResponse{Applied: true}, nil
}

// CurrentSnapshots is a read-only query servable from any node: it
// reads straight off the local committed cluster state rather than
// requiring the leader, the same way a follower can answer a read
// against its Raft-replicated FSM without forwarding to the leader.
func (s *Server) CurrentSnapshots(ctx context.Context, req *CurrentSnapshotsRequest) (*CurrentSnapshotsResponse, error) {
	return &CurrentSnapshotsResponse{Entries: s.engine.CurrentSnapshots(req.Repository)}, nil
}

func (s *Server) RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	task := &clusterstate.TaskFunc{
		Label: "register_node[" + req.NodeID + "]",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			next := current.Clone()
			next.Nodes[req.NodeID] = &types.Node{
				ID:            req.NodeID,
				Role:          req.Role,
				Address:       req.Address,
				Labels:        req.Labels,
				Status:        types.NodeStatusReady,
				MinPeerVersion: snapshot.CurrentMinNodeVersion,
				LastHeartbeat: time.Now(),
				CreatedAt:     time.Now(),
			}
			return next, nil
		},
	}
	if err := s.bus.SubmitUpdate(task); err != nil {
		return nil, toGRPCError(err)
	}
	s.engine.Broker().Publish(&events.Event{
		Type:     events.EventNodeJoined,
		Message:  fmt.Sprintf("node %s joined", req.NodeID),
		Metadata: map[string]string{"node_id": req.NodeID, "address": req.Address},
	})
	return &RegisterNodeResponse{Accepted: true}, nil
}

func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	task := &clusterstate.TaskFunc{
		Label: "heartbeat[" + req.NodeID + "]",
		Fn: func(current *clusterstate.State) (*clusterstate.State, error) {
			node, ok := current.Nodes[req.NodeID]
			if !ok {
				return nil, status.Errorf(codes.NotFound, "node %s not registered", req.NodeID)
			}
			next := current.Clone()
			updated := *node
			updated.LastHeartbeat = time.Now()
			updated.Status = types.NodeStatusReady
			next.Nodes[req.NodeID] = &updated
			return next, nil
		},
	}
	if err := s.bus.SubmitUpdate(task); err != nil {
		return nil, toGRPCError(err)
	}
	return &HeartbeatResponse{Acknowledged: true, ServerTime: time.Now()}, nil
}

func (s *Server) ListNodes(ctx context.Context, req *ListNodesRequest) (*ListNodesResponse, error) {
	current := s.bus.Current()
	nodes := make([]*types.Node, 0, len(current.Nodes))
	for _, n := range current.Nodes {
		nodes = append(nodes, n)
	}
	return &ListNodesResponse{Nodes: nodes}, nil
}

// toGRPCError maps a (possibly wrapped, via fmt.Errorf("%w: ...", ...))
// engine sentinel error to the gRPC status code a caller should act on.
func toGRPCError(err error) error {
	switch {
	case errors.Is(err, snapshot.ErrNotClusterManager):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, snapshot.ErrConcurrentSnapshotExecution),
		errors.Is(err, snapshot.ErrSnapshotNameExists),
		errors.Is(err, snapshot.ErrDeletionInProgress):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, snapshot.ErrSnapshotMissing),
		errors.Is(err, snapshot.ErrRepositoryMissing),
		errors.Is(err, snapshot.ErrCloneSourceNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, snapshot.ErrInvalidSnapshotName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, snapshot.ErrUnsupportedOnOlderNodes):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, snapshot.ErrConcurrencyLimitReached):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, snapshot.ErrMissingShardsNotPartial):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
