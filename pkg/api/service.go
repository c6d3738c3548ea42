package api

import (
	"context"

	"google.golang.org/grpc"
)

// SnapshotAPIServer is the interface Server implements. It stands in for
// what a generated *_grpc.pb.go would declare, hand-written because this
// module carries no protoc-generated stubs.
type SnapshotAPIServer interface {
	CreateSnapshot(context.Context, *CreateSnapshotRequest) (*CreateSnapshotResponse, error)
	CloneSnapshot(context.Context, *CloneSnapshotRequest) (*CloneSnapshotResponse, error)
	DeleteSnapshots(context.Context, *DeleteSnapshotsRequest) (*DeleteSnapshotsResponse, error)
	UpdateShardState(context.Context, *UpdateShardStateRequest) (*UpdateShardStateResponse, error)
	CurrentSnapshots(context.Context, *CurrentSnapshotsRequest) (*CurrentSnapshotsResponse, error)
	RegisterNode(context.Context, *RegisterNodeRequest) (*RegisterNodeResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	ListNodes(context.Context, *ListNodesRequest) (*ListNodesResponse, error)
}

// ServiceDesc is the hand-rolled equivalent of a generated
// <Service>_ServiceDesc — registered with grpc.Server the same way
// proto.RegisterWarrenAPIServer would have, but built by hand against
// the jsonCodec instead of generated marshal/unmarshal funcs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "snapguard.SnapshotAPI",
	HandlerType: (*SnapshotAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSnapshot", Handler: _SnapshotAPI_CreateSnapshot_Handler},
		{MethodName: "CloneSnapshot", Handler: _SnapshotAPI_CloneSnapshot_Handler},
		{MethodName: "DeleteSnapshots", Handler: _SnapshotAPI_DeleteSnapshots_Handler},
		{MethodName: "UpdateShardState", Handler: _SnapshotAPI_UpdateShardState_Handler},
		{MethodName: "CurrentSnapshots", Handler: _SnapshotAPI_CurrentSnapshots_Handler},
		{MethodName: "RegisterNode", Handler: _SnapshotAPI_RegisterNode_Handler},
		{MethodName: "Heartbeat", Handler: _SnapshotAPI_Heartbeat_Handler},
		{MethodName: "ListNodes", Handler: _SnapshotAPI_ListNodes_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/api/service.go",
}

func _SnapshotAPI_CreateSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).CreateSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/CreateSnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).CreateSnapshot(ctx, req.(*CreateSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotAPI_CloneSnapshot_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CloneSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).CloneSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/CloneSnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).CloneSnapshot(ctx, req.(*CloneSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotAPI_DeleteSnapshots_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteSnapshotsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).DeleteSnapshots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/DeleteSnapshots"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).DeleteSnapshots(ctx, req.(*DeleteSnapshotsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotAPI_UpdateShardState_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UpdateShardStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).UpdateShardState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/UpdateShardState"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).UpdateShardState(ctx, req.(*UpdateShardStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotAPI_CurrentSnapshots_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CurrentSnapshotsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).CurrentSnapshots(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/CurrentSnapshots"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).CurrentSnapshots(ctx, req.(*CurrentSnapshotsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotAPI_RegisterNode_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterNodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).RegisterNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/RegisterNode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).RegisterNode(ctx, req.(*RegisterNodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotAPI_Heartbeat_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/Heartbeat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SnapshotAPI_ListNodes_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListNodesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SnapshotAPIServer).ListNodes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/snapguard.SnapshotAPI/ListNodes"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SnapshotAPIServer).ListNodes(ctx, req.(*ListNodesRequest))
	}
	return interceptor(ctx, in, info, handler)
}
