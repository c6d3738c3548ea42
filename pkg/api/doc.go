/*
Package api implements the gRPC surface of the snapshot orchestration
engine: the RPCs a CLI, a data node, or another manager node call against
the current Raft cluster manager.

No .proto toolchain is vendored in this module, so request/response
messages are hand-written Go structs (pkg/api/messages.go) carried over
a custom JSON grpc.Codec (pkg/api/codec.go) instead of generated
protobuf types, and the service is registered via a hand-built
grpc.ServiceDesc (pkg/api/service.go) instead of a generated
RegisterXServer function. Authentication/authorization is out of scope
(see Non-goals) — the API server is expected to run behind operator-
controlled network access, not to enforce it itself.

# Architecture

	┌──────────────────── CLIENT (CLI / data node) ──────────────────┐
	│                     gRPC over TCP, JSON codec                   │
	└─────────────────────────────┬───────────────────────────────────┘
	                              │
	┌─────────────────────────────▼──── CLUSTER MANAGER NODE ─────────┐
	│  ┌─────────────────────────────────────────────────┐           │
	│  │           Server (pkg/api/server.go)             │           │
	│  │  - CreateSnapshot / CloneSnapshot /               │           │
	│  │    DeleteSnapshots / UpdateShardState             │           │
	│  │  - CurrentSnapshots / ListNodes (read-only,       │           │
	│  │    servable from any node)                        │           │
	│  │  - RegisterNode / Heartbeat (cluster membership)  │           │
	│  │  - metricsInterceptor records count + duration    │           │
	│  └──────────────────┬────────────────────────────────┘           │
	│                     ▼                                            │
	│       snapshot.Engine / clusterstate.Bus                        │
	└───────────────────────────────────────────────────────────────────┘

Write RPCs (CreateSnapshot, CloneSnapshot, DeleteSnapshots,
UpdateShardState, RegisterNode, Heartbeat) return
codes.FailedPrecondition when this node isn't the Raft leader, naming the
current leader's address so the caller can retry there, or
codes.Unavailable when no leader is elected. Read RPCs
(CurrentSnapshots, ListNodes) are served from this node's own committed
state, the same way a Raft follower can answer a linearizable-enough read
locally without forwarding to the leader.

# Health and metrics

HealthServer (pkg/api/health.go) exposes /health, /ready, and /metrics
over plain HTTP, separate from the gRPC listener, so a load balancer or
orchestrator can probe liveness without a gRPC client.

# Local socket

ReadOnlyInterceptor (pkg/api/interceptor.go) is meant for a Unix socket
listener used by a co-located CLI: it permits only read-shaped methods
(List*, Get*, Current*, Snapshotting*) and rejects everything else with
codes.PermissionDenied, so a local operator can inspect state without
being handed write access by virtue of being on the same host.
*/
package api
