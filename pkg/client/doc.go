/*
Package client provides a Go client library for the snapshot
orchestration API (pkg/api).

It wraps a plain gRPC connection — no mTLS, since authentication is out
of scope for this system — using the JSON grpc.Codec the server
registers, and exposes idiomatic Go methods for the RPCs in
api.SnapshotAPIServer other than the data-node UpdateShardState:
CreateSnapshot, CloneSnapshot, DeleteSnapshots,
CurrentSnapshots, ListNodes, RegisterNode, and Heartbeat.

# Usage

	c, err := client.NewClient("manager1:8080")
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	id, err := c.CreateSnapshot(api.CreateSnapshotRequest{
		Repository: "backups",
		Name:       "daily-2026-07-31",
		Indices:    []types.IndexId{{Name: "logs"}},
	})

	entries, err := c.CurrentSnapshots("backups")

Every write call targets whichever node the CLI was pointed at; if that
node isn't the Raft leader, the RPC fails with codes.FailedPrecondition
naming the current leader's address (or codes.Unavailable when no
leader is elected), and the caller is expected to retry against that
address rather than have the client silently redirect. Neither this
package nor cmd/snapguard redirects; that decision is left to the
operator.
*/
package client
