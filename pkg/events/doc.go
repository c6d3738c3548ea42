/*
Package events provides an in-memory event broker for the snapshot
engine's pub/sub notifications: snapshot/deletion lifecycle transitions
and node membership changes, published for anything that wants to react
or observe without polling CurrentSnapshots or ListNodes.

# Architecture

A single Broker accepts published events on a buffered channel and fans
them out to every current subscriber's own buffered channel:

	Publish(event) → broker.eventCh (buffer 100) → broadcast loop → each Subscriber (buffer 50)

Publish never blocks on a slow subscriber: a full subscriber channel
simply drops that event rather than stalling the broadcast loop.

# Event types

  - EventSnapshotCreated / EventSnapshotCompleted / EventSnapshotFailed /
    EventSnapshotAborted — published by pkg/snapshot.Engine as a
    SnapshotEntry is admitted, finalized, or aborted.
  - EventDeletionStarted / EventDeletionCompleted — published by
    pkg/snapshot.Engine around deleteSnapshots.
  - EventRepositoryAdded / EventRepositoryRemoved — reserved for a
    future repository-registration API; no current caller publishes
    these since repository registration is out of this module's scope.
  - EventNodeJoined — published by pkg/api.Server.RegisterNode.
  - EventNodeDown — published by pkg/reconciler.Reconciler when a node
    misses its heartbeat and fails its TCP liveness probe.
  - EventNodeLeft — reserved for a future graceful-leave RPC; nothing
    currently distinguishes a graceful departure from a timeout.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventSnapshotFailed:
				alert(event)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventSnapshotCompleted,
		Message:  "snapshot backups/daily completed",
		Metadata: map[string]string{"repository": "backups", "snapshot": "daily"},
	})

# See Also

  - pkg/snapshot for the snapshot/deletion lifecycle that publishes most
    events
  - pkg/reconciler for node-liveness events
  - pkg/api for the RPC surface operators observe alongside this stream
*/
package events
