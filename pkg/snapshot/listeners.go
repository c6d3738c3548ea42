package snapshot

import "sync"

// CompletionListener is notified once when the snapshot it was
// registered against reaches a Completed state (SUCCESS or FAILED).
type CompletionListener func(err error)

// DeletionListener is notified once the deletion it was registered
// against finishes removing data from the repository.
type DeletionListener func(err error)

// ListenerRegistry is the ListenerRegistry consumed/exposed surface
// (C8): callers of createSnapshot/cloneSnapshot/deleteSnapshots block
// (or, for the gRPC surface, hold a request open) until their specific
// operation's listener fires, rather than polling currentSnapshots.
//
// Unlike the teacher's generic pub/sub Broker (every subscriber gets
// every event), this is a set of typed, one-shot, per-key callback
// lists: a caller only ever hears about the one snapshot or deletion it
// asked about, and is removed from the registry the moment it's told.
type ListenerRegistry struct {
	mu        sync.Mutex
	snapshots map[string][]CompletionListener // keyed by SnapshotId.UUID
	deletions map[string][]DeletionListener    // keyed by repository name
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		snapshots: make(map[string][]CompletionListener),
		deletions: make(map[string][]DeletionListener),
	}
}

// AddSnapshotListener registers l to be called once the snapshot
// identified by uuid completes.
func (r *ListenerRegistry) AddSnapshotListener(uuid string, l CompletionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[uuid] = append(r.snapshots[uuid], l)
}

// NotifySnapshot delivers err to every listener registered for uuid and
// removes them from the registry.
func (r *ListenerRegistry) NotifySnapshot(uuid string, err error) {
	r.mu.Lock()
	listeners := r.snapshots[uuid]
	delete(r.snapshots, uuid)
	r.mu.Unlock()

	for _, l := range listeners {
		l(err)
	}
}

// AddDeletionListener registers l to be called once the deletion
// affecting repo completes.
func (r *ListenerRegistry) AddDeletionListener(repo string, l DeletionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletions[repo] = append(r.deletions[repo], l)
}

// NotifyDeletion delivers err to every listener registered for repo and
// removes them from the registry.
func (r *ListenerRegistry) NotifyDeletion(repo string, err error) {
	r.mu.Lock()
	listeners := r.deletions[repo]
	delete(r.deletions, repo)
	r.mu.Unlock()

	for _, l := range listeners {
		l(err)
	}
}

// FailAll notifies every still-pending listener of err and clears the
// registry. Called when this node loses cluster-manager status: nobody
// else will ever finalize these operations from this node's point of
// view, so callers waiting on them must be unblocked rather than hang
// forever.
func (r *ListenerRegistry) FailAll(err error) {
	r.mu.Lock()
	snapshots := r.snapshots
	deletions := r.deletions
	r.snapshots = make(map[string][]CompletionListener)
	r.deletions = make(map[string][]DeletionListener)
	r.mu.Unlock()

	for _, listeners := range snapshots {
		for _, l := range listeners {
			l(err)
		}
	}
	for _, listeners := range deletions {
		for _, l := range listeners {
			l(err)
		}
	}
}
