package snapshot

import (
	"sync"

	"github.com/cuemby/snapguard/pkg/log"
	"github.com/rs/zerolog"
)

// RepoLoop is the per-repository mutual-exclusion loop (C6): at most one
// finalize-snapshot or delete-snapshots write is ever in flight against a
// given repository at a time, the same constraint a real object store's
// root metadata blob (index-N) imposes through compare-and-swap. Work
// that arrives while a repository is busy is queued in OngoingOps and
// run as soon as the current operation finishes and release finds it
// waiting.
//
// This replaces the teacher's service-reconciliation ticker (scheduler.go)
// with an event-driven "run now or queue" loop: snapshot finalization has
// no fixed period to poll on, it runs exactly when a repository-mutating
// operation becomes ready.
type RepoLoop struct {
	mu      sync.Mutex
	running map[string]bool

	ongoing *OngoingOps
	logger  zerolog.Logger
}

// NewRepoLoop creates a RepoLoop sharing ongoing's per-repository queues.
func NewRepoLoop(ongoing *OngoingOps) *RepoLoop {
	return &RepoLoop{
		running: make(map[string]bool),
		ongoing: ongoing,
		logger:  log.WithComponent("repo-loop"),
	}
}

// Run executes fn against repo if no other operation currently holds
// repo's slot, otherwise queues fn to run once the current holder calls
// done (via the deferred cleanup Run installs internally).
func (l *RepoLoop) Run(repo string, fn func()) {
	l.mu.Lock()
	if l.running[repo] {
		l.mu.Unlock()
		l.ongoing.Enqueue(repo, &PendingOp{Repo: repo, Run: fn})
		return
	}
	l.running[repo] = true
	l.mu.Unlock()

	go l.execute(repo, fn)
}

func (l *RepoLoop) execute(repo string, fn func()) {
	defer l.release(repo)
	func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error().Interface("panic", r).Str("repository", repo).Msg("repository operation panicked")
			}
		}()
		fn()
	}()
}

// release drops the running marker for repo and, if more work was
// queued while this operation ran, immediately starts the next one
// without releasing the slot in between.
func (l *RepoLoop) release(repo string) {
	for {
		next, ok := l.ongoing.Dequeue(repo)
		if !ok {
			l.mu.Lock()
			delete(l.running, repo)
			l.mu.Unlock()
			return
		}
		l.execute(repo, next.Run)
		return
	}
}

// Busy reports whether repo currently has an operation holding its slot.
func (l *RepoLoop) Busy(repo string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[repo]
}
