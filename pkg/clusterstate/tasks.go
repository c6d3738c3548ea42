package clusterstate

import "time"

// UpdateTask is the unit of work the engine submits to the bus. The bus
// serializes tasks through Raft: Execute runs once per task against the
// latest committed State and its return value becomes the next State on
// success, or is discarded (with OnFailure invoked) on error.
//
// This mirrors the consumed "submit a cluster state update function"
// interface the engine relies on: callers never touch Raft directly,
// they describe a pure state transition and get notified of the outcome.
type UpdateTask interface {
	// Source is a short label identifying the caller, used in logs and
	// metrics (e.g. "create_snapshot [daily-2026-07-31]").
	Source() string

	// Execute computes the next state from the current one. It must be
	// side-effect free: its result is discarded if it returns an error or
	// the update is not committed.
	Execute(current *State) (*State, error)

	// OnFailure is invoked if Execute returns an error, or if the
	// update could not be committed (e.g. this node lost cluster-manager
	// status before the entry committed).
	OnFailure(err error)

	// Processed is invoked once the new state produced by Execute has
	// been durably applied and observed by the bus's own FSM callback.
	Processed(old, new *State)
}

// TaskFunc adapts a plain function plus callbacks into an UpdateTask,
// for the common case where a caller doesn't need a dedicated type.
type TaskFunc struct {
	Label     string
	Fn        func(current *State) (*State, error)
	OnFail    func(err error)
	OnApplied func(old, new *State)
}

func (t *TaskFunc) Source() string { return t.Label }

func (t *TaskFunc) Execute(current *State) (*State, error) { return t.Fn(current) }

func (t *TaskFunc) OnFailure(err error) {
	if t.OnFail != nil {
		t.OnFail(err)
	}
}

func (t *TaskFunc) Processed(old, new *State) {
	if t.OnApplied != nil {
		t.OnApplied(old, new)
	}
}

// Applier is notified every time a new State is committed, regardless of
// which task produced it. The reactive updater (C7) and the listener
// registry (C8) both register as appliers rather than polling.
type Applier interface {
	OnNewClusterState(old, new *State)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(old, new *State)

func (f ApplierFunc) OnNewClusterState(old, new *State) { f(old, new) }

// now exists so task implementations don't each import "time" just to
// stamp StartTimeMillis; kept here since tasks.go is the natural home
// for cross-cutting helpers used when building update closures.
func now() int64 {
	return time.Now().UnixMilli()
}
