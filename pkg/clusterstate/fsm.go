package clusterstate

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// Command is the Raft log entry envelope. Op is always "apply_state" for
// this FSM: unlike the node/service CRUD commands a container-orchestrator
// FSM dispatches on, the snapshot engine's state transitions are computed
// client-side by an UpdateTask and the FSM only needs to durably record
// and broadcast the resulting document.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const opApplyState = "apply_state"

// FSM implements raft.FSM over a single replicated State document.
type FSM struct {
	mu      sync.RWMutex
	current *State

	// onApply is invoked synchronously, under the log-apply goroutine,
	// whenever Apply durably replaces current. It must not block.
	onApply func(old, new *State)
}

// NewFSM creates an FSM seeded with an empty document.
func NewFSM() *FSM {
	return &FSM{current: NewState()}
}

// SetApplyCallback wires the function invoked after every successful
// Apply. Only the owning Bus should call this, during construction.
func (f *FSM) SetApplyCallback(cb func(old, new *State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onApply = cb
}

// Current returns the latest committed state. Callers must treat the
// returned value as read-only.
func (f *FSM) Current() *State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Apply decodes a Command and installs its State as current.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}
	if cmd.Op != opApplyState {
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}

	var next State
	if err := json.Unmarshal(cmd.Data, &next); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	f.mu.Lock()
	old := f.current
	f.current = &next
	cb := f.onApply
	f.mu.Unlock()

	if cb != nil {
		cb(old, &next)
	}
	return nil
}

// Snapshot captures the current document for Raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &fsmSnapshot{state: f.current}, nil
}

// Restore replaces current with the document decoded from rc, used on
// startup and when a follower falls too far behind the leader's log.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var s State
	if err := json.NewDecoder(rc).Decode(&s); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	f.mu.Lock()
	f.current = &s
	f.mu.Unlock()
	return nil
}

type fsmSnapshot struct {
	state *State
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.state); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}

// encodeCommand marshals a State transition into the Command envelope
// the FSM expects to find in the Raft log.
func encodeCommand(next *State) ([]byte, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return json.Marshal(Command{Op: opApplyState, Data: data})
}
