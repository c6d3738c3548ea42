package clusterstate

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort grabs an ephemeral loopback port for a single-node Raft bus,
// mirroring how cmd/snapguard picks --raft-addr in tests/dev rather than
// binding a fixed port that could collide across parallel test runs.
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newBootstrappedBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(&Config{
		NodeID:   "node-1",
		BindAddr: freePort(t),
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, bus.Bootstrap())

	require.Eventually(t, bus.IsLeader, 5*time.Second, 10*time.Millisecond, "single-node cluster should elect itself leader")
	t.Cleanup(func() { _ = bus.Shutdown() })
	return bus
}

func TestBusBootstrapElectsSelfLeader(t *testing.T) {
	bus := newBootstrappedBus(t)
	assert.True(t, bus.IsLeader())
}

func TestBusSubmitUpdateCommitsAndNotifiesAppliers(t *testing.T) {
	bus := newBootstrappedBus(t)

	var observedOld, observedNew *State
	bus.AddApplier(ApplierFunc(func(old, new *State) {
		observedOld, observedNew = old, new
	}))

	task := &TaskFunc{
		Label: "register_node[data-1]",
		Fn: func(current *State) (*State, error) {
			next := current.Clone()
			next.Nodes["data-1"] = nil
			return next, nil
		},
	}

	require.NoError(t, bus.SubmitUpdate(task))

	assert.Eventually(t, func() bool {
		_, ok := bus.Current().Nodes["data-1"]
		return ok
	}, time.Second, 10*time.Millisecond)

	assert.NotNil(t, observedNew)
	assert.Equal(t, observedOld.Version+1, observedNew.Version)
}

func TestBusSubmitUpdateRunsOnFailureWhenTaskErrors(t *testing.T) {
	bus := newBootstrappedBus(t)

	wantErr := fmt.Errorf("rejected")
	var gotErr error
	task := &TaskFunc{
		Label: "always_fails",
		Fn: func(current *State) (*State, error) {
			return nil, wantErr
		},
		OnFail: func(err error) { gotErr = err },
	}

	err := bus.SubmitUpdate(task)

	assert.ErrorIs(t, err, wantErr)
	assert.ErrorIs(t, gotErr, wantErr)
}

func TestBusLeaderAddrMatchesBindAddr(t *testing.T) {
	bus := newBootstrappedBus(t)
	assert.Eventually(t, func() bool {
		return bus.LeaderAddr() == raftAddress(bus)
	}, time.Second, 10*time.Millisecond)
}

func raftAddress(bus *Bus) string {
	return bus.bindAddr
}
