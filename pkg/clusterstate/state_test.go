package clusterstate

import (
	"testing"

	"github.com/cuemby/snapguard/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestNewStateDefaults(t *testing.T) {
	s := NewState()

	assert.Equal(t, int64(0), s.Version)
	assert.NotNil(t, s.SnapshotsInProgress)
	assert.NotNil(t, s.SnapshotDeletions)
	assert.NotNil(t, s.Repositories)
	assert.NotNil(t, s.Nodes)
	assert.NotNil(t, s.Routing)
	assert.Equal(t, 1000, s.Settings.MaxConcurrentOperations)
	assert.Equal(t, DefaultSettings(), s.Settings)
}

func TestStateCloneIsIndependentMap(t *testing.T) {
	s := NewState()
	s.Nodes["node-1"] = &types.Node{ID: "node-1", Status: types.NodeStatusReady}

	clone := s.Clone()
	clone.Nodes["node-2"] = &types.Node{ID: "node-2", Status: types.NodeStatusReady}

	assert.Len(t, s.Nodes, 1, "mutating the clone's map must not affect the original")
	assert.Len(t, clone.Nodes, 2)
	assert.Same(t, s.Nodes["node-1"], clone.Nodes["node-1"], "leaf values are shared, not deep-copied")
}

func TestStateCloneCarriesVersionAndSettings(t *testing.T) {
	s := NewState()
	s.Version = 7
	s.Settings.MaxConcurrentOperations = 5

	clone := s.Clone()

	assert.Equal(t, int64(7), clone.Version)
	assert.Equal(t, 5, clone.Settings.MaxConcurrentOperations)
}

func TestRoutingKeyIsStableAcrossCalls(t *testing.T) {
	idx := types.IndexId{Name: "logs", UUID: "abc-123"}

	k1 := RoutingKey(idx, 0)
	k2 := RoutingKey(idx, 0)
	k3 := RoutingKey(idx, 1)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Equal(t, "logs/abc-123/0", k1)
}
