package snapshot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenerRegistryNotifySnapshotDeliversToAllAndClears(t *testing.T) {
	r := NewListenerRegistry()
	var calls []error
	r.AddSnapshotListener("uuid-1", func(err error) { calls = append(calls, err) })
	r.AddSnapshotListener("uuid-1", func(err error) { calls = append(calls, err) })

	r.NotifySnapshot("uuid-1", nil)

	assert.Len(t, calls, 2)
	// a one-shot registry: a second notify for the same uuid reaches nobody.
	r.NotifySnapshot("uuid-1", errors.New("late"))
	assert.Len(t, calls, 2)
}

func TestListenerRegistrySnapshotListenersAreIsolatedByUUID(t *testing.T) {
	r := NewListenerRegistry()
	var gotA, gotB bool
	r.AddSnapshotListener("uuid-a", func(err error) { gotA = true })
	r.AddSnapshotListener("uuid-b", func(err error) { gotB = true })

	r.NotifySnapshot("uuid-a", nil)

	assert.True(t, gotA)
	assert.False(t, gotB)
}

func TestListenerRegistryNotifyDeletionDeliversToAllAndClears(t *testing.T) {
	r := NewListenerRegistry()
	var calls int
	r.AddDeletionListener("backups", func(err error) { calls++ })

	r.NotifyDeletion("backups", nil)
	r.NotifyDeletion("backups", nil)

	assert.Equal(t, 1, calls)
}

func TestListenerRegistryFailAllNotifiesAndClearsEverything(t *testing.T) {
	r := NewListenerRegistry()
	wantErr := errors.New("lost cluster manager status")
	var snapErr, delErr error
	r.AddSnapshotListener("uuid-1", func(err error) { snapErr = err })
	r.AddDeletionListener("backups", func(err error) { delErr = err })

	r.FailAll(wantErr)

	assert.ErrorIs(t, snapErr, wantErr)
	assert.ErrorIs(t, delErr, wantErr)

	// registry is empty now, a late notify reaches nobody: both
	// listeners still hold the error FailAll gave them.
	r.NotifySnapshot("uuid-1", nil)
	r.NotifyDeletion("backups", nil)
	assert.ErrorIs(t, snapErr, wantErr)
	assert.ErrorIs(t, delErr, wantErr)
}
