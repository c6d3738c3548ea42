package clusterstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskFuncSource(t *testing.T) {
	task := &TaskFunc{Label: "create_snapshot[daily]"}
	assert.Equal(t, "create_snapshot[daily]", task.Source())
}

func TestTaskFuncExecuteDelegatesToFn(t *testing.T) {
	want := NewState()
	task := &TaskFunc{
		Fn: func(current *State) (*State, error) {
			return want, nil
		},
	}

	got, err := task.Execute(NewState())

	assert.NoError(t, err)
	assert.Same(t, want, got)
}

func TestTaskFuncOnFailureIsOptional(t *testing.T) {
	task := &TaskFunc{}
	assert.NotPanics(t, func() { task.OnFailure(errors.New("boom")) })

	called := false
	task.OnFail = func(err error) { called = true }
	task.OnFailure(errors.New("boom"))
	assert.True(t, called)
}

func TestTaskFuncProcessedIsOptional(t *testing.T) {
	task := &TaskFunc{}
	assert.NotPanics(t, func() { task.Processed(NewState(), NewState()) })

	var seenOld, seenNew *State
	task.OnApplied = func(old, new *State) {
		seenOld, seenNew = old, new
	}
	o, n := NewState(), NewState()
	task.Processed(o, n)
	assert.Same(t, o, seenOld)
	assert.Same(t, n, seenNew)
}

func TestApplierFuncAdaptsPlainFunction(t *testing.T) {
	var calls int
	var a Applier = ApplierFunc(func(old, new *State) { calls++ })

	a.OnNewClusterState(NewState(), NewState())

	assert.Equal(t, 1, calls)
}
