package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWorkerID(t *testing.T) {
	id, err := ParseWorkerID("acme:files")
	require.NoError(t, err)
	require.Equal(t, "acme", id.TenantID)
	require.Equal(t, "files", id.Worker)
	require.Equal(t, "acme:files", id.String())
	require.Equal(t, "files", id.ShortName())

	for _, raw := range []string{"", "acme", ":files", "acme:"} {
		_, err := ParseWorkerID(raw)
		require.ErrorIs(t, err, ErrInvalidWorkerID, "input %q", raw)
	}
}

func TestLifecycleTransitionTable(t *testing.T) {
	allowed := []struct {
		from, to WorkerState
	}{
		{StateStopped, StateStarting},
		{StateStarting, StateRunning},
		{StateStarting, StateCrashed},
		{StateRunning, StateStopping},
		{StateRunning, StateCrashed},
		{StateStopping, StateStopped},
		{StateStopping, StateCrashed},
		{StateCrashed, StateStarting},
	}
	for _, edge := range allowed {
		require.True(t, CanTransition(edge.from, edge.to), "%s -> %s", edge.from, edge.to)
	}

	forbidden := []struct {
		from, to WorkerState
	}{
		{StateStopped, StateRunning},
		{StateStopped, StateStopping},
		{StateRunning, StateStarting},
		{StateRunning, StateRunning},
		{StateCrashed, StateStopped},
		{StateCrashed, StateStopping},
		{StateStarting, StateStopped},
	}
	for _, edge := range forbidden {
		require.False(t, CanTransition(edge.from, edge.to), "%s -> %s", edge.from, edge.to)
	}
}

func TestManagedWorkerTransitionRejectsIllegalEdges(t *testing.T) {
	w := NewManagedWorker(MakeWorkerID("acme", "files"), WorkerSpec{Name: "files"})
	require.Equal(t, StateStopped, w.State())

	err := w.Transition(StateRunning)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.Equal(t, StateStopped, w.State())

	require.NoError(t, w.Transition(StateStarting))
	require.NoError(t, w.Transition(StateRunning))
	require.Equal(t, StateRunning, w.State())
}

func TestLiveHandleOnlyWhileRunning(t *testing.T) {
	w := NewManagedWorker(MakeWorkerID("acme", "files"), WorkerSpec{Name: "files"})

	_, ok := w.LiveHandle()
	require.False(t, ok)

	require.NoError(t, w.Transition(StateStarting))
	require.NoError(t, w.Transition(StateRunning))
	_, ok = w.LiveHandle()
	// running but no handle attached yet
	require.False(t, ok)
}

func TestIsIdle(t *testing.T) {
	require.True(t, StateStopped.IsIdle())
	require.True(t, StateCrashed.IsIdle())
	require.False(t, StateStarting.IsIdle())
	require.False(t, StateRunning.IsIdle())
	require.False(t, StateStopping.IsIdle())
}
