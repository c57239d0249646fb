package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/types"
)

func newStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTaskRoundTrip(t *testing.T) {
	store := newStore(t)
	task := &types.Task{
		ID:     "t1",
		Result: types.Result{Class: "Result", Code: 202, Status: types.StatusRunning},
		Declaration: types.Declaration{
			"Common": map[string]any{"class": "Tenant"},
		},
		CurrentConfig: types.Config{"Common": {"hostname": "bigip1"}},
		LastUpdate:    time.Now().UTC(),
	}
	require.NoError(t, store.SaveTask(task))

	got, err := store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, task.Result, got.Result)
	assert.Equal(t, "bigip1", got.CurrentConfig.Common()["hostname"])
	assert.True(t, task.LastUpdate.Equal(got.LastUpdate))

	task.Result.Status = types.StatusOK
	require.NoError(t, store.SaveTask(task))
	got, err = store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOK, got.Result.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.GetTask("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasksOrderedByUpdate(t *testing.T) {
	store := newStore(t)
	now := time.Now()
	require.NoError(t, store.SaveTask(&types.Task{ID: "b", LastUpdate: now}))
	require.NoError(t, store.SaveTask(&types.Task{ID: "a", LastUpdate: now.Add(time.Second)}))
	require.NoError(t, store.SaveTask(&types.Task{ID: "c", LastUpdate: now.Add(-time.Second)}))

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	require.NoError(t, store.DeleteTask("b"))
	tasks, err = store.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestMostRecentTaskSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)

	id, err := store.MostRecentTask()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.SetMostRecentTask("t2"))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()
	id, err = store.MostRecentTask()
	require.NoError(t, err)
	assert.Equal(t, "t2", id)
}
