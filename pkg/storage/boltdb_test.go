package storage

import (
	"testing"

	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWorkerCRUD(t *testing.T) {
	store := newTestStore(t)

	w := &types.Worker{ID: "w-1", Status: types.WorkerIdle, BatteryPercent: 75}
	require.NoError(t, store.CreateWorker(w))

	got, err := store.GetWorker("w-1")
	require.NoError(t, err)
	require.Equal(t, 75.0, got.BatteryPercent)

	got.BatteryPercent = 50
	require.NoError(t, store.UpdateWorker(got))

	got2, err := store.GetWorker("w-1")
	require.NoError(t, err)
	require.Equal(t, 50.0, got2.BatteryPercent)

	require.NoError(t, store.DeleteWorker("w-1"))
	_, err = store.GetWorker("w-1")
	require.Error(t, err)
}

func TestGetWorkerNotFoundReturnsError(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetWorker("missing")
	require.Error(t, err)
	require.Nil(t, got)
}

func TestListWorkers(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w-1"}))
	require.NoError(t, store.CreateWorker(&types.Worker{ID: "w-2"}))

	workers, err := store.ListWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 2)
}

func TestMissionCRUDAndFilters(t *testing.T) {
	store := newTestStore(t)

	m1 := &types.Mission{ID: "m-1", State: types.MissionPending, AssignedWorkers: []string{"w-1"}}
	m2 := &types.Mission{ID: "m-2", State: types.MissionRunning, AssignedWorkers: []string{"w-2"}}
	require.NoError(t, store.CreateMission(m1))
	require.NoError(t, store.CreateMission(m2))

	got, err := store.GetMission("m-1")
	require.NoError(t, err)
	require.Equal(t, types.MissionPending, got.State)

	pending, err := store.ListMissionsByState(types.MissionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "m-1", pending[0].ID)

	byWorker, err := store.ListMissionsByWorker("w-2")
	require.NoError(t, err)
	require.Len(t, byWorker, 1)
	require.Equal(t, "m-2", byWorker[0].ID)

	require.NoError(t, store.DeleteMission("m-1"))
	_, err = store.GetMission("m-1")
	require.Error(t, err)
}
