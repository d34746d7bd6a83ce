package reconcile

import (
	"net"
	"testing"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/mission"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/retry"
	"github.com/fleetcore/fleetcore/pkg/storage"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func newTestReconciler(t *testing.T) (*Reconciler, *raftnode.Node) {
	t.Helper()
	return newTestReconcilerWithRetries(t, retry.NewPolicy(config.DefaultConfig().RetryDefaults))
}

func newTestReconcilerWithRetries(t *testing.T, retries *retry.Policy) (*Reconciler, *raftnode.Node) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NodeID = "node-1"
	cfg.BindEndpoint = freePort(t)
	cfg.DataDir = t.TempDir()

	store, err := storage.NewBoltStore(cfg.DataDir)
	require.NoError(t, err)

	node := raftnode.New(cfg, store, events.NewBroker())
	require.NoError(t, node.Bootstrap(cfg))
	require.Eventually(t, node.IsLeader, 5*time.Second, 20*time.Millisecond)

	missions := mission.NewStore(node)
	r := New(node, missions, retries, events.NewBroker(), time.Hour)
	t.Cleanup(func() { node.Shutdown() })
	return r, node
}

func TestReconcileStrandedMissionsRequeuesOnOfflineWorker(t *testing.T) {
	r, node := newTestReconciler(t)

	require.NoError(t, node.CreateWorker(&types.Worker{ID: "w-1", Status: types.WorkerOffline}))
	require.NoError(t, node.CreateMission(&types.Mission{
		ID:              "m-1",
		Kind:            types.MissionSingleWorker,
		State:           types.MissionRunning,
		AssignedWorkers: []string{"w-1"},
		Version:         1,
	}))

	r.reconcileStrandedMissions()

	got, err := node.GetMission("m-1")
	require.NoError(t, err)
	require.Equal(t, types.MissionPending, got.State)
	require.Nil(t, got.AssignedWorkers)
	require.Equal(t, uint64(2), got.Version)
}

func TestReconcileStrandedMissionsIgnoresLiveWorkers(t *testing.T) {
	r, node := newTestReconciler(t)

	require.NoError(t, node.CreateWorker(&types.Worker{ID: "w-2", Status: types.WorkerBusy}))
	require.NoError(t, node.CreateMission(&types.Mission{
		ID:              "m-2",
		Kind:            types.MissionSingleWorker,
		State:           types.MissionRunning,
		AssignedWorkers: []string{"w-2"},
		Version:         1,
	}))

	r.reconcileStrandedMissions()

	got, err := node.GetMission("m-2")
	require.NoError(t, err)
	require.Equal(t, types.MissionRunning, got.State)
	require.Equal(t, uint64(1), got.Version)
}

func TestReconcileStrandedMissionsIncrementsRetryAttempts(t *testing.T) {
	r, node := newTestReconciler(t)

	require.NoError(t, node.CreateWorker(&types.Worker{ID: "w-5", Status: types.WorkerOffline}))
	require.NoError(t, node.CreateMission(&types.Mission{
		ID:              "m-5",
		Kind:            types.MissionSingleWorker,
		State:           types.MissionRunning,
		AssignedWorkers: []string{"w-5"},
		Version:         1,
	}))

	r.reconcileStrandedMissions()

	got, err := node.GetMission("m-5")
	require.NoError(t, err)
	require.Equal(t, types.MissionPending, got.State)
	require.Equal(t, 1, got.Retry.Attempts)
	require.False(t, got.Retry.NextEligibleAt.IsZero())
}

func TestReconcileStrandedMissionsFailsAfterRetryBudgetExhausted(t *testing.T) {
	retries := retry.NewPolicy(map[string]config.RetryDefaults{
		string(types.ErrNetwork): {Retriable: true, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 1},
	})
	r, node := newTestReconcilerWithRetries(t, retries)

	require.NoError(t, node.CreateWorker(&types.Worker{ID: "w-6", Status: types.WorkerOffline}))
	require.NoError(t, node.CreateMission(&types.Mission{
		ID:              "m-6",
		Kind:            types.MissionSingleWorker,
		State:           types.MissionRunning,
		AssignedWorkers: []string{"w-6"},
		Version:         1,
	}))

	r.reconcileStrandedMissions()

	got, err := node.GetMission("m-6")
	require.NoError(t, err)
	require.Equal(t, types.MissionFailed, got.State)
	require.Equal(t, 1, got.Retry.Attempts)
}

func TestReconcileStalledProgressFlagsWithoutMutating(t *testing.T) {
	r, node := newTestReconciler(t)

	require.NoError(t, node.CreateMission(&types.Mission{
		ID:       "m-3",
		Kind:     types.MissionSingleWorker,
		State:    types.MissionRunning,
		Progress: 0.5,
		Version:  1,
	}))

	r.reconcileStalledProgress()
	mark, ok := r.lastProgress["m-3"]
	require.True(t, ok)
	require.Equal(t, 0.5, mark.value)

	// force the window to have elapsed and re-check: mission state must
	// remain untouched even though it gets flagged
	r.lastProgress["m-3"] = progressMark{value: 0.5, seen: time.Now().Add(-StaleProgressWindow - time.Second)}
	r.reconcileStalledProgress()

	got, err := node.GetMission("m-3")
	require.NoError(t, err)
	require.Equal(t, types.MissionRunning, got.State)
	require.Equal(t, uint64(1), got.Version)
}

func TestReconcileStalledProgressPrunesCompletedMissions(t *testing.T) {
	r, node := newTestReconciler(t)

	require.NoError(t, node.CreateMission(&types.Mission{
		ID:       "m-4",
		Kind:     types.MissionSingleWorker,
		State:    types.MissionRunning,
		Progress: 0.2,
		Version:  1,
	}))
	r.reconcileStalledProgress()
	require.Contains(t, r.lastProgress, "m-4")

	require.NoError(t, node.TransitionMission("m-4", types.MissionSucceeded, 1.0))
	r.reconcileStalledProgress()
	require.NotContains(t, r.lastProgress, "m-4")
}
