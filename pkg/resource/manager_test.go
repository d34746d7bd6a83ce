package resource

import (
	"net"
	"testing"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
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

func newTestManager(t *testing.T, offlineThreshold time.Duration) (*Manager, *raftnode.Node) {
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

	m := New(node, events.NewBroker(), offlineThreshold, time.Hour)
	t.Cleanup(func() { node.Shutdown() })
	return m, node
}

func TestRegisterDefaultsStatusAndHeartbeat(t *testing.T) {
	m, node := newTestManager(t, time.Minute)

	require.NoError(t, m.Register(&types.Worker{ID: "w-1"}))

	got, err := node.GetWorker("w-1")
	require.NoError(t, err)
	require.Equal(t, types.WorkerIdle, got.Status)
	require.False(t, got.LastHeartbeat.IsZero())
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	require.Error(t, m.Register(&types.Worker{}))
}

func TestHeartbeatRecoversOfflineWorker(t *testing.T) {
	m, node := newTestManager(t, time.Minute)
	require.NoError(t, m.Register(&types.Worker{ID: "w-2"}))
	require.NoError(t, m.SetStatus("w-2", types.WorkerOffline))

	require.NoError(t, m.Heartbeat("w-2", 60, &types.Position{Lat: 1, Lon: 2}, 0))

	got, err := node.GetWorker("w-2")
	require.NoError(t, err)
	require.Equal(t, types.WorkerIdle, got.Status)
	require.Equal(t, 60.0, got.BatteryPercent)
	require.Equal(t, 1.0, got.Position.Lat)
}

func TestHeartbeatUnknownWorkerReturnsNotFound(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	err := m.Heartbeat("ghost", 50, nil, 0)
	require.Error(t, err)
}

func TestHeartbeatDiscardsOutOfOrderSample(t *testing.T) {
	m, node := newTestManager(t, time.Minute)
	require.NoError(t, m.Register(&types.Worker{ID: "w-4"}))

	require.NoError(t, m.Heartbeat("w-4", 80, &types.Position{Lat: 5, Lon: 5}, 1000))
	require.NoError(t, m.Heartbeat("w-4", 10, &types.Position{Lat: 0, Lon: 0}, 500))

	got, err := node.GetWorker("w-4")
	require.NoError(t, err)
	require.Equal(t, 80.0, got.BatteryPercent, "stale sample must not regress battery")
	require.Equal(t, 5.0, got.Position.Lat, "stale sample must not regress position")
	require.Equal(t, int64(1000), got.LastTelemetryNs)
}

func TestAvailableFiltersByStatus(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	require.NoError(t, m.Register(&types.Worker{ID: "w-idle", Status: types.WorkerIdle}))
	require.NoError(t, m.Register(&types.Worker{ID: "w-busy", Status: types.WorkerBusy}))
	require.NoError(t, m.SetStatus("w-busy", types.WorkerBusy))

	available, err := m.Available()
	require.NoError(t, err)
	require.Len(t, available, 1)
	require.Equal(t, "w-idle", available[0].ID)
}

func TestSweepMarksStaleWorkersOffline(t *testing.T) {
	m, node := newTestManager(t, 10*time.Millisecond)
	require.NoError(t, m.Register(&types.Worker{ID: "w-3", Status: types.WorkerIdle}))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, m.sweep())

	got, err := node.GetWorker("w-3")
	require.NoError(t, err)
	require.Equal(t, types.WorkerOffline, got.Status)
}
