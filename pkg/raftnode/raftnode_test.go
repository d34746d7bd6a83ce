package raftnode

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/storage"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/stretchr/testify/require"
)

// freePort finds an available loopback TCP port; hashicorp/raft's TCP
// transport needs a concrete bind address up front, not ":0".
func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func bootstrapSingleNode(t *testing.T) *Node {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.NodeID = "node-1"
	cfg.BindEndpoint = freePort(t)
	cfg.DataDir = t.TempDir()

	store, err := storage.NewBoltStore(cfg.DataDir)
	require.NoError(t, err)

	broker := events.NewBroker()
	node := New(cfg, store, broker)
	require.NoError(t, node.Bootstrap(cfg))

	require.Eventually(t, node.IsLeader, 5*time.Second, 20*time.Millisecond, "node never became leader")
	return node
}

func TestBootstrapBecomesLeader(t *testing.T) {
	node := bootstrapSingleNode(t)
	defer node.Shutdown()

	assert := require.New(t)
	assert.True(node.IsLeader())

	servers, err := node.GetClusterServers()
	assert.NoError(err)
	assert.Len(servers, 1)
}

func TestCreateAndGetWorker(t *testing.T) {
	node := bootstrapSingleNode(t)
	defer node.Shutdown()

	w := &types.Worker{ID: "w-1", Status: types.WorkerIdle, BatteryPercent: 80}
	require.NoError(t, node.CreateWorker(w))

	got, err := node.GetWorker("w-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, types.WorkerIdle, got.Status)
	require.Equal(t, 80.0, got.BatteryPercent)
}

func TestMissionLifecycleTransitions(t *testing.T) {
	node := bootstrapSingleNode(t)
	defer node.Shutdown()

	m := &types.Mission{ID: "m-1", Kind: types.MissionSingleWorker, State: types.MissionPending, Version: 1}
	require.NoError(t, node.CreateMission(m))

	require.NoError(t, node.TransitionMission("m-1", types.MissionRunning, 0.5))

	got, err := node.GetMission("m-1")
	require.NoError(t, err)
	require.Equal(t, types.MissionRunning, got.State)
	require.Equal(t, 0.5, got.Progress)
	require.Equal(t, uint64(2), got.Version)
}

func TestTransitionMissionNoopsAfterTerminal(t *testing.T) {
	node := bootstrapSingleNode(t)
	defer node.Shutdown()

	m := &types.Mission{ID: "m-2", Kind: types.MissionSingleWorker, State: types.MissionSucceeded, Version: 3}
	require.NoError(t, node.CreateMission(m))

	require.NoError(t, node.TransitionMission("m-2", types.MissionRunning, 0.9))

	got, err := node.GetMission("m-2")
	require.NoError(t, err)
	require.Equal(t, types.MissionSucceeded, got.State)
	require.Equal(t, uint64(3), got.Version)
}

func TestApplyBeforeRaftStartIsRejected(t *testing.T) {
	node := &Node{nodeID: "follower", fsm: NewFSM(nil)}
	err := node.Apply(Command{Op: OpCreateWorker})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetRaftStatsReportsPeers(t *testing.T) {
	node := bootstrapSingleNode(t)
	defer node.Shutdown()

	stats := node.GetRaftStats()
	require.Equal(t, uint64(1), stats["peers"])
	require.Equal(t, "Leader", fmt.Sprintf("%v", stats["state"]))
}
