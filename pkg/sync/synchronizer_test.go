package sync

import (
	"net"
	"testing"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/storage"
	"github.com/fleetcore/fleetcore/pkg/transport"
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

func newTestSynchronizer(t *testing.T) (*Synchronizer, *raftnode.Node) {
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

	rpc := transport.NewHTTPTransport(time.Second, 1, time.Millisecond, time.Millisecond)
	s := New(cfg, node, rpc)
	t.Cleanup(func() { node.Shutdown() })
	return s, node
}

func TestApplyOneAdmitsNewerRemoteMission(t *testing.T) {
	s, node := newTestSynchronizer(t)

	require.NoError(t, node.CreateMission(&types.Mission{ID: "m-1", Kind: types.MissionSingleWorker, Version: 1}))

	incoming := types.Mission{ID: "m-1", Kind: types.MissionSingleWorker, Version: 5, Progress: 0.75}
	s.applyOne(record{Mission: incoming})

	got, err := node.GetMission("m-1")
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Version)
	require.Equal(t, 0.75, got.Progress)
}

func TestApplyOneDropsStaleRemoteMission(t *testing.T) {
	s, node := newTestSynchronizer(t)

	require.NoError(t, node.CreateMission(&types.Mission{ID: "m-2", Kind: types.MissionSingleWorker, Version: 10, Progress: 0.9}))

	incoming := types.Mission{ID: "m-2", Kind: types.MissionSingleWorker, Version: 3, Progress: 0.1}
	s.applyOne(record{Mission: incoming})

	got, err := node.GetMission("m-2")
	require.NoError(t, err)
	require.Equal(t, uint64(10), got.Version)
	require.Equal(t, 0.9, got.Progress)
}

func TestApplyOneBreaksEqualVersionTieByTimestamp(t *testing.T) {
	s, node := newTestSynchronizer(t)

	older := time.Now().Add(-time.Minute)
	newer := time.Now()

	require.NoError(t, node.CreateMission(&types.Mission{ID: "m-6", Kind: types.MissionSingleWorker, Version: 5, Progress: 0.4, UpdatedAt: older}))

	incoming := types.Mission{ID: "m-6", Kind: types.MissionSingleWorker, Version: 5, Progress: 0.8, UpdatedAt: newer}
	s.applyOne(record{Mission: incoming})

	got, err := node.GetMission("m-6")
	require.NoError(t, err)
	require.Equal(t, 0.8, got.Progress, "equal version with a later timestamp must still apply")
}

func TestApplyOneDropsEqualVersionOlderTimestamp(t *testing.T) {
	s, node := newTestSynchronizer(t)

	older := time.Now().Add(-time.Minute)
	newer := time.Now()

	require.NoError(t, node.CreateMission(&types.Mission{ID: "m-7", Kind: types.MissionSingleWorker, Version: 5, Progress: 0.4, UpdatedAt: newer}))

	incoming := types.Mission{ID: "m-7", Kind: types.MissionSingleWorker, Version: 5, Progress: 0.9, UpdatedAt: older}
	s.applyOne(record{Mission: incoming})

	got, err := node.GetMission("m-7")
	require.NoError(t, err)
	require.Equal(t, 0.4, got.Progress, "equal version with an older timestamp must be dropped")
}

func TestApplyOneAdmitsRecordWithNoLocalCopy(t *testing.T) {
	s, node := newTestSynchronizer(t)

	incoming := types.Mission{ID: "m-3", Kind: types.MissionSingleWorker, Version: 1}
	s.applyOne(record{Mission: incoming})

	got, err := node.GetMission("m-3")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Version)
}

func TestSnapshotReturnsAllMissions(t *testing.T) {
	s, node := newTestSynchronizer(t)

	require.NoError(t, node.CreateMission(&types.Mission{ID: "m-4", Kind: types.MissionSingleWorker, Version: 1}))
	require.NoError(t, node.CreateMission(&types.Mission{ID: "m-5", Kind: types.MissionSingleWorker, Version: 1}))

	missions, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, missions, 2)
}
