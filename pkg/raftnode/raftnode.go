// Package raftnode wraps hashicorp/raft into the replicated consensus
// layer described for the control plane: one Raft group per cluster,
// one FSM applying committed Worker/Mission commands to a local store.
package raftnode

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/storage"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Node is one replica of the consensus layer.
type Node struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft        *raft.Raft
	fsm         *FSM
	store       storage.Store
	eventBroker *events.Broker
}

// New creates a Node backed by store; callers must call Bootstrap or
// Start before the raft group becomes usable.
func New(cfg config.Config, store storage.Store, broker *events.Broker) *Node {
	return &Node{
		nodeID:      cfg.NodeID,
		bindAddr:    cfg.BindEndpoint,
		dataDir:     cfg.DataDir,
		fsm:         NewFSM(store),
		store:       store,
		eventBroker: broker,
	}
}

func (n *Node) raftConfig(cfg config.Config) *raft.Config {
	c := raft.DefaultConfig()
	c.LocalID = raft.ServerID(n.nodeID)
	c.HeartbeatTimeout = cfg.HeartbeatTimeout
	c.ElectionTimeout = cfg.ElectionTimeout
	c.CommitTimeout = cfg.CommitTimeout
	c.LeaderLeaseTimeout = cfg.LeaderLeaseTimeout
	c.SnapshotThreshold = cfg.SnapshotThreshold
	c.SnapshotInterval = cfg.SnapshotInterval
	return c
}

func (n *Node) newRaft(cfg config.Config) (*raft.Raft, *raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", n.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(n.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(n.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(n.raftConfig(cfg), n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create raft: %w", err)
	}

	return r, transport, nil
}

// Bootstrap initializes a brand-new single-node Raft cluster.
func (n *Node) Bootstrap(cfg config.Config) error {
	r, transport, err := n.newRaft(cfg)
	if err != nil {
		return err
	}
	n.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(n.nodeID), Address: transport.LocalAddr()},
		},
	}

	future := n.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	return nil
}

// Start brings up the local Raft instance without bootstrapping a new
// configuration, for a node that will be added as a voter by an
// existing leader (see control.Plane.Join).
func (n *Node) Start(cfg config.Config) error {
	r, _, err := n.newRaft(cfg)
	if err != nil {
		return err
	}
	n.raft = r
	return nil
}

// AddVoter adds a new replica to the cluster. Must be called on the leader.
func (n *Node) AddVoter(nodeID, address string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return &ferrors.NotLeaderError{Hint: n.LeaderAddr()}
	}

	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// RemoveServer removes a replica from the cluster. Must be called on the leader.
func (n *Node) RemoveServer(nodeID string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return &ferrors.NotLeaderError{Hint: n.LeaderAddr()}
	}

	future := n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// GetClusterServers lists the current Raft configuration.
func (n *Node) GetClusterServers() ([]raft.Server, error) {
	if n.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this replica currently holds Raft leadership.
func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader, if known.
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	return string(n.raft.Leader())
}

// GetRaftStats returns a snapshot of internal Raft counters for the
// metrics collector.
func (n *Node) GetRaftStats() map[string]interface{} {
	if n.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":         n.raft.State().String(),
		"last_log_index": n.raft.LastIndex(),
		"applied_index":  n.raft.AppliedIndex(),
		"leader":         string(n.raft.Leader()),
	}

	if f := n.raft.GetConfiguration(); f.Error() == nil {
		stats["peers"] = uint64(len(f.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// Apply submits a command to the Raft log and waits for it to commit.
func (n *Node) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return &ferrors.NotLeaderError{Hint: n.LeaderAddr()}
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := n.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// --- Worker commands ---

func (n *Node) CreateWorker(worker *types.Worker) error {
	return n.applyJSON(OpCreateWorker, worker)
}

func (n *Node) UpdateWorker(worker *types.Worker) error {
	return n.applyJSON(OpUpdateWorker, worker)
}

func (n *Node) DeleteWorker(id string) error {
	return n.applyJSON(OpDeleteWorker, id)
}

// --- Mission commands ---

func (n *Node) CreateMission(mission *types.Mission) error {
	return n.applyJSON(OpCreateMission, mission)
}

func (n *Node) UpdateMission(mission *types.Mission) error {
	return n.applyJSON(OpUpdateMission, mission)
}

func (n *Node) AssignMission(mission *types.Mission) error {
	return n.applyJSON(OpAssignMission, mission)
}

func (n *Node) DeleteMission(id string) error {
	return n.applyJSON(OpDeleteMission, id)
}

// TransitionMission advances a mission's lifecycle state without
// requiring the caller to read-modify-write the whole record.
func (n *Node) TransitionMission(id string, state types.MissionState, progress float64) error {
	return n.applyJSON(OpTransitionState, missionTransition{ID: id, State: state, Progress: progress})
}

// ReportMissionProgress records a worker's progress on a RUNNING
// mission. The FSM transitions the mission to SUCCEEDED once progress
// reaches 1.0; CompletedAt is stamped here, before the command enters
// the Raft log, so replaying it on every replica is deterministic.
func (n *Node) ReportMissionProgress(id string, progress float64) error {
	var completedAt time.Time
	if progress >= 1.0 {
		completedAt = time.Now()
	}
	return n.applyJSON(OpReportProgress, missionProgress{ID: id, Progress: progress, CompletedAt: completedAt})
}

func (n *Node) applyJSON(op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.Apply(Command{Op: op, Data: data})
}

// --- Read paths (local store, may lag behind the leader) ---

func (n *Node) GetWorker(id string) (*types.Worker, error)  { return n.store.GetWorker(id) }
func (n *Node) ListWorkers() ([]*types.Worker, error)        { return n.store.ListWorkers() }
func (n *Node) GetMission(id string) (*types.Mission, error) { return n.store.GetMission(id) }
func (n *Node) ListMissions() ([]*types.Mission, error)      { return n.store.ListMissions() }
func (n *Node) ListMissionsByState(s types.MissionState) ([]*types.Mission, error) {
	return n.store.ListMissionsByState(s)
}
func (n *Node) ListMissionsByWorker(id string) ([]*types.Mission, error) {
	return n.store.ListMissionsByWorker(id)
}

// EventBroker returns the event broker shared with the scheduler and
// reconciler, used to back subscription feeds at the edge.
func (n *Node) EventBroker() *events.Broker { return n.eventBroker }

// NodeID returns this replica's Raft server ID.
func (n *Node) NodeID() string { return n.nodeID }

// Shutdown gracefully stops Raft and closes the store.
func (n *Node) Shutdown() error {
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	return nil
}
