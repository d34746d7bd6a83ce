package raftnode

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/storage"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/hashicorp/raft"
)

// FSM implements the Raft finite state machine for fleetcore's cluster
// state: worker registry and mission lifecycle. Every mutation of
// Worker/Mission state reaches this type only through a committed
// Raft log entry.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a new FSM instance backed by store.
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command is a tagged-union operation carried in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Op names applied by the FSM.
const (
	OpCreateWorker     = "create_worker"
	OpUpdateWorker     = "update_worker"
	OpDeleteWorker     = "delete_worker"
	OpCreateMission    = "create_mission"
	OpUpdateMission    = "update_mission"
	OpDeleteMission    = "delete_mission"
	OpAssignMission    = "assign_mission"
	OpTransitionState  = "transition_mission_state"
	OpReportProgress   = "report_mission_progress"
)

// missionTransition is the payload for OpTransitionState: a narrower
// command than a full mission overwrite, used by the scheduler's
// monitor/retry phases to avoid clobbering concurrent field updates.
type missionTransition struct {
	ID       string             `json:"id"`
	State    types.MissionState `json:"state"`
	Progress float64            `json:"progress"`
}

// missionProgress is the payload for OpReportProgress. CompletedAt is
// stamped by the caller before the command is appended to the Raft
// log, not inside Apply, so every replica's FSM applies the identical
// value instead of each computing its own time.Now().
type missionProgress struct {
	ID          string    `json:"id"`
	Progress    float64   `json:"progress"`
	CompletedAt time.Time `json:"completed_at"`
}

// Apply applies one committed Raft log entry to the FSM.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateWorker, OpUpdateWorker:
		var worker types.Worker
		if err := json.Unmarshal(cmd.Data, &worker); err != nil {
			return err
		}
		return f.store.UpdateWorker(&worker)

	case OpDeleteWorker:
		var workerID string
		if err := json.Unmarshal(cmd.Data, &workerID); err != nil {
			return err
		}
		return f.store.DeleteWorker(workerID)

	case OpCreateMission, OpUpdateMission, OpAssignMission:
		var mission types.Mission
		if err := json.Unmarshal(cmd.Data, &mission); err != nil {
			return err
		}
		return f.applyMissionWrite(&mission)

	case OpDeleteMission:
		var missionID string
		if err := json.Unmarshal(cmd.Data, &missionID); err != nil {
			return err
		}
		return f.store.DeleteMission(missionID)

	case OpTransitionState:
		var t missionTransition
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		return f.applyTransition(t)

	case OpReportProgress:
		var p missionProgress
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.applyProgress(p)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// applyMissionWrite enforces the monotonic-version last-writer-wins
// rule: an incoming mission write with a version older than the
// currently stored one is a no-op, matching the DataSynchronizer's
// conflict rule applied locally within one replica's own log.
func (f *FSM) applyMissionWrite(incoming *types.Mission) error {
	existing, err := f.store.GetMission(incoming.ID)
	if err == nil && existing.Version > incoming.Version {
		return nil
	}
	return f.store.UpdateMission(incoming)
}

func (f *FSM) applyTransition(t missionTransition) error {
	mission, err := f.store.GetMission(t.ID)
	if err != nil {
		return err
	}
	if mission.State.IsTerminal() {
		return nil
	}
	mission.State = t.State
	mission.Progress = t.Progress
	mission.Version++
	return f.store.UpdateMission(mission)
}

// applyProgress records a worker's progress report against a mission,
// auto-transitioning ASSIGNED->RUNNING on the first report and to
// SUCCEEDED once progress reaches 1.0.
func (f *FSM) applyProgress(p missionProgress) error {
	mission, err := f.store.GetMission(p.ID)
	if err != nil {
		return err
	}
	if mission.State.IsTerminal() {
		return nil
	}

	mission.Progress = p.Progress
	switch {
	case p.Progress >= 1.0:
		mission.Progress = 1.0
		mission.State = types.MissionSucceeded
		mission.CompletedAt = p.CompletedAt
	case mission.State == types.MissionAssigned:
		mission.State = types.MissionRunning
	}
	mission.Version++
	return f.store.UpdateMission(mission)
}

// Snapshot captures a point-in-time copy of all FSM state.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	workers, err := f.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	missions, err := f.store.ListMissions()
	if err != nil {
		return nil, fmt.Errorf("failed to list missions: %w", err)
	}

	return &Snapshot{Workers: workers, Missions: missions}, nil
}

// Restore replaces all FSM state from a previously persisted snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, worker := range snap.Workers {
		if err := f.store.UpdateWorker(worker); err != nil {
			return fmt.Errorf("failed to restore worker: %w", err)
		}
	}
	for _, mission := range snap.Missions {
		if err := f.store.UpdateMission(mission); err != nil {
			return fmt.Errorf("failed to restore mission: %w", err)
		}
	}
	return nil
}

// Snapshot is the JSON-encoded, point-in-time copy of FSM state persisted
// by Raft's log-compaction path.
type Snapshot struct {
	Workers  []*types.Worker
	Missions []*types.Mission
}

// Persist writes the snapshot to the given sink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no external resources.
func (s *Snapshot) Release() {}
