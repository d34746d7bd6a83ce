package storage

import (
	"github.com/fleetcore/fleetcore/pkg/types"
)

// Store defines the interface for cluster state storage. It is the
// only thing the FSM and read paths touch; all mutation goes through
// Raft first.
type Store interface {
	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(id string) error

	// Missions
	CreateMission(mission *types.Mission) error
	GetMission(id string) (*types.Mission, error)
	ListMissions() ([]*types.Mission, error)
	ListMissionsByState(state types.MissionState) ([]*types.Mission, error)
	ListMissionsByWorker(workerID string) ([]*types.Mission, error)
	UpdateMission(mission *types.Mission) error
	DeleteMission(id string) error

	// Utility
	Close() error
}
