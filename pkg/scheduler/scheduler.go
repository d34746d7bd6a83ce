// Package scheduler runs the admit->assign->dispatch->monitor->retry
// cycle that turns queued missions into worker assignments.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/assign"
	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/downlink"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/mission"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/resource"
	"github.com/fleetcore/fleetcore/pkg/retry"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler assigns queued missions to workers and dispatches them over
// the downlink bridge.
type Scheduler struct {
	node      *raftnode.Node
	missions  *mission.Store
	resources *resource.Manager
	assigner  *assign.Assigner
	bridge    downlink.Bridge
	retries   *retry.Policy

	tick   time.Duration
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// New wires a Scheduler from its component dependencies.
func New(cfg config.Config, node *raftnode.Node, missions *mission.Store, resources *resource.Manager, bridge downlink.Bridge, retries *retry.Policy) *Scheduler {
	return &Scheduler{
		node:      node,
		missions:  missions,
		resources: resources,
		assigner:  assign.New(cfg),
		bridge:    bridge,
		retries:   retries,
		tick:      cfg.SchedulerTick,
		logger:    log.WithComponent("scheduler"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// DispatchNow runs one admission/dispatch cycle immediately instead of
// waiting for the next tick, for the edge API's explicit dispatch
// operation. A no-op on a non-leader replica.
func (s *Scheduler) DispatchNow() {
	if !s.node.IsLeader() {
		return
	}
	s.scheduleOne()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.node.IsLeader() {
				continue
			}
			s.scheduleOne()
		case <-s.stopCh:
			return
		}
	}
}

// scheduleOne admits and dispatches a single mission per tick, keeping
// each scheduling cycle cheap and bounded.
func (s *Scheduler) scheduleOne() {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	m := s.missions.NextPending()
	if m == nil {
		return
	}

	workers, err := s.resources.Available()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list available workers")
		s.missions.Requeue(m)
		return
	}

	assignTimer := metrics.NewTimer()
	chosen, err := s.assigner.Assign(m, workers)
	assignTimer.ObserveDuration(metrics.AssignDuration)
	if err != nil {
		metrics.NoFeasibleAssignmentsTotal.Inc()
		s.logger.Debug().Str("mission_id", m.ID).Err(err).Msg("no feasible assignment this tick")
		s.missions.Requeue(m)
		return
	}

	ids := make([]string, 0, len(chosen))
	for _, w := range chosen {
		ids = append(ids, w.ID)
	}
	m.AssignedWorkers = ids
	m.State = types.MissionAssigned
	m.UpdatedAt = time.Now()
	m.Version++

	if err := s.node.AssignMission(m); err != nil {
		s.logger.Error().Err(err).Str("mission_id", m.ID).Msg("failed to commit assignment")
		s.missions.Requeue(m)
		return
	}

	metrics.MissionsScheduled.Inc()
	s.dispatch(m, chosen)
}

func (s *Scheduler) dispatch(m *types.Mission, workers []*types.Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var subRegions [][]types.Waypoint
	if m.Kind != types.MissionSingleWorker {
		subRegions = assign.SplitArea(m.Payload.Area, len(workers))
	}

	dispatched := 0
	for i, w := range workers {
		msg := types.MissionMessage{
			WorkerID:  w.ID,
			MissionID: m.ID,
			Task:      m.Payload.Task,
			Params:    m.Payload.Params,
		}
		if i < len(subRegions) {
			msg.SubRegion = subRegions[i]
		}

		if err := s.bridge.SendMission(ctx, msg); err != nil {
			s.handleDispatchFailure(m, w, err)
			continue
		}

		if err := s.resources.SetStatus(w.ID, types.WorkerBusy); err != nil {
			s.logger.Warn().Err(err).Str("worker_id", w.ID).Msg("failed to mark worker busy")
		}
		dispatched++
		s.logger.Info().Str("mission_id", m.ID).Str("worker_id", w.ID).Msg("mission dispatched")
	}

	if dispatched == 0 {
		// every worker failed to receive the mission; handleDispatchFailure
		// already committed the mission's FAILED/PENDING-retry state, so
		// leave it alone instead of overwriting it with RUNNING.
		return
	}

	m.State = types.MissionRunning
	m.StartedAt = time.Now()
	m.UpdatedAt = time.Now()
	m.Version++
	if err := s.node.UpdateMission(m); err != nil {
		s.logger.Error().Err(err).Str("mission_id", m.ID).Msg("failed to record mission running")
	}
}

func (s *Scheduler) handleDispatchFailure(m *types.Mission, w *types.Worker, dispatchErr error) {
	kind := types.ErrNetwork
	var backlog *ferrors.WorkerBacklogged
	if errors.As(dispatchErr, &backlog) {
		kind = types.ErrRateLimit
	}

	attempt := m.Retry.Attempts + 1
	if !s.retries.ShouldRetry(kind, attempt) {
		m.State = types.MissionFailed
		m.Retry.Attempts = attempt
		m.Retry.LastFailureKind = kind
		m.Retry.LastFailureNote = dispatchErr.Error()
		m.UpdatedAt = time.Now()
		m.Version++
		metrics.MissionsFailed.Inc()
		if err := s.node.UpdateMission(m); err != nil {
			s.logger.Error().Err(err).Str("mission_id", m.ID).Msg("failed to record mission failure")
		}
		s.resources.ReleaseWorkers(m.AssignedWorkers)
		return
	}

	m.Retry.Attempts = attempt
	m.Retry.NextEligibleAt = time.Now().Add(s.retries.NextBackoff(kind, attempt))
	m.Retry.LastFailureKind = kind
	m.Retry.LastFailureNote = dispatchErr.Error()
	m.State = types.MissionPending
	m.UpdatedAt = time.Now()
	m.Version++

	if err := s.node.UpdateMission(m); err != nil {
		s.logger.Error().Err(err).Str("mission_id", m.ID).Msg("failed to record dispatch retry")
		return
	}
	s.missions.Requeue(m)
}
