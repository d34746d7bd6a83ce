// Package reconcile implements the periodic drift-repair sweep: it
// notices missions left stranded on a worker that has since gone
// OFFLINE and requeues them, and flags RUNNING missions whose progress
// has stopped advancing without auto-failing them.
package reconcile

import (
	"strings"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/mission"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/retry"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/rs/zerolog"
)

// StaleProgressWindow is how long a RUNNING mission's progress may go
// unchanged before it is flagged as stalled.
const StaleProgressWindow = 2 * time.Minute

// Reconciler periodically repairs drift between worker liveness and
// mission assignment state.
type Reconciler struct {
	node     *raftnode.Node
	missions *mission.Store
	retries  *retry.Policy
	broker   *events.Broker
	interval time.Duration

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}

	lastProgress map[string]progressMark
}

type progressMark struct {
	value float64
	seen  time.Time
}

// New builds a Reconciler over node's replicated state. retries
// governs how many times a mission stranded by a lost worker is
// requeued before it is failed outright; broker receives a
// WorkerLost event for every such requeue or failure.
func New(node *raftnode.Node, missions *mission.Store, retries *retry.Policy, broker *events.Broker, interval time.Duration) *Reconciler {
	return &Reconciler{
		node:         node,
		missions:     missions,
		retries:      retries,
		broker:       broker,
		interval:     interval,
		logger:       log.WithComponent("reconciler"),
		stopCh:       make(chan struct{}),
		lastProgress: make(map[string]progressMark),
	}
}

// Start begins the reconciliation loop, run only on the Raft leader.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if !r.node.IsLeader() {
				continue
			}
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconcileStrandedMissions()
	r.reconcileStalledProgress()
}

// reconcileStrandedMissions finds ASSIGNED/RUNNING missions whose
// worker has already been marked OFFLINE and requeues them for
// reassignment, or fails them once the NetworkError retry budget is
// exhausted, outside the resource manager's own sweep window.
func (r *Reconciler) reconcileStrandedMissions() {
	workers, err := r.node.ListWorkers()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list workers")
		return
	}
	offline := make(map[string]bool)
	for _, w := range workers {
		if w.Status == types.WorkerOffline {
			offline[w.ID] = true
		}
	}
	if len(offline) == 0 {
		return
	}

	for _, state := range []types.MissionState{types.MissionAssigned, types.MissionRunning} {
		missions, err := r.node.ListMissionsByState(state)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to list missions by state")
			continue
		}

		for _, m := range missions {
			var lostWorkers []string
			for _, wid := range m.AssignedWorkers {
				if offline[wid] {
					lostWorkers = append(lostWorkers, wid)
				}
			}
			if len(lostWorkers) == 0 {
				continue
			}

			attempt := m.Retry.Attempts + 1
			m.Retry.Attempts = attempt
			m.Retry.LastFailureKind = types.ErrNetwork
			m.Retry.LastFailureNote = "assigned worker went offline"
			m.UpdatedAt = time.Now()
			m.Version++

			if !r.retries.ShouldRetry(types.ErrNetwork, attempt) {
				r.logger.Warn().
					Str("mission_id", m.ID).
					Strs("lost_workers", lostWorkers).
					Int("attempts", attempt).
					Msg("mission's worker permanently lost and retry budget exhausted, failing mission")

				m.State = types.MissionFailed
				if err := r.node.UpdateMission(m); err != nil {
					r.logger.Error().Err(err).Str("mission_id", m.ID).Msg("failed to fail stranded mission")
					continue
				}
				r.publishWorkerLost(m.ID, lostWorkers)
				metrics.ReconciliationRepairsTotal.WithLabelValues("stranded_mission_failed").Inc()
				continue
			}

			r.logger.Warn().
				Str("mission_id", m.ID).
				Strs("assigned_workers", m.AssignedWorkers).
				Int("attempts", attempt).
				Msg("mission stranded on offline worker, requeuing")

			m.State = types.MissionPending
			m.AssignedWorkers = nil
			m.Retry.NextEligibleAt = time.Now().Add(r.retries.NextBackoff(types.ErrNetwork, attempt))
			if err := r.node.UpdateMission(m); err != nil {
				r.logger.Error().Err(err).Str("mission_id", m.ID).Msg("failed to requeue stranded mission")
				continue
			}
			r.missions.Requeue(m)
			r.publishWorkerLost(m.ID, lostWorkers)
			metrics.ReconciliationRepairsTotal.WithLabelValues("stranded_mission").Inc()
		}
	}
}

func (r *Reconciler) publishWorkerLost(missionID string, workerIDs []string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type: events.EventWorkerLost,
		Metadata: map[string]string{
			"mission_id": missionID,
			"worker_ids": strings.Join(workerIDs, ","),
		},
	})
}

// reconcileStalledProgress flags (logs) RUNNING missions whose
// Progress field has not moved across StaleProgressWindow. Per the
// reconciliation design, a stalled mission is surfaced for operator
// attention, not auto-failed — only the worker's own terminal report
// or an operator cancellation ends it.
func (r *Reconciler) reconcileStalledProgress() {
	running, err := r.node.ListMissionsByState(types.MissionRunning)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list running missions")
		return
	}

	now := time.Now()
	seen := make(map[string]bool, len(running))
	for _, m := range running {
		seen[m.ID] = true
		mark, ok := r.lastProgress[m.ID]
		if !ok || mark.value != m.Progress {
			r.lastProgress[m.ID] = progressMark{value: m.Progress, seen: now}
			continue
		}
		if now.Sub(mark.seen) > StaleProgressWindow {
			r.logger.Warn().
				Str("mission_id", m.ID).
				Float64("progress", m.Progress).
				Dur("stalled_for", now.Sub(mark.seen)).
				Msg("mission progress has stalled")
			metrics.ReconciliationRepairsTotal.WithLabelValues("stalled_progress_flagged").Inc()
		}
	}

	for id := range r.lastProgress {
		if !seen[id] {
			delete(r.lastProgress, id)
		}
	}
}
