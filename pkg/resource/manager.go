// Package resource implements the ResourceManager: worker registration,
// heartbeat tracking, and the liveness sweep that marks a worker
// OFFLINE when its heartbeat goes stale.
package resource

import (
	"fmt"
	"time"

	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// Manager tracks the worker fleet's soft state (liveness) on top of
// the Raft-replicated Worker records.
type Manager struct {
	node             *raftnode.Node
	broker           *events.Broker
	offlineThreshold time.Duration
	sweepInterval    time.Duration

	stopCh chan struct{}
}

// New builds a Manager bound to node's replicated Worker records.
func New(node *raftnode.Node, broker *events.Broker, offlineThreshold, sweepInterval time.Duration) *Manager {
	return &Manager{
		node:             node,
		broker:           broker,
		offlineThreshold: offlineThreshold,
		sweepInterval:    sweepInterval,
		stopCh:           make(chan struct{}),
	}
}

// Register admits a new worker or reactivates a previously known one.
func (m *Manager) Register(w *types.Worker) error {
	if w.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	if w.RegisteredAt.IsZero() {
		w.RegisteredAt = time.Now()
	}
	w.LastHeartbeat = time.Now()
	if w.Status == "" {
		w.Status = types.WorkerIdle
	}

	if err := m.node.CreateWorker(w); err != nil {
		return err
	}
	m.publish(events.EventWorkerRegistered, w.ID)
	if w.Status == types.WorkerOnline || w.Status == types.WorkerIdle {
		m.publish(events.EventWorkerOnline, w.ID)
	}
	return nil
}

// Heartbeat records a liveness pulse and battery/position update from
// a worker's uplink, bumping it out of OFFLINE if it had lapsed.
// timestampNs is the uplink sample's own clock, used to discard
// samples that arrived out of order; pass 0 when no sample ordering
// is available (e.g. a manual/CLI heartbeat), which always applies.
func (m *Manager) Heartbeat(id string, battery float64, pos *types.Position, timestampNs int64) error {
	w, err := m.node.GetWorker(id)
	if err != nil {
		return err
	}
	if w == nil {
		return &ferrors.NotFound{Kind: "worker", ID: id}
	}

	wasOffline := w.Status == types.WorkerOffline
	w.LastHeartbeat = time.Now()
	if wasOffline {
		w.Status = types.WorkerIdle
	}

	stale := timestampNs != 0 && w.LastTelemetryNs != 0 && timestampNs <= w.LastTelemetryNs
	if !stale {
		w.BatteryPercent = battery
		if pos != nil {
			w.Position = pos
		}
		if timestampNs != 0 {
			w.LastTelemetryNs = timestampNs
		}
	}

	if err := m.node.UpdateWorker(w); err != nil {
		return err
	}
	if wasOffline {
		m.publish(events.EventWorkerOnline, w.ID)
	}
	return nil
}

// SetStatus transitions a worker's status directly, used by the
// scheduler/downlink bridge when dispatch or completion changes
// occupancy (IDLE <-> BUSY) rather than liveness.
func (m *Manager) SetStatus(id string, status types.WorkerStatus) error {
	w, err := m.node.GetWorker(id)
	if err != nil {
		return err
	}
	if w == nil {
		return &ferrors.NotFound{Kind: "worker", ID: id}
	}
	w.Status = status
	return m.node.UpdateWorker(w)
}

// ReleaseWorkers returns workers to IDLE once their mission reaches a
// terminal state. Workers that went OFFLINE/ERROR in the meantime are
// left alone rather than forced back online.
func (m *Manager) ReleaseWorkers(ids []string) {
	logger := log.WithComponent("resource")
	for _, id := range ids {
		w, err := m.node.GetWorker(id)
		if err != nil || w == nil {
			continue
		}
		if w.Status != types.WorkerBusy {
			continue
		}
		if err := m.SetStatus(id, types.WorkerIdle); err != nil {
			logger.Warn().Err(err).Str("worker_id", id).Msg("failed to release worker")
		}
	}
}

// Available lists workers eligible for new mission assignment: those
// whose status is ONLINE or IDLE. Heartbeat age is not checked here;
// the liveness sweep is what moves a lapsed worker to OFFLINE.
func (m *Manager) Available() ([]*types.Worker, error) {
	all, err := m.node.ListWorkers()
	if err != nil {
		return nil, err
	}
	var out []*types.Worker
	for _, w := range all {
		if w.Status == types.WorkerIdle || w.Status == types.WorkerOnline {
			out = append(out, w)
		}
	}
	return out, nil
}

// Start begins the liveness sweep, run only on the Raft leader.
func (m *Manager) Start() {
	go m.run()
}

// Stop halts the liveness sweep.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) run() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	logger := log.WithComponent("resource")

	for {
		select {
		case <-ticker.C:
			if !m.node.IsLeader() {
				continue
			}
			if err := m.sweep(); err != nil {
				logger.Error().Err(err).Msg("liveness sweep failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep() error {
	workers, err := m.node.ListWorkers()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, w := range workers {
		if w.Status == types.WorkerOffline {
			continue
		}
		if now.Sub(w.LastHeartbeat) <= m.offlineThreshold {
			continue
		}
		w.Status = types.WorkerOffline
		if err := m.node.UpdateWorker(w); err != nil {
			continue
		}
		m.publish(events.EventWorkerOffline, w.ID)
	}
	return nil
}

func (m *Manager) publish(t events.EventType, workerID string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:      t,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"worker_id": workerID},
	})
}
