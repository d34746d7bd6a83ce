// Package sync implements the cross-region DataSynchronizer: a
// single-threaded, strictly-ordered consumer that applies incoming
// Mission records from peer regions using version-guarded
// last-writer-wins conflict resolution, and periodically pulls the
// mission sets of configured sync peers.
package sync

import (
	"context"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/transport"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// record is the wire shape exchanged between regions' synchronizers.
type record struct {
	Mission types.Mission `json:"mission"`
}

// Synchronizer applies remote mission records through a single
// goroutine reading an apply channel, so concurrent peer pushes never
// race on the LWW comparison, and polls peers on an interval to pull
// their latest state.
type Synchronizer struct {
	node      *raftnode.Node
	transport transport.RpcTransport
	peers     []string
	interval  time.Duration

	applyCh chan record
	stopCh  chan struct{}
}

// New builds a Synchronizer bound to node's replicated store, pulling
// from the peers in cfg.SyncPeers on cfg.SyncPollInterval.
func New(cfg config.Config, node *raftnode.Node, rpc transport.RpcTransport) *Synchronizer {
	return &Synchronizer{
		node:      node,
		transport: rpc,
		peers:     cfg.SyncPeers,
		interval:  cfg.SyncPollInterval,
		applyCh:   make(chan record, 256),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the single apply-consumer goroutine and the peer poll
// loop, which polls only while this replica leads.
func (s *Synchronizer) Start() {
	go s.applyLoop()
	go s.pollLoop()
}

// Stop halts both loops.
func (s *Synchronizer) Stop() {
	close(s.stopCh)
}

// Receive is the inbound RPC handler peers call to push a changed
// mission record; it only enqueues, so the actual LWW apply always
// happens on the single consumer goroutine.
func (s *Synchronizer) Receive(m types.Mission) {
	select {
	case s.applyCh <- record{Mission: m}:
	case <-s.stopCh:
	}
}

func (s *Synchronizer) applyLoop() {
	for {
		select {
		case rec := <-s.applyCh:
			s.applyOne(rec)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Synchronizer) applyOne(rec record) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncApplyDuration)

	logger := log.WithComponent("sync")
	incoming := rec.Mission

	local, err := s.node.GetMission(incoming.ID)
	if err != nil {
		logger.Debug().Str("mission_id", incoming.ID).Msg("no local record, admitting remote mission")
	}

	if local != nil {
		newer := incoming.Version > local.Version ||
			(incoming.Version == local.Version && incoming.UpdatedAt.After(local.UpdatedAt))
		if !newer {
			metrics.SyncConflictsTotal.Inc()
			logger.Debug().
				Str("mission_id", incoming.ID).
				Uint64("local_version", local.Version).
				Uint64("remote_version", incoming.Version).
				Msg("remote write lost last-writer-wins comparison")
			return
		}
	}

	if !s.node.IsLeader() {
		// Only the leader may commit to the Raft log; followers drop the
		// record, and the leader's own synchronizer pulls it on its next poll.
		return
	}

	if err := s.node.UpdateMission(&incoming); err != nil {
		logger.Warn().Err(err).Str("mission_id", incoming.ID).Msg("failed to apply synced mission")
	}
}

// pollLoop periodically pulls the full mission set from each peer and
// feeds it through the same apply channel as inbound pushes.
func (s *Synchronizer) pollLoop() {
	if len(s.peers) == 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.node.IsLeader() {
				continue
			}
			s.pollPeers()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Synchronizer) pollPeers() {
	logger := log.WithComponent("sync")
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	for _, peer := range s.peers {
		var resp struct {
			Missions []types.Mission `json:"missions"`
		}
		if err := s.transport.Call(ctx, peer, "/sync/missions", struct{}{}, &resp); err != nil {
			logger.Debug().Err(err).Str("peer", peer).Msg("sync poll failed")
			continue
		}
		for _, m := range resp.Missions {
			s.Receive(m)
		}
	}
}

// Snapshot returns the local mission set for a peer's poll request.
func (s *Synchronizer) Snapshot() ([]types.Mission, error) {
	missions, err := s.node.ListMissions()
	if err != nil {
		return nil, err
	}
	out := make([]types.Mission, 0, len(missions))
	for _, m := range missions {
		out = append(out, *m)
	}
	return out, nil
}
