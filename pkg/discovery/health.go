package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/health"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// HealthChecker probes each known replica on an interval and tracks a
// HEALTHY/DEGRADED/UNHEALTHY state machine per peer, using a
// consecutive-failure/-success threshold pair to avoid flapping on a
// single dropped probe.
type HealthChecker struct {
	discovery        ServiceDiscovery
	newChecker       func(endpoint string) health.Checker
	interval         time.Duration
	failureThreshold int
	successThreshold int

	mu     sync.RWMutex
	states map[string]*peerState
	stopCh chan struct{}
}

type peerState struct {
	health               types.ReplicaHealth
	consecutiveFailures  int
	consecutiveSuccesses int
}

// NewHealthChecker builds a checker that polls every peer returned by
// discovery.Members(), using newChecker to construct a per-endpoint
// health.Checker (typically health.NewHTTPChecker against a /health
// endpoint, or health.NewTCPChecker against the raft port).
func NewHealthChecker(d ServiceDiscovery, newChecker func(endpoint string) health.Checker, interval time.Duration, failureThreshold, successThreshold int) *HealthChecker {
	return &HealthChecker{
		discovery:        d,
		newChecker:       newChecker,
		interval:         interval,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		states:           make(map[string]*peerState),
		stopCh:           make(chan struct{}),
	}
}

// Start begins the polling loop.
func (h *HealthChecker) Start() {
	go h.run()
}

// Stop halts the polling loop.
func (h *HealthChecker) Stop() {
	close(h.stopCh)
}

func (h *HealthChecker) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.pollOnce()
		case <-h.stopCh:
			return
		}
	}
}

func (h *HealthChecker) pollOnce() {
	logger := log.WithComponent("discovery.health")
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()

	for _, member := range h.discovery.Members() {
		checker := h.newChecker(member.Endpoint)
		result := checker.Check(ctx)

		h.mu.Lock()
		st, ok := h.states[member.NodeID]
		if !ok {
			st = &peerState{health: types.ReplicaHealthy}
			h.states[member.NodeID] = st
		}

		if result.Healthy {
			st.consecutiveSuccesses++
			st.consecutiveFailures = 0
			if st.consecutiveSuccesses >= h.successThreshold {
				st.health = types.ReplicaHealthy
			}
		} else {
			st.consecutiveFailures++
			st.consecutiveSuccesses = 0
			switch {
			case st.consecutiveFailures >= h.failureThreshold:
				st.health = types.ReplicaUnhealthy
			case st.consecutiveFailures > 0:
				st.health = types.ReplicaDegraded
			}
		}
		health := st.health
		h.mu.Unlock()

		logger.Debug().Str("peer", member.NodeID).Str("health", string(health)).Msg("peer health probe")
	}
}

// State returns the current believed health of a peer, HEALTHY if unknown.
func (h *HealthChecker) State(nodeID string) types.ReplicaHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if st, ok := h.states[nodeID]; ok {
		return st.health
	}
	return types.ReplicaHealthy
}
