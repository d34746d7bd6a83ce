package metrics

import (
	"time"

	"github.com/fleetcore/fleetcore/pkg/types"
)

// ClusterSource is the narrow view of the replicated state a Collector
// needs. raftnode.Node satisfies it; defined here rather than imported
// to avoid a metrics->raftnode->metrics import cycle.
type ClusterSource interface {
	ListWorkers() ([]*types.Worker, error)
	ListMissions() ([]*types.Mission, error)
	IsLeader() bool
	GetRaftStats() map[string]interface{}
}

// Collector periodically samples replicated state into the gauge
// metrics exposed at /metrics.
type Collector struct {
	source ClusterSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source ClusterSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectMissionMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	workers, err := c.source.ListWorkers()
	if err != nil {
		return
	}

	counts := make(map[types.WorkerStatus]int)
	for _, w := range workers {
		counts[w.Status]++
	}
	for _, status := range []types.WorkerStatus{
		types.WorkerOnline, types.WorkerOffline, types.WorkerIdle, types.WorkerBusy, types.WorkerError,
	} {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectMissionMetrics() {
	missions, err := c.source.ListMissions()
	if err != nil {
		return
	}

	counts := make(map[types.MissionState]int)
	for _, m := range missions {
		counts[m.State]++
	}
	for _, state := range []types.MissionState{
		types.MissionPending, types.MissionAssigned, types.MissionRunning,
		types.MissionPaused, types.MissionSucceeded, types.MissionFailed, types.MissionCancelled,
	} {
		MissionsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.source.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		RaftPeers.Set(float64(peers))
	}
}
