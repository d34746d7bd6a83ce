package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetcore_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	MissionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetcore_missions_total",
			Help: "Total number of missions by state",
		},
		[]string{"state"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetcore_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetcore_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetcore_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetcore_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_scheduling_latency_seconds",
			Help:    "Time taken for one scheduler tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MissionsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetcore_missions_scheduled_total",
			Help: "Total number of missions successfully assigned",
		},
	)

	MissionsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetcore_missions_failed_total",
			Help: "Total number of missions that ended FAILED",
		},
	)

	AssignDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_assign_duration_seconds",
			Help:    "Time taken to select worker(s) for a mission",
			Buckets: prometheus.DefBuckets,
		},
	)

	NoFeasibleAssignmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetcore_no_feasible_assignment_total",
			Help: "Total number of assignment attempts with no feasible worker set",
		},
	)

	// RPC transport metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_rpc_requests_total",
			Help: "Total number of RPC requests by peer and outcome",
		},
		[]string{"peer", "outcome"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetcore_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer"},
	)

	// Downlink metrics
	DownlinkAckLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_downlink_ack_latency_seconds",
			Help:    "Time from downlink dispatch to ACK in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DownlinkBacklogged = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetcore_downlink_worker_backlogged",
			Help: "Current number of queued outbound downlink messages for a worker",
		},
		[]string{"worker_id"},
	)

	TelemetryStaleDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetcore_telemetry_stale_dropped_total",
			Help: "Total number of telemetry samples discarded for being older than the staleness window",
		},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetcore_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetcore_reconciliation_repairs_total",
			Help: "Total number of drift repairs applied by the reconciler, by kind",
		},
		[]string{"kind"},
	)

	// Cross-region sync metrics
	SyncConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetcore_sync_conflicts_total",
			Help: "Total number of cross-region sync conflicts resolved by last-writer-wins",
		},
	)

	SyncApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetcore_sync_apply_duration_seconds",
			Help:    "Time taken to apply one cross-region sync record",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(MissionsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(MissionsScheduled)
	prometheus.MustRegister(MissionsFailed)
	prometheus.MustRegister(AssignDuration)
	prometheus.MustRegister(NoFeasibleAssignmentsTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(DownlinkAckLatency)
	prometheus.MustRegister(DownlinkBacklogged)
	prometheus.MustRegister(TelemetryStaleDropped)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationRepairsTotal)
	prometheus.MustRegister(SyncConflictsTotal)
	prometheus.MustRegister(SyncApplyDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
