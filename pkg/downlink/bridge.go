// Package downlink implements the worker downlink/uplink bridge:
// dispatching Mission/Command messages to workers and receiving
// Telemetry back, over either a TCP newline-framed JSON wire or a NATS
// subject-per-worker transport, with per-message ack tracking and a
// bounded per-worker outbound queue.
package downlink

import (
	"context"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// Bridge dispatches downlink messages to workers and delivers uplinked
// telemetry/acks back to the control plane.
type Bridge interface {
	// SendMission pushes a mission dispatch to worker, retrying per the
	// configured ack timeout/max retries. Returns ferrors.WorkerBacklogged
	// if the worker's outbound queue is already full.
	SendMission(ctx context.Context, msg types.MissionMessage) error
	// SendCommand pushes a short-lived imperative command to worker.
	SendCommand(ctx context.Context, cmd types.Command) error
	// Telemetry returns the channel of uplinked telemetry samples.
	Telemetry() <-chan types.Telemetry
	// Start/Stop the bridge's background delivery loops.
	Start() error
	Stop() error
}

// outbound is one queued downlink message awaiting delivery+ack.
type outbound struct {
	requestID string
	workerID  string
	payload   interface{}
	path      string
	attempts  int
	enqueued  time.Time
}

// queueSet tracks the per-worker bounded outbound queues shared by
// the TCP and NATS bridge implementations.
type queueSet struct {
	mu         sync.Mutex
	queues     map[string][]*outbound
	maxDepth   int
	acked      map[string]chan struct{}
}

func newQueueSet(maxDepth int) *queueSet {
	return &queueSet{
		queues:   make(map[string][]*outbound),
		acked:    make(map[string]chan struct{}),
		maxDepth: maxDepth,
	}
}

func (q *queueSet) enqueue(o *outbound) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queues[o.workerID]) >= q.maxDepth {
		metrics.DownlinkBacklogged.WithLabelValues(o.workerID).Set(float64(len(q.queues[o.workerID])))
		return &ferrors.WorkerBacklogged{WorkerID: o.workerID, Depth: len(q.queues[o.workerID])}
	}
	q.queues[o.workerID] = append(q.queues[o.workerID], o)
	q.acked[o.requestID] = make(chan struct{})
	metrics.DownlinkBacklogged.WithLabelValues(o.workerID).Set(float64(len(q.queues[o.workerID])))
	return nil
}

func (q *queueSet) ack(requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.acked[requestID]; ok {
		close(ch)
		delete(q.acked, requestID)
	}
}

func (q *queueSet) dequeue(workerID, requestID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.queues[workerID]
	for i, o := range items {
		if o.requestID == requestID {
			q.queues[workerID] = append(items[:i], items[i+1:]...)
			break
		}
	}
	metrics.DownlinkBacklogged.WithLabelValues(workerID).Set(float64(len(q.queues[workerID])))
}

func (q *queueSet) waitCh(requestID string) <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked[requestID]
}

// StaleTelemetryWindow is the maximum age a telemetry sample may carry
// (by its own TimestampNs) before the bridge discards it instead of
// publishing it, per spec.md's staleness-discard requirement.
const StaleTelemetryWindow = 5 * time.Second

func isStale(t types.Telemetry) bool {
	sampled := time.Unix(0, t.TimestampNs)
	return time.Since(sampled) > StaleTelemetryWindow
}

func newTelemetryChan() chan types.Telemetry {
	return make(chan types.Telemetry, 256)
}

// New builds a Bridge for the transport configured in cfg.
func New(cfg config.Config) (Bridge, error) {
	switch cfg.DownlinkTransport {
	case config.DownlinkNATS:
		return NewNATSBridge(cfg)
	default:
		return NewTCPBridge(cfg)
	}
}
