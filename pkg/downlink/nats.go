package downlink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSBridge is a Bridge over NATS, with one downlink subject per
// worker ("fleet.downlink.<worker_id>") and a shared uplink subject
// ("fleet.uplink.telemetry") workers publish to. Acks arrive on
// "fleet.downlink.ack.<worker_id>".
type NATSBridge struct {
	cfg       config.Config
	conn      *nats.Conn
	queue     *queueSet
	telemetry chan types.Telemetry
	subs      []*nats.Subscription
}

// NewNATSBridge dials cfg.NATSURL; Start subscribes to the uplink/ack subjects.
func NewNATSBridge(cfg config.Config) (*NATSBridge, error) {
	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBridge{
		cfg:       cfg,
		conn:      conn,
		queue:     newQueueSet(cfg.DownlinkQueueDepth),
		telemetry: newTelemetryChan(),
	}, nil
}

func (b *NATSBridge) Start() error {
	logger := log.WithComponent("downlink.nats")

	telemetrySub, err := b.conn.Subscribe("fleet.uplink.telemetry", func(msg *nats.Msg) {
		var t types.Telemetry
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			logger.Warn().Err(err).Msg("malformed telemetry message")
			return
		}
		if isStale(t) {
			metrics.TelemetryStaleDropped.Inc()
			return
		}
		select {
		case b.telemetry <- t:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe telemetry: %w", err)
	}

	ackSub, err := b.conn.Subscribe("fleet.downlink.ack.*", func(msg *nats.Msg) {
		var ack struct {
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			return
		}
		b.queue.ack(ack.RequestID)
	})
	if err != nil {
		return fmt.Errorf("subscribe acks: %w", err)
	}

	b.subs = append(b.subs, telemetrySub, ackSub)
	return nil
}

func (b *NATSBridge) Stop() error {
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.conn.Close()
	return nil
}

func (b *NATSBridge) SendMission(ctx context.Context, msg types.MissionMessage) error {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	return b.publish(ctx, msg.WorkerID, msg.RequestID, msg)
}

func (b *NATSBridge) SendCommand(ctx context.Context, cmd types.Command) error {
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	return b.publish(ctx, cmd.WorkerID, cmd.RequestID, cmd)
}

func (b *NATSBridge) publish(ctx context.Context, workerID, requestID string, payload interface{}) error {
	o := &outbound{requestID: requestID, workerID: workerID, payload: payload, enqueued: time.Now()}
	if err := b.queue.enqueue(o); err != nil {
		return err
	}
	defer b.queue.dequeue(workerID, requestID)

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	subject := "fleet.downlink." + workerID

	attempts := 0
	for {
		attempts++
		timer := metrics.NewTimer()
		if err := b.conn.Publish(subject, data); err != nil {
			if attempts >= b.cfg.DownlinkMaxRetries {
				return &ferrors.TransportError{Peer: workerID, Kind: string(types.ErrNetwork), Err: err}
			}
			continue
		}

		select {
		case <-b.queue.waitCh(requestID):
			timer.ObserveDuration(metrics.DownlinkAckLatency)
			return nil
		case <-time.After(b.cfg.DownlinkAckTimeout):
			if attempts >= b.cfg.DownlinkMaxRetries {
				return &ferrors.TransportError{Peer: workerID, Kind: string(types.ErrTimeout), Err: fmt.Errorf("ack timeout after %d attempts", attempts)}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *NATSBridge) Telemetry() <-chan types.Telemetry {
	return b.telemetry
}
