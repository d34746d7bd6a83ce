package downlink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/google/uuid"
)

// wireFrame is one newline-delimited JSON message on the TCP wire, in
// either direction.
type wireFrame struct {
	Type      string          `json:"type"` // hello | mission | command | ack | telemetry
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// TCPBridge is a Bridge over a single persistent, newline-framed JSON
// TCP connection per worker. Workers dial in; the bridge identifies
// them by the first frame received on a connection.
type TCPBridge struct {
	cfg       config.Config
	listener  net.Listener
	queue     *queueSet
	telemetry chan types.Telemetry

	mu    sync.Mutex
	conns map[string]net.Conn

	stopCh chan struct{}
}

// NewTCPBridge builds a TCP-based Bridge listening on cfg.BindEndpoint's
// host with a downlink-specific port offset agreed out of band (the
// caller supplies the actual listen address via Start).
func NewTCPBridge(cfg config.Config) (*TCPBridge, error) {
	return &TCPBridge{
		cfg:       cfg,
		queue:     newQueueSet(cfg.DownlinkQueueDepth),
		telemetry: newTelemetryChan(),
		conns:     make(map[string]net.Conn),
		stopCh:    make(chan struct{}),
	}, nil
}

func (b *TCPBridge) Start() error {
	ln, err := net.Listen("tcp", b.cfg.BindEndpoint)
	if err != nil {
		return fmt.Errorf("downlink listen: %w", err)
	}
	b.listener = ln

	go b.acceptLoop()
	return nil
}

func (b *TCPBridge) Stop() error {
	close(b.stopCh)
	if b.listener != nil {
		return b.listener.Close()
	}
	return nil
}

func (b *TCPBridge) acceptLoop() {
	logger := log.WithComponent("downlink.tcp")
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.stopCh:
				return
			default:
				logger.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go b.handleConn(conn)
	}
}

func (b *TCPBridge) handleConn(conn net.Conn) {
	logger := log.WithComponent("downlink.tcp")
	reader := bufio.NewReader(conn)
	var workerID string

	defer func() {
		if workerID != "" {
			b.mu.Lock()
			if b.conns[workerID] == conn {
				delete(b.conns, workerID)
			}
			b.mu.Unlock()
		}
		conn.Close()
	}()

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			logger.Warn().Err(err).Msg("malformed downlink frame")
			continue
		}

		switch frame.Type {
		case "hello":
			var hello struct {
				WorkerID string `json:"worker_id"`
			}
			if err := json.Unmarshal(frame.Payload, &hello); err == nil {
				workerID = hello.WorkerID
				b.mu.Lock()
				b.conns[workerID] = conn
				b.mu.Unlock()
			}
		case "ack":
			b.queue.ack(frame.RequestID)
		case "telemetry":
			var t types.Telemetry
			if err := json.Unmarshal(frame.Payload, &t); err != nil {
				continue
			}
			if isStale(t) {
				metrics.TelemetryStaleDropped.Inc()
				continue
			}
			select {
			case b.telemetry <- t:
			default:
				// telemetry channel full: the incoming sample is dropped
			}
		}
	}
}

func (b *TCPBridge) SendMission(ctx context.Context, msg types.MissionMessage) error {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	return b.send(ctx, msg.WorkerID, msg.RequestID, "mission", msg)
}

func (b *TCPBridge) SendCommand(ctx context.Context, cmd types.Command) error {
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	return b.send(ctx, cmd.WorkerID, cmd.RequestID, "command", cmd)
}

func (b *TCPBridge) send(ctx context.Context, workerID, requestID, frameType string, payload interface{}) error {
	o := &outbound{requestID: requestID, workerID: workerID, payload: payload, path: frameType, enqueued: time.Now()}
	if err := b.queue.enqueue(o); err != nil {
		return err
	}
	defer b.queue.dequeue(workerID, requestID)

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(wireFrame{Type: frameType, RequestID: requestID, Payload: data})
	if err != nil {
		return err
	}
	frame = append(frame, '\n')

	attempts := 0
	for {
		attempts++
		b.mu.Lock()
		conn, ok := b.conns[workerID]
		b.mu.Unlock()
		if !ok {
			if attempts >= b.cfg.DownlinkMaxRetries {
				return &ferrors.TransportError{Peer: workerID, Kind: string(types.ErrNetwork), Err: fmt.Errorf("no downlink connection for worker")}
			}
			time.Sleep(b.cfg.DownlinkAckTimeout)
			continue
		}

		timer := metrics.NewTimer()
		if _, err := conn.Write(frame); err != nil {
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

func (b *TCPBridge) Telemetry() <-chan types.Telemetry {
	return b.telemetry
}
