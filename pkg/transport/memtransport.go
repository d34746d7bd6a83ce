package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// Handler processes a decoded request for one (peer, path) pair and
// returns the value to encode back into the caller's resp.
type Handler func(req json.RawMessage) (interface{}, error)

// MemTransport is an in-memory RpcTransport for tests: it wires
// callers directly to registered handlers, with the ability to drop
// or duplicate calls to a given peer so tests can exercise the
// safety properties a real socket would only expose under load.
type MemTransport struct {
	mu       sync.Mutex
	handlers map[string]map[string]Handler
	drop     map[string]bool
	dupe     map[string]bool
	stats    map[string]*PeerStats
}

// NewMemTransport creates an empty in-memory transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{
		handlers: make(map[string]map[string]Handler),
		drop:     make(map[string]bool),
		dupe:     make(map[string]bool),
		stats:    make(map[string]*PeerStats),
	}
}

// Register installs a handler for path on peer.
func (m *MemTransport) Register(peer, path string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[peer] == nil {
		m.handlers[peer] = make(map[string]Handler)
	}
	m.handlers[peer][path] = h
}

// DropNext causes the next Call to peer to fail as a NetworkError,
// regardless of path.
func (m *MemTransport) DropNext(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop[peer] = true
}

// DuplicateNext causes the next Call to peer to invoke the handler
// twice, surfacing at-least-once delivery semantics to the caller's
// idempotency handling.
func (m *MemTransport) DuplicateNext(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dupe[peer] = true
}

func (m *MemTransport) Call(ctx context.Context, peer, path string, req, resp interface{}) error {
	m.mu.Lock()
	s := m.peerStats(peer)
	s.Requests++

	if m.drop[peer] {
		delete(m.drop, peer)
		s.Failures++
		err := &ferrors.TransportError{Peer: peer, Kind: string(types.ErrNetwork), Err: fmt.Errorf("dropped by test transport")}
		s.LastErr = err.Error()
		m.mu.Unlock()
		return err
	}

	handler, ok := m.handlers[peer][path]
	dupe := m.dupe[peer]
	delete(m.dupe, peer)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no handler registered for %s%s", peer, path)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	result, err := handler(data)
	if dupe && err == nil {
		_, _ = handler(data)
	}
	if err != nil {
		m.mu.Lock()
		s.Failures++
		s.LastErr = err.Error()
		m.mu.Unlock()
		return err
	}

	if resp != nil && result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, resp); err != nil {
			return err
		}
	}

	return nil
}

func (m *MemTransport) peerStats(peer string) *PeerStats {
	s, ok := m.stats[peer]
	if !ok {
		s = &PeerStats{}
		m.stats[peer] = s
	}
	return s
}

func (m *MemTransport) Stats(peer string) PeerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[peer]; ok {
		return *s
	}
	return PeerStats{}
}
