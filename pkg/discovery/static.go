package discovery

import (
	"context"
	"sync"

	"github.com/fleetcore/fleetcore/pkg/types"
)

// StaticBackend serves a fixed, operator-provided peer list. It never
// changes membership once started; useful for small fixed clusters
// and for tests.
type StaticBackend struct {
	mu      sync.RWMutex
	members []types.Replica
	watchCh chan []types.Replica
}

// NewStaticBackend creates a backend seeded with the given peers.
func NewStaticBackend(peers []types.Replica) *StaticBackend {
	return &StaticBackend{
		members: peers,
		watchCh: make(chan []types.Replica, 1),
	}
}

func (s *StaticBackend) Start(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case s.watchCh <- s.members:
	default:
	}
	return nil
}

func (s *StaticBackend) Stop() error {
	return nil
}

func (s *StaticBackend) Members() []types.Replica {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Replica, len(s.members))
	copy(out, s.members)
	return out
}

func (s *StaticBackend) Register(ctx context.Context, self types.Replica) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.members {
		if m.NodeID == self.NodeID {
			s.members[i] = self
			return nil
		}
	}
	s.members = append(s.members, self)
	return nil
}

func (s *StaticBackend) Watch() <-chan []types.Replica {
	return s.watchCh
}
