package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/hashicorp/serf/serf"
)

// SerfBackend discovers replica membership through SWIM gossip. Each
// replica's raft endpoint rides along as a member tag, so no separate
// registry is needed once the gossip ring has converged.
type SerfBackend struct {
	serf      *serf.Serf
	eventCh   chan serf.Event
	joinAddrs []string

	mu      sync.RWMutex
	members []types.Replica
	watchCh chan []types.Replica
}

// NewSerfBackend configures (but does not start) a gossip agent bound
// to bindAddr, eager to join joinAddrs once started.
func NewSerfBackend(nodeID, bindAddr string, joinAddrs []string) (*SerfBackend, error) {
	conf := serf.DefaultConfig()
	conf.NodeName = nodeID
	conf.MemberlistConfig.BindAddr, conf.MemberlistConfig.BindPort = splitHostPort(bindAddr)

	eventCh := make(chan serf.Event, 64)
	conf.EventCh = eventCh

	s, err := serf.Create(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create serf agent: %w", err)
	}

	return &SerfBackend{
		serf:      s,
		eventCh:   eventCh,
		joinAddrs: joinAddrs,
		watchCh:   make(chan []types.Replica, 1),
	}, nil
}

func (s *SerfBackend) Start(ctx context.Context) error {
	if len(s.joinAddrs) > 0 {
		if _, err := s.serf.Join(s.joinAddrs, true); err != nil {
			return fmt.Errorf("failed to join serf cluster: %w", err)
		}
	}
	go s.eventLoop(ctx)
	return nil
}

func (s *SerfBackend) Stop() error {
	return s.serf.Leave()
}

func (s *SerfBackend) eventLoop(ctx context.Context) {
	logger := log.WithComponent("discovery.serf")
	for {
		select {
		case evt := <-s.eventCh:
			switch evt.EventType() {
			case serf.EventMemberJoin, serf.EventMemberLeave, serf.EventMemberFailed, serf.EventMemberUpdate:
				s.refresh()
			default:
				logger.Debug().Str("event", evt.String()).Msg("serf event")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *SerfBackend) refresh() {
	var members []types.Replica
	for _, m := range s.serf.Members() {
		health := types.ReplicaUnhealthy
		if m.Status == serf.StatusAlive {
			health = types.ReplicaHealthy
		}
		members = append(members, types.Replica{
			NodeID:   m.Name,
			Endpoint: m.Tags["raft_addr"],
			Health:   health,
		})
	}

	s.mu.Lock()
	s.members = members
	s.mu.Unlock()

	select {
	case s.watchCh <- members:
	default:
	}
}

func (s *SerfBackend) Members() []types.Replica {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Replica, len(s.members))
	copy(out, s.members)
	return out
}

func (s *SerfBackend) Register(ctx context.Context, self types.Replica) error {
	return s.serf.SetTags(map[string]string{"raft_addr": self.Endpoint})
}

func (s *SerfBackend) Watch() <-chan []types.Replica {
	return s.watchCh
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0", 7946
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 7946
	}
	return host, port
}
