package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/types"
	consulapi "github.com/hashicorp/consul/api"
)

// ConsulBackend discovers replica membership through a Consul KV
// prefix, one key per replica, and cross-checks Consul's own health
// endpoint for the registered service.
type ConsulBackend struct {
	client      *consulapi.Client
	kvPrefix    string
	serviceName string
	pollEvery   time.Duration

	mu      sync.RWMutex
	members []types.Replica
	watchCh chan []types.Replica
	stopCh  chan struct{}
}

// NewConsulBackend connects to a Consul agent at address (empty uses
// the default localhost:8500).
func NewConsulBackend(address, kvPrefix, serviceName string) (*ConsulBackend, error) {
	cfg := consulapi.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulBackend{
		client:      client,
		kvPrefix:    strings.TrimSuffix(kvPrefix, "/"),
		serviceName: serviceName,
		pollEvery:   2 * time.Second,
		watchCh:     make(chan []types.Replica, 1),
		stopCh:      make(chan struct{}),
	}, nil
}

func (c *ConsulBackend) Start(ctx context.Context) error {
	go c.pollLoop(ctx)
	return nil
}

func (c *ConsulBackend) Stop() error {
	close(c.stopCh)
	return nil
}

func (c *ConsulBackend) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	logger := log.WithComponent("discovery.consul")

	for {
		select {
		case <-ticker.C:
			members, err := c.fetch()
			if err != nil {
				logger.Warn().Err(err).Msg("consul kv poll failed")
				continue
			}
			c.mu.Lock()
			c.members = members
			c.mu.Unlock()
			select {
			case c.watchCh <- members:
			default:
			}
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *ConsulBackend) fetch() ([]types.Replica, error) {
	pairs, _, err := c.client.KV().List(c.kvPrefix+"/", nil)
	if err != nil {
		return nil, err
	}

	healthByNode := make(map[string]bool)
	if entries, _, err := c.client.Health().Service(c.serviceName, "", true, nil); err == nil {
		for _, e := range entries {
			healthByNode[e.Service.ID] = true
		}
	}

	var members []types.Replica
	for _, p := range pairs {
		nodeID := strings.TrimPrefix(p.Key, c.kvPrefix+"/")
		if nodeID == "" {
			continue
		}
		health := types.ReplicaUnhealthy
		if healthByNode[nodeID] {
			health = types.ReplicaHealthy
		}
		members = append(members, types.Replica{
			NodeID:   nodeID,
			Endpoint: string(p.Value),
			Health:   health,
		})
	}
	return members, nil
}

func (c *ConsulBackend) Members() []types.Replica {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Replica, len(c.members))
	copy(out, c.members)
	return out
}

func (c *ConsulBackend) Register(ctx context.Context, self types.Replica) error {
	key := fmt.Sprintf("%s/%s", c.kvPrefix, self.NodeID)
	_, err := c.client.KV().Put(&consulapi.KVPair{Key: key, Value: []byte(self.Endpoint)}, nil)
	return err
}

func (c *ConsulBackend) Watch() <-chan []types.Replica {
	return c.watchCh
}
