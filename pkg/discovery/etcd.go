package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/types"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdBackend discovers replica membership via a leased key per
// replica under a shared prefix, refreshed with KeepAlive so a
// crashed replica's key expires on its own.
type EtcdBackend struct {
	client   *clientv3.Client
	prefix   string
	leaseTTL int64

	mu      sync.RWMutex
	members []types.Replica
	watchCh chan []types.Replica
	cancel  context.CancelFunc
}

// NewEtcdBackend dials the given etcd endpoints.
func NewEtcdBackend(endpoints []string, prefix string) (*EtcdBackend, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdBackend{
		client:   client,
		prefix:   strings.TrimSuffix(prefix, "/"),
		leaseTTL: 10,
		watchCh:  make(chan []types.Replica, 1),
	}, nil
}

func (e *EtcdBackend) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.refresh(watchCtx); err != nil {
		return err
	}

	go e.watchLoop(watchCtx)
	return nil
}

func (e *EtcdBackend) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.client.Close()
}

func (e *EtcdBackend) watchLoop(ctx context.Context) {
	logger := log.WithComponent("discovery.etcd")
	watchCh := e.client.Watch(ctx, e.prefix+"/", clientv3.WithPrefix())

	for {
		select {
		case _, ok := <-watchCh:
			if !ok {
				return
			}
			if err := e.refresh(ctx); err != nil {
				logger.Warn().Err(err).Msg("etcd membership refresh failed")
				continue
			}
			e.mu.RLock()
			members := e.members
			e.mu.RUnlock()
			select {
			case e.watchCh <- members:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *EtcdBackend) refresh(ctx context.Context) error {
	resp, err := e.client.Get(ctx, e.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return err
	}

	var members []types.Replica
	for _, kv := range resp.Kvs {
		nodeID := strings.TrimPrefix(string(kv.Key), e.prefix+"/")
		members = append(members, types.Replica{
			NodeID:   nodeID,
			Endpoint: string(kv.Value),
			Health:   types.ReplicaHealthy,
		})
	}

	e.mu.Lock()
	e.members = members
	e.mu.Unlock()
	return nil
}

func (e *EtcdBackend) Members() []types.Replica {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Replica, len(e.members))
	copy(out, e.members)
	return out
}

func (e *EtcdBackend) Register(ctx context.Context, self types.Replica) error {
	lease, err := e.client.Grant(ctx, e.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	key := fmt.Sprintf("%s/%s", e.prefix, self.NodeID)
	if _, err := e.client.Put(ctx, key, self.Endpoint, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register replica: %w", err)
	}

	keepAliveCh, err := e.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to start keepalive: %w", err)
	}

	go func() {
		for range keepAliveCh {
			// drain; etcd client renews automatically on each response
		}
	}()

	return nil
}

func (e *EtcdBackend) Watch() <-chan []types.Replica {
	return e.watchCh
}
