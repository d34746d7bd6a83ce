// Package control wires every subsystem - consensus, storage,
// discovery, transport, scheduling, reconciliation, cross-region sync
// and the worker downlink - into one running replica, replacing the
// role the teacher's monolithic manager type used to play.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/discovery"
	"github.com/fleetcore/fleetcore/pkg/downlink"
	"github.com/fleetcore/fleetcore/pkg/events"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/health"
	"github.com/fleetcore/fleetcore/pkg/log"
	"github.com/fleetcore/fleetcore/pkg/mission"
	"github.com/fleetcore/fleetcore/pkg/raftnode"
	"github.com/fleetcore/fleetcore/pkg/reconcile"
	"github.com/fleetcore/fleetcore/pkg/resource"
	"github.com/fleetcore/fleetcore/pkg/retry"
	"github.com/fleetcore/fleetcore/pkg/scheduler"
	"github.com/fleetcore/fleetcore/pkg/storage"
	"github.com/fleetcore/fleetcore/pkg/sync"
	"github.com/fleetcore/fleetcore/pkg/transport"
)

// Plane is one running fleetcore replica: the consensus node plus
// every subsystem built on top of it.
type Plane struct {
	Config config.Config

	Node      *raftnode.Node
	Store     storage.Store
	Broker    *events.Broker
	Resources *resource.Manager
	Missions  *mission.Store
	Scheduler *scheduler.Scheduler
	Reconcile *reconcile.Reconciler
	Sync      *sync.Synchronizer
	Bridge    downlink.Bridge
	Discovery discovery.ServiceDiscovery
	HealthCk  *discovery.HealthChecker
	Transport transport.RpcTransport
}

// New constructs every subsystem without starting any of them.
func New(cfg config.Config) (*Plane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	broker := events.NewBroker()
	node := raftnode.New(cfg, store, broker)

	rpc := transport.NewHTTPTransport(cfg.RPCTimeout, cfg.RPCMaxRetries, cfg.RPCInitialBackoff, cfg.RPCMaxBackoff)

	disc, err := newDiscovery(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery backend: %w", err)
	}

	healthCk := discovery.NewHealthChecker(disc, func(endpoint string) health.Checker {
		return health.NewHTTPChecker(endpoint + "/health")
	}, cfg.HealthCheckEvery, cfg.FailureThreshold, cfg.SuccessThreshold)

	resources := resource.New(node, broker, cfg.WorkerOfflineThreshold, cfg.WorkerSweepInterval)
	missions := mission.NewStore(node)
	retries := retry.NewPolicy(cfg.RetryDefaults)

	bridge, err := downlink.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build downlink bridge: %w", err)
	}

	sched := scheduler.New(cfg, node, missions, resources, bridge, retries)
	recon := reconcile.New(node, missions, retries, broker, 10*time.Second)
	synchronizer := sync.New(cfg, node, rpc)

	return &Plane{
		Config:    cfg,
		Node:      node,
		Store:     store,
		Broker:    broker,
		Resources: resources,
		Missions:  missions,
		Scheduler: sched,
		Reconcile: recon,
		Sync:      synchronizer,
		Bridge:    bridge,
		Discovery: disc,
		HealthCk:  healthCk,
		Transport: rpc,
	}, nil
}

func newDiscovery(cfg config.Config) (discovery.ServiceDiscovery, error) {
	switch cfg.DiscoveryBackend {
	case config.DiscoveryConsul:
		return discovery.NewConsulBackend(cfg.ConsulAddress, "fleetcore/replicas", "fleetcore")
	case config.DiscoveryEtcd:
		return discovery.NewEtcdBackend(cfg.EtcdEndpoints, "/fleetcore/replicas")
	case config.DiscoverySerf:
		return discovery.NewSerfBackend(cfg.NodeID, cfg.SerfBindAddr, cfg.Peers)
	default:
		return discovery.NewStaticBackend(nil), nil
	}
}

// Bootstrap initializes a brand-new single-replica cluster and starts
// every background subsystem.
func (p *Plane) Bootstrap() error {
	if err := p.Node.Bootstrap(p.Config); err != nil {
		return err
	}
	return p.startSubsystems()
}

// Join brings up this replica's local Raft instance (without
// bootstrapping a configuration) and asks an existing leader to admit
// it as a voter over the RPC transport.
func (p *Plane) Join(leaderEndpoint string) error {
	if err := p.Node.Start(p.Config); err != nil {
		return err
	}

	var resp struct {
		Accepted bool `json:"accepted"`
	}
	req := struct {
		NodeID  string `json:"node_id"`
		Address string `json:"address"`
	}{NodeID: p.Config.NodeID, Address: p.Config.BindEndpoint}

	if err := p.Transport.Call(context.Background(), leaderEndpoint, "/raft/add-voter", req, &resp); err != nil {
		return fmt.Errorf("failed to join cluster via %s: %w", leaderEndpoint, err)
	}
	if !resp.Accepted {
		return &ferrors.NotLeaderError{Hint: leaderEndpoint}
	}
	return p.startSubsystems()
}

func (p *Plane) startSubsystems() error {
	p.Broker.Start()
	p.Resources.Start()
	p.Scheduler.Start()
	p.Reconcile.Start()
	p.Sync.Start()
	if err := p.Bridge.Start(); err != nil {
		return fmt.Errorf("failed to start downlink bridge: %w", err)
	}
	if err := p.Discovery.Start(context.Background()); err != nil {
		log.WithComponent("control").Warn().Err(err).Msg("discovery backend failed to start")
	}
	p.HealthCk.Start()
	go p.consumeTelemetry()
	return nil
}

// consumeTelemetry drains the downlink bridge's uplink channel and
// folds battery/position updates back into the worker registry.
func (p *Plane) consumeTelemetry() {
	for t := range p.Bridge.Telemetry() {
		pos := t.Position
		if err := p.Resources.Heartbeat(t.WorkerID, t.Battery.Percent, &pos, t.TimestampNs); err != nil {
			log.WithComponent("control").Debug().Err(err).Str("worker_id", t.WorkerID).Msg("telemetry heartbeat update failed")
		}
	}
}

// Shutdown stops every subsystem and the underlying Raft node.
func (p *Plane) Shutdown() error {
	p.Scheduler.Stop()
	p.Reconcile.Stop()
	p.Sync.Stop()
	p.Resources.Stop()
	p.HealthCk.Stop()
	_ = p.Bridge.Stop()
	_ = p.Discovery.Stop()
	p.Broker.Stop()
	return p.Node.Shutdown()
}
