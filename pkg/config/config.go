// Package config holds the fleetcore replica's runtime configuration,
// seeded with DefaultConfig and overridable via CLI flags; no
// environment variables are read.
package config

import (
	"fmt"
	"time"
)

// DiscoveryBackend selects the ServiceDiscovery implementation.
type DiscoveryBackend string

const (
	DiscoveryStatic DiscoveryBackend = "static"
	DiscoveryConsul DiscoveryBackend = "consul"
	DiscoveryEtcd   DiscoveryBackend = "etcd"
	DiscoverySerf   DiscoveryBackend = "serf"
)

// DownlinkTransport selects the worker downlink/uplink wire implementation.
type DownlinkTransport string

const (
	DownlinkTCP  DownlinkTransport = "tcp"
	DownlinkNATS DownlinkTransport = "nats"
)

// RetryDefaults holds the backoff knobs for one error class.
type RetryDefaults struct {
	Retriable      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// Config is the complete set of tunables for one fleetcore replica.
type Config struct {
	NodeID       string
	BindEndpoint string
	DataDir      string
	Peers        []string

	// Raft
	ElectionTimeout    time.Duration
	HeartbeatTimeout   time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration
	SnapshotThreshold  uint64
	SnapshotInterval   time.Duration

	// Resource manager
	WorkerOfflineThreshold time.Duration
	WorkerSweepInterval    time.Duration

	// RPC transport
	RPCTimeout        time.Duration
	RPCMaxRetries     int
	RPCInitialBackoff time.Duration
	RPCMaxBackoff     time.Duration

	// Service discovery
	DiscoveryBackend DiscoveryBackend
	ConsulAddress    string
	EtcdEndpoints    []string
	SerfBindAddr     string
	HealthCheckEvery time.Duration
	FailureThreshold int
	SuccessThreshold int

	// Retry policy, keyed by error class name (types.ErrorKind)
	RetryDefaults map[string]RetryDefaults

	// Scheduler
	SchedulerTick time.Duration

	// Downlink bridge
	DownlinkTransport   DownlinkTransport
	DownlinkAckTimeout  time.Duration
	DownlinkMaxRetries  int
	NATSURL             string
	DownlinkQueueDepth  int

	// Assigner
	BatteryWeight   float64
	CapabilityWeight float64

	// HTTP surface (health/ready/live + metrics)
	MetricsAddr string

	// Cross-region sync
	SyncPeers        []string
	SyncPollInterval time.Duration
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		DataDir:                "./data",
		ElectionTimeout:        500 * time.Millisecond,
		HeartbeatTimeout:       500 * time.Millisecond,
		CommitTimeout:          50 * time.Millisecond,
		LeaderLeaseTimeout:     250 * time.Millisecond,
		SnapshotThreshold:      8192,
		SnapshotInterval:       2 * time.Minute,
		WorkerOfflineThreshold: 30 * time.Second,
		WorkerSweepInterval:    5 * time.Second,
		RPCTimeout:             5 * time.Second,
		RPCMaxRetries:          3,
		RPCInitialBackoff:      200 * time.Millisecond,
		RPCMaxBackoff:          5 * time.Second,
		DiscoveryBackend:       DiscoveryStatic,
		HealthCheckEvery:       2 * time.Second,
		FailureThreshold:       3,
		SuccessThreshold:       2,
		RetryDefaults: map[string]RetryDefaults{
			"NetworkError":    {Retriable: true, InitialBackoff: 250 * time.Millisecond, MaxBackoff: 10 * time.Second, MaxAttempts: 5},
			"TimeoutError":    {Retriable: true, InitialBackoff: 250 * time.Millisecond, MaxBackoff: 10 * time.Second, MaxAttempts: 5},
			"ServerError":     {Retriable: true, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 15 * time.Second, MaxAttempts: 4},
			"RateLimited":     {Retriable: true, InitialBackoff: 1 * time.Second, MaxBackoff: 30 * time.Second, MaxAttempts: 6},
			"ClientError":     {Retriable: false},
			"AuthError":       {Retriable: false},
			"ValidationError": {Retriable: false},
			"Unknown":         {Retriable: true, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 2 * time.Second, MaxAttempts: 2},
		},
		SchedulerTick:      1 * time.Second,
		DownlinkTransport:  DownlinkTCP,
		DownlinkAckTimeout: 3 * time.Second,
		DownlinkMaxRetries: 3,
		DownlinkQueueDepth: 64,
		BatteryWeight:      0.7,
		CapabilityWeight:   0.3,
		MetricsAddr:        ":9090",
		SyncPollInterval:   10 * time.Second,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.BindEndpoint == "" {
		return fmt.Errorf("bind_endpoint is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.BatteryWeight+c.CapabilityWeight == 0 {
		return fmt.Errorf("assigner weights cannot both be zero")
	}
	switch c.DiscoveryBackend {
	case DiscoveryStatic, DiscoveryConsul, DiscoveryEtcd, DiscoverySerf:
	default:
		return fmt.Errorf("unknown discovery backend: %s", c.DiscoveryBackend)
	}
	switch c.DownlinkTransport {
	case DownlinkTCP, DownlinkNATS:
	default:
		return fmt.Errorf("unknown downlink transport: %s", c.DownlinkTransport)
	}
	return nil
}
