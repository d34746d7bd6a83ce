// Package discovery locates the other replicas of the control plane
// and tracks their health, behind one interface with four
// interchangeable backends (static, Consul, etcd, serf).
package discovery

import (
	"context"

	"github.com/fleetcore/fleetcore/pkg/types"
)

// ServiceDiscovery resolves cluster peer membership.
type ServiceDiscovery interface {
	// Start begins watching for membership changes.
	Start(ctx context.Context) error

	// Stop releases any resources (watches, gossip connections).
	Stop() error

	// Members returns the current known set of replicas.
	Members() []types.Replica

	// Register announces this replica's own endpoint to the backend.
	Register(ctx context.Context, self types.Replica) error

	// Watch returns a channel delivering membership snapshots whenever
	// the backend observes a change.
	Watch() <-chan []types.Replica
}
