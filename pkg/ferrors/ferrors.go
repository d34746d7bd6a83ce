// Package ferrors defines the typed error taxonomy returned across the
// control plane: every fallible operation returns one of these instead
// of a bare fmt.Errorf, so callers can errors.As their way to a retry
// or admission decision instead of string-matching.
package ferrors

import "fmt"

// NotLeaderError is returned when an operation that requires Raft
// leadership is attempted on a follower.
type NotLeaderError struct {
	Hint string // address of the current leader, if known
}

func (e *NotLeaderError) Error() string {
	if e.Hint == "" {
		return "not the raft leader"
	}
	return fmt.Sprintf("not the raft leader, current leader: %s", e.Hint)
}

// StateMachineRejected is returned by the FSM when a committed command
// cannot be applied to current state (e.g. mission already terminal).
type StateMachineRejected struct {
	Op     string
	Reason string
}

func (e *StateMachineRejected) Error() string {
	return fmt.Sprintf("state machine rejected %s: %s", e.Op, e.Reason)
}

// NoFeasibleAssignment is returned by the Assigner when no worker (or
// worker set) satisfies a mission's hard constraints.
type NoFeasibleAssignment struct {
	MissionID string
	Reason    string
}

func (e *NoFeasibleAssignment) Error() string {
	return fmt.Sprintf("no feasible assignment for mission %s: %s", e.MissionID, e.Reason)
}

// VersionConflict is returned by the DataSynchronizer when an incoming
// cross-region record loses a last-writer-wins comparison.
type VersionConflict struct {
	EntityID      string
	LocalVersion  uint64
	RemoteVersion uint64
}

func (e *VersionConflict) Error() string {
	return fmt.Sprintf("version conflict for %s: local=%d remote=%d", e.EntityID, e.LocalVersion, e.RemoteVersion)
}

// NotFound is returned when a lookup by ID fails.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// WorkerBacklogged is returned by the DownlinkBridge when a worker's
// outbound queue is full and backpressure must be applied.
type WorkerBacklogged struct {
	WorkerID string
	Depth    int
}

func (e *WorkerBacklogged) Error() string {
	return fmt.Sprintf("worker %s backlogged at depth %d", e.WorkerID, e.Depth)
}

// TransportError wraps a classified RPC failure, carrying the kind so
// RetryPolicy can decide without re-inspecting the underlying error.
type TransportError struct {
	Peer string
	Kind string // one of types.ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc to %s failed (%s): %v", e.Peer, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
