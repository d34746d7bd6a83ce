// Package types holds the data model shared across the fleet control
// plane: workers, missions, replicas and the values that travel through
// the Raft log and the worker uplink/downlink.
package types

import "time"

// WorkerStatus is the lifecycle status of a registered worker.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "ONLINE"
	WorkerOffline WorkerStatus = "OFFLINE"
	WorkerIdle    WorkerStatus = "IDLE"
	WorkerBusy    WorkerStatus = "BUSY"
	WorkerError   WorkerStatus = "ERROR"
)

// Worker is a controlled vehicle/agent that executes missions and
// reports telemetry.
type Worker struct {
	ID              string
	Status          WorkerStatus
	LastHeartbeat   time.Time
	CurrentMission  string
	Capabilities    map[string]float64
	Position        *Position
	BatteryPercent  float64
	RegisteredAt    time.Time

	// LastTelemetryNs is the uplink timestamp of the newest telemetry
	// sample folded into this record; samples at or before it are stale
	// and must not regress Position/BatteryPercent.
	LastTelemetryNs int64
}

// Position is a geographic location; Alt is meters above sea level.
type Position struct {
	Lat float64
	Lon float64
	Alt float64
}

// MissionKind distinguishes how many workers a mission requires.
type MissionKind string

const (
	MissionSingleWorker MissionKind = "SINGLE_WORKER"
	MissionMultiWorker  MissionKind = "MULTI_WORKER"
	MissionCluster      MissionKind = "CLUSTER"
)

// MissionState is the lifecycle state of a mission, per spec.md §4.5.
type MissionState string

const (
	MissionPending   MissionState = "PENDING"
	MissionAssigned  MissionState = "ASSIGNED"
	MissionRunning   MissionState = "RUNNING"
	MissionPaused    MissionState = "PAUSED"
	MissionSucceeded MissionState = "SUCCEEDED"
	MissionFailed    MissionState = "FAILED"
	MissionCancelled MissionState = "CANCELLED"
)

// IsTerminal reports whether a mission in this state can never transition again.
func (s MissionState) IsTerminal() bool {
	return s == MissionSucceeded || s == MissionFailed || s == MissionCancelled
}

// ErrorKind classifies a transport/worker failure for RetryPolicy.
type ErrorKind string

const (
	ErrNetwork    ErrorKind = "NetworkError"
	ErrTimeout    ErrorKind = "TimeoutError"
	ErrServer     ErrorKind = "ServerError"
	ErrClient     ErrorKind = "ClientError"
	ErrRateLimit  ErrorKind = "RateLimited"
	ErrAuth       ErrorKind = "AuthError"
	ErrValidation ErrorKind = "ValidationError"
	ErrUnknown    ErrorKind = "Unknown"
)

// RetryState is the retry bookkeeping carried on a Mission, replicated
// through the Raft log as part of the mission record.
type RetryState struct {
	Attempts         int
	NextEligibleAt   time.Time
	LastFailureKind  ErrorKind
	LastFailureNote  string
}

// Waypoint is one point in a mission's search area or flight path.
type Waypoint struct {
	Lat float64
	Lon float64
	Alt float64
}

// Payload is the opaque, mission-owned task description: a search
// area / waypoint list plus free-form task parameters agreed between
// scheduler and worker.
type Payload struct {
	Task      string
	Params    map[string]string
	Area      []Waypoint
}

// Mission is a unit of work with a lifecycle, payload and assignment.
type Mission struct {
	ID              string
	Kind            MissionKind
	AssignedWorkers []string
	Payload         Payload
	State           MissionState
	Priority        int
	Progress        float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	Retry           RetryState
	Version         uint64
	OriginNodeID    string

	// Constraints are the hard filters the Assigner applies before scoring.
	Constraints MissionConstraints
}

// MissionConstraints are the hard filters applied before scoring a
// candidate worker set; see spec.md §4.6.
type MissionConstraints struct {
	MinAltitude      float64
	RequiredPayload  string
	MinBattery       float64
	MaxDistanceFromArea float64
	WorkerCount      int // for MULTI_WORKER/CLUSTER
}

// ReplicaHealth is the health state of a control-plane peer.
type ReplicaHealth string

const (
	ReplicaHealthy   ReplicaHealth = "HEALTHY"
	ReplicaDegraded  ReplicaHealth = "DEGRADED"
	ReplicaUnhealthy ReplicaHealth = "UNHEALTHY"
)

// Replica describes one member of the control-plane ensemble.
type Replica struct {
	NodeID            string
	Endpoint          string
	Health            ReplicaHealth
	LastSuccessfulRPC time.Time
}

// Telemetry is a single uplink sample from a worker.
type Telemetry struct {
	WorkerID    string
	TimestampNs int64
	Position    Position
	Attitude    Attitude
	Velocity    Velocity
	Battery     Battery
	GPS         GPSFix
	LinkQuality float64
	FlightMode  string
}

// Attitude is roll/pitch/yaw in radians.
type Attitude struct {
	Roll, Pitch, Yaw float64
}

// Velocity is body-frame velocity in meters/second.
type Velocity struct {
	VX, VY, VZ float64
}

// Battery reports charge state.
type Battery struct {
	Percent   float64
	VoltageMv int
}

// GPSFix reports satellite lock quality.
type GPSFix struct {
	FixType string
	NumSat  int
}

// CommandType enumerates short-lived imperative downlink commands.
type CommandType string

const (
	CommandArm     CommandType = "ARM"
	CommandDisarm  CommandType = "DISARM"
	CommandTakeoff CommandType = "TAKEOFF"
	CommandLand    CommandType = "LAND"
	CommandRTL     CommandType = "RTL"
)

// Command is a short-lived imperative downlink message.
type Command struct {
	RequestID    string
	WorkerID     string
	Type         CommandType
	TargetAltitude float64
}

// MissionMessage is the downlink payload dispatching a mission to a worker.
type MissionMessage struct {
	RequestID string
	WorkerID  string
	MissionID string
	Task      string
	Params    map[string]string

	// SubRegion is this worker's slice of the mission's search area,
	// set for MULTI_WORKER/CLUSTER missions that split Payload.Area
	// across the assigned worker set.
	SubRegion []Waypoint
}
