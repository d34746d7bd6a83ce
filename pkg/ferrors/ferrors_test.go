package ferrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotLeaderErrorMessage(t *testing.T) {
	assert.Equal(t, "not the raft leader", (&NotLeaderError{}).Error())
	assert.Equal(t, "not the raft leader, current leader: 10.0.0.1:7000", (&NotLeaderError{Hint: "10.0.0.1:7000"}).Error())
}

func TestStateMachineRejectedMessage(t *testing.T) {
	err := &StateMachineRejected{Op: "UpdateMission", Reason: "mission already terminal"}
	assert.Equal(t, "state machine rejected UpdateMission: mission already terminal", err.Error())
}

func TestNoFeasibleAssignmentMessage(t *testing.T) {
	err := &NoFeasibleAssignment{MissionID: "m-1", Reason: "no candidates"}
	assert.Contains(t, err.Error(), "m-1")
	assert.Contains(t, err.Error(), "no candidates")
}

func TestVersionConflictMessage(t *testing.T) {
	err := &VersionConflict{EntityID: "w-1", LocalVersion: 5, RemoteVersion: 3}
	assert.Equal(t, "version conflict for w-1: local=5 remote=3", err.Error())
}

func TestNotFoundMessage(t *testing.T) {
	err := &NotFound{Kind: "worker", ID: "w-9"}
	assert.Equal(t, "worker not found: w-9", err.Error())
}

func TestWorkerBackloggedMessage(t *testing.T) {
	err := &WorkerBacklogged{WorkerID: "w-1", Depth: 42}
	assert.Contains(t, err.Error(), "w-1")
	assert.Contains(t, err.Error(), "42")
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{Peer: "10.0.0.2:7000", Kind: "NetworkError", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "10.0.0.2:7000")
	assert.Contains(t, err.Error(), "NetworkError")
}

func TestErrorsAsMatchesConcreteTypes(t *testing.T) {
	var err error = &NoFeasibleAssignment{MissionID: "m-1", Reason: "x"}

	var nfe *NoFeasibleAssignment
	require := assert.New(t)
	require.True(errors.As(err, &nfe))
	require.Equal("m-1", nfe.MissionID)

	var notFound *NotFound
	require.False(errors.As(err, &notFound))
}
