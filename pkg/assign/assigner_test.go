package assign

import (
	"testing"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssigner() *Assigner {
	cfg := config.DefaultConfig()
	cfg.BatteryWeight = 0.5
	cfg.CapabilityWeight = 0.5
	return New(cfg)
}

func TestAssignSingleWorkerPicksHighestScoring(t *testing.T) {
	a := newAssigner()
	m := &types.Mission{
		ID:   "m-1",
		Kind: types.MissionSingleWorker,
		Constraints: types.MissionConstraints{
			MinBattery:      20,
			RequiredPayload: "camera",
		},
	}
	low := &types.Worker{ID: "w-low", BatteryPercent: 30, Capabilities: map[string]float64{"camera": 1}}
	high := &types.Worker{ID: "w-high", BatteryPercent: 90, Capabilities: map[string]float64{"camera": 1}}
	ineligible := &types.Worker{ID: "w-flat", BatteryPercent: 10, Capabilities: map[string]float64{"camera": 1}}

	picked, err := a.Assign(m, []*types.Worker{low, ineligible, high})
	require.NoError(t, err)
	require.Len(t, picked, 1)
	assert.Equal(t, "w-high", picked[0].ID)
}

func TestAssignFiltersOnRequiredPayload(t *testing.T) {
	a := newAssigner()
	m := &types.Mission{
		ID:   "m-2",
		Kind: types.MissionSingleWorker,
		Constraints: types.MissionConstraints{
			RequiredPayload: "thermal",
		},
	}
	noCap := &types.Worker{ID: "w-1", BatteryPercent: 90, Capabilities: map[string]float64{"camera": 1}}

	_, err := a.Assign(m, []*types.Worker{noCap})
	require.Error(t, err)
	var nfe *ferrors.NoFeasibleAssignment
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "m-2", nfe.MissionID)
}

func TestAssignMultiWorkerPicksNearestN(t *testing.T) {
	a := newAssigner()
	m := &types.Mission{
		ID:   "m-3",
		Kind: types.MissionMultiWorker,
		Payload: types.Payload{
			Area: []types.Waypoint{{Lat: 0, Lon: 0}},
		},
		Constraints: types.MissionConstraints{
			WorkerCount: 2,
		},
	}
	near := &types.Worker{ID: "near", Position: &types.Position{Lat: 0.01, Lon: 0.01}}
	mid := &types.Worker{ID: "mid", Position: &types.Position{Lat: 1, Lon: 1}}
	far := &types.Worker{ID: "far", Position: &types.Position{Lat: 10, Lon: 10}}

	picked, err := a.Assign(m, []*types.Worker{far, mid, near})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "near", picked[0].ID)
	assert.Equal(t, "mid", picked[1].ID)
}

func TestAssignMultiWorkerNotEnoughFeasible(t *testing.T) {
	a := newAssigner()
	m := &types.Mission{
		ID:   "m-4",
		Kind: types.MissionCluster,
		Constraints: types.MissionConstraints{
			WorkerCount: 3,
		},
	}
	w1 := &types.Worker{ID: "w-1", BatteryPercent: 90}

	_, err := a.Assign(m, []*types.Worker{w1})
	require.Error(t, err)
	var nfe *ferrors.NoFeasibleAssignment
	require.ErrorAs(t, err, &nfe)
}

func TestAssignNoCandidates(t *testing.T) {
	a := newAssigner()
	m := &types.Mission{ID: "m-5", Kind: types.MissionSingleWorker}

	_, err := a.Assign(m, nil)
	require.Error(t, err)
	var nfe *ferrors.NoFeasibleAssignment
	require.ErrorAs(t, err, &nfe)
}

func TestAssignRespectsMaxDistanceFromArea(t *testing.T) {
	a := newAssigner()
	m := &types.Mission{
		ID:   "m-6",
		Kind: types.MissionSingleWorker,
		Payload: types.Payload{
			Area: []types.Waypoint{{Lat: 0, Lon: 0}},
		},
		Constraints: types.MissionConstraints{
			MaxDistanceFromArea: 10000, // 10km
		},
	}
	tooFar := &types.Worker{ID: "far", Position: &types.Position{Lat: 5, Lon: 5}}

	_, err := a.Assign(m, []*types.Worker{tooFar})
	require.Error(t, err)
}
