// Package assign implements the Assigner: hard-constraint filtering
// followed by weighted scoring for SINGLE_WORKER missions, and a
// Haversine-distance nearest-split for MULTI_WORKER/CLUSTER missions.
package assign

import (
	"math"

	"github.com/fleetcore/fleetcore/pkg/config"
	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/types"
)

// Assigner picks the worker or worker set for a mission out of a
// candidate pool, per spec.md §4.6.
type Assigner struct {
	batteryWeight    float64
	capabilityWeight float64
}

// New builds an Assigner from the configured scoring weights.
func New(cfg config.Config) *Assigner {
	return &Assigner{
		batteryWeight:    cfg.BatteryWeight,
		capabilityWeight: cfg.CapabilityWeight,
	}
}

// Assign selects the worker(s) to carry out m from candidates, filtering
// on hard constraints first and then, for SINGLE_WORKER missions,
// scoring survivors by a weighted battery/capability-match function;
// for MULTI_WORKER/CLUSTER missions it splits the search area into N
// sub-regions (SplitArea) and takes, for each, the nearest feasible
// worker not already claimed by another sub-region.
func (a *Assigner) Assign(m *types.Mission, candidates []*types.Worker) ([]*types.Worker, error) {
	feasible := a.filter(m, candidates)
	if len(feasible) == 0 {
		return nil, &ferrors.NoFeasibleAssignment{MissionID: m.ID, Reason: "no candidate worker satisfies hard constraints"}
	}

	switch m.Kind {
	case types.MissionSingleWorker:
		best := a.best(m, feasible)
		return []*types.Worker{best}, nil
	case types.MissionMultiWorker, types.MissionCluster:
		need := m.Constraints.WorkerCount
		if need <= 0 {
			need = 1
		}
		if len(feasible) < need {
			return nil, &ferrors.NoFeasibleAssignment{MissionID: m.ID, Reason: "not enough feasible workers for requested worker count"}
		}
		return a.nearestN(m, feasible, need), nil
	default:
		return nil, &ferrors.NoFeasibleAssignment{MissionID: m.ID, Reason: "unknown mission kind"}
	}
}

func (a *Assigner) filter(m *types.Mission, candidates []*types.Worker) []*types.Worker {
	c := m.Constraints
	var out []*types.Worker
	for _, w := range candidates {
		if w.BatteryPercent < c.MinBattery {
			continue
		}
		if c.RequiredPayload != "" {
			if level, ok := w.Capabilities[c.RequiredPayload]; !ok || level <= 0 {
				continue
			}
		}
		if w.Position != nil && w.Position.Alt < c.MinAltitude {
			continue
		}
		if c.MaxDistanceFromArea > 0 && w.Position != nil && len(m.Payload.Area) > 0 {
			centroid := centroidOf(m.Payload.Area)
			if haversine(w.Position.Lat, w.Position.Lon, centroid.Lat, centroid.Lon) > c.MaxDistanceFromArea {
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

// best returns the highest-scoring feasible worker: a weighted sum of
// normalized battery level and capability match against the mission's
// required payload. Ties are broken by worker ID rather than candidate
// iteration order, so repeated runs over the same pool are stable.
func (a *Assigner) best(m *types.Mission, feasible []*types.Worker) *types.Worker {
	var bestWorker *types.Worker
	var bestScore float64 = -1

	for _, w := range feasible {
		score := a.score(m, w)
		if bestWorker == nil || score > bestScore || (score == bestScore && w.ID < bestWorker.ID) {
			bestScore = score
			bestWorker = w
		}
	}
	return bestWorker
}

func (a *Assigner) score(m *types.Mission, w *types.Worker) float64 {
	batteryScore := w.BatteryPercent / 100.0

	capScore := 1.0
	if m.Constraints.RequiredPayload != "" {
		capScore = w.Capabilities[m.Constraints.RequiredPayload]
		if capScore > 1 {
			capScore = 1
		}
	}

	return a.batteryWeight*batteryScore + a.capabilityWeight*capScore
}

// nearestN splits the mission's search area into n sub-regions and
// assigns each to its nearest still-unassigned feasible worker,
// forming a bijection between sub-regions and workers rather than
// just taking the n closest workers to one shared centroid.
func (a *Assigner) nearestN(m *types.Mission, feasible []*types.Worker, n int) []*types.Worker {
	subRegions := SplitArea(m.Payload.Area, n)

	assigned := make(map[string]bool, n)
	out := make([]*types.Worker, 0, n)
	for _, region := range subRegions {
		centroid := centroidOf(region)

		var nearest *types.Worker
		var nearestDist float64
		for _, w := range feasible {
			if assigned[w.ID] {
				continue
			}
			d := 0.0
			if w.Position != nil {
				d = haversine(w.Position.Lat, w.Position.Lon, centroid.Lat, centroid.Lon)
			}
			if nearest == nil || d < nearestDist || (d == nearestDist && w.ID < nearest.ID) {
				nearest = w
				nearestDist = d
			}
		}
		if nearest == nil {
			break
		}
		assigned[nearest.ID] = true
		out = append(out, nearest)
	}
	return out
}

// SplitArea divides a mission's search area into n contiguous
// sub-regions along its longer axis (lat or lon), giving each worker
// in a MULTI_WORKER/CLUSTER mission a disjoint slice to cover. Also
// used by the scheduler to tell each dispatched worker which slice is
// theirs.
func SplitArea(area []types.Waypoint, n int) [][]types.Waypoint {
	if n <= 1 || len(area) == 0 {
		return [][]types.Waypoint{area}
	}

	minLat, maxLat := area[0].Lat, area[0].Lat
	minLon, maxLon := area[0].Lon, area[0].Lon
	for _, wp := range area[1:] {
		if wp.Lat < minLat {
			minLat = wp.Lat
		}
		if wp.Lat > maxLat {
			maxLat = wp.Lat
		}
		if wp.Lon < minLon {
			minLon = wp.Lon
		}
		if wp.Lon > maxLon {
			maxLon = wp.Lon
		}
	}

	splitOnLon := (maxLon - minLon) >= (maxLat - minLat)

	regions := make([][]types.Waypoint, n)
	for _, wp := range area {
		idx := 0
		if splitOnLon {
			if span := maxLon - minLon; span > 0 {
				idx = int(float64(n) * (wp.Lon - minLon) / span)
			}
		} else {
			if span := maxLat - minLat; span > 0 {
				idx = int(float64(n) * (wp.Lat - minLat) / span)
			}
		}
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		regions[idx] = append(regions[idx], wp)
	}

	// An empty bucket (area narrower than n, or all points sharing one
	// coordinate) still needs a worker, so it falls back to the full
	// area's centroid rather than being dropped.
	for i, r := range regions {
		if len(r) == 0 {
			regions[i] = area
		}
	}
	return regions
}

func centroidOf(area []types.Waypoint) types.Position {
	if len(area) == 0 {
		return types.Position{}
	}
	var lat, lon float64
	for _, wp := range area {
		lat += wp.Lat
		lon += wp.Lon
	}
	n := float64(len(area))
	return types.Position{Lat: lat / n, Lon: lon / n}
}

// haversine returns the great-circle distance in meters between two
// lat/lon points.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}
