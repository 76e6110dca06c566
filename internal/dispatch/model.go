package dispatch

import (
	"context"
	"sort"
	"sync"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// Model holds the stop and trip tables for one agency together with the
// current Parameters. The tables are immutable after NewModel; parameters
// can be swapped with UpdateParams between runs.
type Model struct {
	mu     sync.RWMutex
	params Parameters

	trips []Trip
	stops StopTable
}

// NewModel validates params, indexes stops and sorts a private copy of trips
// by block and start time. Duplicate stop ids are a data error.
func NewModel(params Parameters, stops []Stop, trips []Trip) (*Model, error) {
	if err := params.ValidateSimulation(); err != nil {
		return nil, err
	}

	table := make(StopTable, len(stops))
	for _, s := range stops {
		if !s.ID.Valid() {
			return nil, errors.New(errors.KindData, "stop table entry has no stop id").
				WithComponent("dispatch").WithOperation("load")
		}
		if _, dup := table[s.ID]; dup {
			return nil, errors.Errorf(errors.KindData, "stop %s appears twice in the stop table", s.ID).
				WithComponent("dispatch").WithOperation("load")
		}
		table[s.ID] = s
	}

	sorted := append([]Trip(nil), trips...)
	SortTrips(sorted)

	return &Model{
		params: params.Clone(),
		trips:  sorted,
		stops:  table,
	}, nil
}

// Params returns a copy of the current parameters.
func (m *Model) Params() Parameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.params.Clone()
}

// UpdateParams replaces the parameters without reloading trips or stops.
// Runs already in progress keep the parameters they started with.
func (m *Model) UpdateParams(p Parameters) error {
	if err := p.ValidateSimulation(); err != nil {
		return err
	}
	m.mu.Lock()
	m.params = p.Clone()
	m.mu.Unlock()
	return nil
}

// Trips returns a copy of the sorted trip template.
func (m *Model) Trips() []Trip {
	return append([]Trip(nil), m.trips...)
}

// Stops returns the stop table. Callers must not modify it.
func (m *Model) Stops() StopTable {
	return m.stops
}

// TripStops returns every stop referenced as a trip start or end, ascending.
func (m *Model) TripStops() []units.StopID {
	seen := make(map[units.StopID]struct{})
	for _, t := range m.trips {
		seen[t.StartStopID] = struct{}{}
		seen[t.EndStopID] = struct{}{}
	}
	ids := make([]units.StopID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BlockCount returns the number of schedule blocks.
func (m *Model) BlockCount() int {
	return len(SplitBlocks(m.trips))
}

// Run simulates the schedule for placement under the current parameters.
func (m *Model) Run(placement ChargerPlacement) ([]Trip, error) {
	return Simulate(m.trips, m.stops, m.Params(), placement)
}

// Evaluate runs the full pipeline for placement under the current
// parameters. With detail false the simulated trips are dropped from the
// result once the cost is known.
func (m *Model) Evaluate(placement ChargerPlacement, detail bool) (*ModelResult, error) {
	return m.EvaluateWith(m.Params(), placement, detail)
}

// EvaluateWith is Evaluate with an explicit parameter snapshot, so a long
// search is unaffected by concurrent UpdateParams calls.
func (m *Model) EvaluateWith(params Parameters, placement ChargerPlacement, detail bool) (*ModelResult, error) {
	trips, err := Simulate(m.trips, m.stops, params, placement)
	if err != nil {
		return nil, err
	}
	return assemble(params, placement, trips, detail), nil
}

// EvaluateParallel is Evaluate with the blocks simulated concurrently. It is
// meant for a single large evaluation; the optimizer already runs candidates
// in parallel and uses EvaluateWith.
func (m *Model) EvaluateParallel(ctx context.Context, placement ChargerPlacement, workers int, detail bool) (*ModelResult, error) {
	params := m.Params()
	trips, err := SimulateParallel(ctx, m.trips, m.stops, params, placement, workers)
	if err != nil {
		return nil, err
	}
	return assemble(params, placement, trips, detail), nil
}

func assemble(params Parameters, placement ChargerPlacement, trips []Trip, detail bool) *ModelResult {
	buses := CountBuses(trips)
	result := &ModelResult{
		Placement:     placement,
		BusesPerDepot: buses,
		Cost:          Cost(params, placement, buses),
	}
	if detail {
		result.Trips = trips
	}
	return result
}
