package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// simulator holds what one evaluation reads: parameters, stops and the
// candidate placement. It is never written to during a run.
type simulator struct {
	params    Parameters
	stops     StopTable
	placement ChargerPlacement
}

func (s *simulator) stop(id units.StopID, trip *Trip) (Stop, error) {
	st, ok := s.stops[id]
	if !ok {
		return Stop{}, errors.Errorf(errors.KindData, "trip %q references unknown stop %s", trip.ID, id).
			WithComponent("dispatch").WithOperation("simulate")
	}
	if !st.linked() {
		return Stop{}, errors.Errorf(errors.KindData, "stop %s used by trip %q has no depot linkage", id, trip.ID).
			WithComponent("dispatch").WithOperation("simulate")
	}
	return st, nil
}

func (s *simulator) energyToDepot(st Stop) units.KilowattHours {
	return st.DepotDistance.Energy(s.params.EnergyPerDistance)
}

// tripEnergy is the net energy a trip costs. A route charger at the end stop
// refunds the dwell time, but only when the block continues from there.
func (s *simulator) tripEnergy(t *Trip, continues bool) units.KilowattHours {
	e := t.Distance.Energy(s.params.EnergyPerDistance)
	if continues && s.placement[t.EndStopID] {
		e -= t.WaitTime.Energy(s.params.RouteChargerRate)
	}
	return e
}

// endTrip sends the bus back to the end stop's depot and keeps it busy until
// it has recharged.
func (s *simulator) endTrip(t *Trip, end Stop, energyLeft units.KilowattHours) {
	capacity := s.params.BatteryCapacity
	charge := units.MinEnergy(capacity, capacity-energyLeft)

	t.EnergyLeft = energyLeft
	t.EndDepotID = end.DepotID
	t.BusyEnd = t.EndArrivalTime + end.DepotTime + charge.ChargeTime(s.params.DepotChargerRate)
}

func checkTripInput(t *Trip) error {
	if !t.BlockID.Valid() {
		return errors.Errorf(errors.KindData, "trip %q has no block id", t.ID).
			WithComponent("dispatch").WithOperation("simulate")
	}
	if !t.StartArrivalTime.IsValid() || !t.EndArrivalTime.IsValid() || !t.Distance.IsValid() || !t.WaitTime.IsValid() {
		return errors.Errorf(errors.KindData, "trip %q has unset times or distance", t.ID).
			WithComponent("dispatch").WithOperation("simulate")
	}
	return nil
}

// simulateBlock assigns buses and battery state to one block in place.
// nextBus is the run-wide counter and is advanced once per bus started.
func (s *simulator) simulateBlock(block []Trip, nextBus *units.BusID) error {
	capacity := s.params.BatteryCapacity
	newBus := true
	energyLeft := capacity
	bus := units.InvalidBusID

	for i := range block {
		trip := &block[i]
		if err := checkTripInput(trip); err != nil {
			return err
		}
		start, err := s.stop(trip.StartStopID, trip)
		if err != nil {
			return err
		}
		end, err := s.stop(trip.EndStopID, trip)
		if err != nil {
			return err
		}

		if newBus {
			// The bus leaves a full depot and drives out to the first stop.
			energyLeft = capacity - s.energyToDepot(start)
			trip.BusyStart = trip.StartArrivalTime - start.DepotTime
			bus = *nextBus
			*nextBus++
			trip.StartDepotID = start.DepotID
			newBus = false
		} else {
			trip.BusyStart = trip.StartArrivalTime
		}
		trip.BusID = bus

		var next *Trip
		if i+1 < len(block) {
			next = &block[i+1]
		}
		tripEnergy := s.tripEnergy(trip, next != nil)
		toDepot := s.energyToDepot(end)

		if energyLeft < tripEnergy+toDepot {
			// Energy trap: run the trip anyway and record the deficit.
			s.endTrip(trip, end, energyLeft-tripEnergy-toDepot)
			newBus = true
			continue
		}

		if next == nil {
			s.endTrip(trip, end, energyLeft-tripEnergy-toDepot)
			return nil
		}

		if err := checkTripInput(next); err != nil {
			return err
		}
		nextEnd, err := s.stop(next.EndStopID, next)
		if err != nil {
			return err
		}
		nextEnergy := s.tripEnergy(next, i+2 < len(block))
		if energyLeft < tripEnergy+nextEnergy+s.energyToDepot(nextEnd) {
			s.endTrip(trip, end, energyLeft-tripEnergy-toDepot)
			newBus = true
		} else {
			energyLeft = units.MinEnergy(capacity, energyLeft-tripEnergy)
			trip.EnergyLeft = energyLeft
		}
	}
	return nil
}

func prepare(trips []Trip) []Trip {
	out := make([]Trip, len(trips))
	copy(out, trips)
	for i := range out {
		out[i].resetSimulation()
	}
	return out
}

// Simulate runs every block of trips, which must already be grouped by block
// and ordered by start time within each block (see SortTrips). It returns
// annotated copies; trips is not modified. Bus ids start at 1 and are shared
// across blocks in input order.
//
// A trip that references an unknown stop aborts the run with a data error.
// Running out of energy is not an error: the trip's EnergyLeft goes negative.
func Simulate(trips []Trip, stops StopTable, params Parameters, placement ChargerPlacement) ([]Trip, error) {
	s := &simulator{params: params, stops: stops, placement: placement}
	out := prepare(trips)

	nextBus := units.BusID(1)
	for _, block := range SplitBlocks(out) {
		if err := s.simulateBlock(block, &nextBus); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SimulateParallel is Simulate with blocks fanned out over at most workers
// goroutines (all CPUs when workers <= 0). Each block counts its own buses
// from 1; ids are shifted by the bus totals of the preceding blocks
// afterwards, so the output is identical to Simulate's.
func SimulateParallel(ctx context.Context, trips []Trip, stops StopTable, params Parameters, placement ChargerPlacement, workers int) ([]Trip, error) {
	s := &simulator{params: params, stops: stops, placement: placement}
	out := prepare(trips)
	blocks := SplitBlocks(out)
	used := make([]units.BusID, len(blocks))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, block := range blocks {
		i, block := i, block
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			local := units.BusID(1)
			if err := s.simulateBlock(block, &local); err != nil {
				return err
			}
			used[i] = local - 1
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var offset units.BusID
	for i, block := range blocks {
		for j := range block {
			if block[j].BusID.Valid() {
				block[j].BusID += offset
			}
		}
		offset += used[i]
	}
	return out, nil
}
