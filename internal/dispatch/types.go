// Package dispatch simulates battery-electric buses serving a trip schedule
// and prices the resulting fleet.
//
// The pipeline for one candidate charger placement is
//
//	Simulate -> CountBuses -> Cost
//
// Model bundles the immutable stop and trip tables with replaceable
// Parameters and runs that pipeline.
package dispatch

import (
	"encoding/json"
	"sort"

	"github.com/copyleftdev/evdispatch/internal/units"
)

// Stop links a stop to its nearest depot.
type Stop struct {
	ID            units.StopID  `json:"stop_id"`
	DepotID       units.DepotID `json:"depot_id"`
	DepotTime     units.Seconds `json:"depot_time"`
	DepotDistance units.Meters  `json:"depot_distance"`
}

// UnmarshalJSON leaves fields absent from data invalid rather than zero, so a
// stop with no depot linkage is caught when a trip uses it.
func (s *Stop) UnmarshalJSON(data []byte) error {
	type plain Stop
	v := plain{
		ID:            units.InvalidStopID,
		DepotID:       units.InvalidDepotID,
		DepotTime:     units.InvalidSeconds(),
		DepotDistance: units.InvalidMeters(),
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Stop(v)
	return nil
}

func (s Stop) linked() bool {
	return s.DepotID.Valid() && s.DepotTime.IsValid() && s.DepotDistance.IsValid()
}

// StopTable indexes stops by id.
type StopTable map[units.StopID]Stop

// Trip is one scheduled passenger movement. The fields after WaitTime are
// filled in by the simulator and are invalid on input.
type Trip struct {
	ID               string        `json:"trip_id"`
	BlockID          units.BlockID `json:"block_id"`
	StartStopID      units.StopID  `json:"start_stop_id"`
	EndStopID        units.StopID  `json:"end_stop_id"`
	StartArrivalTime units.Seconds `json:"start_arrival_time"`
	EndArrivalTime   units.Seconds `json:"end_arrival_time"`
	Distance         units.Meters  `json:"distance"`
	// WaitTime is the dwell at the end stop before the block's next trip
	// departs. A route charger there tops the battery up for this long.
	WaitTime units.Seconds `json:"wait_time"`

	BusyStart    units.Seconds       `json:"bus_busy_start"`
	BusyEnd      units.Seconds       `json:"bus_busy_end"`
	BusID        units.BusID         `json:"bus_id"`
	StartDepotID units.DepotID       `json:"start_depot_id"`
	EndDepotID   units.DepotID       `json:"end_depot_id"`
	EnergyLeft   units.KilowattHours `json:"energy_left"`
}

// UnmarshalJSON leaves fields absent from data invalid rather than zero.
func (t *Trip) UnmarshalJSON(data []byte) error {
	type plain Trip
	v := plain{
		BlockID:          units.InvalidBlockID,
		StartStopID:      units.InvalidStopID,
		EndStopID:        units.InvalidStopID,
		StartArrivalTime: units.InvalidSeconds(),
		EndArrivalTime:   units.InvalidSeconds(),
		Distance:         units.InvalidMeters(),
		WaitTime:         units.InvalidSeconds(),
	}
	(*Trip)(&v).resetSimulation()
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = Trip(v)
	return nil
}

// Trapped reports whether the simulator ran this trip's bus below zero.
func (t Trip) Trapped() bool {
	return t.EnergyLeft.IsValid() && t.EnergyLeft < 0
}

func (t *Trip) resetSimulation() {
	t.BusyStart = units.InvalidSeconds()
	t.BusyEnd = units.InvalidSeconds()
	t.BusID = units.InvalidBusID
	t.StartDepotID = units.InvalidDepotID
	t.EndDepotID = units.InvalidDepotID
	t.EnergyLeft = units.InvalidKilowattHours()
}

// SortTrips orders trips by block id and then by start arrival time. Trips
// with equal keys keep their relative order.
func SortTrips(trips []Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		if trips[i].BlockID != trips[j].BlockID {
			return trips[i].BlockID < trips[j].BlockID
		}
		return trips[i].StartArrivalTime < trips[j].StartArrivalTime
	})
}

// SplitBlocks cuts trips into maximal contiguous runs sharing a block id. The
// returned slices alias trips.
func SplitBlocks(trips []Trip) [][]Trip {
	var blocks [][]Trip
	start := 0
	for i := 1; i <= len(trips); i++ {
		if i == len(trips) || trips[i].BlockID != trips[start].BlockID {
			blocks = append(blocks, trips[start:i])
			start = i
		}
	}
	return blocks
}

// EnergyTraps returns the trips whose bus ran out of charge.
func EnergyTraps(trips []Trip) []Trip {
	var out []Trip
	for _, t := range trips {
		if t.Trapped() {
			out = append(out, t)
		}
	}
	return out
}

// ChargerPlacement records which stops get a route charger.
type ChargerPlacement map[units.StopID]bool

// Clone returns an independent copy.
func (p ChargerPlacement) Clone() ChargerPlacement {
	cp := make(ChargerPlacement, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Count returns the number of stops with a charger.
func (p ChargerPlacement) Count() int {
	n := 0
	for _, on := range p {
		if on {
			n++
		}
	}
	return n
}

// Stops returns the stop ids in ascending order. Iterating in this order
// keeps mutation reproducible for a given seed.
func (p ChargerPlacement) Stops() []units.StopID {
	ids := make([]units.StopID, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Equal reports whether both placements cover the same stops with the same
// decisions.
func (p ChargerPlacement) Equal(o ChargerPlacement) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ModelResult is one evaluated candidate. Trips may be nil when the caller
// asked for the cost only.
type ModelResult struct {
	Trips         []Trip                `json:"trips,omitempty"`
	Placement     ChargerPlacement      `json:"placement"`
	BusesPerDepot map[units.DepotID]int `json:"buses_per_depot"`
	Cost          units.Dollars         `json:"cost"`
}

// Clone returns a copy that shares no maps or slices with r.
func (r *ModelResult) Clone() *ModelResult {
	cp := &ModelResult{
		Trips:         append([]Trip(nil), r.Trips...),
		Placement:     r.Placement.Clone(),
		BusesPerDepot: make(map[units.DepotID]int, len(r.BusesPerDepot)),
		Cost:          r.Cost,
	}
	if r.Trips == nil {
		cp.Trips = nil
	}
	for k, v := range r.BusesPerDepot {
		cp.BusesPerDepot[k] = v
	}
	return cp
}

// TotalBuses sums the peak bus counts over depots.
func (r *ModelResult) TotalBuses() int {
	return totalBuses(r.BusesPerDepot)
}

func totalBuses(perDepot map[units.DepotID]int) int {
	n := 0
	for _, c := range perDepot {
		n += c
	}
	return n
}
