package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/evdispatch/internal/units"
)

const testDepot units.DepotID = 100

// testParams uses 1 kWh/km so a trip's distance in km is its energy in kWh,
// and a 100 kW depot charger so one kWh takes 36 seconds.
func testParams(capacity units.KilowattHours) Parameters {
	p := DefaultParameters()
	p.BatteryCapacity = capacity
	p.EnergyPerDistance = 1
	p.DepotChargerRate = 100
	p.RouteChargerRate = 100
	return p
}

// testStops are all sitting on the depot, so depot detours cost nothing.
func testStops() StopTable {
	table := StopTable{}
	for _, id := range []units.StopID{1, 2, 3, 4} {
		table[id] = Stop{ID: id, DepotID: testDepot, DepotTime: 0, DepotDistance: 0}
	}
	return table
}

func stopList(table StopTable) []Stop {
	out := make([]Stop, 0, len(table))
	for _, s := range table {
		out = append(out, s)
	}
	return out
}

func newTrip(id string, block units.BlockID, from, to units.StopID, start, end units.Seconds, kwh float64) Trip {
	return Trip{
		ID:               id,
		BlockID:          block,
		StartStopID:      from,
		EndStopID:        to,
		StartArrivalTime: start,
		EndArrivalTime:   end,
		Distance:         units.Meters(kwh * 1000),
	}
}

// twoTripBlock is one block of two trips costing 4 kWh each.
func twoTripBlock() []Trip {
	return []Trip{
		newTrip("t1", 1, 1, 2, 0, 1000, 4),
		newTrip("t2", 1, 2, 1, 1200, 2200, 4),
	}
}

func byID(trips []Trip) map[string]Trip {
	out := make(map[string]Trip, len(trips))
	for _, t := range trips {
		out[t.ID] = t
	}
	return out
}

// tripsJSON compares trips with invalid (NaN) fields treated as equal.
func tripsJSON(t *testing.T, trips []Trip) string {
	t.Helper()
	data, err := json.Marshal(trips)
	require.NoError(t, err)
	return string(data)
}
