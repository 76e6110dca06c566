package dispatch

import (
	"sort"

	"github.com/copyleftdev/evdispatch/internal/units"
)

// DepotEvent is a bus leaving (+1) or returning to (-1) a depot.
type DepotEvent struct {
	Time  units.Seconds
	Depot units.DepotID
	Delta int
}

// DepotEvents extracts the depot departures and returns recorded on trips.
// Trips without a valid start or end depot contribute nothing for that end.
func DepotEvents(trips []Trip) []DepotEvent {
	events := make([]DepotEvent, 0, len(trips))
	for _, t := range trips {
		if t.StartDepotID.Valid() {
			events = append(events, DepotEvent{Time: t.BusyStart, Depot: t.StartDepotID, Delta: +1})
		}
		if t.EndDepotID.Valid() {
			events = append(events, DepotEvent{Time: t.BusyEnd, Depot: t.EndDepotID, Delta: -1})
		}
	}
	return events
}

// PeakConcurrency replays events in time order and returns, per depot, the
// largest number of buses out at once. At equal times returns are applied
// before departures. Depots with no events are absent from the result.
func PeakConcurrency(events []DepotEvent) map[units.DepotID]int {
	ordered := append([]DepotEvent(nil), events...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.Delta != b.Delta {
			return a.Delta < b.Delta
		}
		return a.Depot < b.Depot
	})

	out := make(map[units.DepotID]int)
	current := make(map[units.DepotID]int)
	for _, ev := range ordered {
		current[ev.Depot] += ev.Delta
		if current[ev.Depot] > out[ev.Depot] {
			out[ev.Depot] = current[ev.Depot]
		} else if _, seen := out[ev.Depot]; !seen {
			out[ev.Depot] = 0
		}
	}
	return out
}

// CountBuses returns the peak number of buses in service per depot for a
// simulated trip set.
func CountBuses(trips []Trip) map[units.DepotID]int {
	return PeakConcurrency(DepotEvents(trips))
}
