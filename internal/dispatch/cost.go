package dispatch

import (
	"github.com/copyleftdev/evdispatch/internal/units"
)

// CostBreakdown splits a candidate's capital cost into its terms.
type CostBreakdown struct {
	RouteChargers units.Dollars `json:"route_chargers"`
	Buses         units.Dollars `json:"buses"`
	Batteries     units.Dollars `json:"batteries"`
	DepotChargers units.Dollars `json:"depot_chargers"`
}

// Total sums the terms.
func (b CostBreakdown) Total() units.Dollars {
	return b.RouteChargers + b.Buses + b.Batteries + b.DepotChargers
}

// Breakdown prices a placement and the per-depot peak bus counts it led to.
// Every depot present in busesPerDepot counts as in use.
func Breakdown(params Parameters, placement ChargerPlacement, busesPerDepot map[units.DepotID]int) CostBreakdown {
	buses := totalBuses(busesPerDepot)
	return CostBreakdown{
		RouteChargers: params.RouteChargerCost.Times(placement.Count()),
		Buses:         params.BusCost.Times(buses),
		Batteries:     params.BatteryCapacity.Cost(params.BatteryCostPerKWh).Times(buses),
		DepotChargers: params.DepotChargerCost.Times(len(busesPerDepot) * params.ChargersPerDepot),
	}
}

// Cost is Breakdown(...).Total().
func Cost(params Parameters, placement ChargerPlacement, busesPerDepot map[units.DepotID]int) units.Dollars {
	return Breakdown(params, placement, busesPerDepot).Total()
}
