package dispatch

import (
	"fmt"
	"math"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// Stage is one phase of the charger optimizer. Stages run in order, each for
// its own number of generations.
type Stage struct {
	Generations  int     `json:"generations"`
	MutationRate float64 `json:"mutation_rate"`
	KeepTop      int     `json:"keep_top"`
	SpawnSize    int     `json:"spawn_size"`
}

// Parameters configures the simulator, the cost model and the optimizer.
// A Parameters value is replaced wholesale; see Model.UpdateParams.
type Parameters struct {
	BatteryCapacity   units.KilowattHours `json:"battery_cap_kwh"`
	EnergyPerDistance units.KWhPerKm      `json:"kwh_per_km"`
	DepotChargerRate  units.Kilowatts     `json:"depot_charger_rate"`
	RouteChargerRate  units.Kilowatts     `json:"route_charger_rate"`

	BusCost           units.Dollars       `json:"bus_cost"`
	BatteryCostPerKWh units.DollarsPerKWh `json:"battery_cost_per_kwh"`
	DepotChargerCost  units.Dollars       `json:"depot_charger_cost"`
	RouteChargerCost  units.Dollars       `json:"route_charger_cost"`
	ChargersPerDepot  int                 `json:"chargers_per_depot"`

	Stages   []Stage `json:"stages"`
	Restarts int     `json:"restarts"`
	// Seed for the optimizer's random stream. Zero seeds from the OS.
	Seed int64 `json:"seed"`
}

// DefaultParameters returns a 200 kWh bus on a single short optimizer stage.
func DefaultParameters() Parameters {
	return Parameters{
		BatteryCapacity:   200,
		EnergyPerDistance: 1.2,
		DepotChargerRate:  125,
		RouteChargerRate:  500,
		BusCost:           500_000,
		BatteryCostPerKWh: 100,
		DepotChargerCost:  50_000,
		RouteChargerCost:  600_000,
		ChargersPerDepot:  1,
		Stages: []Stage{
			{Generations: 50, MutationRate: 0.05, KeepTop: 10, SpawnSize: 10},
		},
		Restarts: 1,
	}
}

// Clone returns a copy that shares no slices with p.
func (p Parameters) Clone() Parameters {
	cp := p
	cp.Stages = append([]Stage(nil), p.Stages...)
	return cp
}

// StagesFromArrays zips per-stage settings supplied as parallel lists.
func StagesFromArrays(generations []int, mutationRate []float64, keepTop []int, spawnSize []int) ([]Stage, error) {
	n := len(generations)
	if len(mutationRate) != n || len(keepTop) != n || len(spawnSize) != n {
		return nil, errors.Errorf(errors.KindConfiguration,
			"stage arrays differ in length: generations=%d mutation_rate=%d keep_top=%d spawn_size=%d",
			len(generations), len(mutationRate), len(keepTop), len(spawnSize)).
			WithComponent("dispatch").WithOperation("stages")
	}

	stages := make([]Stage, n)
	for i := range stages {
		stages[i] = Stage{
			Generations:  generations[i],
			MutationRate: mutationRate[i],
			KeepTop:      keepTop[i],
			SpawnSize:    spawnSize[i],
		}
	}
	return stages, nil
}

// ValidateSimulation checks the physical and cost parameters.
func (p Parameters) ValidateSimulation() error {
	var problems []string
	positive := func(name string, v float64, ok bool) {
		if !ok || v <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive", name))
		}
	}
	nonNegative := func(name string, v float64, ok bool) {
		if !ok || v < 0 {
			problems = append(problems, fmt.Sprintf("%s must be non-negative", name))
		}
	}

	positive("battery_cap_kwh", float64(p.BatteryCapacity), p.BatteryCapacity.IsValid())
	nonNegative("kwh_per_km", float64(p.EnergyPerDistance), p.EnergyPerDistance.IsValid())
	positive("depot_charger_rate", float64(p.DepotChargerRate), p.DepotChargerRate.IsValid())
	nonNegative("route_charger_rate", float64(p.RouteChargerRate), p.RouteChargerRate.IsValid())
	nonNegative("bus_cost", float64(p.BusCost), p.BusCost.IsValid())
	nonNegative("battery_cost_per_kwh", float64(p.BatteryCostPerKWh), p.BatteryCostPerKWh.IsValid())
	nonNegative("depot_charger_cost", float64(p.DepotChargerCost), p.DepotChargerCost.IsValid())
	nonNegative("route_charger_cost", float64(p.RouteChargerCost), p.RouteChargerCost.IsValid())
	if p.ChargersPerDepot < 0 {
		problems = append(problems, "chargers_per_depot must be non-negative")
	}

	if len(problems) > 0 {
		return errors.Errorf(errors.KindConfiguration, "invalid parameters: %v", problems).
			WithComponent("dispatch").WithOperation("validate")
	}
	return nil
}

// ValidateSchedule checks the optimizer stages, restarts and population sizes.
// A stage's keep_top may not exceed the population it reaches by its last
// generation, starting from the single initial individual.
func (p Parameters) ValidateSchedule() error {
	fail := func(format string, args ...interface{}) error {
		return errors.Errorf(errors.KindConfiguration, format, args...).
			WithComponent("dispatch").WithOperation("validate schedule")
	}

	if len(p.Stages) == 0 {
		return fail("at least one optimizer stage is required")
	}
	if p.Restarts < 1 {
		return fail("restarts must be at least 1, got %d", p.Restarts)
	}

	population := 1
	for i, s := range p.Stages {
		switch {
		case s.Generations < 0:
			return fail("stage %d: generations must be non-negative, got %d", i, s.Generations)
		case math.IsNaN(s.MutationRate) || s.MutationRate < 0 || s.MutationRate > 1:
			return fail("stage %d: mutation_rate must be within [0,1], got %v", i, s.MutationRate)
		case s.KeepTop < 1:
			return fail("stage %d: keep_top must be at least 1, got %d", i, s.KeepTop)
		case s.SpawnSize < 0:
			return fail("stage %d: spawn_size must be non-negative, got %d", i, s.SpawnSize)
		}
		if s.Generations == 0 {
			continue
		}

		// The population grows by a factor of 1+spawn_size per generation until
		// selection caps it, then stays at keep_top*(1+spawn_size).
		reached := population
		for g := 0; g < s.Generations; g++ {
			next := min(reached, s.KeepTop) * (1 + s.SpawnSize)
			if next == reached {
				break
			}
			reached = next
		}
		if s.KeepTop > reached {
			return fail("stage %d: keep_top %d exceeds population size %d", i, s.KeepTop, reached)
		}
		population = reached
	}
	return nil
}

// Validate checks both the simulation parameters and the optimizer schedule.
func (p Parameters) Validate() error {
	if err := p.ValidateSimulation(); err != nil {
		return err
	}
	return p.ValidateSchedule()
}
