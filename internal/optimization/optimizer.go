// Package optimization defines the contract between charger-placement
// optimizers and their callers.
package optimization

import (
	"context"

	"github.com/copyleftdev/evdispatch/internal/dispatch"
	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// Optimizer defines the interface for charger-placement search algorithms
type Optimizer interface {
	// Optimize runs the search to completion or until ctx is cancelled
	Optimize(ctx context.Context, config OptimizerConfig) (*OptimizationResult, error)

	// GetBestSolution returns the cheapest placement found so far, without
	// trip detail. It is nil before the first generation has been evaluated.
	GetBestSolution() *dispatch.ModelResult

	// GetHistory returns one entry per completed generation
	GetHistory() []GenerationStats

	// Stop gracefully stops the optimization process
	Stop()
}

// OptimizerConfig contains configuration for one optimization run
type OptimizerConfig struct {
	// Model supplies the trips, stops and, unless Params is set, the parameters.
	Model *dispatch.Model

	// Params overrides the model's current parameters for this run.
	Params *dispatch.Parameters

	// Maximum number of concurrent evaluations. Zero means one per CPU.
	WorkerCount int

	// OnGeneration is called after every generation, from the optimizer's
	// goroutine. It must not block.
	OnGeneration func(GenerationStats)
}

// Parameters returns the snapshot the run will use.
func (c OptimizerConfig) Parameters() dispatch.Parameters {
	if c.Params != nil {
		return c.Params.Clone()
	}
	return c.Model.Params()
}

// Validate checks that the run can start.
func (c OptimizerConfig) Validate() error {
	if c.Model == nil {
		return errors.New(errors.KindConfiguration, "optimizer needs a model").
			WithComponent("optimization").WithOperation("validate")
	}
	if c.WorkerCount < 0 {
		return errors.Errorf(errors.KindConfiguration, "worker count must be non-negative, got %d", c.WorkerCount).
			WithComponent("optimization").WithOperation("validate")
	}
	return c.Parameters().Validate()
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	// Best is the cheapest placement over all restarts, with trip detail.
	Best *dispatch.ModelResult `json:"best"`

	// Breakdown splits Best's cost into its terms.
	Breakdown dispatch.CostBreakdown `json:"breakdown"`

	// RestartCosts is the best cost reached by each restart, in order.
	RestartCosts []units.Dollars `json:"restart_costs"`

	History     []GenerationStats `json:"history"`
	Evaluations int               `json:"evaluations"`

	// EnergyTraps counts trips in Best whose bus ran out of charge.
	EnergyTraps int `json:"energy_traps"`

	// Seed is the seed actually used, so a run seeded from the OS can be
	// repeated.
	Seed int64 `json:"seed"`
}
