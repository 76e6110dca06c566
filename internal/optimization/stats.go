package optimization

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/evdispatch/internal/units"
)

// GenerationStats summarises the evaluated population of one generation.
type GenerationStats struct {
	Restart    int           `json:"restart"`
	Stage      int           `json:"stage"`
	Generation int           `json:"generation"`
	Population int           `json:"population"`
	BestCost   units.Dollars `json:"best_cost"`
	MeanCost   units.Dollars `json:"mean_cost"`
	StdDevCost units.Dollars `json:"stddev_cost"`
}

// NewGenerationStats computes the cost statistics of a population. The
// standard deviation of a population of one is zero.
func NewGenerationStats(restart, stage, generation int, costs []units.Dollars) GenerationStats {
	s := GenerationStats{
		Restart:    restart,
		Stage:      stage,
		Generation: generation,
		Population: len(costs),
		BestCost:   units.InvalidDollars(),
		MeanCost:   units.InvalidDollars(),
		StdDevCost: units.InvalidDollars(),
	}
	if len(costs) == 0 {
		return s
	}

	xs := make([]float64, len(costs))
	best := math.Inf(1)
	for i, c := range costs {
		xs[i] = float64(c)
		best = math.Min(best, xs[i])
	}

	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	s.BestCost = units.Dollars(best)
	s.MeanCost = units.Dollars(mean)
	s.StdDevCost = units.Dollars(std)
	return s
}
