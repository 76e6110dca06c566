// Package genetic implements a staged evolutionary search over route-charger
// placements.
//
// Each generation evaluates the whole population concurrently, keeps the
// cheapest KeepTop individuals and lets every survivor spawn SpawnSize
// mutated children. Survivors are carried over unchanged, so the cheapest
// cost seen within a restart never increases. There is no crossover.
package genetic

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/evdispatch/internal/dispatch"
	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/optimization"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// Recorder receives progress events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveEvaluation(d time.Duration, err error)
	ObserveGeneration(stats optimization.GenerationStats)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvaluation(time.Duration, error)        {}
func (nopRecorder) ObserveGeneration(optimization.GenerationStats) {}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithRecorder reports evaluations and generations to r.
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) {
		if r != nil {
			o.recorder = r
		}
	}
}

// Optimizer implements optimization.Optimizer with a staged genetic search
type Optimizer struct {
	logger   *zap.Logger
	recorder Recorder

	mu      sync.RWMutex
	best    *dispatch.ModelResult
	history []optimization.GenerationStats
	cancel  context.CancelFunc
}

var _ optimization.Optimizer = (*Optimizer)(nil)

// New creates an optimizer. A nil logger discards log output.
func New(logger *zap.Logger, opts ...Option) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Optimizer{
		logger:   logger.Named("genetic"),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type individual struct {
	placement dispatch.ChargerPlacement
	cost      units.Dollars
	evaluated bool
}

// run is the state of one Optimize call.
type run struct {
	*Optimizer
	config  optimization.OptimizerConfig
	params  dispatch.Parameters
	initial dispatch.ChargerPlacement
	stream  *rand.Rand

	evaluations int
}

// Optimize runs params.Restarts independent staged searches and returns the
// cheapest placement found, re-simulated with full trip detail. Invalid
// configuration is reported before any evaluation. A failure during the
// search is wrapped as an evaluation error.
func (o *Optimizer) Optimize(ctx context.Context, config optimization.OptimizerConfig) (*optimization.OptimizationResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.best = nil
	o.history = nil
	o.mu.Unlock()
	defer cancel()

	params := config.Parameters()
	seed := params.Seed
	if seed == 0 {
		seed = entropySeed()
	}

	r := &run{
		Optimizer: o,
		config:    config,
		params:    params,
		initial:   initialPlacement(config.Model.TripStops()),
		stream:    rand.New(rand.NewSource(seed)),
	}

	o.logger.Info("starting optimization",
		zap.Int("stops", len(r.initial)),
		zap.Int("stages", len(params.Stages)),
		zap.Int("restarts", params.Restarts),
		zap.Int64("seed", seed))

	var best *individual
	restartCosts := make([]units.Dollars, 0, params.Restarts)
	for restart := 0; restart < params.Restarts; restart++ {
		winner, err := r.search(ctx, restart)
		if err != nil {
			return nil, err
		}
		restartCosts = append(restartCosts, winner.cost)
		o.logger.Info("restart finished",
			zap.Int("restart", restart),
			zap.Float64("cost", float64(winner.cost)))
		if best == nil || winner.cost < best.cost {
			best = winner
		}
	}

	final, err := config.Model.EvaluateWith(params, best.placement, true)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEvaluation, "re-evaluating best placement").
			WithComponent("genetic").WithOperation("optimize")
	}
	traps := len(dispatch.EnergyTraps(final.Trips))
	if traps > 0 {
		o.logger.Warn("best placement leaves energy traps", zap.Int("trips", traps))
	}
	o.logger.Info("optimization finished",
		zap.Float64("cost", float64(final.Cost)),
		zap.Int("chargers", final.Placement.Count()),
		zap.Int("buses", final.TotalBuses()),
		zap.Int("evaluations", r.evaluations))

	return &optimization.OptimizationResult{
		Best:         final,
		Breakdown:    dispatch.Breakdown(params, final.Placement, final.BusesPerDepot),
		RestartCosts: restartCosts,
		History:      o.GetHistory(),
		Evaluations:  r.evaluations,
		EnergyTraps:  traps,
		Seed:         seed,
	}, nil
}

// search runs every stage once from the initial individual and returns the
// cheapest survivor of the last generation.
func (r *run) search(ctx context.Context, restart int) (*individual, error) {
	population := []individual{{placement: r.initial.Clone()}}
	ran := false

	for si, stage := range r.params.Stages {
		r.logger.Debug("entering stage",
			zap.Int("restart", restart),
			zap.Int("stage", si),
			zap.Int("generations", stage.Generations),
			zap.Float64("mutation_rate", stage.MutationRate))

		for g := 0; g < stage.Generations; g++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := r.evaluate(ctx, population); err != nil {
				return nil, err
			}
			ran = true

			r.observe(restart, si, g, population)
			population = selectSurvivors(population, stage.KeepTop)
			r.offer(&population[0])
			population = append(population, r.reproduce(population, stage)...)
		}
	}

	if !ran {
		// Every stage was empty: the answer is the initial placement.
		if err := r.evaluate(ctx, population[:1]); err != nil {
			return nil, err
		}
		r.offer(&population[0])
		return &population[0], nil
	}

	// Survivors lead the population in cost order; the children spawned after
	// the last selection were never evaluated.
	winner := population[0]
	return &winner, nil
}

// evaluate fills in the cost of every unevaluated individual. Survivors keep
// their cost since evaluation is deterministic.
func (r *run) evaluate(ctx context.Context, population []individual) error {
	g, ctx := errgroup.WithContext(ctx)
	if r.config.WorkerCount > 0 {
		g.SetLimit(r.config.WorkerCount)
	}

	var mu sync.Mutex
	for i := range population {
		ind := &population[i]
		if ind.evaluated {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			res, err := r.config.Model.EvaluateWith(r.params, ind.placement, false)
			r.recorder.ObserveEvaluation(time.Since(start), err)
			if err != nil {
				return errors.Wrap(err, errors.KindEvaluation, "evaluating candidate placement").
					WithComponent("genetic").WithOperation("evaluate")
			}
			ind.cost = res.Cost
			ind.evaluated = true

			mu.Lock()
			r.evaluations++
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// selectSurvivors orders population by ascending cost, keeping ties in
// their current order, and truncates it to keep.
func selectSurvivors(population []individual, keep int) []individual {
	sort.SliceStable(population, func(i, j int) bool {
		return population[i].cost < population[j].cost
	})
	if len(population) > keep {
		population = population[:keep]
	}
	return population
}

// reproduce spawns stage.SpawnSize children per parent. Each parent draws
// from its own stream seeded off the run stream, so the children do not
// depend on how evaluation was scheduled.
func (r *run) reproduce(parents []individual, stage dispatch.Stage) []individual {
	children := make([]individual, 0, len(parents)*stage.SpawnSize)
	for i, p := range parents {
		rng := rand.New(rand.NewSource(r.stream.Int63() + int64(i)))
		for c := 0; c < stage.SpawnSize; c++ {
			children = append(children, individual{
				placement: mutate(p.placement, stage.MutationRate, rng),
			})
		}
	}
	return children
}

// mutate returns a copy of parent with each stop flipped with probability
// rate. Stops are visited in ascending id order.
func mutate(parent dispatch.ChargerPlacement, rate float64, rng *rand.Rand) dispatch.ChargerPlacement {
	child := parent.Clone()
	for _, id := range parent.Stops() {
		if rng.Float64() < rate {
			child[id] = !child[id]
		}
	}
	return child
}

func (r *run) observe(restart, stage, generation int, population []individual) {
	costs := make([]units.Dollars, len(population))
	for i, ind := range population {
		costs[i] = ind.cost
	}
	stats := optimization.NewGenerationStats(restart, stage, generation, costs)

	r.mu.Lock()
	r.history = append(r.history, stats)
	r.mu.Unlock()

	r.recorder.ObserveGeneration(stats)
	if r.config.OnGeneration != nil {
		r.config.OnGeneration(stats)
	}
	r.logger.Debug("generation evaluated",
		zap.Int("restart", restart),
		zap.Int("stage", stage),
		zap.Int("generation", generation),
		zap.Int("population", stats.Population),
		zap.Float64("best_cost", float64(stats.BestCost)),
		zap.Float64("mean_cost", float64(stats.MeanCost)))
}

// offer records ind as the best solution so far if it is cheaper.
func (r *run) offer(ind *individual) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.best == nil || ind.cost < r.best.Cost {
		r.best = &dispatch.ModelResult{
			Placement: ind.placement.Clone(),
			Cost:      ind.cost,
		}
	}
}

// GetBestSolution returns the best solution found so far
func (o *Optimizer) GetBestSolution() *dispatch.ModelResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.best == nil {
		return nil
	}
	return o.best.Clone()
}

// GetHistory returns the per-generation statistics recorded so far
func (o *Optimizer) GetHistory() []optimization.GenerationStats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]optimization.GenerationStats(nil), o.history...)
}

// Stop stops the optimization process
func (o *Optimizer) Stop() {
	o.mu.RLock()
	cancel := o.cancel
	o.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// initialPlacement maps every stop a trip touches to no charger.
func initialPlacement(stops []units.StopID) dispatch.ChargerPlacement {
	p := make(dispatch.ChargerPlacement, len(stops))
	for _, id := range stops {
		p[id] = false
	}
	return p
}

func entropySeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	seed := int64(binary.LittleEndian.Uint64(b[:]) >> 1)
	if seed == 0 {
		seed = 1
	}
	return seed
}
