// Package metrics exposes simulator and optimizer activity as Prometheus
// metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/evdispatch/internal/optimization"
)

// Collector records dispatch and optimization metrics. It satisfies the
// genetic optimizer's Recorder interface.
type Collector struct {
	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	generations        prometheus.Counter
	bestCost           prometheus.Gauge
	simulations        *prometheus.CounterVec
	simulationDuration prometheus.Histogram
	energyTraps        prometheus.Counter
	activeJobs         prometheus.Gauge
}

// New registers the collectors on the default Prometheus registerer.
func New() (*Collector, error) {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg. A nil registerer defaults
// to the global one. Collectors that are already registered are reused, so
// several Collectors can share one registry.
func NewWithRegistry(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	c := &Collector{}
	if c.evaluations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evdispatch_evaluations_total",
		Help: "Candidate placements evaluated by the optimizer",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.evaluationDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evdispatch_evaluation_duration_seconds",
		Help:    "Time to simulate and price one candidate placement",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})); err != nil {
		return nil, err
	}
	if c.generations, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evdispatch_generations_total",
		Help: "Optimizer generations completed",
	})); err != nil {
		return nil, err
	}
	if c.bestCost, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evdispatch_generation_best_cost_dollars",
		Help: "Cheapest cost in the most recently completed generation",
	})); err != nil {
		return nil, err
	}
	if c.simulations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evdispatch_simulations_total",
		Help: "Simulations requested through the API",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.simulationDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evdispatch_simulation_duration_seconds",
		Help:    "Time to simulate a full schedule through the API",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if c.energyTraps, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evdispatch_energy_traps_total",
		Help: "Trips whose bus ran out of charge in API simulations",
	})); err != nil {
		return nil, err
	}
	if c.activeJobs, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evdispatch_optimization_jobs_active",
		Help: "Optimization jobs currently running",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveEvaluation records one optimizer evaluation.
func (c *Collector) ObserveEvaluation(d time.Duration, err error) {
	c.evaluations.WithLabelValues(outcome(err)).Inc()
	c.evaluationDuration.Observe(d.Seconds())
}

// ObserveGeneration records a completed generation.
func (c *Collector) ObserveGeneration(stats optimization.GenerationStats) {
	c.generations.Inc()
	if stats.BestCost.IsValid() {
		c.bestCost.Set(float64(stats.BestCost))
	}
}

// ObserveSimulation records a schedule simulation and the energy traps it
// produced.
func (c *Collector) ObserveSimulation(d time.Duration, traps int, err error) {
	c.simulations.WithLabelValues(outcome(err)).Inc()
	c.simulationDuration.Observe(d.Seconds())
	if traps > 0 {
		c.energyTraps.Add(float64(traps))
	}
}

// JobStarted and JobFinished track running optimization jobs.
func (c *Collector) JobStarted()  { c.activeJobs.Inc() }
func (c *Collector) JobFinished() { c.activeJobs.Dec() }
