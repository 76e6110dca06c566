package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/evdispatch/internal/dispatch"
	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/optimization"
	"github.com/copyleftdev/evdispatch/internal/optimization/genetic"
	"github.com/copyleftdev/evdispatch/internal/store"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// Job status values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = store.StatusCompleted
	StatusFailed    = store.StatusFailed
	StatusCancelled = store.StatusCancelled
)

// OptimizationState represents the state of an optimization job.
// It tracks the progress, status, and results of an optimization process.
// Fields are guarded by Server.optimizationsMu.
type OptimizationState struct {
	ID          string
	ModelID     string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	Progress    float64
	Generations int
	Result      *optimization.OptimizationResult
	Error       string
	ErrorKind   string
	Optimizer   optimization.Optimizer
	CancelFunc  context.CancelFunc
	LastUpdated time.Time

	total int
}

type startResponse struct {
	OptimizationID string `json:"optimization_id"`
	Status         string `json:"status"`
}

type solutionView struct {
	Cost     units.Dollars  `json:"cost"`
	Chargers []units.StopID `json:"chargers"`
}

type statusResponse struct {
	OptimizationID string                         `json:"optimization_id"`
	ModelID        string                         `json:"model_id"`
	Status         string                         `json:"status"`
	Progress       float64                        `json:"progress"`
	Generations    int                            `json:"generations"`
	StartTime      string                         `json:"start_time"`
	LastUpdate     string                         `json:"last_update"`
	EndTime        string                         `json:"end_time,omitempty"`
	CurrentBest    *solutionView                  `json:"current_best,omitempty"`
	History        []optimization.GenerationStats `json:"history,omitempty"`
	Result         *resultView                    `json:"result,omitempty"`
	Error          string                         `json:"error,omitempty"`
	ErrorKind      string                         `json:"error_kind,omitempty"`
}

type resultView struct {
	solutionView
	Breakdown     dispatch.CostBreakdown `json:"breakdown"`
	BusesPerDepot map[units.DepotID]int  `json:"buses_per_depot"`
	TotalBuses    int                    `json:"total_buses"`
	RestartCosts  []units.Dollars        `json:"restart_costs"`
	Evaluations   int                    `json:"evaluations"`
	EnergyTraps   int                    `json:"energy_traps"`
	Seed          int64                  `json:"seed"`
}

// failureKind classifies a failed optimization. Evaluation failures caused
// by bad model data are reported as data errors.
func failureKind(err error) errors.Kind {
	if errors.HasKind(err, errors.KindData) {
		return errors.KindData
	}
	return errors.KindOf(err)
}

func totalGenerations(p dispatch.Parameters) int {
	n := 0
	for _, s := range p.Stages {
		n += s.Generations
	}
	return n * p.Restarts
}

// startOptimization validates the run configuration and starts the search in
// the background.
func (s *Server) startOptimization(modelID string, rawParams json.RawMessage) (*startResponse, error) {
	m, err := s.model(modelID)
	if err != nil {
		return nil, err
	}
	params, err := overlay(m.Params(), rawParams)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	state := &OptimizationState{
		ID:          id,
		ModelID:     modelID,
		Status:      StatusPending,
		StartTime:   now(),
		LastUpdated: now(),
		total:       totalGenerations(params),
	}

	opts := []genetic.Option{}
	if s.metrics != nil {
		opts = append(opts, genetic.WithRecorder(s.metrics))
	}
	optimizer := genetic.New(s.zap.With(zap.String("optimization_id", id)), opts...)
	state.Optimizer = optimizer

	cfg := optimization.OptimizerConfig{
		Model:       m,
		Params:      &params,
		WorkerCount: s.cfg.Optimization.WorkerCount,
		OnGeneration: func(optimization.GenerationStats) {
			s.optimizationsMu.Lock()
			state.Generations++
			if state.total > 0 {
				state.Progress = float64(state.Generations) / float64(state.total)
			}
			state.LastUpdated = now()
			s.optimizationsMu.Unlock()
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Create a cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	state.CancelFunc = cancel

	// Store the optimization state
	s.optimizationsMu.Lock()
	s.optimizations[id] = state
	s.optimizationsMu.Unlock()

	s.logger.Info("Optimization started", map[string]interface{}{
		"optimization_id": id,
		"model_id":        modelID,
		"generations":     state.total,
	})

	s.jobs.Add(1)
	go s.runOptimization(ctx, state, cfg)

	return &startResponse{OptimizationID: id, Status: StatusPending}, nil
}

// runOptimization executes the optimization process in a goroutine
func (s *Server) runOptimization(ctx context.Context, state *OptimizationState, cfg optimization.OptimizerConfig) {
	defer s.jobs.Done()
	defer state.CancelFunc()

	if s.metrics != nil {
		s.metrics.JobStarted()
		defer s.metrics.JobFinished()
	}

	// Update state to running
	s.optimizationsMu.Lock()
	if state.Status == StatusPending {
		state.Status = StatusRunning
	}
	s.optimizationsMu.Unlock()

	result, err := state.Optimizer.Optimize(ctx, cfg)

	// Update state with results
	s.optimizationsMu.Lock()
	switch {
	case err == nil:
		state.Status = StatusCompleted
		state.Result = result
		state.Progress = 1
	case errors.Is(err, context.Canceled):
		state.Status = StatusCancelled
	default:
		state.Status = StatusFailed
		state.Error = err.Error()
		state.ErrorKind = failureKind(err).String()
		s.logger.Error("Optimization failed", map[string]interface{}{
			"optimization_id": state.ID,
			"error":           err.Error(),
		})
	}
	end := now()
	state.EndTime = &end
	state.LastUpdated = end
	run := s.runRecord(state)
	s.optimizationsMu.Unlock()

	saveCtx, cancel := background()
	defer cancel()
	if err := s.store.SaveRun(saveCtx, run); err != nil {
		s.logger.Error("Failed to persist optimization run", map[string]interface{}{
			"optimization_id": state.ID,
			"error":           err.Error(),
		})
	}
}

// runRecord summarises a finished job. Callers hold optimizationsMu.
func (s *Server) runRecord(state *OptimizationState) store.Run {
	run := store.Run{
		ID:         state.ID,
		ModelID:    state.ModelID,
		Status:     state.Status,
		StartedAt:  state.StartTime,
		FinishedAt: *state.EndTime,
		Cost:       units.InvalidDollars(),
		Error:      state.Error,
	}
	switch {
	case state.Result != nil:
		best := state.Result.Best
		run.Cost = best.Cost
		run.Buses = best.TotalBuses()
		run.Chargers = chargerList(best.Placement)
		run.Evaluations = state.Result.Evaluations
		run.Seed = state.Result.Seed
	case state.Optimizer != nil:
		// A cancelled run still reports the best placement it reached.
		if best := state.Optimizer.GetBestSolution(); best != nil {
			run.Cost = best.Cost
			run.Chargers = chargerList(best.Placement)
		}
	}
	return run
}

func (s *Server) optimizationStatus(id string) (*statusResponse, error) {
	s.optimizationsMu.RLock()
	defer s.optimizationsMu.RUnlock()

	state, exists := s.optimizations[id]
	if !exists {
		return nil, errors.Errorf(errors.KindNotFound, "optimization %q not found", id).
			WithComponent("server")
	}

	response := &statusResponse{
		OptimizationID: state.ID,
		ModelID:        state.ModelID,
		Status:         state.Status,
		Progress:       state.Progress,
		Generations:    state.Generations,
		StartTime:      state.StartTime.Format(time.RFC3339),
		LastUpdate:     state.LastUpdated.Format(time.RFC3339),
		Error:          state.Error,
		ErrorKind:      state.ErrorKind,
	}

	// Add end time if available
	if state.EndTime != nil {
		response.EndTime = state.EndTime.Format(time.RFC3339)
	}

	if state.Optimizer != nil {
		response.History = state.Optimizer.GetHistory()
		if best := state.Optimizer.GetBestSolution(); best != nil {
			response.CurrentBest = &solutionView{Cost: best.Cost, Chargers: chargerList(best.Placement)}
		}
	}

	if res := state.Result; res != nil {
		response.Result = &resultView{
			solutionView:  solutionView{Cost: res.Best.Cost, Chargers: chargerList(res.Best.Placement)},
			Breakdown:     res.Breakdown,
			BusesPerDepot: res.Best.BusesPerDepot,
			TotalBuses:    res.Best.TotalBuses(),
			RestartCosts:  res.RestartCosts,
			Evaluations:   res.Evaluations,
			EnergyTraps:   res.EnergyTraps,
			Seed:          res.Seed,
		}
	}
	return response, nil
}

func (s *Server) cancelOptimization(id string) error {
	s.optimizationsMu.Lock()
	defer s.optimizationsMu.Unlock()

	state, exists := s.optimizations[id]
	if !exists {
		return errors.Errorf(errors.KindNotFound, "optimization %q not found", id).
			WithComponent("server")
	}

	switch state.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		// Already in a terminal state
		return errors.Errorf(errors.KindConfiguration, "cannot cancel optimization with status: %s", state.Status).
			WithComponent("server")
	}

	// Cancel the optimization
	if state.CancelFunc != nil {
		state.CancelFunc()
	}

	// Log the cancellation
	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})

	return nil
}

// handleOptimize handles POST /api/v1/models/{id}/optimize. The optional body
// is a params object overlaid on the model's parameters for this run.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if r.ContentLength != 0 {
		var body struct {
			Params json.RawMessage `json:"params"`
		}
		if err := s.decodeBody(w, r, &body); err != nil {
			s.respondError(w, r, err)
			return
		}
		raw = body.Params
	}

	result, err := s.startOptimization(chi.URLParam(r, "id"), raw)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /api/v1/status/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.optimizationStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/optimization/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cancelOptimization(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"optimization_id": id,
		"status":          "cancelling",
	})
}

// handleListRuns handles GET /api/v1/runs?limit=N
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, r, errors.Errorf(errors.KindConfiguration, "invalid limit %q", v).WithComponent("server"))
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}
