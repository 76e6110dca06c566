package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/copyleftdev/evdispatch/internal/dispatch"
	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/logging"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// loadModelRequest carries the reference tables for one agency. Params, when
// present, is overlaid on the server defaults field by field.
type loadModelRequest struct {
	Stops  []dispatch.Stop `json:"stops"`
	Trips  []dispatch.Trip `json:"trips"`
	Params json.RawMessage `json:"params,omitempty"`
}

type loadModelResponse struct {
	ModelID string              `json:"model_id"`
	Stops   int                 `json:"stops"`
	Trips   int                 `json:"trips"`
	Blocks  int                 `json:"blocks"`
	Params  dispatch.Parameters `json:"params"`
}

type simulateRequest struct {
	// Chargers lists the stops that get a route charger.
	Chargers []units.StopID `json:"chargers"`
	// Detail includes the simulated trips in the response.
	Detail bool `json:"detail"`
	// Parallel simulates blocks concurrently.
	Parallel bool `json:"parallel"`
}

type simulateResponse struct {
	Cost          units.Dollars          `json:"cost"`
	Breakdown     dispatch.CostBreakdown `json:"breakdown"`
	BusesPerDepot map[units.DepotID]int  `json:"buses_per_depot"`
	TotalBuses    int                    `json:"total_buses"`
	Chargers      []units.StopID         `json:"chargers"`
	EnergyTraps   []string               `json:"energy_traps"`
	Trips         []dispatch.Trip        `json:"trips,omitempty"`
}

// overlay decodes raw on top of base. Fields absent from raw keep base's
// values; a stages list replaces the whole schedule.
func overlay(base dispatch.Parameters, raw json.RawMessage) (dispatch.Parameters, error) {
	p := base.Clone()
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return dispatch.Parameters{}, errors.Wrap(err, errors.KindConfiguration, "invalid params").
			WithComponent("server")
	}
	if _, ok := fields["stages"]; ok {
		// Decoding into the existing slice would merge stages by index.
		p.Stages = nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return dispatch.Parameters{}, errors.Wrap(err, errors.KindConfiguration, "invalid params").
			WithComponent("server")
	}
	return p, nil
}

func (s *Server) loadModel(req loadModelRequest) (*loadModelResponse, error) {
	if len(req.Trips) == 0 {
		return nil, errors.New(errors.KindData, "model has no trips").WithComponent("server")
	}
	params, err := overlay(s.defaults, req.Params)
	if err != nil {
		return nil, err
	}
	if err := params.ValidateSchedule(); err != nil {
		return nil, err
	}
	for i := range req.Trips {
		// Simulation fields are never accepted from callers.
		req.Trips[i] = dispatch.Trip{
			ID:               req.Trips[i].ID,
			BlockID:          req.Trips[i].BlockID,
			StartStopID:      req.Trips[i].StartStopID,
			EndStopID:        req.Trips[i].EndStopID,
			StartArrivalTime: req.Trips[i].StartArrivalTime,
			EndArrivalTime:   req.Trips[i].EndArrivalTime,
			Distance:         req.Trips[i].Distance,
			WaitTime:         req.Trips[i].WaitTime,
		}
	}

	m, err := dispatch.NewModel(params, req.Stops, req.Trips)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s.modelsMu.Lock()
	s.models[id] = m
	s.modelsMu.Unlock()

	s.logger.Info("Model loaded", map[string]interface{}{
		"model_id": id,
		"stops":    len(req.Stops),
		"trips":    len(req.Trips),
		"blocks":   m.BlockCount(),
	})

	return &loadModelResponse{
		ModelID: id,
		Stops:   len(req.Stops),
		Trips:   len(req.Trips),
		Blocks:  m.BlockCount(),
		Params:  m.Params(),
	}, nil
}

func (s *Server) updateParams(modelID string, raw json.RawMessage) (dispatch.Parameters, error) {
	m, err := s.model(modelID)
	if err != nil {
		return dispatch.Parameters{}, err
	}
	p, err := overlay(m.Params(), raw)
	if err != nil {
		return dispatch.Parameters{}, err
	}
	if err := p.ValidateSchedule(); err != nil {
		return dispatch.Parameters{}, err
	}
	if err := m.UpdateParams(p); err != nil {
		return dispatch.Parameters{}, err
	}
	return m.Params(), nil
}

// placementFor turns a charger list into a placement over every stop the
// model's trips touch.
func placementFor(m *dispatch.Model, chargers []units.StopID) (dispatch.ChargerPlacement, error) {
	p := make(dispatch.ChargerPlacement)
	for _, id := range m.TripStops() {
		p[id] = false
	}
	stops := m.Stops()
	for _, id := range chargers {
		if _, ok := stops[id]; !ok {
			return nil, errors.Errorf(errors.KindData, "charger stop %s is not in the stop table", id).
				WithComponent("server")
		}
		p[id] = true
	}
	return p, nil
}

// chargerList returns the stops with a charger, ascending.
func chargerList(p dispatch.ChargerPlacement) []units.StopID {
	ids := []units.StopID{}
	for id, on := range p {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Server) simulate(ctx context.Context, modelID string, req simulateRequest) (*simulateResponse, error) {
	m, err := s.model(modelID)
	if err != nil {
		return nil, err
	}
	placement, err := placementFor(m, req.Chargers)
	if err != nil {
		return nil, err
	}

	params := m.Params()
	start := time.Now()
	var res *dispatch.ModelResult
	if req.Parallel {
		res, err = m.EvaluateParallel(ctx, placement, s.cfg.Optimization.WorkerCount, true)
	} else {
		res, err = m.EvaluateWith(params, placement, true)
	}

	traps := []string{}
	if err == nil {
		for _, t := range dispatch.EnergyTraps(res.Trips) {
			traps = append(traps, t.ID)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveSimulation(time.Since(start), len(traps), err)
	}
	if err != nil {
		return nil, err
	}

	out := &simulateResponse{
		Cost:          res.Cost,
		Breakdown:     dispatch.Breakdown(params, placement, res.BusesPerDepot),
		BusesPerDepot: res.BusesPerDepot,
		TotalBuses:    res.TotalBuses(),
		Chargers:      chargerList(placement),
		EnergyTraps:   traps,
	}
	if req.Detail {
		out.Trips = res.Trips
	}
	return out, nil
}

// handleLoadModel handles POST /api/v1/models
func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req loadModelRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.loadModel(req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleUpdateParams handles PUT /api/v1/models/{id}/params
func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := s.decodeBody(w, r, &raw); err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.updateParams(chi.URLParam(r, "id"), raw)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("Parameters updated", map[string]interface{}{
		"model_id": chi.URLParam(r, "id"),
	})
	writeJSON(w, http.StatusOK, p)
}

// handleSimulate handles POST /api/v1/models/{id}/simulate
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if r.ContentLength != 0 {
		if err := s.decodeBody(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	res, err := s.simulate(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
