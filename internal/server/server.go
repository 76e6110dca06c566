package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/evdispatch/internal/config"
	"github.com/copyleftdev/evdispatch/internal/dispatch"
	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/logging"
	"github.com/copyleftdev/evdispatch/internal/metrics"
	"github.com/copyleftdev/evdispatch/internal/store"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC surface over dispatch models and
// optimization jobs. Models and jobs live in memory; finished runs are
// written to the store.
type Server struct {
	cfg      *config.Config
	logger   Logger
	zap      *zap.Logger
	store    store.Store
	metrics  *metrics.Collector
	defaults dispatch.Parameters

	models   map[string]*dispatch.Model
	modelsMu sync.RWMutex

	// Optimization state management
	optimizations   map[string]*OptimizationState
	optimizationsMu sync.RWMutex // Protects the optimizations map

	jobs sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists finished runs to st instead of process memory.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics reports simulations and optimizer progress to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// NewServer creates a new server instance with the given config and logger.
// Default model parameters come from cfg; it is an error if they are invalid.
func NewServer(cfg *config.Config, logger Logger, opts ...Option) (*Server, error) {
	defaults, err := cfg.DispatchParameters()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		zap:           logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "optimizer"})),
		defaults:      defaults,
		models:        make(map[string]*dispatch.Model),
		optimizations: make(map[string]*OptimizationState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemory()
	}
	return s, nil
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/models", s.handleLoadModel)
		r.Put("/models/{id}/params", s.handleUpdateParams)
		r.Post("/models/{id}/simulate", s.handleSimulate)
		r.Post("/models/{id}/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/runs", s.handleListRuns)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels running optimizations and waits for them to record their
// outcome.
func (s *Server) Close() error {
	s.optimizationsMu.Lock()
	for _, opt := range s.optimizations {
		if opt.CancelFunc != nil {
			opt.CancelFunc()
		}
	}
	s.optimizationsMu.Unlock()

	s.jobs.Wait()
	return nil
}

func (s *Server) model(id string) (*dispatch.Model, error) {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "model %q not found", id).
			WithComponent("server")
	}
	return m, nil
}

// decodeBody reads a JSON request body, capped at the configured size.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxBodyBytes)
	if s.cfg.HTTP.MaxBodyBytes <= 0 {
		body = r.Body
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.Wrap(err, errors.KindConfiguration, "invalid request body").
			WithComponent("server")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError writes err as {"error": ...} with a status derived from its
// kind.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("Request failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  errors.KindOf(err).String(),
	})
}

func now() time.Time { return time.Now().UTC() }

// background returns a short-lived context for work that must outlive a
// cancelled job, such as recording its outcome.
func background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
