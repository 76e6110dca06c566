// Package store persists finished optimization runs.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// Run status values.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is the persisted summary of one optimization job.
type Run struct {
	ID          string         `json:"id"`
	ModelID     string         `json:"model_id"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Cost        units.Dollars  `json:"cost"`
	Buses       int            `json:"buses"`
	Chargers    []units.StopID `json:"chargers"`
	Evaluations int            `json:"evaluations"`
	Seed        int64          `json:"seed"`
	Error       string         `json:"error,omitempty"`
}

// Store saves and lists runs.
type Store interface {
	// SaveRun inserts run or replaces the run with the same ID.
	SaveRun(ctx context.Context, run Run) error
	// GetRun returns a KindNotFound error for unknown ids.
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns up to limit runs, most recently finished first. A
	// limit of zero or less returns every run.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type     string
	DSN      string
	MaxConns int
}

// Open returns the store named by cfg.Type: memory, sqlite or postgres.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN, cfg.MaxConns)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	default:
		return nil, errors.Errorf(errors.KindConfiguration, "unknown store type %q", cfg.Type).
			WithComponent("store").WithOperation("open")
	}
}

func notFound(id string) error {
	return errors.Errorf(errors.KindNotFound, "run %q not found", id).
		WithComponent("store").WithOperation("get")
}

// Memory keeps runs in process memory.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]Run
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]Run)}
}

func (m *Memory) SaveRun(_ context.Context, run Run) error {
	run.Chargers = append([]units.StopID(nil), run.Chargers...)
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, notFound(id)
	}
	return run, nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	runs := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].FinishedAt.Equal(runs[j].FinishedAt) {
			return runs[i].FinishedAt.After(runs[j].FinishedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *Memory) Close() error { return nil }
