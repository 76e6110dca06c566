package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	mem, err := OpenSQLite(ctx, "file::memory:", 4)
	require.NoError(t, err)
	file, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"), 2)
	require.NoError(t, err)

	stores := map[string]Store{
		"memory":      NewMemory(),
		"sqlite-mem":  mem,
		"sqlite-file": file,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func sampleRun(id string, finished time.Time) Run {
	return Run{
		ID:          id,
		ModelID:     "model-1",
		Status:      StatusCompleted,
		StartedAt:   finished.Add(-time.Minute),
		FinishedAt:  finished,
		Cost:        1_090_000,
		Buses:       2,
		Chargers:    []units.StopID{4, 17},
		Evaluations: 120,
		Seed:        42,
	}
}

func assertRunEqual(t *testing.T, want, got Run) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ModelID, got.ModelID)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.StartedAt.Equal(got.StartedAt), "started_at %v != %v", want.StartedAt, got.StartedAt)
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt), "finished_at %v != %v", want.FinishedAt, got.FinishedAt)
	assert.Equal(t, want.Cost.String(), got.Cost.String())
	assert.Equal(t, want.Buses, got.Buses)
	assert.Equal(t, want.Chargers, got.Chargers)
	assert.Equal(t, want.Evaluations, got.Evaluations)
	assert.Equal(t, want.Seed, got.Seed)
	assert.Equal(t, want.Error, got.Error)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("run-1", now)
			require.NoError(t, s.SaveRun(ctx, run))

			got, err := s.GetRun(ctx, "run-1")
			require.NoError(t, err)
			assertRunEqual(t, run, got)
		})
	}
}

func TestStoreFailedRunWithoutCost(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := Run{
				ID:         "failed",
				ModelID:    "m",
				Status:     StatusFailed,
				StartedAt:  now,
				FinishedAt: now,
				Cost:       units.InvalidDollars(),
				Error:      "trip \"x\" references unknown stop 9",
			}
			require.NoError(t, s.SaveRun(ctx, run))

			got, err := s.GetRun(ctx, "failed")
			require.NoError(t, err)
			assert.False(t, got.Cost.IsValid())
			assert.Empty(t, got.Chargers)
			assert.Equal(t, run.Error, got.Error)
		})
	}
}

func TestStoreUpsert(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			run := sampleRun("run-1", now)
			require.NoError(t, s.SaveRun(ctx, run))

			run.Status = StatusCancelled
			run.Cost = 2_000_000
			require.NoError(t, s.SaveRun(ctx, run))

			runs, err := s.ListRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, StatusCancelled, runs[0].Status)
			assert.Equal(t, units.Dollars(2_000_000), runs[0].Cost)
		})
	}
}

func TestStoreListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveRun(ctx, sampleRun("old", base)))
			require.NoError(t, s.SaveRun(ctx, sampleRun("new", base.Add(2*time.Hour))))
			require.NoError(t, s.SaveRun(ctx, sampleRun("mid", base.Add(time.Hour))))

			all, err := s.ListRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

			two, err := s.ListRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, two, 2)
			assert.Equal(t, "new", two[0].ID)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetRun(context.Background(), "missing")
			require.Error(t, err)
			assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
		})
	}
}

func TestStoreEmptyList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			runs, err := s.ListRuns(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, Config{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Type: "postgres"})
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))

	_, err = Open(ctx, Config{Type: "oracle"})
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestRebind(t *testing.T) {
	pg := &SQL{driver: "pgx"}
	lite := &SQL{driver: "sqlite"}
	q := "SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?"

	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}
