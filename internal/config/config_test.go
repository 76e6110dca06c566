package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/evdispatch/internal/dispatch"
	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, 0, cfg.Optimization.WorkerCount)

	p, err := cfg.DispatchParameters()
	require.NoError(t, err)
	assert.Equal(t, dispatch.DefaultParameters(), p)
}

func TestLoadDevelopmentLogsDebug(t *testing.T) {
	t.Setenv("ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadStages(t *testing.T) {
	t.Setenv("OPT_GENERATIONS", "20,10")
	t.Setenv("OPT_MUTATION_RATE", "0.2,0.02")
	t.Setenv("OPT_KEEP_TOP", "5,3")
	t.Setenv("OPT_SPAWN_SIZE", "4,2")
	t.Setenv("OPT_RESTARTS", "3")
	t.Setenv("OPT_SEED", "99")
	t.Setenv("BATTERY_CAP_KWH", "350")
	t.Setenv("ROUTE_CHARGER_COST", "450000")

	cfg, err := Load()
	require.NoError(t, err)

	p, err := cfg.DispatchParameters()
	require.NoError(t, err)
	assert.Equal(t, []dispatch.Stage{
		{Generations: 20, MutationRate: 0.2, KeepTop: 5, SpawnSize: 4},
		{Generations: 10, MutationRate: 0.02, KeepTop: 3, SpawnSize: 2},
	}, p.Stages)
	assert.Equal(t, 3, p.Restarts)
	assert.Equal(t, int64(99), p.Seed)
	assert.Equal(t, units.KilowattHours(350), p.BatteryCapacity)
	assert.Equal(t, units.Dollars(450000), p.RouteChargerCost)
}

func TestLoadMismatchedStageLists(t *testing.T) {
	t.Setenv("OPT_GENERATIONS", "20,10")
	t.Setenv("OPT_MUTATION_RATE", "0.2")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestLoadInvalidParameters(t *testing.T) {
	t.Setenv("BATTERY_CAP_KWH", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestLoadBadNumber(t *testing.T) {
	t.Setenv("HTTP_PORT", "eighty")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHARGERS_PER_DEPOT=3\nHTTP_PORT=9090\n"), 0o600))

	// The environment wins over the file.
	t.Setenv("HTTP_PORT", "7070")
	// Variables set by godotenv outlive the test; register them for cleanup.
	t.Setenv("CHARGERS_PER_DEPOT", "")
	os.Unsetenv("CHARGERS_PER_DEPOT")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, 3, cfg.Dispatch.ChargersPerDepot)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("EVDISPATCH_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("EVDISPATCH_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("EVDISPATCH_TEST_UNSET", "fallback"))
}
