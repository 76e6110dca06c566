package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/copyleftdev/evdispatch/internal/dispatch"
	"github.com/copyleftdev/evdispatch/internal/units"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		// Upper bound on uploaded model size.
		MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"67108864"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Database struct {
		Type     string `env:"DB_TYPE" envDefault:"memory"`
		DSN      string `env:"DB_DSN"`
		MaxConns int    `env:"DB_MAX_CONNS" envDefault:"10"`
	}
	Optimization struct {
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"0"`

		Generations  []int     `env:"OPT_GENERATIONS" envSeparator:"," envDefault:"50"`
		MutationRate []float64 `env:"OPT_MUTATION_RATE" envSeparator:"," envDefault:"0.05"`
		KeepTop      []int     `env:"OPT_KEEP_TOP" envSeparator:"," envDefault:"10"`
		SpawnSize    []int     `env:"OPT_SPAWN_SIZE" envSeparator:"," envDefault:"10"`
		Restarts     int       `env:"OPT_RESTARTS" envDefault:"1"`
		Seed         int64     `env:"OPT_SEED" envDefault:"0"`
	}
	Dispatch struct {
		BatteryCapacity   float64 `env:"BATTERY_CAP_KWH" envDefault:"200"`
		EnergyPerDistance float64 `env:"KWH_PER_KM" envDefault:"1.2"`
		DepotChargerRate  float64 `env:"DEPOT_CHARGER_RATE_KW" envDefault:"125"`
		RouteChargerRate  float64 `env:"ROUTE_CHARGER_RATE_KW" envDefault:"500"`
		BusCost           float64 `env:"BUS_COST" envDefault:"500000"`
		BatteryCostPerKWh float64 `env:"BATTERY_COST_PER_KWH" envDefault:"100"`
		DepotChargerCost  float64 `env:"DEPOT_CHARGER_COST" envDefault:"50000"`
		RouteChargerCost  float64 `env:"ROUTE_CHARGER_COST" envDefault:"600000"`
		ChargersPerDepot  int     `env:"CHARGERS_PER_DEPOT" envDefault:"1"`
	}
}

// Load reads the configuration from the environment. Variables in the given
// .env files fill in anything the environment does not set; missing files are
// ignored.
func Load(dotenv ...string) (*Config, error) {
	for _, path := range dotenv {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	// Set default database DSN based on type
	if cfg.Database.DSN == "" && strings.EqualFold(cfg.Database.Type, "sqlite") {
		// Ensure the data directory exists
		if err := os.MkdirAll("data", 0o755); err != nil {
			return nil, err
		}
		cfg.Database.DSN = filepath.Join("data", "evdispatch.db")
	}

	if _, err := cfg.DispatchParameters(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DispatchParameters builds the default model parameters from the
// environment and validates them.
func (c *Config) DispatchParameters() (dispatch.Parameters, error) {
	d := c.Dispatch
	o := c.Optimization

	stages, err := dispatch.StagesFromArrays(o.Generations, o.MutationRate, o.KeepTop, o.SpawnSize)
	if err != nil {
		return dispatch.Parameters{}, err
	}

	p := dispatch.Parameters{
		BatteryCapacity:   units.KilowattHours(d.BatteryCapacity),
		EnergyPerDistance: units.KWhPerKm(d.EnergyPerDistance),
		DepotChargerRate:  units.Kilowatts(d.DepotChargerRate),
		RouteChargerRate:  units.Kilowatts(d.RouteChargerRate),
		BusCost:           units.Dollars(d.BusCost),
		BatteryCostPerKWh: units.DollarsPerKWh(d.BatteryCostPerKWh),
		DepotChargerCost:  units.Dollars(d.DepotChargerCost),
		RouteChargerCost:  units.Dollars(d.RouteChargerCost),
		ChargersPerDepot:  d.ChargersPerDepot,
		Stages:            stages,
		Restarts:          o.Restarts,
		Seed:              o.Seed,
	}
	if err := p.Validate(); err != nil {
		return dispatch.Parameters{}, err
	}
	return p, nil
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
