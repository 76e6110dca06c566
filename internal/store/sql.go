package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/copyleftdev/evdispatch/internal/errors"
	"github.com/copyleftdev/evdispatch/internal/units"
)

// The schema sticks to types both SQLite and PostgreSQL accept. Timestamps
// are RFC 3339 text so they sort lexically in either database.
const schema = `
CREATE TABLE IF NOT EXISTS optimization_runs (
	id           TEXT PRIMARY KEY,
	model_id     TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	cost         DOUBLE PRECISION,
	buses        BIGINT NOT NULL,
	chargers     TEXT NOT NULL,
	evaluations  BIGINT NOT NULL,
	seed         BIGINT NOT NULL,
	error        TEXT NOT NULL
)`

const upsertRun = `
INSERT INTO optimization_runs
	(id, model_id, status, started_at, finished_at, cost, buses, chargers, evaluations, seed, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	model_id = excluded.model_id,
	status = excluded.status,
	started_at = excluded.started_at,
	finished_at = excluded.finished_at,
	cost = excluded.cost,
	buses = excluded.buses,
	chargers = excluded.chargers,
	evaluations = excluded.evaluations,
	seed = excluded.seed,
	error = excluded.error`

const selectRuns = `
SELECT id, model_id, status, started_at, finished_at, cost, buses, chargers, evaluations, seed, error
FROM optimization_runs`

// timeLayout has a fixed width so text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQL stores runs in a database/sql database.
type SQL struct {
	db     *sql.DB
	driver string
}

// OpenSQLite opens (creating if needed) a SQLite database at path. Use
// "file::memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string, maxConns int) (*SQL, error) {
	if path == "" {
		path = "evdispatch.db"
	}
	if path == "file::memory:" || path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		maxConns = 1
	}
	return openSQL(ctx, "sqlite", path, maxConns)
}

// OpenPostgres connects through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindConfiguration, "postgres store needs DB_DSN").
			WithComponent("store").WithOperation("open")
	}
	return openSQL(ctx, "pgx", dsn, maxConns)
}

func openSQL(ctx context.Context, driver, dsn string, maxConns int) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if driver == "pgx" {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify %s connection: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s schema: %w", driver, err)
	}
	return &SQL{db: db, driver: driver}, nil
}

// rebind rewrites ? placeholders into PostgreSQL's numbered form.
func (s *SQL) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) SaveRun(ctx context.Context, run Run) error {
	chargers, err := json.Marshal(run.Chargers)
	if err != nil {
		return fmt.Errorf("encode chargers: %w", err)
	}
	cost := sql.NullFloat64{Float64: float64(run.Cost), Valid: run.Cost.IsValid()}

	_, err = s.db.ExecContext(ctx, s.rebind(upsertRun),
		run.ID, run.ModelID, run.Status,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		cost, run.Buses, string(chargers), run.Evaluations, run.Seed, run.Error)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQL) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectRuns+" WHERE id = ?"), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, notFound(id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (s *SQL) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := selectRuns + " ORDER BY finished_at DESC, id ASC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQL) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run               Run
		started, finished string
		cost              sql.NullFloat64
		chargers          string
	)
	err := sc.Scan(&run.ID, &run.ModelID, &run.Status, &started, &finished,
		&cost, &run.Buses, &chargers, &run.Evaluations, &run.Seed, &run.Error)
	if err != nil {
		return Run{}, err
	}

	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}
	run.Cost = units.InvalidDollars()
	if cost.Valid {
		run.Cost = units.Dollars(cost.Float64)
	}
	if err := json.Unmarshal([]byte(chargers), &run.Chargers); err != nil {
		return Run{}, fmt.Errorf("decode chargers: %w", err)
	}
	return run, nil
}
