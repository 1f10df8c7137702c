package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/db"
	"github.com/sells-group/pointpattern-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var coefficientColumns = []string{"fit_id", "position", "name", "estimate", "se"}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, dataset, units, points, area, seed, note, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"get_run":           `SELECT id, dataset, units, points, area, seed, note, created_at FROM runs WHERE id = $1`,
	"insert_fit":        `INSERT INTO fits (id, run_id, formula, loglik, aic, df, iterations, converged, warnings, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"insert_comparison": `INSERT INTO comparisons (id, run_id, nested, richer, statistic, df, p_value, delta_aic, preferred, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
}

// NewPostgres creates a PostgresStore with a connection pool. Connecting
// is retried while the server is unreachable or starting up.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	retry := resilience.DefaultRetryConfig()
	connect := retry
	connect.OnRetry = resilience.RetryLogger("postgres", "connect")
	pool, err := resilience.DoVal(ctx, connect, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, retry: retry}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dataset    TEXT NOT NULL,
	units      TEXT NOT NULL DEFAULT '',
	points     INTEGER NOT NULL,
	area       DOUBLE PRECISION NOT NULL,
	seed       BIGINT NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fits (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	formula    TEXT NOT NULL,
	loglik     DOUBLE PRECISION NOT NULL,
	aic        DOUBLE PRECISION NOT NULL,
	df         INTEGER NOT NULL,
	iterations INTEGER NOT NULL,
	converged  BOOLEAN NOT NULL,
	warnings   JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fit_coefficients (
	fit_id   TEXT NOT NULL REFERENCES fits(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	estimate DOUBLE PRECISION NOT NULL,
	se       DOUBLE PRECISION,
	PRIMARY KEY (fit_id, position)
);

CREATE TABLE IF NOT EXISTS comparisons (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	nested     TEXT NOT NULL,
	richer     TEXT NOT NULL,
	statistic  DOUBLE PRECISION NOT NULL,
	df         INTEGER NOT NULL,
	p_value    DOUBLE PRECISION NOT NULL,
	delta_aic  DOUBLE PRECISION NOT NULL,
	preferred  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
CREATE INDEX IF NOT EXISTS idx_fits_run_id ON fits(run_id);
CREATE INDEX IF NOT EXISTS idx_comparisons_run_id ON comparisons(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) retrying(op string) resilience.RetryConfig {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("postgres", op)
	return cfg
}

func (s *PostgresStore) CreateRun(ctx context.Context, run Run) (*Run, error) {
	run.ID = uuid.New().String()
	run.CreatedAt = time.Now().UTC()

	err := resilience.Do(ctx, s.retrying("insert run"), func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO runs (id, dataset, units, points, area, seed, note, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, run.Dataset, run.Units, run.Points, run.Area, int64(run.Seed), run.Note, run.CreatedAt,
		)
		return err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT id, dataset, units, points, area, seed, note, created_at FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: get run %s: run not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, dataset, units, points, area, seed, note, created_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Dataset != "" {
		query += fmt.Sprintf(` AND dataset = $%d`, argIdx)
		args = append(args, filter.Dataset)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveFit writes the fit row and copies its coefficients into
// fit_coefficients inside one transaction.
func (s *PostgresStore) SaveFit(ctx context.Context, fit *FitRecord) error {
	warnJSON, err := json.Marshal(nonNil(fit.Warnings))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal warnings")
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	rows := make([][]any, len(fit.Coefficients))
	for i, c := range fit.Coefficients {
		rows[i] = []any{id, i, c.Name, c.Estimate, finiteOrNil(c.SE)}
	}

	err = resilience.Do(ctx, s.retrying("insert fit"), func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return eris.Wrap(err, "postgres: begin fit")
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if _, err := tx.Exec(ctx,
			`INSERT INTO fits (id, run_id, formula, loglik, aic, df, iterations, converged, warnings, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, fit.RunID, fit.Formula, fit.LogLik, fit.AIC, fit.DF, fit.Iterations, fit.Converged, warnJSON, now,
		); err != nil {
			return err
		}
		if _, err := db.CopyFrom(ctx, tx, "fit_coefficients", coefficientColumns, rows); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return eris.Wrapf(err, "postgres: insert fit for run %s", fit.RunID)
	}
	fit.ID, fit.CreatedAt = id, now
	return nil
}

func (s *PostgresStore) ListFits(ctx context.Context, runID string) ([]FitRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, formula, loglik, aic, df, iterations, converged, warnings, created_at
		 FROM fits WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list fits for run %s", runID)
	}
	var fits []FitRecord
	index := make(map[string]int)
	for rows.Next() {
		var f FitRecord
		var warnJSON []byte
		if err := rows.Scan(&f.ID, &f.RunID, &f.Formula, &f.LogLik, &f.AIC, &f.DF,
			&f.Iterations, &f.Converged, &warnJSON, &f.CreatedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan fit")
		}
		if err := json.Unmarshal(warnJSON, &f.Warnings); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: unmarshal warnings")
		}
		index[f.ID] = len(fits)
		fits = append(fits, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list fits iterate")
	}
	if len(fits) == 0 {
		return fits, nil
	}

	coefRows, err := s.pool.Query(ctx,
		`SELECT c.fit_id, c.name, c.estimate, c.se FROM fit_coefficients c
		 JOIN fits f ON f.id = c.fit_id WHERE f.run_id = $1 ORDER BY c.fit_id, c.position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list coefficients for run %s", runID)
	}
	defer coefRows.Close()
	for coefRows.Next() {
		var fitID string
		var c Coefficient
		var se *float64
		if err := coefRows.Scan(&fitID, &c.Name, &c.Estimate, &se); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coefficient")
		}
		c.SE = math.NaN()
		if se != nil {
			c.SE = *se
		}
		if i, ok := index[fitID]; ok {
			fits[i].Coefficients = append(fits[i].Coefficients, c)
		}
	}
	return fits, eris.Wrap(coefRows.Err(), "postgres: list coefficients iterate")
}

func (s *PostgresStore) SaveComparison(ctx context.Context, cmp *ComparisonRecord) error {
	id := uuid.New().String()
	now := time.Now().UTC()
	err := resilience.Do(ctx, s.retrying("insert comparison"), func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO comparisons (id, run_id, nested, richer, statistic, df, p_value, delta_aic, preferred, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, cmp.RunID, cmp.Nested, cmp.Richer, cmp.Statistic, cmp.DF, cmp.PValue, cmp.DeltaAIC, cmp.Preferred, now,
		)
		return err
	})
	if err != nil {
		return eris.Wrapf(err, "postgres: insert comparison for run %s", cmp.RunID)
	}
	cmp.ID, cmp.CreatedAt = id, now
	return nil
}

func (s *PostgresStore) ListComparisons(ctx context.Context, runID string) ([]ComparisonRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, nested, richer, statistic, df, p_value, delta_aic, preferred, created_at
		 FROM comparisons WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list comparisons for run %s", runID)
	}
	defer rows.Close()

	var out []ComparisonRecord
	for rows.Next() {
		var c ComparisonRecord
		if err := rows.Scan(&c.ID, &c.RunID, &c.Nested, &c.Richer, &c.Statistic, &c.DF,
			&c.PValue, &c.DeltaAIC, &c.Preferred, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan comparison")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list comparisons iterate")
}

func finiteOrNil(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
