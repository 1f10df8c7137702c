package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pointpattern-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	retry resilience.RetryConfig
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, retry: resilience.DefaultRetryConfig()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	dataset    TEXT NOT NULL,
	units      TEXT NOT NULL DEFAULT '',
	points     INTEGER NOT NULL,
	area       REAL NOT NULL,
	seed       INTEGER NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fits (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	formula      TEXT NOT NULL,
	coefficients TEXT NOT NULL,
	loglik       REAL NOT NULL,
	aic          REAL NOT NULL,
	df           INTEGER NOT NULL,
	iterations   INTEGER NOT NULL,
	converged    INTEGER NOT NULL,
	warnings     TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS comparisons (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	nested     TEXT NOT NULL,
	richer     TEXT NOT NULL,
	statistic  REAL NOT NULL,
	df         INTEGER NOT NULL,
	p_value    REAL NOT NULL,
	delta_aic  REAL NOT NULL,
	preferred  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
CREATE INDEX IF NOT EXISTS idx_fits_run_id ON fits(run_id);
CREATE INDEX IF NOT EXISTS idx_comparisons_run_id ON comparisons(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// exec retries writes that hit lock contention from a concurrent writer.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("sqlite", op)
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (sql.Result, error) {
		return s.db.ExecContext(ctx, query, args...)
	})
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run Run) (*Run, error) {
	run.ID = uuid.New().String()
	run.CreatedAt = time.Now().UTC()

	_, err := s.exec(ctx, "insert run",
		`INSERT INTO runs (id, dataset, units, points, area, seed, note, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Dataset, run.Units, run.Points, run.Area, int64(run.Seed), run.Note, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset, units, points, area, seed, note, created_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, dataset, units, points, area, seed, note, created_at FROM runs WHERE 1=1`
	var args []any

	if filter.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, filter.Dataset)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveFit(ctx context.Context, fit *FitRecord) error {
	coefJSON, err := json.Marshal(fit.Coefficients)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal coefficients")
	}
	warnJSON, err := json.Marshal(nonNil(fit.Warnings))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal warnings")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.exec(ctx, "insert fit",
		`INSERT INTO fits (id, run_id, formula, coefficients, loglik, aic, df, iterations, converged, warnings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, fit.RunID, fit.Formula, string(coefJSON), fit.LogLik, fit.AIC, fit.DF, fit.Iterations, fit.Converged, string(warnJSON), now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert fit for run %s", fit.RunID)
	}
	fit.ID, fit.CreatedAt = id, now
	return nil
}

func (s *SQLiteStore) ListFits(ctx context.Context, runID string) ([]FitRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, formula, coefficients, loglik, aic, df, iterations, converged, warnings, created_at
		 FROM fits WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list fits for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var fits []FitRecord
	for rows.Next() {
		var f FitRecord
		var coefJSON, warnJSON string
		if err := rows.Scan(&f.ID, &f.RunID, &f.Formula, &coefJSON, &f.LogLik, &f.AIC, &f.DF,
			&f.Iterations, &f.Converged, &warnJSON, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fit")
		}
		if err := json.Unmarshal([]byte(coefJSON), &f.Coefficients); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal coefficients")
		}
		if err := json.Unmarshal([]byte(warnJSON), &f.Warnings); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal warnings")
		}
		fits = append(fits, f)
	}
	return fits, eris.Wrap(rows.Err(), "sqlite: list fits iterate")
}

func (s *SQLiteStore) SaveComparison(ctx context.Context, cmp *ComparisonRecord) error {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.exec(ctx, "insert comparison",
		`INSERT INTO comparisons (id, run_id, nested, richer, statistic, df, p_value, delta_aic, preferred, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, cmp.RunID, cmp.Nested, cmp.Richer, cmp.Statistic, cmp.DF, cmp.PValue, cmp.DeltaAIC, cmp.Preferred, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert comparison for run %s", cmp.RunID)
	}
	cmp.ID, cmp.CreatedAt = id, now
	return nil
}

func (s *SQLiteStore) ListComparisons(ctx context.Context, runID string) ([]ComparisonRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, nested, richer, statistic, df, p_value, delta_aic, preferred, created_at
		 FROM comparisons WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list comparisons for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []ComparisonRecord
	for rows.Next() {
		var c ComparisonRecord
		if err := rows.Scan(&c.ID, &c.RunID, &c.Nested, &c.Richer, &c.Statistic, &c.DF,
			&c.PValue, &c.DeltaAIC, &c.Preferred, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan comparison")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list comparisons iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var seed int64
	if err := row.Scan(&r.ID, &r.Dataset, &r.Units, &r.Points, &r.Area, &seed, &r.Note, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
