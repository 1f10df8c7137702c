package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointpattern-cli/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 1
	return &PostgresStore{pool: mock, retry: retry}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "eagles", "km", 812, 40000.0, int64(42), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), Run{Dataset: "eagles", Units: "km", Points: 812, Area: 40000, Seed: 42})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun_RetriesTransient(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	s.retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	runArgs := []any{pgxmock.AnyArg(), "eagles", "", 0, 0.0, int64(0), "", pgxmock.AnyArg()}
	mock.ExpectExec(`INSERT INTO runs`).WithArgs(runArgs...).
		WillReturnError(resilience.NewTransientError(errors.New("server starting")))
	mock.ExpectExec(`INSERT INTO runs`).WithArgs(runArgs...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := s.CreateRun(context.Background(), Run{Dataset: "eagles"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, dataset, units, points, area, seed, note, created_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE true AND dataset = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("eagles", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "dataset", "units", "points", "area", "seed", "note", "created_at"}).
			AddRow("r1", "eagles", "km", 800, 40000.0, int64(1), "", now).
			AddRow("r2", "eagles", "km", 810, 40000.0, int64(2), "refit", now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Dataset: "eagles", Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "refit", runs[1].Note)
	assert.Equal(t, uint64(2), runs[1].Seed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveFit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	fit := sampleFit("r1")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO fits`).
		WithArgs(pgxmock.AnyArg(), "r1", fit.Formula, fit.LogLik, fit.AIC, 3, 7, true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"fit_coefficients"}, coefficientColumns).WillReturnResult(3)
	mock.ExpectCommit()

	require.NoError(t, s.SaveFit(context.Background(), fit))
	assert.NotEmpty(t, fit.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveFit_RollsBackOnCopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	fit := sampleFit("r1")
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO fits`).
		WithArgs(pgxmock.AnyArg(), "r1", fit.Formula, fit.LogLik, fit.AIC, 3, 7, true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"fit_coefficients"}, coefficientColumns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	err := s.SaveFit(context.Background(), fit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert fit for run r1")
	assert.Empty(t, fit.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFits(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM fits WHERE run_id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "run_id", "formula", "loglik", "aic", "df", "iterations", "converged", "warnings", "created_at"}).
			AddRow("f1", "r1", "~ Elevation", -100.0, 204.0, 2, 5, true, []byte(`["sparse knots"]`), now))
	se := 0.2
	mock.ExpectQuery(`FROM fit_coefficients c`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"fit_id", "name", "estimate", "se"}).
			AddRow("f1", "(Intercept)", -3.0, &se).
			AddRow("f1", "Elevation", 0.5, (*float64)(nil)))

	fits, err := s.ListFits(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, fits, 1)
	assert.Equal(t, []string{"sparse knots"}, fits[0].Warnings)
	require.Len(t, fits[0].Coefficients, 2)
	assert.InDelta(t, 0.2, fits[0].Coefficients[0].SE, 1e-12)
	assert.True(t, math.IsNaN(fits[0].Coefficients[1].SE))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveComparison(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO comparisons`).
		WithArgs(pgxmock.AnyArg(), "r1", "~ 1", "~ Elevation", 12.0, 1, 0.0005, -10.0, "~ Elevation", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cmp := &ComparisonRecord{RunID: "r1", Nested: "~ 1", Richer: "~ Elevation", Statistic: 12, DF: 1, PValue: 0.0005, DeltaAIC: -10, Preferred: "~ Elevation"}
	require.NoError(t, s.SaveComparison(context.Background(), cmp))
	assert.NotEmpty(t, cmp.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListComparisons_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM comparisons WHERE run_id = \$1`).WithArgs("r1").WillReturnError(errors.New("boom"))

	_, err := s.ListComparisons(context.Background(), "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list comparisons")
	assert.NoError(t, mock.ExpectationsWereMet())
}
