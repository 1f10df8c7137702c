package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleFit(runID string) *FitRecord {
	return &FitRecord{
		RunID:   runID,
		Formula: "~ Elevation + I(Elevation^2)",
		Coefficients: []Coefficient{
			{Name: "(Intercept)", Estimate: -4.2, SE: 0.11},
			{Name: "Elevation", Estimate: 1.3, SE: 0.2},
			{Name: "I(Elevation^2)", Estimate: -0.7, SE: math.NaN()},
		},
		LogLik:     -1234.5,
		AIC:        2475,
		DF:         3,
		Iterations: 7,
		Converged:  true,
		Warnings:   []string{"covariance unavailable"},
	}
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, Run{Dataset: "eagles", Units: "km", Points: 812, Area: 40000, Seed: 42, Note: "baseline"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "eagles", got.Dataset)
	assert.Equal(t, 812, got.Points)
	assert.Equal(t, uint64(42), got.Seed)
	assert.Equal(t, "baseline", got.Note)

	_, err = st.GetRun(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_ListRunsFiltersAndLimits(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	for _, ds := range []string{"eagles", "eagles", "hawks"} {
		_, err := st.CreateRun(ctx, Run{Dataset: ds, Points: 1, Area: 1})
		require.NoError(t, err)
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	eagles, err := st.ListRuns(ctx, RunFilter{Dataset: "eagles"})
	require.NoError(t, err)
	assert.Len(t, eagles, 2)

	one, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLite_SaveAndListFits(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run, err := st.CreateRun(ctx, Run{Dataset: "eagles", Points: 10, Area: 1})
	require.NoError(t, err)

	fit := sampleFit(run.ID)
	require.NoError(t, st.SaveFit(ctx, fit))
	assert.NotEmpty(t, fit.ID)

	second := sampleFit(run.ID)
	second.Formula = "~ bs(Elevation, 5)"
	second.Warnings = nil
	require.NoError(t, st.SaveFit(ctx, second))

	fits, err := st.ListFits(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, fits, 2)
	assert.Equal(t, fit.Formula, fits[0].Formula)
	assert.Equal(t, []string{"covariance unavailable"}, fits[0].Warnings)
	assert.Empty(t, fits[1].Warnings)
	require.Len(t, fits[0].Coefficients, 3)
	assert.InDelta(t, 1.3, fits[0].Coefficients[1].Estimate, 1e-12)
	assert.True(t, math.IsNaN(fits[0].Coefficients[2].SE), "undefined SE survives the round trip")
	assert.True(t, fits[0].Converged)
	assert.Equal(t, 7, fits[0].Iterations)

	none, err := st.ListFits(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_SaveFitRequiresRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.SaveFit(context.Background(), sampleFit("no-such-run"))
	assert.Error(t, err)
}

func TestSQLite_SaveAndListComparisons(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	run, err := st.CreateRun(ctx, Run{Dataset: "eagles", Points: 10, Area: 1})
	require.NoError(t, err)

	cmp := &ComparisonRecord{
		RunID:     run.ID,
		Nested:    "~ Elevation",
		Richer:    "~ Elevation + Forest",
		Statistic: 18.2,
		DF:        1,
		PValue:    2e-5,
		DeltaAIC:  -16.2,
		Preferred: "~ Elevation + Forest",
	}
	require.NoError(t, st.SaveComparison(ctx, cmp))
	assert.NotEmpty(t, cmp.ID)

	got, err := st.ListComparisons(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cmp.Preferred, got[0].Preferred)
	assert.InDelta(t, -16.2, got[0].DeltaAIC, 1e-12)
	assert.Equal(t, 1, got[0].DF)
}
