package analysis

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/simulate"
	"github.com/sells-group/pointpattern-cli/internal/store"
)

func syntheticDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	opts := simulate.DefaultSynthetic()
	opts.Cells = 24
	opts.Expected = 300
	syn, err := simulate.Generate(opts)
	require.NoError(t, err)
	return &dataset.Dataset{Pattern: syn.Pattern, Covariates: syn.Covariates, Units: "m"}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Explore = config.ExploreConfig{QuadratNX: 4, QuadratNY: 4, BandwidthCandidates: 6, DensityFloor: 1e-12, Bins: 4, Alternative: "two.sided"}
	cfg.Envelope = config.EnvelopeConfig{NSim: 19, Seed: 7, NLags: 12, Workers: 2}
	cfg.Rhohat = config.RhohatConfig{Points: 32}
	cfg.Model = config.ModelConfig{
		Formulas:              []string{"Elevation + Forest + HFI", "Elevation + I(Elevation^2) + Forest + HFI"},
		MaxIter:               50,
		Tolerance:             1e-8,
		MinPointsPerKnot:      5,
		CollinearityThreshold: 0.9,
		PartialPoints:         24,
	}
	return cfg
}

func TestExplore(t *testing.T) {
	ds := syntheticDataset(t)
	res, err := Explore(ds, testConfig().Explore)
	require.NoError(t, err)

	assert.Equal(t, ds.Pattern.N(), res.Intensity.N)
	var total int
	for _, c := range res.Quadrat.Cells {
		total += c.Count
	}
	assert.Equal(t, ds.Pattern.N(), total)
	assert.Less(t, res.QuadratTest.PValue, 0.05, "inhomogeneous pattern")
	assert.Greater(t, res.Bandwidth.Sigma, 0.0)
	assert.Len(t, res.Bandwidth.Scores, 6)
	require.NotNil(t, res.Density)
	assert.Len(t, res.Covariates, 4)
	require.Len(t, res.Bins, 4)
	for _, b := range res.Bins {
		var n int
		for _, bin := range b.Bins {
			n += bin.Count
		}
		assert.Equal(t, ds.Pattern.N(), n+b.Unclassified, b.Covariate)
	}
}

func TestExplore_FixedBandwidth(t *testing.T) {
	ds := syntheticDataset(t)
	cfg := testConfig().Explore
	cfg.Bandwidth = 5000
	res, err := Explore(ds, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 5000, res.Bandwidth.Sigma, 1e-9)
	assert.Empty(t, res.Bandwidth.Scores)
}

func TestSecondOrder(t *testing.T) {
	ds := syntheticDataset(t)
	cfg := testConfig()

	homog, err := SecondOrder(context.Background(), ds, cfg.Envelope, nil)
	require.NoError(t, err)
	assert.False(t, homog.Inhomogeneous)
	assert.Equal(t, 20, homog.K.Envelope.Curves())
	assert.Equal(t, "K", homog.K.Envelope.Name)
	assert.Equal(t, "pcf", homog.PCF.Envelope.Name)
	assert.NotZero(t, homog.PCF.Envelope.R[0], "pcf lags skip zero")
	assert.Len(t, homog.L, len(homog.K.Envelope.R))

	ex, err := Explore(ds, cfg.Explore)
	require.NoError(t, err)
	inhom, err := SecondOrder(context.Background(), ds, cfg.Envelope, ex.Density)
	require.NoError(t, err)
	assert.True(t, inhom.Inhomogeneous)
	assert.Equal(t, "Kinhom", inhom.K.Envelope.Name)
	assert.GreaterOrEqual(t, inhom.K.Test.PValue, homog.K.Test.PValue,
		"the intensity surface explains the apparent clustering")
}

func TestFitModels(t *testing.T) {
	ds := syntheticDataset(t)
	res, err := FitModels(ds, testConfig().Model.Formulas, testConfig().Model)
	require.NoError(t, err)

	require.Len(t, res.Models, 3, "null model plus two formulas")
	assert.Equal(t, "~ 1", res.Summaries[0].Formula)
	assert.Len(t, res.Ranking, 3)
	assert.Len(t, res.Comparisons, 3, "null < linear < quadratic")
	for _, c := range res.Comparisons {
		assert.GreaterOrEqual(t, c.Statistic, 0.0)
	}
	assert.NotEqual(t, 0, res.Best, "covariates beat the intensity-only model")
	assert.Equal(t, ds.Pattern.N(), res.Quadrature.Data)

	_, err = FitModels(ds, []string{"bs(Elevation"}, testConfig().Model)
	assert.Error(t, err)
}

func TestFitPair(t *testing.T) {
	ds := syntheticDataset(t)
	cfg := testConfig().Model

	res, c, err := FitPair(ds, "Elevation + Forest", "Elevation + I(Elevation^2) + Forest", cfg)
	require.NoError(t, err)
	assert.Len(t, res.Models, 3)
	assert.Equal(t, "~ Elevation + Forest", c.Nested)
	assert.Equal(t, 1, c.DF)
	assert.GreaterOrEqual(t, c.Statistic, 0.0)

	_, c, err = FitPair(ds, "~ 1", "Forest", cfg)
	require.NoError(t, err)
	assert.Equal(t, "~ 1", c.Nested)

	tests := []struct {
		name           string
		nested, richer string
	}{
		{"not nested", "Elevation", "poly(Elevation, 2)"},
		{"reversed", "Elevation + Forest", "Elevation"},
		{"same model", "Forest", "Forest"},
		{"bad formula", "Forest", "bs(Forest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := FitPair(ds, tt.nested, tt.richer, cfg)
			assert.Error(t, err)
		})
	}
}

func TestDiagnose(t *testing.T) {
	ds := syntheticDataset(t)
	fits, err := FitModels(ds, testConfig().Model.Formulas, testConfig().Model)
	require.NoError(t, err)

	d, err := Diagnose(fits.BestModel(), CovariateNames(ds), testConfig().Model)
	require.NoError(t, err)
	assert.Len(t, d.Partial, 4)
	require.NotNil(t, d.Residuals)
	assert.Greater(t, d.Residuals.Sigma, 0.0)
}

func TestPipeline_RunRecordsFits(t *testing.T) {
	ds := syntheticDataset(t)
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	res, err := New(testConfig(), st).Run(ctx, "synthetic", ds)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Phases, 7)
	assert.NotNil(t, res.Inhomogeneous)
	assert.Len(t, res.Rhohat, 4)
	assert.NotNil(t, res.Correlation)
	assert.NotNil(t, res.Diagnostics)

	fits, err := st.ListFits(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, fits, 3)
	cmps, err := st.ListComparisons(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, cmps, 3)
}

func TestPipeline_NoCovariatesSkipsModelling(t *testing.T) {
	ds := syntheticDataset(t)
	ds.Covariates = nil
	cfg := testConfig()
	cfg.Explore.Bins = 0

	res, err := New(cfg, nil).Run(context.Background(), "bare", ds)
	require.NoError(t, err)
	assert.Nil(t, res.Fits)
	assert.Len(t, res.Phases, 3)
	assert.Empty(t, res.RunID)
}
