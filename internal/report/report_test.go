package report

import (
	"bytes"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pointpattern-cli/internal/analysis"
	"github.com/sells-group/pointpattern-cli/internal/explore"
	"github.com/sells-group/pointpattern-cli/internal/ppm"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/rhohat"
	"github.com/sells-group/pointpattern-cli/internal/secondorder"
	"github.com/sells-group/pointpattern-cli/internal/store"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", Text, false},
		{"TEXT", Text, false},
		{"yml", YAML, false},
		{"json", JSON, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func sampleFits() *analysis.FitResult {
	return &analysis.FitResult{
		Quadrature: analysis.QuadratureSummary{Dummy: 1024, Data: 120, Area: 40000},
		Summaries: []ppm.Summary{{
			Formula: "~ Elevation",
			Coefficients: []ppm.Coefficient{
				{Name: "(Intercept)", Estimate: -5.8, SE: 0.1, CILo: -6, CIHi: -5.6, Z: -58, PValue: 0},
				{Name: "Elevation", Estimate: 0.3, SE: math.NaN(), CILo: math.NaN(), CIHi: math.NaN(), Z: math.NaN(), PValue: math.NaN()},
			},
			LogLik: -812.5, AIC: 1629, DF: 2, Iterations: 6, Converged: true,
			Warnings: []string{"covariance matrix is singular"},
		}},
		Ranking:     []ppm.AICRow{{Formula: "~ Elevation", DF: 2, LogLik: -812.5, AIC: 1629}},
		Comparisons: []*ppm.Comparison{{Nested: "~ 1", Richer: "~ Elevation", Statistic: 12.4, DF: 1, PValue: 0.0004, DeltaAIC: -10.4, Preferred: "~ Elevation"}},
	}
}

func TestWrite_JSONReplacesNaN(t *testing.T) {
	var buf bytes.Buffer
	res := sampleFits()
	require.NoError(t, Write(&buf, JSON, res, FitText(res)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	models := decoded["models"].([]any)
	coefs := models[0].(map[string]any)["coefficients"].([]any)
	elev := coefs[1].(map[string]any)
	assert.Nil(t, elev["se"])
	assert.InDelta(t, 0.3, elev["estimate"], 1e-12)
	assert.Contains(t, decoded, "aic")
	assert.NotContains(t, decoded, "Models")
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	res := sampleFits()
	require.NoError(t, Write(&buf, YAML, res, FitText(res)))
	assert.Contains(t, buf.String(), "Elevation")
	assert.Contains(t, buf.String(), "loglik: -812.5")
	assert.Contains(t, buf.String(), ".nan")
}

func TestFitText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Text, nil, FitText(sampleFits())))
	out := buf.String()
	assert.Contains(t, out, "1,024 dummy and 120 data points")
	assert.Contains(t, out, "Model ~ Elevation")
	assert.Contains(t, out, "< 2.2e-16")
	assert.Contains(t, out, "***")
	assert.Contains(t, out, "warning: covariance matrix is singular")
	assert.Contains(t, out, "Likelihood ratio tests")
	assert.Contains(t, out, "0.0004")
}

func sampleEnvelope() *secondorder.EnvelopeResult {
	return &secondorder.EnvelopeResult{
		Name:        "K",
		R:           []float64{0, 5, 10},
		Observed:    []float64{0, 90, 400},
		Theoretical: []float64{0, 78.5, 314.2},
		Lo:          []float64{0, 60, 280},
		Hi:          []float64{0, 95, 350},
		Outside:     []bool{false, false, true},
		NSim:        19,
		Alpha:       0.1,
	}
}

func TestCurveText(t *testing.T) {
	var buf bytes.Buffer
	c := &analysis.Curve{Envelope: sampleEnvelope(), Test: &secondorder.GlobalTest{Statistic: 85.8, PValue: 0.05, Rank: 1}}
	require.NoError(t, CurveText(c)(&buf))
	out := buf.String()
	assert.Contains(t, out, "K with pointwise envelope of 19 simulations")
	assert.Contains(t, out, "rank 1 of 20, p = 0.0500")
	assert.Contains(t, out, "*\n")
}

func TestExploreText(t *testing.T) {
	res := &analysis.ExploreResult{
		Intensity: explore.IntensitySummary{N: 1500, Area: 40000, Lambda: 0.0375},
		Quadrat: &explore.QuadratCounts{NX: 2, NY: 1, N: 1500, Cells: []explore.Quadrat{
			{Col: 0, Row: 0, Count: 1000}, {Col: 1, Row: 0, Count: 500},
		}},
		QuadratTest: &explore.QuadratTestResult{Statistic: 166.7, DF: 1, PValue: 1e-20, Alternative: "two.sided"},
		Bandwidth:   &explore.BandwidthResult{Sigma: 7.5},
		Covariates:  []raster.Summary{{Name: "Forest", Defined: 256, Min: 0, Max: 1}},
		Bins: []analysis.CovariateBins{{Covariate: "Forest", Unclassified: 2, Bins: []raster.BinCount{
			{Lower: 0, Upper: 0.5, Count: 100, Area: 20000, Intensity: 0.005},
		}}},
	}
	var buf bytes.Buffer
	require.NoError(t, ExploreText(res)(&buf))
	out := buf.String()
	assert.Contains(t, out, "1,500 points / 40,000.00")
	assert.Contains(t, out, "X2 = 166.7, df = 1, p = < 2.2e-16")
	assert.Contains(t, out, "sigma = 7.5 (fixed)")
	assert.Contains(t, out, "Intensity by Forest class")
	assert.Contains(t, out, "2 points fall on cells without a value")
}

func TestRhohatAndCorrelationText(t *testing.T) {
	z := make([]float64, 64)
	rho := make([]float64, 64)
	for i := range z {
		z[i] = float64(i)
		rho[i] = 0.01
	}
	c := &rhohat.Curve{Covariate: "HFI", Bandwidth: 2, Z: z, Rho: rho, Lo: rho, Hi: rho, Average: 0.01, N: 300, Dropped: 1}
	var buf bytes.Buffer
	require.NoError(t, RhohatText([]*rhohat.Curve{c})(&buf))
	assert.Contains(t, buf.String(), "rho(HFI)")
	assert.Contains(t, buf.String(), "1 on missing cells")
	assert.Contains(t, buf.String(), "\n63 ")

	m := &raster.CorrelationMatrix{
		Names: []string{"A", "B"}, R: [][]float64{{1, 0.8}, {0.8, 1}}, Cells: 100, Threshold: 0.7,
		Pairs: []raster.Correlation{{A: "A", B: "B", R: 0.8, Flagged: true}},
	}
	buf.Reset()
	require.NoError(t, CorrelationText(m)(&buf))
	assert.Contains(t, buf.String(), "|r(A, B)| = 0.800 exceeds 0.70")
}

func TestSampleIndex(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, sampleIndex(3, 11))
	idx := sampleIndex(101, 11)
	assert.Len(t, idx, 11)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, 100, idx[10])
}

func TestRunsText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunsText(nil)(&buf))
	assert.Contains(t, buf.String(), "No runs recorded.")

	buf.Reset()
	runs := []store.Run{{ID: "0123456789abcdef", Dataset: "eagles", Points: 1234, Area: 5e5, Units: "km", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}}
	require.NoError(t, RunsText(runs)(&buf))
	out := buf.String()
	assert.Contains(t, out, "01234567 ")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "2026-03-01 10:00")

	buf.Reset()
	d := &RunDetail{
		Run:  &runs[0],
		Fits: []store.FitRecord{{Formula: "~ 1", Coefficients: []store.Coefficient{{Name: "(Intercept)", Estimate: -6, SE: math.NaN()}}, DF: 1}},
	}
	require.NoError(t, RunDetailText(d)(&buf))
	assert.Contains(t, buf.String(), "Model ~ 1")
	assert.Contains(t, buf.String(), "-6")
}

func TestExportCurves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curves.xlsx")
	sheets := []Sheet{
		EnvelopeSheet("inhomogeneous pair correlation function", sampleEnvelope()),
		EnvelopeSheet("inhomogeneous pair correlation function", sampleEnvelope()),
		{Name: "a/b", Columns: []string{"x"}, Rows: [][]float64{{math.NaN()}, {2}}},
	}
	require.NoError(t, ExportCurves(path, sheets))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)
	first := f.Sheets[0]
	assert.Equal(t, "inhomogeneous pair correlation", first.Name)
	assert.Equal(t, "inhomogeneous pair correlatio~2", f.Sheets[1].Name)
	assert.Equal(t, "a_b", f.Sheets[2].Name)

	require.Len(t, first.Rows, 4)
	assert.Equal(t, "observed", first.Rows[0].Cells[1].String())
	v, err := first.Rows[3].Cells[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 314.2, v, 1e-9)
	assert.Equal(t, "1", first.Rows[3].Cells[5].String())

	require.Len(t, f.Sheets[2].Rows, 3)
	assert.Equal(t, "2", f.Sheets[2].Rows[2].Cells[0].String())

	assert.Error(t, ExportCurves(path, nil))
}

func TestAnalysisSheets(t *testing.T) {
	res := &analysis.Result{
		Explore:     &analysis.ExploreResult{Bandwidth: &explore.BandwidthResult{Sigma: 2, Scores: []explore.BandwidthScore{{Sigma: 2, Criterion: -10}}}},
		SecondOrder: &analysis.SecondOrderResult{K: &analysis.Curve{Envelope: sampleEnvelope()}},
		Rhohat:      []*rhohat.Curve{{Covariate: "Forest", Z: []float64{0}, Rho: []float64{1}, Lo: []float64{1}, Hi: []float64{1}}},
		Diagnostics: &analysis.Diagnostics{Partial: []*ppm.PartialResidualCurve{{Covariate: "HFI", Z: []float64{1}, Residual: []float64{0}, Fitted: []float64{0}}}},
	}
	var names []string
	for _, s := range AnalysisSheets(res) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"bandwidth", "csr K", "rhohat Forest", "partial HFI"}, names)
}
