package explore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/simulate"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

func rect(t *testing.T, x0, y0, x1, y1 float64) *spatial.Window {
	t.Helper()
	w, err := spatial.RectWindow(x0, y0, x1, y1)
	require.NoError(t, err)
	return w
}

func pattern(t *testing.T, w *spatial.Window, pts ...spatial.Point) *spatial.Pattern {
	t.Helper()
	p, err := spatial.NewPattern(w, pts)
	require.NoError(t, err)
	return p
}

func lShape(t *testing.T) *spatial.Window {
	t.Helper()
	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{0, 0}, {10, 0}, {10, 5}, {0, 5}, {0, 0}}},
		{{{0, 5}, {5, 5}, {5, 10}, {0, 10}, {0, 5}}},
	})
	w, err := spatial.NewWindow(mp)
	require.NoError(t, err)
	return w
}

func TestIntensity_EagleScale(t *testing.T) {
	w := rect(t, 0, 0, 1000, 948.55)
	p, err := simulate.Binomial(simulate.NewRNG(1, 0), w, 5000)
	require.NoError(t, err)

	got, err := Intensity(p)
	require.NoError(t, err)
	assert.Equal(t, 5000, got.N)
	assert.InDelta(t, 948550, got.Area, 1e-6)
	assert.InDelta(t, 0.00527, got.Lambda, 1e-5)
}

func TestQuadratCount_SumsToN(t *testing.T) {
	w := lShape(t)
	p, err := simulate.Binomial(simulate.NewRNG(2, 0), w, 321)
	require.NoError(t, err)

	q, err := QuadratCount(p, 4, 3)
	require.NoError(t, err)
	total := 0
	for _, c := range q.Cells {
		total += c.Count
	}
	assert.Equal(t, 321, total)
	assert.Len(t, q.Cells, 12)
}

func TestQuadratCount_MasksCellsOutsideWindow(t *testing.T) {
	q, err := QuadratCount(pattern(t, lShape(t), spatial.Point{X: 1, Y: 1}), 2, 2)
	require.NoError(t, err)

	assert.True(t, q.Cells[3].Masked, "top-right quadrat lies outside the L")
	for _, i := range []int{0, 1, 2} {
		assert.False(t, q.Cells[i].Masked)
		assert.InDelta(t, 25, q.Cells[i].Area, 1e-9)
	}
	assert.Equal(t, 1, q.Cells[0].Count)
}

func TestQuadratCount_PointOnUpperEdge(t *testing.T) {
	q, err := QuadratCount(pattern(t, rect(t, 0, 0, 1, 1), spatial.Point{X: 1, Y: 1}), 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Cells[8].Count)
}

func TestQuadratCount_InvalidGrid(t *testing.T) {
	_, err := QuadratCount(pattern(t, rect(t, 0, 0, 1, 1)), 0, 2)
	assert.Error(t, err)
}

func regularGrid(t *testing.T) *spatial.Pattern {
	t.Helper()
	var pts []spatial.Point
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			pts = append(pts, spatial.Point{X: float64(i) + 0.5, Y: float64(j) + 0.5})
		}
	}
	return pattern(t, rect(t, 0, 0, 10, 10), pts...)
}

func TestQuadratTest_Regular(t *testing.T) {
	q, err := QuadratCount(regularGrid(t), 5, 5)
	require.NoError(t, err)

	res, err := QuadratTest(q, Less)
	require.NoError(t, err)
	assert.Equal(t, 24, res.DF)
	assert.InDelta(t, 0, res.Statistic, 1e-12)
	assert.InDelta(t, 0, res.PValue, 1e-12)

	res, err = QuadratTest(q, Greater)
	require.NoError(t, err)
	assert.InDelta(t, 1, res.PValue, 1e-12)
}

func TestQuadratTest_Clustered(t *testing.T) {
	var pts []spatial.Point
	for i := 0; i < 50; i++ {
		pts = append(pts, spatial.Point{X: 0.5 + 0.01*float64(i), Y: 0.5})
	}
	q, err := QuadratCount(pattern(t, rect(t, 0, 0, 10, 10), pts...), 5, 5)
	require.NoError(t, err)

	res, err := QuadratTest(q, TwoSided)
	require.NoError(t, err)
	assert.Greater(t, res.Statistic, 100.0)
	assert.Less(t, res.PValue, 1e-6)
	assert.InDelta(t, 2, res.Expected[0], 1e-12)
}

func TestQuadratTest_MaskedExcluded(t *testing.T) {
	q, err := QuadratCount(pattern(t, lShape(t), spatial.Point{X: 1, Y: 1}, spatial.Point{X: 7, Y: 1}, spatial.Point{X: 1, Y: 7}), 2, 2)
	require.NoError(t, err)

	res, err := QuadratTest(q, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Cells)
	assert.Equal(t, 2, res.DF)
	assert.True(t, math.IsNaN(res.Expected[3]))
	assert.InDelta(t, 0, res.Statistic, 1e-12)
}

func TestQuadratTest_Errors(t *testing.T) {
	q, err := QuadratCount(regularGrid(t), 2, 2)
	require.NoError(t, err)
	_, err = QuadratTest(q, "sideways")
	assert.Error(t, err)

	empty, err := QuadratCount(pattern(t, rect(t, 0, 0, 1, 1)), 2, 2)
	require.NoError(t, err)
	_, err = QuadratTest(empty, TwoSided)
	assert.Error(t, err)
}

func densityGrid(t *testing.T, side float64, n int) raster.Grid {
	t.Helper()
	g, err := raster.NewGrid(n, n, 0, 0, side/float64(n))
	require.NoError(t, err)
	return g
}

func TestDensity_InteriorMassIsOne(t *testing.T) {
	p := pattern(t, rect(t, 0, 0, 10, 10), spatial.Point{X: 5, Y: 5})
	d, err := Density(p, DensityOptions{Sigma: 1, Grid: densityGrid(t, 10, 100), Edge: EdgeNone})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d.Integral(), 1e-3)
}

func TestDensity_EdgeCorrection(t *testing.T) {
	p := pattern(t, rect(t, 0, 0, 10, 10), spatial.Point{X: 0.01, Y: 0.01})
	g := densityGrid(t, 10, 100)

	raw, err := Density(p, DensityOptions{Sigma: 1, Grid: g, Edge: EdgeNone})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, raw.Integral(), 0.02)

	corrected, err := Density(p, DensityOptions{Sigma: 1, Grid: g, Edge: EdgeDiggle})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, corrected.Integral(), 0.02)
}

func TestDensity_OutsideWindowNaNAndFloor(t *testing.T) {
	p := pattern(t, rect(t, 0, 0, 5, 10), spatial.Point{X: 1, Y: 1})
	d, err := Density(p, DensityOptions{Sigma: 0.5, Grid: densityGrid(t, 10, 20), Floor: 1e-9})
	require.NoError(t, err)

	assert.True(t, math.IsNaN(d.At(7, 7)))
	assert.Equal(t, 1e-9, d.At(4.9, 9.9), "far cells take the floor")
	assert.Greater(t, d.At(1, 1), 0.1)
}

func TestDensity_InvalidOptions(t *testing.T) {
	p := pattern(t, rect(t, 0, 0, 1, 1), spatial.Point{X: 0.5, Y: 0.5})
	g := densityGrid(t, 1, 4)

	_, err := Density(p, DensityOptions{Sigma: 0, Grid: g})
	assert.Error(t, err)
	_, err = Density(p, DensityOptions{Sigma: 1, Grid: g, Weights: []float64{1, 2}})
	assert.Error(t, err)
	_, err = Density(p, DensityOptions{Sigma: 1, Grid: g, Edge: "mirror"})
	assert.Error(t, err)
}

func TestDensityAtPoints_LeaveOneOut(t *testing.T) {
	p := pattern(t, rect(t, 0, 0, 100, 100), spatial.Point{X: 50, Y: 50}, spatial.Point{X: 51, Y: 50})
	opts := DensityOptions{Sigma: 1, Grid: densityGrid(t, 100, 50), Edge: EdgeNone}

	loo, err := DensityAtPoints(p, opts, true)
	require.NoError(t, err)
	assert.InDelta(t, gaussian(1, 1), loo[0], 1e-12)
	assert.InDelta(t, loo[0], loo[1], 1e-12)

	full, err := DensityAtPoints(p, opts, false)
	require.NoError(t, err)
	assert.InDelta(t, gaussian(0, 1)+gaussian(1, 1), full[0], 1e-12)
}

func TestSelectBandwidthPPL(t *testing.T) {
	w := rect(t, 0, 0, 10, 10)
	rng := simulate.NewRNG(7, 0)
	var pts []spatial.Point
	for _, c := range []spatial.Point{{X: 2, Y: 2}, {X: 7, Y: 6}} {
		for i := 0; i < 40; i++ {
			pts = append(pts, spatial.Point{X: c.X + 0.3*(rng.Float64()-0.5), Y: c.Y + 0.3*(rng.Float64()-0.5)})
		}
	}
	p := pattern(t, w, pts...)
	g := densityGrid(t, 10, 50)
	candidates := BandwidthCandidates(w, g, 8)
	require.Len(t, candidates, 8)
	for i := 1; i < len(candidates); i++ {
		assert.Greater(t, candidates[i], candidates[i-1])
	}

	res, err := SelectBandwidthPPL(p, DensityOptions{Grid: g, Floor: 1e-12}, candidates)
	require.NoError(t, err)
	require.Len(t, res.Scores, 8)
	assert.Less(t, res.Sigma, candidates[len(candidates)-1], "clustered data prefers a narrow kernel")

	best := res.Scores[0]
	for _, s := range res.Scores {
		if s.Criterion > best.Criterion {
			best = s
		}
	}
	assert.Equal(t, best.Sigma, res.Sigma)
}

func TestSelectBandwidthPPL_Errors(t *testing.T) {
	w := rect(t, 0, 0, 1, 1)
	g := densityGrid(t, 1, 4)
	_, err := SelectBandwidthPPL(pattern(t, w, spatial.Point{X: 0.5, Y: 0.5}), DensityOptions{Grid: g}, []float64{0.1})
	assert.Error(t, err)
	_, err = SelectBandwidthPPL(pattern(t, w), DensityOptions{Grid: g}, nil)
	assert.Error(t, err)
}
