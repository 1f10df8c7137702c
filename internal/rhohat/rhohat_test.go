package rhohat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/simulate"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

func eastings(t *testing.T) (*spatial.Window, *raster.Raster) {
	t.Helper()
	w, err := spatial.RectWindow(0, 0, 1, 1)
	require.NoError(t, err)
	g, err := raster.NewGrid(50, 50, 0, 0, 0.02)
	require.NoError(t, err)
	r := raster.New("East", g)
	for i := range r.Values {
		x, _ := g.CenterOf(i)
		r.Values[i] = x
	}
	return w, r
}

func TestEstimate_TracksTrend(t *testing.T) {
	w, cov := eastings(t)
	truth := cov.Clone()
	for i, x := range cov.Values {
		truth.Values[i] = 300 * math.Exp(2*x)
	}
	p, err := simulate.Inhomogeneous(simulate.NewRNG(1, 0), w, truth)
	require.NoError(t, err)

	c, err := Estimate(p, cov, Options{Points: 21})
	require.NoError(t, err)
	require.Len(t, c.Z, 21)
	assert.Greater(t, c.Bandwidth, 0.0)

	lowIdx, highIdx := 4, 16
	assert.Greater(t, c.Rho[highIdx], c.Rho[lowIdx])
	ratio := c.Rho[highIdx] / c.Rho[lowIdx]
	assert.InDelta(t, math.Exp(2*(c.Z[highIdx]-c.Z[lowIdx])), ratio, 1.0)
	for k := range c.Z {
		assert.LessOrEqual(t, c.Lo[k], c.Rho[k])
		assert.GreaterOrEqual(t, c.Hi[k], c.Rho[k])
	}
}

func TestEstimate_CSRIsFlat(t *testing.T) {
	w, cov := eastings(t)
	p, err := simulate.Binomial(simulate.NewRNG(2, 0), w, 2000)
	require.NoError(t, err)

	c, err := Estimate(p, cov, Options{Points: 11, Bandwidth: 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 2000, c.Average, 1e-6)
	for k := 2; k < 9; k++ {
		assert.InDelta(t, 2000, c.Rho[k], 300, "z=%v", c.Z[k])
	}
}

func TestEstimate_DropsUndefinedPoints(t *testing.T) {
	w, cov := eastings(t)
	cov.Values[0] = math.NaN()
	p, err := spatial.NewPattern(w, []spatial.Point{{X: 0.01, Y: 0.01}, {X: 0.5, Y: 0.5}, {X: 0.7, Y: 0.2}})
	require.NoError(t, err)

	c, err := Estimate(p, cov, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Dropped)
	assert.Equal(t, 2, c.N)
	assert.Len(t, c.Z, 128)
}

func TestEstimate_Errors(t *testing.T) {
	w, cov := eastings(t)
	p, err := spatial.NewPattern(w, []spatial.Point{{X: 0.5, Y: 0.5}})
	require.NoError(t, err)
	_, err = Estimate(p, cov, Options{})
	assert.Error(t, err)

	constant := cov.Clone()
	for i := range constant.Values {
		constant.Values[i] = 3
	}
	p2, err := spatial.NewPattern(w, []spatial.Point{{X: 0.5, Y: 0.5}, {X: 0.2, Y: 0.2}})
	require.NoError(t, err)
	_, err = Estimate(p2, constant, Options{})
	assert.Error(t, err)
}

func TestSilverman(t *testing.T) {
	h := Silverman([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	assert.Greater(t, h, 0.0)
	assert.Less(t, h, 3.0)
	assert.Equal(t, 0.0, Silverman([]float64{1}))
}
