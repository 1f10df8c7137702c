package simulate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

func unitSquare(t *testing.T, side float64) *spatial.Window {
	t.Helper()
	w, err := spatial.RectWindow(0, 0, side, side)
	require.NoError(t, err)
	return w
}

func TestHomogeneous_MeanCount(t *testing.T) {
	w := unitSquare(t, 10)
	rng := NewRNG(3, 0)

	var total int
	const reps = 200
	for i := 0; i < reps; i++ {
		p, err := Homogeneous(rng, w, 2)
		require.NoError(t, err)
		for _, pt := range p.Points {
			require.True(t, w.Contains(pt.X, pt.Y))
		}
		total += p.N()
	}
	mean := float64(total) / reps
	// Poisson(200): sd of the mean over 200 reps is 1.
	assert.InDelta(t, 200, mean, 5)
}

func TestHomogeneous_Deterministic(t *testing.T) {
	w := unitSquare(t, 1)
	a, err := Homogeneous(NewRNG(9, 4), w, 50)
	require.NoError(t, err)
	b, err := Homogeneous(NewRNG(9, 4), w, 50)
	require.NoError(t, err)
	assert.Equal(t, a.Points, b.Points)
}

func TestHomogeneous_InvalidIntensity(t *testing.T) {
	_, err := Homogeneous(NewRNG(1, 1), unitSquare(t, 1), -1)
	assert.Error(t, err)
}

func TestBinomial_ExactCount(t *testing.T) {
	p, err := CSR{Window: unitSquare(t, 5), N: 37, FixedN: true}.Simulate(NewRNG(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 37, p.N())
}

func TestInhomogeneous_RespectsSurface(t *testing.T) {
	w := unitSquare(t, 10)
	g, err := raster.NewGrid(2, 2, 0, 0, 5)
	require.NoError(t, err)
	// Left column carries all mass; right column is zero or missing.
	surface := raster.New("lambda", g)
	copy(surface.Values, []float64{4, 0, 4, math.NaN()})

	p, err := Thinned{Window: w, Surface: surface}.Simulate(NewRNG(5, 0))
	require.NoError(t, err)
	require.NotZero(t, p.N())
	for _, pt := range p.Points {
		assert.Less(t, pt.X, 5.0, "no points where the surface is zero or missing")
	}
}

func TestInhomogeneous_EmptySurface(t *testing.T) {
	g, err := raster.NewGrid(1, 1, 0, 0, 1)
	require.NoError(t, err)
	_, err = Inhomogeneous(NewRNG(1, 0), unitSquare(t, 1), raster.New("nan", g))
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	opts := DefaultSynthetic()
	opts.Cells = 32
	syn, err := Generate(opts)
	require.NoError(t, err)

	assert.InDelta(t, opts.Expected, syn.Truth.Integral(), 1e-6*opts.Expected)
	// Poisson(600) has sd about 24.
	assert.InDelta(t, opts.Expected, float64(syn.Pattern.N()), 120)
	assert.Len(t, syn.Covariates, 4)
	for name, r := range syn.Covariates {
		assert.Equal(t, 32*32, r.Defined(), name)
	}
}

func TestGenerate_Invalid(t *testing.T) {
	_, err := Generate(SyntheticOptions{})
	assert.Error(t, err)
}
