// Package simulate draws realisations of Poisson point processes.
package simulate

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// maxRejections bounds rejection sampling for windows that fill a tiny
// fraction of their bounding box.
const maxRejections = 1 << 24

// NewRNG returns a deterministic generator for stream i of a seed.
func NewRNG(seed uint64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// Uniform draws n independent uniform points in w.
func Uniform(rng *rand.Rand, w *spatial.Window, n int) ([]spatial.Point, error) {
	xmin, ymin, xmax, ymax := w.Bounds()
	pts := make([]spatial.Point, 0, n)
	tries := 0
	for len(pts) < n {
		if tries++; tries > maxRejections {
			return nil, eris.New("simulate: rejection sampling did not converge")
		}
		x := xmin + rng.Float64()*(xmax-xmin)
		y := ymin + rng.Float64()*(ymax-ymin)
		if w.Contains(x, y) {
			pts = append(pts, spatial.Point{X: x, Y: y})
		}
	}
	return pts, nil
}

// Homogeneous draws a Poisson process with constant intensity lambda.
func Homogeneous(rng *rand.Rand, w *spatial.Window, lambda float64) (*spatial.Pattern, error) {
	if lambda < 0 || math.IsNaN(lambda) {
		return nil, eris.Errorf("simulate: invalid intensity %g", lambda)
	}
	n := 0
	if mu := lambda * w.Area(); mu > 0 {
		n = int(distuv.Poisson{Lambda: mu, Src: rng}.Rand())
	}
	pts, err := Uniform(rng, w, n)
	if err != nil {
		return nil, err
	}
	return &spatial.Pattern{Window: w, Points: pts}, nil
}

// Binomial draws exactly n uniform points, the CSR model conditional on the
// observed count.
func Binomial(rng *rand.Rand, w *spatial.Window, n int) (*spatial.Pattern, error) {
	pts, err := Uniform(rng, w, n)
	if err != nil {
		return nil, err
	}
	return &spatial.Pattern{Window: w, Points: pts}, nil
}

// Inhomogeneous draws a Poisson process with the given intensity surface by
// thinning a homogeneous process at the surface maximum. Locations where the
// surface is missing receive no points.
func Inhomogeneous(rng *rand.Rand, w *spatial.Window, surface *raster.Raster) (*spatial.Pattern, error) {
	lmax := surface.Max()
	if math.IsNaN(lmax) || lmax < 0 {
		return nil, eris.New("simulate: intensity surface has no positive values")
	}
	base, err := Homogeneous(rng, w, lmax)
	if err != nil {
		return nil, err
	}
	kept := base.Points[:0]
	for _, p := range base.Points {
		v := surface.At(p.X, p.Y)
		if math.IsNaN(v) || v <= 0 {
			continue
		}
		if rng.Float64()*lmax < v {
			kept = append(kept, p)
		}
	}
	return &spatial.Pattern{Window: w, Points: kept}, nil
}

// Simulator produces one realisation of a reference process.
type Simulator interface {
	Simulate(rng *rand.Rand) (*spatial.Pattern, error)
}

// CSR simulates complete spatial randomness. With FixedN set it draws
// exactly N points, otherwise a Poisson number with mean Lambda*area.
type CSR struct {
	Window *spatial.Window
	Lambda float64
	N      int
	FixedN bool
}

// Simulate implements Simulator.
func (c CSR) Simulate(rng *rand.Rand) (*spatial.Pattern, error) {
	if c.FixedN {
		return Binomial(rng, c.Window, c.N)
	}
	return Homogeneous(rng, c.Window, c.Lambda)
}

// Thinned simulates an inhomogeneous Poisson process from Surface.
type Thinned struct {
	Window  *spatial.Window
	Surface *raster.Raster
}

// Simulate implements Simulator.
func (t Thinned) Simulate(rng *rand.Rand) (*spatial.Pattern, error) {
	return Inhomogeneous(rng, t.Window, t.Surface)
}
