// Package secondorder estimates Ripley's K and the pair correlation function
// of a point pattern and builds Monte Carlo envelopes around them.
package secondorder

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// Statistic is a summary function evaluated at fixed distance lags.
type Statistic interface {
	Name() string
	Lags() []float64
	Evaluate(p *spatial.Pattern) ([]float64, error)
	Theoretical(r float64) float64
}

// Lags returns n evenly spaced distances from 0 to rmax. A non-positive rmax
// defaults to a quarter of the shorter side of the window bounds.
func Lags(w *spatial.Window, rmax float64, n int) ([]float64, error) {
	if n < 2 {
		return nil, eris.Errorf("secondorder: need at least 2 lags, got %d", n)
	}
	if rmax <= 0 {
		xmin, ymin, xmax, ymax := w.Bounds()
		rmax = math.Min(xmax-xmin, ymax-ymin) / 4
	}
	r := make([]float64, n)
	for i := range r {
		r[i] = rmax * float64(i) / float64(n-1)
	}
	return r, nil
}

func validateLags(r []float64) error {
	if len(r) == 0 {
		return eris.New("secondorder: no distance lags")
	}
	for i, v := range r {
		if v < 0 || math.IsNaN(v) || (i > 0 && v <= r[i-1]) {
			return eris.New("secondorder: lags must be non-negative and increasing")
		}
	}
	return nil
}

// pointIntensity returns the intensity at each point: the constant n/area
// when surface is nil, otherwise the surface value. Points where the surface
// is undefined or non-positive get NaN.
func pointIntensity(p *spatial.Pattern, surface *raster.Raster) []float64 {
	lam := make([]float64, p.N())
	if surface == nil {
		c := float64(p.N()) / p.Window.Area()
		for i := range lam {
			lam[i] = c
		}
		return lam
	}
	for i, pt := range p.Points {
		v := surface.At(pt.X, pt.Y)
		if v <= 0 {
			v = math.NaN()
		}
		lam[i] = v
	}
	return lam
}

// firstAtLeast is the first lag index with r[k] >= d.
func firstAtLeast(r []float64, d float64) int {
	return sort.SearchFloat64s(r, d)
}

// lastAtMost is the last lag index with r[k] <= b, or -1.
func lastAtMost(r []float64, b float64) int {
	return sort.Search(len(r), func(k int) bool { return r[k] > b }) - 1
}

// KFunction is Ripley's K with border correction. With Intensity set it is
// the inhomogeneous K, weighting each pair by 1/(lambda_i lambda_j).
type KFunction struct {
	R         []float64
	Intensity *raster.Raster
}

// Name implements Statistic.
func (k KFunction) Name() string {
	if k.Intensity != nil {
		return "Kinhom"
	}
	return "K"
}

// Lags implements Statistic.
func (k KFunction) Lags() []float64 { return k.R }

// Theoretical is pi r^2, the Poisson value.
func (k KFunction) Theoretical(r float64) float64 { return math.Pi * r * r }

// Evaluate implements Statistic.
func (k KFunction) Evaluate(p *spatial.Pattern) ([]float64, error) {
	return ripleyK(p, k.R, k.Intensity)
}

// RipleyK estimates the homogeneous K function at lags r.
func RipleyK(p *spatial.Pattern, r []float64) ([]float64, error) {
	return ripleyK(p, r, nil)
}

// Kinhom estimates the inhomogeneous K function from an intensity surface.
func Kinhom(p *spatial.Pattern, r []float64, surface *raster.Raster) ([]float64, error) {
	if surface == nil {
		return nil, eris.New("secondorder: Kinhom needs an intensity surface")
	}
	return ripleyK(p, r, surface)
}

// ripleyK computes
//
//	K(r) = sum_i 1{b_i>=r}/lambda_i sum_j 1{d_ij<=r}/lambda_j / sum_i 1{b_i>=r}/lambda_i
//
// where b_i is the distance from x_i to the window boundary. Only points at
// least r from the boundary act as centres.
func ripleyK(p *spatial.Pattern, r []float64, surface *raster.Raster) ([]float64, error) {
	if err := validateLags(r); err != nil {
		return nil, err
	}
	n := len(r)
	out := make([]float64, n)
	if p.N() < 2 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}

	lam := pointIntensity(p, surface)
	rmax := r[n-1]
	idx := spatial.NewIndex(p.Points, rmax)
	numer := make([]float64, n+1)
	denom := make([]float64, n+1)
	centres := make([]int, n+1)

	for i, pt := range p.Points {
		if math.IsNaN(lam[i]) {
			continue
		}
		hi := lastAtMost(r, p.Window.BoundaryDistance(pt.X, pt.Y))
		if hi < 0 {
			continue
		}
		wi := 1 / lam[i]
		denom[0] += wi
		denom[hi+1] -= wi
		centres[0]++
		centres[hi+1]--
		idx.Within(pt.X, pt.Y, rmax, func(j int, d float64) {
			if j == i || math.IsNaN(lam[j]) {
				return
			}
			lo := firstAtLeast(r, d)
			if lo > hi {
				return
			}
			w := wi / lam[j]
			numer[lo] += w
			numer[hi+1] -= w
		})
	}

	var (
		num, den float64
		m        int
	)
	for k := 0; k < n; k++ {
		num += numer[k]
		den += denom[k]
		m += centres[k]
		if m == 0 || den <= 0 {
			out[k] = math.NaN()
			continue
		}
		out[k] = num / den
	}
	return out, nil
}

// LTransform converts K values to Besag's L(r) = sqrt(K(r)/pi).
func LTransform(k []float64) []float64 {
	out := make([]float64, len(k))
	for i, v := range k {
		out[i] = math.Sqrt(v / math.Pi)
	}
	return out
}
