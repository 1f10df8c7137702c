package secondorder

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// DefaultStoyan is the bandwidth coefficient of the pair correlation kernel.
const DefaultStoyan = 0.15

// PairCorrelation is the kernel estimate of g(r). With Intensity set it is
// the inhomogeneous pair correlation.
type PairCorrelation struct {
	R         []float64
	Intensity *raster.Raster
	// Stoyan sets the Epanechnikov half-width h = Stoyan/sqrt(n/area).
	Stoyan float64
}

// Name implements Statistic.
func (g PairCorrelation) Name() string {
	if g.Intensity != nil {
		return "pcfinhom"
	}
	return "pcf"
}

// Lags implements Statistic.
func (g PairCorrelation) Lags() []float64 { return g.R }

// Theoretical is 1, the Poisson value.
func (g PairCorrelation) Theoretical(float64) float64 { return 1 }

// Evaluate implements Statistic.
func (g PairCorrelation) Evaluate(p *spatial.Pattern) ([]float64, error) {
	return pairCorrelation(p, g.R, g.Intensity, g.Stoyan)
}

func epanechnikov(t, h float64) float64 {
	if t <= -h || t >= h {
		return 0
	}
	u := t / h
	return 0.75 * (1 - u*u) / h
}

// translationArea approximates |W ∩ (W + (dx, dy))| by the translated
// bounding box scaled to the window area. It is exact for rectangles.
func translationArea(w *spatial.Window, dx, dy float64) float64 {
	xmin, ymin, xmax, ymax := w.Bounds()
	bx, by := xmax-xmin, ymax-ymin
	fx := (bx - math.Abs(dx)) / bx
	fy := (by - math.Abs(dy)) / by
	if fx <= 0 || fy <= 0 {
		return 0
	}
	return w.Area() * fx * fy
}

// pairCorrelation computes
//
//	g(r) = 1/(2 pi r) sum_{i!=j} k_h(r - d_ij) / (lambda_i lambda_j |W ∩ W_ij|)
//
// with translation edge weights. For a homogeneous pattern lambda_i lambda_j
// is n(n-1)/area^2.
func pairCorrelation(p *spatial.Pattern, r []float64, surface *raster.Raster, stoyan float64) ([]float64, error) {
	if err := validateLags(r); err != nil {
		return nil, err
	}
	if stoyan <= 0 {
		stoyan = DefaultStoyan
	}
	n := p.N()
	out := make([]float64, len(r))
	if n < 2 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}

	area := p.Window.Area()
	h := stoyan / math.Sqrt(float64(n)/area)
	var lam []float64
	var pairScale float64
	if surface == nil {
		pairScale = area * area / (float64(n) * float64(n-1))
	} else {
		lam = pointIntensity(p, surface)
	}

	rmax := r[len(r)-1] + h
	idx := spatial.NewIndex(p.Points, rmax)
	sums := make([]float64, len(r))
	for i, pt := range p.Points {
		if lam != nil && math.IsNaN(lam[i]) {
			continue
		}
		idx.Within(pt.X, pt.Y, rmax, func(j int, d float64) {
			if j == i || (lam != nil && math.IsNaN(lam[j])) {
				return
			}
			q := p.Points[j]
			ta := translationArea(p.Window, q.X-pt.X, q.Y-pt.Y)
			if ta <= 0 {
				return
			}
			w := 1 / ta
			if lam != nil {
				w /= lam[i] * lam[j]
			} else {
				w *= pairScale
			}
			lo := firstAtLeast(r, d-h)
			for k := lo; k < len(r) && r[k] < d+h; k++ {
				sums[k] += w * epanechnikov(r[k]-d, h)
			}
		})
	}

	for k, rk := range r {
		if rk <= 0 {
			out[k] = math.NaN()
			continue
		}
		out[k] = sums[k] / (2 * math.Pi * rk)
	}
	return out, nil
}

// PCF estimates the homogeneous pair correlation function at lags r.
func PCF(p *spatial.Pattern, r []float64, stoyan float64) ([]float64, error) {
	return pairCorrelation(p, r, nil, stoyan)
}

// PCFInhom estimates the inhomogeneous pair correlation function.
func PCFInhom(p *spatial.Pattern, r []float64, surface *raster.Raster, stoyan float64) ([]float64, error) {
	if surface == nil {
		return nil, eris.New("secondorder: pcfinhom needs an intensity surface")
	}
	return pairCorrelation(p, r, surface, stoyan)
}
