package ppm

import (
	"math"
	"slices"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
)

// splineDegree is the polynomial degree of bs() terms.
const splineDegree = 3

// BSpline is a cubic B-spline basis without the intercept column, placed
// the way R's bs() does: df-3 interior knots at equally spaced quantiles of
// the covariate and boundary knots at its range. Values outside the
// boundary are clamped to it.
type BSpline struct {
	Lower    float64   `json:"lower" yaml:"lower"`
	Upper    float64   `json:"upper" yaml:"upper"`
	Interior []float64 `json:"interior" yaml:"interior"`
	knots    []float64
}

// NewBSpline places a basis of at most df columns on values. Quantiles
// that tie, or that fall on a boundary, are placed once, so a covariate
// with a heavy mass at one value yields fewer columns than requested.
func NewBSpline(values []float64, df int) (*BSpline, error) {
	if df < splineDegree {
		return nil, eris.Errorf("ppm: spline df must be at least %d", splineDegree)
	}
	data := stats.Float64Data(values)
	lo, err := data.Min()
	if err != nil {
		return nil, eris.Wrap(err, "ppm: spline boundary")
	}
	hi, _ := data.Max()
	if !(hi > lo) {
		return nil, eris.New("ppm: spline covariate is constant")
	}

	nInterior := df - splineDegree
	interior := make([]float64, 0, nInterior)
	for k := 1; k <= nInterior; k++ {
		q, err := percentile(data, 100*float64(k)/float64(nInterior+1))
		if err != nil {
			return nil, eris.Wrap(err, "ppm: spline knot")
		}
		if q > lo && q < hi {
			interior = append(interior, q)
		}
	}
	sort.Float64s(interior)
	return newBSpline(lo, hi, slices.Compact(interior)), nil
}

// percentile falls back to the extremes when a small sample puts the
// requested rank outside the data.
func percentile(data stats.Float64Data, pct float64) (float64, error) {
	v, err := data.Percentile(pct)
	if err == nil {
		return v, nil
	}
	if pct < 50 {
		return data.Min()
	}
	return data.Max()
}

func newBSpline(lo, hi float64, interior []float64) *BSpline {
	b := &BSpline{Lower: lo, Upper: hi, Interior: interior}
	b.knots = make([]float64, 0, len(interior)+2*(splineDegree+1))
	for i := 0; i <= splineDegree; i++ {
		b.knots = append(b.knots, lo)
	}
	b.knots = append(b.knots, interior...)
	for i := 0; i <= splineDegree; i++ {
		b.knots = append(b.knots, hi)
	}
	return b
}

// DF is the number of basis columns.
func (b *BSpline) DF() int { return len(b.Interior) + splineDegree }

// Knots returns the boundary and interior knots in increasing order.
func (b *BSpline) Knots() []float64 {
	out := append([]float64{b.Lower}, b.Interior...)
	return append(out, b.Upper)
}

// Eval writes the DF basis values at v into out.
func (b *BSpline) Eval(v float64, out []float64) {
	for i := range out[:b.DF()] {
		out[i] = 0
	}
	if math.IsNaN(v) {
		for i := range out[:b.DF()] {
			out[i] = math.NaN()
		}
		return
	}
	v = math.Min(math.Max(v, b.Lower), b.Upper)

	p := splineDegree
	m := len(b.knots) - 1
	nBasis := m - p
	span := sort.Search(len(b.knots), func(i int) bool { return b.knots[i] > v }) - 1
	span = min(max(span, p), nBasis-1)

	left := make([]float64, p+1)
	right := make([]float64, p+1)
	n := make([]float64, p+1)
	n[0] = 1
	for j := 1; j <= p; j++ {
		left[j] = v - b.knots[span+1-j]
		right[j] = b.knots[span+j] - v
		saved := 0.0
		for r := 0; r < j; r++ {
			den := right[r+1] + left[j-r]
			var tmp float64
			if den != 0 {
				tmp = n[r] / den
			}
			n[r] = saved + right[r+1]*tmp
			saved = left[j-r] * tmp
		}
		n[j] = saved
	}
	// Basis function 0 is dropped, so index i maps to out[i-1].
	for k := 0; k <= p; k++ {
		if i := span - p + k; i >= 1 {
			out[i-1] = n[k]
		}
	}
}

// Interval returns the index of the knot interval holding v, counting the
// intervals between consecutive distinct knots from the lower boundary.
func (b *BSpline) Interval(v float64) int {
	k := b.Knots()
	i := sort.Search(len(k), func(i int) bool { return k[i] > v }) - 1
	return min(max(i, 0), len(k)-2)
}
