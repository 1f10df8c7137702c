package ppm

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/explore"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/rhohat"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// PartialResidualCurve compares the smoothed partial residual of one
// covariate with the fitted effect of its terms.
type PartialResidualCurve struct {
	Covariate string    `json:"covariate" yaml:"covariate"`
	Bandwidth float64   `json:"bandwidth" yaml:"bandwidth"`
	Z         []float64 `json:"z" yaml:"z"`
	Residual  []float64 `json:"residual" yaml:"residual"`
	Fitted    []float64 `json:"fitted" yaml:"fitted"`
	// InModel is false when the covariate has no term in the model; the
	// curve then shows what a term for it would pick up.
	InModel bool `json:"in_model" yaml:"in_model"`
	// MaxDeviation is max |Residual - Fitted| over the curve.
	MaxDeviation float64 `json:"max_deviation" yaml:"max_deviation"`
	// Flatness is MaxDeviation divided by the range of Fitted, or NaN when
	// the fitted effect is flat.
	Flatness float64 `json:"flatness" yaml:"flatness"`
}

// PartialResidual smooths the partial residual of covariate name:
//
//	p(z) = log[ sum_i k(z - Z(x_i)) / sum_k k(z - Z(u_k)) w_k lambda(u_k) exp(-f(Z(u_k))) ]
//
// where f is the sum of the model's terms in that covariate. Where the
// model captures the covariate's effect, p follows f. The curve covers the
// 2nd to 98th percentile of the covariate over the quadrature.
func (m *Model) PartialResidual(name string, points int, bandwidth float64) (*PartialResidualCurve, error) {
	q := m.quad
	vals, ok := q.Values[name]
	if !ok {
		return nil, eris.Errorf("ppm: unknown covariate %q", name)
	}
	if points < 2 {
		points = 64
	}

	var terms []int
	for i, b := range m.bases {
		if b.Term.Var == name {
			terms = append(terms, i)
		}
	}
	effect := func(v float64) float64 {
		var s float64
		for _, t := range terms {
			s += m.termEffect(t, v)
		}
		return s
	}

	dataVals := vals[q.NDummy:]
	if bandwidth <= 0 {
		bandwidth = rhohat.Silverman(dataVals)
	}
	ref := stats.Float64Data(q.dummyValues(vals))
	lo, err := percentile(ref, 2)
	if err != nil {
		return nil, eris.Wrap(err, "ppm: partial residual range")
	}
	hi, _ := percentile(ref, 98)
	if !(hi > lo) {
		return nil, eris.Errorf("ppm: %s is constant over the quadrature", name)
	}
	if bandwidth <= 0 || math.IsNaN(bandwidth) {
		bandwidth = (hi - lo) / 10
	}

	// Intensity with the covariate's own terms removed.
	offset := make([]float64, q.Len())
	for k, e := range m.eta {
		offset[k] = q.Weights[k] * math.Exp(e-effect(vals[k]))
	}

	c := &PartialResidualCurve{
		Covariate: name,
		Bandwidth: bandwidth,
		Z:         make([]float64, points),
		Residual:  make([]float64, points),
		Fitted:    make([]float64, points),
		InModel:   len(terms) > 0,
	}
	fmin, fmax := math.Inf(1), math.Inf(-1)
	for i := range c.Z {
		z := lo + (hi-lo)*float64(i)/float64(points-1)
		var num, den float64
		for _, v := range dataVals {
			num += kernel(z-v, bandwidth)
		}
		for k, v := range vals {
			den += kernel(z-v, bandwidth) * offset[k]
		}
		c.Z[i] = z
		c.Fitted[i] = effect(z)
		fmin, fmax = math.Min(fmin, c.Fitted[i]), math.Max(fmax, c.Fitted[i])
		if num <= 0 || den <= 0 {
			c.Residual[i] = math.NaN()
			continue
		}
		c.Residual[i] = math.Log(num / den)
		c.MaxDeviation = math.Max(c.MaxDeviation, math.Abs(c.Residual[i]-c.Fitted[i]))
	}
	c.Flatness = math.NaN()
	if span := fmax - fmin; span > 1e-12 {
		c.Flatness = c.MaxDeviation / span
	}
	return c, nil
}

func kernel(d, h float64) float64 {
	u := d / h
	return math.Exp(-0.5 * u * u)
}

// ResidualField is the kernel-smoothed raw residual measure of a model.
type ResidualField struct {
	Sigma   float64        `json:"sigma" yaml:"sigma"`
	Surface *raster.Raster `json:"-" yaml:"-"`
	// Total is the sum of raw residuals, n minus the fitted count. It is
	// zero at the maximum likelihood estimate of a model with an intercept.
	Total float64 `json:"total" yaml:"total"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
}

// Residuals smooths the raw residuals: the data points carry mass +1 and
// every quadrature point carries -w_k lambda(u_k). Positive regions hold
// more points than the model predicts. A non-positive sigma defaults to an
// eighth of the shorter side of the window bounds.
func (m *Model) Residuals(sigma float64) (*ResidualField, error) {
	q := m.quad
	if sigma <= 0 {
		xmin, ymin, xmax, ymax := q.Window.Bounds()
		sigma = math.Min(xmax-xmin, ymax-ymin) / 8
	}

	data, err := q.DataPattern()
	if err != nil {
		return nil, eris.Wrap(err, "ppm: residual data pattern")
	}
	quadPts := make([]spatial.Point, q.Len())
	mass := make([]float64, q.Len())
	for k := range quadPts {
		quadPts[k] = spatial.Point{X: q.X[k], Y: q.Y[k]}
		mass[k] = q.Weights[k] * math.Exp(m.eta[k])
	}
	quadPattern, err := spatial.NewPattern(q.Window, quadPts)
	if err != nil {
		return nil, eris.Wrap(err, "ppm: residual quadrature pattern")
	}

	opts := explore.DensityOptions{Sigma: sigma, Grid: q.Grid, Edge: explore.EdgeNone}
	pos, err := explore.Density(data, opts)
	if err != nil {
		return nil, err
	}
	opts.Weights = mass
	neg, err := explore.Density(quadPattern, opts)
	if err != nil {
		return nil, err
	}

	f := &ResidualField{Sigma: sigma, Surface: raster.New("residuals", q.Grid), Min: math.Inf(1), Max: math.Inf(-1)}
	usable := make([]bool, q.Grid.Len())
	for k := 0; k < q.NDummy; k++ {
		usable[q.Cell[k]] = true
	}
	for i, ok := range usable {
		if !ok {
			continue
		}
		v := pos.Values[i] - neg.Values[i]
		f.Surface.Values[i] = v
		f.Min, f.Max = math.Min(f.Min, v), math.Max(f.Max, v)
	}
	f.Total = float64(q.NData) - m.Expected()
	return f, nil
}
