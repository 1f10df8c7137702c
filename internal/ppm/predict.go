package ppm

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// linearPredictor evaluates eta at one location from its covariate values.
func (m *Model) linearPredictor(value func(name string) float64) float64 {
	eta := m.Coef[0]
	col := 1
	for _, b := range m.bases {
		row := make([]float64, b.columns())
		b.eval(value(b.Term.Var), row)
		for _, v := range row {
			eta += m.Coef[col] * v
			col++
		}
	}
	return eta
}

// termEffect evaluates f_t(v), the contribution of term t at value v.
func (m *Model) termEffect(t int, v float64) float64 {
	col := 1
	for i, b := range m.bases {
		k := b.columns()
		if i == t {
			row := make([]float64, k)
			b.eval(v, row)
			var s float64
			for j, x := range row {
				s += m.Coef[col+j] * x
			}
			return s
		}
		col += k
	}
	return 0
}

// Predict returns the fitted intensity on the grid of covs. Cells outside w
// or with an undefined covariate are NaN.
func (m *Model) Predict(covs raster.Set, w *spatial.Window) (*raster.Raster, error) {
	g, err := covs.Grid()
	if err != nil {
		return nil, eris.Wrap(err, "ppm: predict grid")
	}
	for _, v := range m.Formula.Variables() {
		if v == CoordX || v == CoordY {
			continue
		}
		if _, ok := covs[v]; !ok {
			return nil, eris.Errorf("ppm: predict needs covariate %q", v)
		}
	}
	out := raster.New("intensity", g)
	inside := g.InsideMask(w)
	for i := range out.Values {
		if !inside[i] {
			continue
		}
		x, y := g.CenterOf(i)
		eta := m.linearPredictor(func(name string) float64 {
			switch name {
			case CoordX:
				return x
			case CoordY:
				return y
			}
			return covs[name].Values[i]
		})
		if !math.IsNaN(eta) {
			out.Values[i] = math.Exp(eta)
		}
	}
	return out, nil
}

// Expected returns the fitted number of points, the integral of the fitted
// intensity over the quadrature.
func (m *Model) Expected() float64 {
	var s float64
	for k, e := range m.eta {
		s += m.quad.Weights[k] * math.Exp(e)
	}
	return s
}
