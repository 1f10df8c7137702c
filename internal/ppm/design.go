package ppm

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// basis expands one term into its design columns. Spline bases carry the
// knots chosen at fit time so prediction reuses them.
type basis struct {
	Term   Term
	Spline *BSpline
}

func (b basis) columns() int {
	if b.Spline != nil {
		return b.Spline.DF()
	}
	return b.Term.Columns()
}

func (b basis) names() []string {
	n := b.columns()
	if n == 1 {
		return []string{b.Term.String()}
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", b.Term, i+1)
	}
	return out
}

// eval writes the term's columns for covariate value v.
func (b basis) eval(v float64, out []float64) {
	switch b.Term.Kind {
	case Linear:
		out[0] = v
	case Power:
		out[0] = math.Pow(v, float64(b.Term.Degree))
	case Poly:
		x := 1.0
		for i := range out[:b.Term.Degree] {
			x *= v
			out[i] = x
		}
	case Spline:
		b.Spline.Eval(v, out)
	}
}

// buildBases fixes the basis of every term from the covariate values at the
// dummy quadrature points.
func buildBases(f Formula, q *Quadrature) ([]basis, error) {
	out := make([]basis, len(f.Terms))
	for i, t := range f.Terms {
		vals, ok := q.Values[t.Var]
		if !ok {
			return nil, eris.Errorf("ppm: unknown covariate %q", t.Var)
		}
		out[i] = basis{Term: t}
		if t.Kind == Spline {
			sp, err := NewBSpline(q.dummyValues(vals), t.DF)
			if err != nil {
				return nil, eris.Wrapf(err, "ppm: basis for %s", t)
			}
			out[i].Spline = sp
		}
	}
	return out, nil
}

// design is a dense column-major design matrix with an intercept column.
type design struct {
	names   []string
	termOf  []int // term index of each column, -1 for the intercept
	columns [][]float64
}

func (d *design) p() int { return len(d.columns) }

func buildDesign(bases []basis, values map[string][]float64, n int) *design {
	d := &design{names: []string{"(Intercept)"}, termOf: []int{-1}}
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	d.columns = append(d.columns, ones)

	for ti, b := range bases {
		k := b.columns()
		cols := make([][]float64, k)
		for j := range cols {
			cols[j] = make([]float64, n)
		}
		row := make([]float64, k)
		vals := values[b.Term.Var]
		for i := 0; i < n; i++ {
			b.eval(vals[i], row)
			for j := range cols {
				cols[j][i] = row[j]
			}
		}
		d.names = append(d.names, b.names()...)
		for range cols {
			d.termOf = append(d.termOf, ti)
		}
		d.columns = append(d.columns, cols...)
	}
	return d
}

// standardize centres and scales every non-intercept column in place and
// returns the transform T with beta = T beta_std.
func (d *design) standardize() (center, scale []float64) {
	p := d.p()
	center = make([]float64, p)
	scale = make([]float64, p)
	scale[0] = 1
	for j := 1; j < p; j++ {
		col := d.columns[j]
		var mean float64
		for _, v := range col {
			mean += v
		}
		mean /= float64(len(col))
		var ss float64
		for _, v := range col {
			ss += (v - mean) * (v - mean)
		}
		sd := math.Sqrt(ss / float64(len(col)))
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		for i := range col {
			col[i] = (col[i] - mean) / sd
		}
		center[j], scale[j] = mean, sd
	}
	return center, scale
}
