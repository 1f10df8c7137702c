package ppm

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Options configures model fitting.
type Options struct {
	MaxIter   int
	Tolerance float64
	// MinPointsPerKnot is the fewest data points a spline knot interval may
	// hold before a warning is raised.
	MinPointsPerKnot int
	// CollinearityThreshold flags pairs of covariates whose columns are
	// more correlated than this in absolute value.
	CollinearityThreshold float64
}

// DefaultOptions returns the fitting defaults.
func DefaultOptions() Options {
	return Options{MaxIter: 50, Tolerance: 1e-8, MinPointsPerKnot: 5, CollinearityThreshold: 0.7}
}

// condLimit is the condition number of the standardised information matrix
// above which the fit is reported as nearly singular.
const condLimit = 1e10

// Model is a fitted Poisson intensity model. Refitting produces a new Model.
type Model struct {
	Formula    Formula     `json:"formula" yaml:"formula"`
	Names      []string    `json:"names" yaml:"names"`
	Coef       []float64   `json:"coef" yaml:"coef"`
	SE         []float64   `json:"se" yaml:"se"`
	Cov        [][]float64 `json:"-" yaml:"-"`
	LogLik     float64     `json:"loglik" yaml:"loglik"`
	AIC        float64     `json:"aic" yaml:"aic"`
	DF         int         `json:"df" yaml:"df"`
	Iterations int         `json:"iterations" yaml:"iterations"`
	Converged  bool        `json:"converged" yaml:"converged"`
	Warnings   []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	NData      int         `json:"n_data" yaml:"n_data"`
	NQuad      int         `json:"n_quad" yaml:"n_quad"`

	bases  []basis
	termOf []int
	quad   *Quadrature
	eta    []float64
}

// Quadrature returns the scheme the model was fitted on.
func (m *Model) Quadrature() *Quadrature { return m.quad }

// Fitted returns the fitted intensity at every quadrature point.
func (m *Model) Fitted() []float64 {
	out := make([]float64, len(m.eta))
	for i, e := range m.eta {
		out[i] = math.Exp(e)
	}
	return out
}

// Fit maximises the Berman-Turner Poisson log-likelihood
//
//	l(beta) = sum_k z_k eta_k - sum_k w_k exp(eta_k)
//
// by Newton-Raphson (IRLS) with step halving. Degenerate data produce
// warnings or errors, never a panic.
func Fit(q *Quadrature, f Formula, opts Options) (*Model, error) {
	if q == nil || q.Len() == 0 {
		return nil, eris.New("ppm: empty quadrature")
	}
	if q.NData == 0 {
		return nil, eris.New("ppm: no data points in the quadrature")
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultOptions().MaxIter
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}
	log := zap.L().With(zap.String("component", "ppm.fit"), zap.String("formula", f.String()))

	bases, err := buildBases(f, q)
	if err != nil {
		return nil, err
	}
	d := buildDesign(bases, q.Values, q.Len())
	m := &Model{
		Formula: f,
		Names:   d.names,
		DF:      d.p(),
		NData:   q.NData,
		NQuad:   q.Len(),
		bases:   bases,
		termOf:  d.termOf,
		quad:    q,
	}
	m.Warnings = append(m.Warnings, collinearityWarnings(d, bases, q, opts.CollinearityThreshold)...)
	m.Warnings = append(m.Warnings, knotWarnings(bases, q, opts.MinPointsPerKnot)...)

	center, scale := d.standardize()
	z := q.indicator()
	w := q.Weights
	p := d.p()
	n := q.Len()

	beta := make([]float64, p)
	beta[0] = math.Log(float64(q.NData) / q.Area())
	eta := make([]float64, n)
	linpred := func(b []float64) {
		for i := range eta {
			eta[i] = 0
		}
		for j, col := range d.columns {
			if b[j] == 0 {
				continue
			}
			for i, v := range col {
				eta[i] += b[j] * v
			}
		}
	}
	loglik := func() float64 {
		var l float64
		for i, e := range eta {
			l += z[i]*e - w[i]*math.Exp(e)
		}
		return l
	}

	linpred(beta)
	ll := loglik()
	info := mat.NewSymDense(p, nil)
	grad := mat.NewVecDense(p, nil)
	step := mat.NewVecDense(p, nil)
	var chol mat.Cholesky

	for m.Iterations = 1; m.Iterations <= opts.MaxIter; m.Iterations++ {
		if err := scoreAndInfo(d, eta, z, w, grad, info); err != nil {
			return nil, err
		}
		if !factorize(&chol, info) {
			return nil, eris.Errorf("ppm: information matrix is singular for %s", f)
		}
		if err := chol.SolveVecTo(step, grad); err != nil {
			return nil, eris.Wrap(err, "ppm: solve Newton step")
		}

		next := make([]float64, p)
		nextLL := math.Inf(-1)
		for halving := 0; halving < 30; halving++ {
			frac := math.Pow(0.5, float64(halving))
			for j := range next {
				next[j] = beta[j] + frac*step.AtVec(j)
			}
			linpred(next)
			nextLL = loglik()
			if !math.IsNaN(nextLL) && nextLL >= ll-1e-12*math.Abs(ll) {
				break
			}
		}
		if math.IsNaN(nextLL) || math.IsInf(nextLL, 0) {
			linpred(beta)
			m.Warnings = append(m.Warnings, "log-likelihood became non-finite; stopped early")
			break
		}
		change := math.Abs(nextLL - ll)
		beta, ll = next, nextLL
		if change < opts.Tolerance*(math.Abs(ll)+0.1) {
			m.Converged = true
			break
		}
	}
	if m.Iterations > opts.MaxIter {
		m.Iterations = opts.MaxIter
	}
	if !m.Converged {
		m.Warnings = append(m.Warnings, fmt.Sprintf("did not converge in %d iterations", opts.MaxIter))
	}

	// Final information at the estimate.
	if err := scoreAndInfo(d, eta, z, w, grad, info); err != nil {
		return nil, err
	}
	var covStd mat.SymDense
	haveCov := factorize(&chol, info)
	if haveCov {
		if c := chol.Cond(); c > condLimit || math.IsInf(c, 0) {
			m.Warnings = append(m.Warnings, fmt.Sprintf("information matrix is nearly singular (condition number %.3g); terms may be collinear", c))
		}
		haveCov = chol.InverseTo(&covStd) == nil
	}
	if !haveCov {
		m.Warnings = append(m.Warnings, "could not invert the information matrix; standard errors unavailable")
	}

	m.Coef, m.Cov = backTransform(beta, &covStd, center, scale, haveCov)
	m.SE = make([]float64, p)
	for j := range m.SE {
		m.SE[j] = math.NaN()
		if m.Cov != nil && m.Cov[j][j] >= 0 {
			m.SE[j] = math.Sqrt(m.Cov[j][j])
		}
	}
	m.eta = append([]float64(nil), eta...)
	m.LogLik = ll
	m.AIC = -2*ll + 2*float64(p)

	for _, msg := range m.Warnings {
		log.Warn("fit warning", zap.String("warning", msg))
	}
	log.Info("model fitted",
		zap.Float64("loglik", m.LogLik),
		zap.Float64("aic", m.AIC),
		zap.Int("iterations", m.Iterations),
		zap.Bool("converged", m.Converged),
	)
	return m, nil
}

func scoreAndInfo(d *design, eta, z, w []float64, grad *mat.VecDense, info *mat.SymDense) error {
	p := d.p()
	mu := make([]float64, len(eta))
	for i, e := range eta {
		mu[i] = w[i] * math.Exp(e)
		if math.IsInf(mu[i], 0) || math.IsNaN(mu[i]) {
			return eris.New("ppm: fitted intensity overflowed")
		}
	}
	for a := 0; a < p; a++ {
		ca := d.columns[a]
		var g float64
		for i, v := range ca {
			g += v * (z[i] - mu[i])
		}
		grad.SetVec(a, g)
		for b := a; b < p; b++ {
			cb := d.columns[b]
			var s float64
			for i, v := range ca {
				s += v * cb[i] * mu[i]
			}
			info.SetSym(a, b, s)
		}
	}
	return nil
}

// factorize computes the Cholesky factor, adding a growing ridge when the
// matrix is not numerically positive definite.
func factorize(chol *mat.Cholesky, a *mat.SymDense) bool {
	if chol.Factorize(a) {
		return true
	}
	p, _ := a.Dims()
	var trace float64
	for i := 0; i < p; i++ {
		trace += a.At(i, i)
	}
	ridge := 1e-10 * math.Max(trace/float64(p), 1e-12)
	for k := 0; k < 8; k++ {
		r := mat.NewSymDense(p, nil)
		r.CopySym(a)
		for i := 0; i < p; i++ {
			r.SetSym(i, i, r.At(i, i)+ridge)
		}
		if chol.Factorize(r) {
			return true
		}
		ridge *= 100
	}
	return false
}

// backTransform maps standardised estimates to the original columns:
// beta = T beta_std and Cov = T Cov_std T^T.
func backTransform(bstd []float64, covStd *mat.SymDense, center, scale []float64, haveCov bool) ([]float64, [][]float64) {
	p := len(bstd)
	t := mat.NewDense(p, p, nil)
	t.Set(0, 0, 1)
	for j := 1; j < p; j++ {
		t.Set(j, j, 1/scale[j])
		t.Set(0, j, -center[j]/scale[j])
	}
	coef := mat.NewVecDense(p, nil)
	coef.MulVec(t, mat.NewVecDense(p, bstd))

	beta := make([]float64, p)
	for j := range beta {
		beta[j] = coef.AtVec(j)
	}
	if !haveCov {
		return beta, nil
	}
	var tmp, cov mat.Dense
	tmp.Mul(t, covStd)
	cov.Mul(&tmp, t.T())
	out := make([][]float64, p)
	for i := range out {
		out[i] = make([]float64, p)
		for j := range out[i] {
			out[i][j] = cov.At(i, j)
		}
	}
	return beta, out
}

// collinearityWarnings flags strongly correlated columns belonging to
// different covariates.
func collinearityWarnings(d *design, bases []basis, q *Quadrature, threshold float64) []string {
	if threshold <= 0 {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	wts := q.Weights
	for a := 1; a < d.p(); a++ {
		for b := a + 1; b < d.p(); b++ {
			va, vb := bases[d.termOf[a]].Term.Var, bases[d.termOf[b]].Term.Var
			if va == vb {
				continue
			}
			key := va + "|" + vb
			if seen[key] {
				continue
			}
			r := stat.Correlation(d.columns[a], d.columns[b], wts)
			if math.Abs(r) > threshold {
				seen[key] = true
				out = append(out, fmt.Sprintf("%s and %s are highly correlated (r=%.2f)", d.names[a], d.names[b], r))
			}
		}
	}
	return out
}

// knotWarnings flags spline bases that lost columns to tied knots and knot
// intervals holding too few data points.
func knotWarnings(bases []basis, q *Quadrature, minPoints int) []string {
	var out []string
	for _, b := range bases {
		if b.Spline == nil {
			continue
		}
		if got := b.Spline.DF(); got < b.Term.DF {
			out = append(out, fmt.Sprintf("%s: tied covariate quantiles reduced the basis to %d columns", b.Term, got))
		}
		if minPoints <= 0 {
			continue
		}
		knots := b.Spline.Knots()
		counts := make([]int, len(knots)-1)
		vals := q.Values[b.Term.Var]
		for k := q.NDummy; k < q.Len(); k++ {
			counts[b.Spline.Interval(vals[k])]++
		}
		for i, c := range counts {
			if c < minPoints && knots[i+1] > knots[i] {
				out = append(out, fmt.Sprintf("%s: only %d data points between knots %.4g and %.4g", b.Term, c, knots[i], knots[i+1]))
			}
		}
	}
	return out
}
