package analysis

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/ppm"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/rhohat"
)

// Rhohat estimates the intensity response curve of each named covariate.
func Rhohat(ds *dataset.Dataset, names []string, cfg config.RhohatConfig) ([]*rhohat.Curve, error) {
	out := make([]*rhohat.Curve, 0, len(names))
	for _, name := range names {
		cov, err := ds.Covariate(name)
		if err != nil {
			return nil, err
		}
		c, err := rhohat.Estimate(ds.Pattern, cov, rhohat.Options{Points: cfg.Points, Bandwidth: cfg.Bandwidth})
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Correlate is the pairwise collinearity check over the named covariates.
func Correlate(ds *dataset.Dataset, names []string, threshold float64) (*raster.CorrelationMatrix, error) {
	set := raster.Set{}
	for _, name := range names {
		cov, err := ds.Covariate(name)
		if err != nil {
			return nil, err
		}
		set[name] = cov
	}
	return raster.Correlate(set, threshold)
}

// QuadratureSummary describes the Berman-Turner scheme the models share.
type QuadratureSummary struct {
	Dummy        int     `json:"dummy" yaml:"dummy"`
	Data         int     `json:"data" yaml:"data"`
	DroppedData  int     `json:"dropped_data" yaml:"dropped_data"`
	DroppedCells int     `json:"dropped_cells" yaml:"dropped_cells"`
	Area         float64 `json:"area" yaml:"area"`
}

// FitResult holds every fitted model with its ranking and the likelihood
// ratio tests between each nested pair.
type FitResult struct {
	Quadrature  QuadratureSummary `json:"quadrature" yaml:"quadrature"`
	Summaries   []ppm.Summary     `json:"models" yaml:"models"`
	Ranking     []ppm.AICRow      `json:"aic" yaml:"aic"`
	Comparisons []*ppm.Comparison `json:"comparisons" yaml:"comparisons"`
	// Best indexes the model with the lowest AIC.
	Best   int          `json:"best" yaml:"best"`
	Models []*ppm.Model `json:"-" yaml:"-"`
}

// BestModel returns the model with the lowest AIC.
func (f *FitResult) BestModel() *ppm.Model { return f.Models[f.Best] }

// ModelOptions converts the model settings to fitting options.
func ModelOptions(cfg config.ModelConfig) ppm.Options {
	opts := ppm.DefaultOptions()
	if cfg.MaxIter > 0 {
		opts.MaxIter = cfg.MaxIter
	}
	if cfg.Tolerance > 0 {
		opts.Tolerance = cfg.Tolerance
	}
	if cfg.MinPointsPerKnot > 0 {
		opts.MinPointsPerKnot = cfg.MinPointsPerKnot
	}
	if cfg.CollinearityThreshold > 0 {
		opts.CollinearityThreshold = cfg.CollinearityThreshold
	}
	return opts
}

// FitModels fits the intensity-only model followed by each formula on one
// shared quadrature, then compares every nested pair.
func FitModels(ds *dataset.Dataset, formulas []string, cfg config.ModelConfig) (*FitResult, error) {
	log := zap.L().With(zap.String("component", "analysis.fit"))

	parsed := []ppm.Formula{{}}
	for _, s := range formulas {
		f, err := ppm.ParseFormula(s)
		if err != nil {
			return nil, err
		}
		if len(f.Terms) == 0 {
			continue
		}
		parsed = append(parsed, f)
	}

	q, err := ppm.NewQuadrature(ds.Pattern, ds.Covariates)
	if err != nil {
		return nil, err
	}
	if q.DroppedData > 0 {
		log.Warn("data points on undefined covariate cells dropped from the quadrature",
			zap.Int("dropped", q.DroppedData))
	}
	res := &FitResult{Quadrature: QuadratureSummary{
		Dummy:        q.NDummy,
		Data:         q.NData,
		DroppedData:  q.DroppedData,
		DroppedCells: q.DroppedCells,
		Area:         q.Area(),
	}}

	opts := ModelOptions(cfg)
	for _, f := range parsed {
		m, err := ppm.Fit(q, f, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: fit %s", f)
		}
		res.Models = append(res.Models, m)
		res.Summaries = append(res.Summaries, m.Summarize())
	}

	res.Ranking = ppm.RankAIC(res.Models)
	best := math.Inf(1)
	for i, m := range res.Models {
		if m.AIC < best {
			best, res.Best = m.AIC, i
		}
	}

	for i, a := range res.Models {
		for j, b := range res.Models {
			if i == j || b.DF <= a.DF || !b.Formula.Contains(a.Formula) {
				continue
			}
			c, err := ppm.Compare(a, b)
			if err != nil {
				return nil, err
			}
			res.Comparisons = append(res.Comparisons, c)
		}
	}

	log.Info("models fitted",
		zap.Int("models", len(res.Models)),
		zap.Int("comparisons", len(res.Comparisons)),
		zap.String("best", res.BestModel().Formula.String()),
	)
	return res, nil
}

// FitPair fits nested and richer alongside the intensity-only model and
// tests richer against nested. Formulas that are not nested, or a richer
// model without extra parameters, are an error rather than a skipped pair.
func FitPair(ds *dataset.Dataset, nested, richer string, cfg config.ModelConfig) (*FitResult, *ppm.Comparison, error) {
	res, err := FitModels(ds, []string{nested, richer}, cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := res.model(nested)
	if err != nil {
		return nil, nil, err
	}
	b, err := res.model(richer)
	if err != nil {
		return nil, nil, err
	}
	c, err := ppm.Compare(a, b)
	if err != nil {
		return nil, nil, eris.Wrap(err, "analysis: compare")
	}
	return res, c, nil
}

// model returns the fitted model for formula s.
func (f *FitResult) model(s string) (*ppm.Model, error) {
	want, err := ppm.ParseFormula(s)
	if err != nil {
		return nil, err
	}
	for _, m := range f.Models {
		if m.Formula.String() == want.String() {
			return m, nil
		}
	}
	return nil, eris.Errorf("analysis: no fitted model for %s", want)
}

// Diagnostics are the residual checks of one fitted model.
type Diagnostics struct {
	Formula   string                      `json:"formula" yaml:"formula"`
	Partial   []*ppm.PartialResidualCurve `json:"partial_residuals" yaml:"partial_residuals"`
	Residuals *ppm.ResidualField          `json:"residuals" yaml:"residuals"`
}

// Diagnose computes the partial residual curve of each named covariate and
// the smoothed raw residual field.
func Diagnose(m *ppm.Model, names []string, cfg config.ModelConfig) (*Diagnostics, error) {
	d := &Diagnostics{Formula: m.Formula.String()}
	for _, name := range names {
		c, err := m.PartialResidual(name, cfg.PartialPoints, 0)
		if err != nil {
			return nil, err
		}
		if c.InModel && c.Flatness > 0.5 {
			zap.L().Warn("partial residual departs from the fitted effect",
				zap.String("component", "analysis.diagnose"),
				zap.String("covariate", name),
				zap.Float64("flatness", c.Flatness),
			)
		}
		d.Partial = append(d.Partial, c)
	}
	f, err := m.Residuals(cfg.ResidualSigma)
	if err != nil {
		return nil, err
	}
	d.Residuals = f
	return d, nil
}
