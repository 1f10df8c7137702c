package ppm

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"
)

// Comparison is a likelihood ratio test between nested models.
type Comparison struct {
	Nested    string  `json:"nested" yaml:"nested"`
	Richer    string  `json:"richer" yaml:"richer"`
	LogLik0   float64 `json:"loglik_nested" yaml:"loglik_nested"`
	LogLik1   float64 `json:"loglik_richer" yaml:"loglik_richer"`
	Statistic float64 `json:"lrt" yaml:"lrt"`
	DF        int     `json:"df" yaml:"df"`
	PValue    float64 `json:"p_value" yaml:"p_value"`
	DeltaAIC  float64 `json:"delta_aic" yaml:"delta_aic"`
	Preferred string  `json:"preferred" yaml:"preferred"`
}

// Compare tests nested against richer. Both must be fitted on the same
// quadrature and every term of nested must appear in richer.
// DeltaAIC is AIC(richer) - AIC(nested); a negative value prefers richer.
func Compare(nested, richer *Model) (*Comparison, error) {
	if nested.quad != richer.quad {
		return nil, eris.New("ppm: models were fitted on different quadratures")
	}
	if !richer.Formula.Contains(nested.Formula) {
		return nil, eris.Errorf("ppm: %s is not nested in %s", nested.Formula, richer.Formula)
	}
	df := richer.DF - nested.DF
	if df <= 0 {
		return nil, eris.Errorf("ppm: %s adds no parameters to %s", richer.Formula, nested.Formula)
	}

	c := &Comparison{
		Nested:   nested.Formula.String(),
		Richer:   richer.Formula.String(),
		LogLik0:  nested.LogLik,
		LogLik1:  richer.LogLik,
		DF:       df,
		DeltaAIC: richer.AIC - nested.AIC,
	}
	// The richer model can only trail by optimiser tolerance.
	c.Statistic = math.Max(0, 2*(richer.LogLik-nested.LogLik))
	c.PValue = distuv.ChiSquared{K: float64(df)}.Survival(c.Statistic)
	c.Preferred = c.Nested
	if c.DeltaAIC < 0 {
		c.Preferred = c.Richer
	}
	return c, nil
}

// AICRow is one line of an information-criterion table.
type AICRow struct {
	Formula  string  `json:"formula" yaml:"formula"`
	DF       int     `json:"df" yaml:"df"`
	LogLik   float64 `json:"loglik" yaml:"loglik"`
	AIC      float64 `json:"aic" yaml:"aic"`
	DeltaAIC float64 `json:"delta_aic" yaml:"delta_aic"`
}

// RankAIC tabulates models by AIC relative to the best one, which need not
// be nested.
func RankAIC(models []*Model) []AICRow {
	best := math.Inf(1)
	for _, m := range models {
		best = math.Min(best, m.AIC)
	}
	out := make([]AICRow, len(models))
	for i, m := range models {
		out[i] = AICRow{Formula: m.Formula.String(), DF: m.DF, LogLik: m.LogLik, AIC: m.AIC, DeltaAIC: m.AIC - best}
	}
	return out
}
