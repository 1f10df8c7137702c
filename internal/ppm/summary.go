package ppm

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Coefficient is one row of a coefficient table.
type Coefficient struct {
	Name     string  `json:"name" yaml:"name"`
	Estimate float64 `json:"estimate" yaml:"estimate"`
	SE       float64 `json:"se" yaml:"se"`
	CILo     float64 `json:"ci_lo" yaml:"ci_lo"`
	CIHi     float64 `json:"ci_hi" yaml:"ci_hi"`
	Z        float64 `json:"z" yaml:"z"`
	PValue   float64 `json:"p_value" yaml:"p_value"`
}

// Summary is the printable result of a fit.
type Summary struct {
	Formula      string        `json:"formula" yaml:"formula"`
	Coefficients []Coefficient `json:"coefficients" yaml:"coefficients"`
	LogLik       float64       `json:"loglik" yaml:"loglik"`
	AIC          float64       `json:"aic" yaml:"aic"`
	DF           int           `json:"df" yaml:"df"`
	Iterations   int           `json:"iterations" yaml:"iterations"`
	Converged    bool          `json:"converged" yaml:"converged"`
	NData        int           `json:"n_data" yaml:"n_data"`
	NQuad        int           `json:"n_quad" yaml:"n_quad"`
	Expected     float64       `json:"expected" yaml:"expected"`
	Warnings     []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Summarize builds the coefficient table with Wald z statistics and 95%
// confidence intervals.
func (m *Model) Summarize() Summary {
	s := Summary{
		Formula:    m.Formula.String(),
		LogLik:     m.LogLik,
		AIC:        m.AIC,
		DF:         m.DF,
		Iterations: m.Iterations,
		Converged:  m.Converged,
		NData:      m.NData,
		NQuad:      m.NQuad,
		Expected:   m.Expected(),
		Warnings:   m.Warnings,
	}
	q := distuv.UnitNormal.Quantile(0.975)
	for j, name := range m.Names {
		c := Coefficient{Name: name, Estimate: m.Coef[j], SE: m.SE[j]}
		c.Z = c.Estimate / c.SE
		c.PValue = 2 * distuv.UnitNormal.Survival(math.Abs(c.Z))
		c.CILo = c.Estimate - q*c.SE
		c.CIHi = c.Estimate + q*c.SE
		s.Coefficients = append(s.Coefficients, c)
	}
	return s
}
