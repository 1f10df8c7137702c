// Package rhohat estimates intensity as a function of a spatial covariate.
package rhohat

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// z95 is the two-sided 95% normal quantile.
const z95 = 1.959963984540054

// Options configures the estimate.
type Options struct {
	// Points is the number of covariate values the curve is evaluated at.
	Points int
	// Bandwidth in covariate units. Zero selects Silverman's rule.
	Bandwidth float64
}

// Curve is the estimated intensity rho(z) with a pointwise 95% band.
type Curve struct {
	Covariate string    `json:"covariate" yaml:"covariate"`
	Bandwidth float64   `json:"bandwidth" yaml:"bandwidth"`
	Z         []float64 `json:"z" yaml:"z"`
	Rho       []float64 `json:"rho" yaml:"rho"`
	Lo        []float64 `json:"lo" yaml:"lo"`
	Hi        []float64 `json:"hi" yaml:"hi"`
	// Average is the overall intensity n/area over the cells used.
	Average float64 `json:"average" yaml:"average"`
	N       int     `json:"n" yaml:"n"`
	Dropped int     `json:"dropped" yaml:"dropped"`
}

// Estimate computes the ratio estimator
//
//	rho(z) = sum_i k_h(z - Z(x_i)) / integral_W k_h(z - Z(u)) du
//
// over raster cells inside the window. Points on undefined covariate cells
// are dropped and counted.
func Estimate(p *spatial.Pattern, cov *raster.Raster, opts Options) (*Curve, error) {
	if opts.Points < 2 {
		opts.Points = 128
	}
	log := zap.L().With(zap.String("component", "rhohat"), zap.String("covariate", cov.Name))

	inside := cov.InsideMask(p.Window)
	var ref []float64
	for i, v := range cov.Values {
		if inside[i] && !math.IsNaN(v) {
			ref = append(ref, v)
		}
	}
	if len(ref) == 0 {
		return nil, eris.Errorf("rhohat: %s has no defined cells inside the window", cov.Name)
	}

	var zs []float64
	dropped := 0
	for _, v := range cov.Sample(p.Points) {
		if math.IsNaN(v) {
			dropped++
			continue
		}
		zs = append(zs, v)
	}
	if dropped > 0 {
		log.Warn("points on undefined covariate cells dropped", zap.Int("dropped", dropped))
	}
	if len(zs) < 2 {
		return nil, eris.Errorf("rhohat: %s is defined at fewer than two points", cov.Name)
	}

	zmin, _ := stats.Min(ref)
	zmax, _ := stats.Max(ref)
	h := opts.Bandwidth
	if h <= 0 {
		h = Silverman(zs)
	}
	if h <= 0 || math.IsNaN(h) {
		h = (zmax - zmin) / 10
	}
	if h <= 0 {
		return nil, eris.Errorf("rhohat: %s is constant inside the window", cov.Name)
	}

	cellArea := cov.CellArea()
	c := &Curve{
		Covariate: cov.Name,
		Bandwidth: h,
		Z:         make([]float64, opts.Points),
		Rho:       make([]float64, opts.Points),
		Lo:        make([]float64, opts.Points),
		Hi:        make([]float64, opts.Points),
		Average:   float64(len(zs)) / (float64(len(ref)) * cellArea),
		N:         len(zs),
		Dropped:   dropped,
	}
	for k := range c.Z {
		z := zmin + (zmax-zmin)*float64(k)/float64(opts.Points-1)
		var num, num2, den float64
		for _, v := range zs {
			kv := gauss(z-v, h)
			num += kv
			num2 += kv * kv
		}
		for _, v := range ref {
			den += gauss(z-v, h) * cellArea
		}
		c.Z[k] = z
		if den <= 0 {
			c.Rho[k], c.Lo[k], c.Hi[k] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		rho := num / den
		se := math.Sqrt(num2) / den
		c.Rho[k] = rho
		c.Lo[k] = math.Max(0, rho-z95*se)
		c.Hi[k] = rho + z95*se
	}
	return c, nil
}

// Silverman returns 0.9 min(sd, IQR/1.34) n^(-1/5).
func Silverman(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	data := stats.Float64Data(values)
	sd, err := data.StandardDeviationSample()
	if err != nil {
		return 0
	}
	q1, err1 := data.Percentile(25)
	q3, err3 := data.Percentile(75)
	spread := sd
	if err1 == nil && err3 == nil {
		if iqr := (q3 - q1) / 1.34; iqr > 0 {
			spread = math.Min(sd, iqr)
		}
	}
	return 0.9 * spread * math.Pow(float64(len(values)), -0.2)
}

func gauss(d, h float64) float64 {
	u := d / h
	return math.Exp(-0.5*u*u) / (h * math.Sqrt(2*math.Pi))
}
