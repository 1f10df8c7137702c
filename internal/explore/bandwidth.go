package explore

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// BandwidthScore is the cross-validation criterion at one bandwidth.
type BandwidthScore struct {
	Sigma     float64 `json:"sigma" yaml:"sigma"`
	Criterion float64 `json:"criterion" yaml:"criterion"`
}

// BandwidthResult is the outcome of likelihood cross-validation. The optimum
// is only the best candidate on the searched grid; flat criterion curves
// admit many nearly equivalent bandwidths.
type BandwidthResult struct {
	Sigma  float64          `json:"sigma" yaml:"sigma"`
	Scores []BandwidthScore `json:"scores" yaml:"scores"`
}

// BandwidthCandidates returns k geometrically spaced bandwidths between 1/100
// and 1/4 of the shorter side of the window bounds, but never below half a
// grid cell.
func BandwidthCandidates(w *spatial.Window, g raster.Grid, k int) []float64 {
	xmin, ymin, xmax, ymax := w.Bounds()
	side := math.Min(xmax-xmin, ymax-ymin)
	lo := math.Max(side/100, g.CellSize/2)
	hi := math.Max(side/4, 2*lo)
	if k < 2 {
		return []float64{math.Sqrt(lo * hi)}
	}
	out := make([]float64, k)
	ratio := math.Pow(hi/lo, 1/float64(k-1))
	for i := range out {
		out[i] = lo * math.Pow(ratio, float64(i))
	}
	return out
}

// SelectBandwidthPPL picks the bandwidth maximising the leave-one-out
// Poisson log-likelihood
//
//	CV(sigma) = sum_i log lambda_{-i}(x_i) - integral_W lambda(u) du.
func SelectBandwidthPPL(p *spatial.Pattern, base DensityOptions, candidates []float64) (*BandwidthResult, error) {
	if len(candidates) == 0 {
		return nil, eris.New("explore: no bandwidth candidates")
	}
	if p.N() < 2 {
		return nil, eris.New("explore: bandwidth selection needs at least two points")
	}
	log := zap.L().With(zap.String("component", "explore.bandwidth"))

	res := &BandwidthResult{Sigma: math.NaN(), Scores: make([]BandwidthScore, 0, len(candidates))}
	best := math.Inf(-1)
	for _, sigma := range candidates {
		opts := base
		opts.Sigma = sigma
		if opts.Floor <= 0 {
			opts.Floor = 1e-12
		}
		loo, err := DensityAtPoints(p, opts, true)
		if err != nil {
			return nil, eris.Wrapf(err, "explore: leave-one-out density at sigma %g", sigma)
		}
		surface, err := Density(p, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "explore: density at sigma %g", sigma)
		}
		var cv float64
		for _, v := range loo {
			cv += math.Log(v)
		}
		cv -= surface.Integral()
		res.Scores = append(res.Scores, BandwidthScore{Sigma: sigma, Criterion: cv})
		if cv > best {
			best, res.Sigma = cv, sigma
		}
	}
	log.Debug("bandwidth selected",
		zap.Float64("sigma", res.Sigma),
		zap.Float64("criterion", best),
		zap.Int("candidates", len(candidates)),
	)
	return res, nil
}
