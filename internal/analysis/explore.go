// Package analysis runs the stages of a point-pattern analysis over a
// loaded dataset and collects their results.
package analysis

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/explore"
	"github.com/sells-group/pointpattern-cli/internal/raster"
)

// ExploreResult gathers the descriptive first-order summaries.
type ExploreResult struct {
	Intensity   explore.IntensitySummary   `json:"intensity" yaml:"intensity"`
	Quadrat     *explore.QuadratCounts     `json:"quadrat" yaml:"quadrat"`
	QuadratTest *explore.QuadratTestResult `json:"quadrat_test" yaml:"quadrat_test"`
	Bandwidth   *explore.BandwidthResult   `json:"bandwidth" yaml:"bandwidth"`
	Covariates  []raster.Summary           `json:"covariates,omitempty" yaml:"covariates,omitempty"`
	Bins        []CovariateBins            `json:"bins,omitempty" yaml:"bins,omitempty"`
	// Density is the kernel intensity surface at the selected bandwidth.
	Density *raster.Raster `json:"-" yaml:"-"`
}

// CovariateBins are the point counts per quantile class of one covariate.
type CovariateBins struct {
	Covariate    string            `json:"covariate" yaml:"covariate"`
	Bins         []raster.BinCount `json:"bins" yaml:"bins"`
	Unclassified int               `json:"unclassified" yaml:"unclassified"`
}

// CovariateNames returns the loaded covariate names in sorted order.
func CovariateNames(ds *dataset.Dataset) []string {
	names := make([]string, 0, len(ds.Covariates))
	for name := range ds.Covariates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DensityGrid is the covariate grid when covariates are loaded, otherwise a
// grid of about cells cells along the longer side of the window.
func DensityGrid(ds *dataset.Dataset, cells int) raster.Grid {
	if g, err := ds.Covariates.Grid(); err == nil {
		return g
	}
	if cells <= 0 {
		cells = 128
	}
	return raster.GridFor(ds.Pattern.Window, cells)
}

// Explore computes the intensity, the quadrat test, the cross-validated
// kernel density and per-covariate summaries.
func Explore(ds *dataset.Dataset, cfg config.ExploreConfig) (*ExploreResult, error) {
	log := zap.L().With(zap.String("component", "analysis.explore"))
	p := ds.Pattern

	res := &ExploreResult{}
	var err error
	if res.Intensity, err = explore.Intensity(p); err != nil {
		return nil, err
	}
	if res.Quadrat, err = explore.QuadratCount(p, cfg.QuadratNX, cfg.QuadratNY); err != nil {
		return nil, err
	}
	alt := explore.Alternative(cfg.Alternative)
	if alt == "" {
		alt = explore.TwoSided
	}
	if res.QuadratTest, err = explore.QuadratTest(res.Quadrat, alt); err != nil {
		return nil, err
	}

	base := explore.DensityOptions{
		Grid:  DensityGrid(ds, cfg.GridCells),
		Floor: cfg.DensityFloor,
		Edge:  explore.EdgeCorrection(cfg.Edge),
	}
	if cfg.Bandwidth > 0 {
		res.Bandwidth = &explore.BandwidthResult{Sigma: cfg.Bandwidth}
	} else {
		candidates := explore.BandwidthCandidates(p.Window, base.Grid, cfg.BandwidthCandidates)
		if res.Bandwidth, err = explore.SelectBandwidthPPL(p, base, candidates); err != nil {
			return nil, err
		}
	}
	base.Sigma = res.Bandwidth.Sigma
	if res.Density, err = explore.Density(p, base); err != nil {
		return nil, eris.Wrap(err, "analysis: density")
	}

	for _, name := range CovariateNames(ds) {
		r := ds.Covariates[name]
		s, err := r.Summarize()
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: summarize %s", name)
		}
		res.Covariates = append(res.Covariates, s)
		if cfg.Bins < 1 {
			continue
		}
		breaks, err := raster.QuantileBreaks(r.Values, cfg.Bins)
		if err != nil {
			return nil, eris.Wrapf(err, "analysis: breaks for %s", name)
		}
		bins, unclassified := r.Tessellate(p.Points, breaks)
		res.Bins = append(res.Bins, CovariateBins{Covariate: name, Bins: bins, Unclassified: unclassified})
	}

	log.Info("exploration complete",
		zap.Float64("lambda", res.Intensity.Lambda),
		zap.Float64("quadrat_p", res.QuadratTest.PValue),
		zap.Float64("sigma", res.Bandwidth.Sigma),
	)
	return res, nil
}
