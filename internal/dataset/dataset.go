// Package dataset assembles the window, points and covariates of an
// analysis from configuration, in analysis units.
package dataset

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/simulate"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// Dataset is a point pattern with its covariates on a common grid.
type Dataset struct {
	Pattern    *spatial.Pattern
	Covariates raster.Set
	Report     spatial.LoadReport
	Units      string
}

// Load reads the files named by cfg, rescales them by units.Scale and masks
// every covariate to the window.
func Load(cfg config.DataConfig, units config.UnitsConfig) (*Dataset, error) {
	log := zap.L().With(zap.String("component", "dataset"))

	w, err := spatial.LoadWindow(cfg.Window)
	if err != nil {
		return nil, err
	}
	pat, rep, err := spatial.LoadPoints(cfg.Points, w)
	if err != nil {
		return nil, err
	}
	covs := raster.Set{}
	if len(cfg.Covariates) > 0 {
		covs, err = raster.LoadCovariates(cfg.CovariateDir, cfg.Covariates)
		if err != nil {
			return nil, err
		}
	}

	scale := units.Scale
	if scale <= 0 {
		scale = 1
	}
	if scale != 1 {
		if pat, err = pat.Rescale(scale); err != nil {
			return nil, eris.Wrap(err, "dataset: rescale pattern")
		}
	}
	for name, r := range covs {
		if scale != 1 {
			r = r.Rescale(scale)
		}
		covs[name] = r.Mask(pat.Window)
	}

	log.Info("dataset loaded",
		zap.Int("points", pat.N()),
		zap.Int("outside_window", rep.OutsideWindow),
		zap.Int("covariates", len(covs)),
		zap.Float64("area", pat.Window.Area()),
		zap.String("units", units.Name),
	)
	return &Dataset{Pattern: pat, Covariates: covs, Report: rep, Units: units.Name}, nil
}

// Covariate returns the named covariate or an error listing the problem.
func (d *Dataset) Covariate(name string) (*raster.Raster, error) {
	r, ok := d.Covariates[name]
	if !ok {
		return nil, eris.Errorf("dataset: covariate %q not loaded", name)
	}
	return r, nil
}

// WriteSynthetic writes a generated dataset as window.geojson, points.csv
// and covariates/<Name>.asc under dir, and returns the matching data
// configuration.
func WriteSynthetic(dir string, syn *simulate.Synthetic) (config.DataConfig, error) {
	covDir := filepath.Join(dir, "covariates")
	if err := os.MkdirAll(covDir, 0o755); err != nil {
		return config.DataConfig{}, eris.Wrapf(err, "dataset: create %s", covDir)
	}

	gj, err := geojson.Marshal(syn.Pattern.Window.Geometry())
	if err != nil {
		return config.DataConfig{}, eris.Wrap(err, "dataset: encode window")
	}
	cfg := config.DataConfig{
		Window:       filepath.Join(dir, "window.geojson"),
		Points:       filepath.Join(dir, "points.csv"),
		CovariateDir: covDir,
	}
	if err := os.WriteFile(cfg.Window, gj, 0o644); err != nil {
		return config.DataConfig{}, eris.Wrap(err, "dataset: write window")
	}

	pf, err := os.Create(cfg.Points)
	if err != nil {
		return config.DataConfig{}, eris.Wrap(err, "dataset: create points")
	}
	if err := spatial.WritePoints(pf, syn.Pattern.Points); err != nil {
		_ = pf.Close()
		return config.DataConfig{}, err
	}
	if err := pf.Close(); err != nil {
		return config.DataConfig{}, eris.Wrap(err, "dataset: close points")
	}

	for _, name := range []string{"Elevation", "Forest", "HFI", "Dist_Water"} {
		r, ok := syn.Covariates[name]
		if !ok {
			continue
		}
		if err := writeRaster(filepath.Join(covDir, name+".asc"), r); err != nil {
			return config.DataConfig{}, err
		}
		cfg.Covariates = append(cfg.Covariates, name)
	}
	return cfg, nil
}

func writeRaster(path string, r *raster.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "dataset: create %s", path)
	}
	if err := raster.WriteASCIIGrid(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "dataset: close %s", path)
}
