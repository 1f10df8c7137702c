package analysis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/ppm"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/rhohat"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
	"github.com/sells-group/pointpattern-cli/internal/store"
)

// Phase records how long one stage took.
type Phase struct {
	Name     string        `json:"name" yaml:"name"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Result is the whole analysis, stage by stage.
type Result struct {
	RunID         string                    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Dataset       string                    `json:"dataset" yaml:"dataset"`
	Units         string                    `json:"units" yaml:"units"`
	Load          spatial.LoadReport        `json:"load" yaml:"load"`
	Explore       *ExploreResult            `json:"explore" yaml:"explore"`
	SecondOrder   *SecondOrderResult        `json:"second_order" yaml:"second_order"`
	Inhomogeneous *SecondOrderResult        `json:"second_order_inhomogeneous" yaml:"second_order_inhomogeneous"`
	Rhohat        []*rhohat.Curve           `json:"rhohat" yaml:"rhohat"`
	Correlation   *raster.CorrelationMatrix `json:"correlation" yaml:"correlation"`
	Fits          *FitResult                `json:"fits" yaml:"fits"`
	Diagnostics   *Diagnostics              `json:"diagnostics" yaml:"diagnostics"`
	Phases        []Phase                   `json:"phases" yaml:"phases"`
}

// Pipeline runs every stage in order: explore, second-order envelopes
// against CSR and against the kernel intensity, covariate response curves,
// collinearity, model fits and comparisons, then diagnostics of the best
// model. Fits are recorded in the ledger when a store is configured.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
}

// New creates a Pipeline. st may be nil to skip the ledger.
func New(cfg *config.Config, st store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: st}
}

// Run executes the analysis on ds. name labels the run in the ledger.
func (p *Pipeline) Run(ctx context.Context, name string, ds *dataset.Dataset) (*Result, error) {
	log := zap.L().With(zap.String("component", "analysis"), zap.String("dataset", name))
	log.Info("analysis: starting", zap.Int("points", ds.Pattern.N()))

	res := &Result{Dataset: name, Units: ds.Units, Load: ds.Report}
	phase := func(label string, fn func() error) error {
		start := time.Now()
		err := fn()
		d := time.Since(start)
		res.Phases = append(res.Phases, Phase{Name: label, Duration: d})
		if err != nil {
			log.Error("analysis: phase failed", zap.String("phase", label), zap.Error(err))
			return eris.Wrapf(err, "analysis: %s", label)
		}
		log.Debug("analysis: phase complete", zap.String("phase", label), zap.Duration("duration", d))
		return ctx.Err()
	}

	names := CovariateNames(ds)
	steps := []struct {
		label      string
		covariates bool
		fn         func() error
	}{
		{"explore", false, func() (err error) {
			res.Explore, err = Explore(ds, p.cfg.Explore)
			return err
		}},
		{"second_order", false, func() (err error) {
			res.SecondOrder, err = SecondOrder(ctx, ds, p.cfg.Envelope, nil)
			return err
		}},
		{"second_order_inhomogeneous", false, func() (err error) {
			res.Inhomogeneous, err = SecondOrder(ctx, ds, p.cfg.Envelope, res.Explore.Density)
			return err
		}},
		{"rhohat", true, func() (err error) {
			res.Rhohat, err = Rhohat(ds, names, p.cfg.Rhohat)
			return err
		}},
		{"correlate", true, func() (err error) {
			res.Correlation, err = Correlate(ds, names, p.cfg.Model.CollinearityThreshold)
			return err
		}},
		{"fit", true, func() (err error) {
			res.Fits, err = FitModels(ds, p.cfg.Model.Formulas, p.cfg.Model)
			return err
		}},
		{"diagnose", true, func() (err error) {
			res.Diagnostics, err = Diagnose(res.Fits.BestModel(), names, p.cfg.Model)
			return err
		}},
	}
	for _, s := range steps {
		if s.covariates && len(names) == 0 {
			log.Warn("analysis: no covariates loaded; skipping", zap.String("phase", s.label))
			continue
		}
		if err := phase(s.label, s.fn); err != nil {
			return res, err
		}
	}

	if p.store != nil && res.Fits != nil {
		runID, err := Record(ctx, p.store, store.Run{
			Dataset: name,
			Units:   ds.Units,
			Points:  ds.Pattern.N(),
			Area:    ds.Pattern.Window.Area(),
			Seed:    p.cfg.Envelope.Seed,
		}, res.Fits)
		if err != nil {
			return res, err
		}
		res.RunID = runID
	}

	log.Info("analysis: complete", zap.String("run_id", res.RunID), zap.Int("phases", len(res.Phases)))
	return res, nil
}

// Record writes a run with its fits and comparisons to the ledger and
// returns the run ID.
func Record(ctx context.Context, st store.Store, run store.Run, fits *FitResult) (string, error) {
	created, err := st.CreateRun(ctx, run)
	if err != nil {
		return "", err
	}
	for _, m := range fits.Models {
		rec := FitRecord(created.ID, m)
		if err := st.SaveFit(ctx, &rec); err != nil {
			return created.ID, err
		}
	}
	for _, c := range fits.Comparisons {
		if err := st.SaveComparison(ctx, &store.ComparisonRecord{
			RunID:     created.ID,
			Nested:    c.Nested,
			Richer:    c.Richer,
			Statistic: c.Statistic,
			DF:        c.DF,
			PValue:    c.PValue,
			DeltaAIC:  c.DeltaAIC,
			Preferred: c.Preferred,
		}); err != nil {
			return created.ID, err
		}
	}
	zap.L().Info("analysis: recorded run",
		zap.String("component", "analysis"),
		zap.String("run_id", created.ID),
		zap.Int("fits", len(fits.Models)),
		zap.Int("comparisons", len(fits.Comparisons)),
	)
	return created.ID, nil
}

// FitRecord converts a fitted model to its ledger form.
func FitRecord(runID string, m *ppm.Model) store.FitRecord {
	coefs := make([]store.Coefficient, len(m.Names))
	for i, n := range m.Names {
		coefs[i] = store.Coefficient{Name: n, Estimate: m.Coef[i], SE: m.SE[i]}
	}
	return store.FitRecord{
		RunID:        runID,
		Formula:      m.Formula.String(),
		Coefficients: coefs,
		LogLik:       m.LogLik,
		AIC:          m.AIC,
		DF:           m.DF,
		Iterations:   m.Iterations,
		Converged:    m.Converged,
		Warnings:     m.Warnings,
	}
}
