package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pointpattern-cli/internal/analysis"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/ppm"
	"github.com/sells-group/pointpattern-cli/internal/report"
	"github.com/sells-group/pointpattern-cli/internal/store"
)

var rhohatCmd = &cobra.Command{
	Use:   "rhohat [covariate...]",
	Short: "Kernel estimate of intensity as a function of each covariate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset("model")
		if err != nil {
			return err
		}
		names, err := covariateArgs(ds, args)
		if err != nil {
			return err
		}
		curves, err := analysis.Rhohat(ds, names, cfg.Rhohat)
		if err != nil {
			return err
		}
		if err := emit(curves, report.RhohatText(curves)); err != nil {
			return err
		}
		var sheets []report.Sheet
		for _, c := range curves {
			sheets = append(sheets, report.RhohatSheet(c))
		}
		return export(cmd, sheets...)
	},
}

var correlateCmd = &cobra.Command{
	Use:   "correlate [covariate...]",
	Short: "Pairwise correlation between covariates over the window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset("model")
		if err != nil {
			return err
		}
		names, err := covariateArgs(ds, args)
		if err != nil {
			return err
		}
		m, err := analysis.Correlate(ds, names, cfg.Model.CollinearityThreshold)
		if err != nil {
			return err
		}
		return emit(m, report.CorrelationText(m))
	},
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit log-linear Poisson models and rank them by AIC",
	Long: "Fits the intensity-only model and each --formula (or the configured formulas) on one " +
		"quadrature, then reports coefficients, AIC and likelihood ratio tests between nested models.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ds, res, err := fitFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := record(cmd, ds, res); err != nil {
			return err
		}
		return emit(res, report.FitText(res))
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <nested> <richer>",
	Short: "Likelihood ratio test and AIC difference between two nested models",
	Long: "Fits <nested> and <richer> on one quadrature and tests richer against nested. " +
		"Fails when richer does not contain every term of nested.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := loadDataset("model")
		if err != nil {
			return err
		}
		res, c, err := analysis.FitPair(ds, args[0], args[1], cfg.Model)
		if err != nil {
			return err
		}
		if err := record(cmd, ds, res); err != nil {
			return err
		}
		out := struct {
			AIC        any `json:"aic" yaml:"aic"`
			Comparison any `json:"comparison" yaml:"comparison"`
		}{res.Ranking, c}
		return emit(out, report.ComparisonText([]*ppm.Comparison{c}))
	},
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Partial residuals and the smoothed residual field of the best model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ds, res, err := fitFromFlags(cmd)
		if err != nil {
			return err
		}
		d, err := analysis.Diagnose(res.BestModel(), analysis.CovariateNames(ds), cfg.Model)
		if err != nil {
			return err
		}
		if err := emit(d, report.DiagnosticsText(d)); err != nil {
			return err
		}
		var sheets []report.Sheet
		for _, c := range d.Partial {
			sheets = append(sheets, report.PartialSheet(c))
		}
		return export(cmd, sheets...)
	},
}

func fitFromFlags(cmd *cobra.Command) (*dataset.Dataset, *analysis.FitResult, error) {
	ds, err := loadDataset("model")
	if err != nil {
		return nil, nil, err
	}
	formulas := cfg.Model.Formulas
	if f, _ := cmd.Flags().GetStringArray("formula"); len(f) > 0 {
		formulas = f
	}
	res, err := analysis.FitModels(ds, formulas, cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	return ds, res, nil
}

// record writes the fits to the ledger when --record is set.
func record(cmd *cobra.Command, ds *dataset.Dataset, res *analysis.FitResult) error {
	if rec, _ := cmd.Flags().GetBool("record"); !rec {
		return nil
	}
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	note, _ := cmd.Flags().GetString("note")
	_, err = analysis.Record(ctx, st, store.Run{
		Dataset: datasetName(cmd),
		Units:   ds.Units,
		Points:  ds.Pattern.N(),
		Area:    ds.Pattern.Window.Area(),
		Seed:    cfg.Envelope.Seed,
		Note:    note,
	}, res)
	return err
}

// covariateArgs is args, or every loaded covariate when none are given.
func covariateArgs(ds *dataset.Dataset, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(ds.Covariates) == 0 {
		return nil, errNoCovariates
	}
	return analysis.CovariateNames(ds), nil
}

func init() {
	for _, c := range []*cobra.Command{fitCmd, diagnoseCmd} {
		c.Flags().StringArray("formula", nil, "model formula, repeatable (default: model.formulas)")
	}
	for _, c := range []*cobra.Command{fitCmd, compareCmd} {
		c.Flags().Bool("record", false, "record the fits in the analysis ledger")
		c.Flags().String("note", "", "note stored with the recorded run")
	}

	rootCmd.AddCommand(rhohatCmd)
	rootCmd.AddCommand(correlateCmd)
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(diagnoseCmd)
}

var errNoCovariates = eris.New("no covariates loaded; set data.covariates")
