package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/pointpattern-cli/internal/analysis"
	"github.com/sells-group/pointpattern-cli/internal/report"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the window, points and covariates and summarize them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ds, err := loadDataset("data")
		if err != nil {
			return err
		}
		name := datasetName(cmd)
		summary := map[string]any{
			"dataset": name,
			"points":  ds.Pattern.N(),
			"area":    ds.Pattern.Window.Area(),
			"units":   ds.Units,
			"load":    ds.Report,
		}
		return emit(summary, report.DatasetText(name, ds))
	},
}

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Intensity, quadrat test, kernel bandwidth and covariate summaries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ds, err := loadDataset("explore")
		if err != nil {
			return err
		}
		if b, _ := cmd.Flags().GetFloat64("sigma"); b > 0 {
			cfg.Explore.Bandwidth = b
		}
		res, err := analysis.Explore(ds, cfg.Explore)
		if err != nil {
			return err
		}
		if err := emit(res, report.ExploreText(res)); err != nil {
			return err
		}
		if len(res.Bandwidth.Scores) == 0 {
			return nil
		}
		return export(cmd, report.BandwidthSheet(res.Bandwidth))
	},
}

func init() {
	exploreCmd.Flags().Float64("sigma", 0, "fixed kernel bandwidth in analysis units (default: cross-validated)")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(exploreCmd)
}
