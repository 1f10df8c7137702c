package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/pointpattern-cli/internal/analysis"
	"github.com/sells-group/pointpattern-cli/internal/report"
	"github.com/sells-group/pointpattern-cli/internal/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the whole analysis and record it in the ledger",
	Long: "Loads the dataset and runs every stage in order: exploration, K and pair correlation " +
		"envelopes against CSR and the kernel intensity, rhohat, collinearity, model fits with " +
		"comparisons and diagnostics of the best model.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		scope := "all"
		if len(cfg.Data.Covariates) == 0 {
			scope = "envelope"
		}
		ds, err := loadDataset(scope)
		if err != nil {
			return err
		}
		applyEnvelopeFlags(cmd)

		var st store.Store
		if noRecord, _ := cmd.Flags().GetBool("no-record"); !noRecord {
			st, err = openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		res, err := analysis.New(cfg, st).Run(ctx, datasetName(cmd), ds)
		if err != nil {
			return err
		}
		if err := emit(res, report.AnalysisText(res)); err != nil {
			return err
		}
		return export(cmd, report.AnalysisSheets(res)...)
	},
}

func init() {
	analyzeCmd.Flags().Bool("no-record", false, "skip writing the run to the ledger")
	analyzeCmd.Flags().Int("nsim", 19, "number of simulations per envelope")
	analyzeCmd.Flags().Uint64("seed", 42, "random seed for the simulations")
	analyzeCmd.Flags().Float64("rmax", 0, "largest distance in analysis units (default: a quarter of the shorter side)")
	rootCmd.AddCommand(analyzeCmd)
}
