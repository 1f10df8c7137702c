package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pointpattern-cli/internal/report"
	"github.com/sells-group/pointpattern-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the analysis ledger",
	Long:  "Commands for listing recorded runs and viewing the models fitted in each.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ds, _ := cmd.Flags().GetString("filter-dataset")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{Dataset: ds, Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		return emit(runs, report.RunsText(runs))
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its fits and comparisons",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		fits, err := st.ListFits(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		cmps, err := st.ListComparisons(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		d := &report.RunDetail{Run: run, Fits: fits, Comparisons: cmps}
		return emit(d, report.RunDetailText(d))
	},
}

func init() {
	runsListCmd.Flags().String("filter-dataset", "", "only runs of this dataset")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("offset", 0, "skip this many runs")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
