package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/report"
)

var (
	cfg    *config.Config
	format report.Format
)

var rootCmd = &cobra.Command{
	Use:   "ppm-cli",
	Short: "Point pattern analysis of species occurrences",
	Long: "Explores a point pattern inside a study window, tests it against complete spatial randomness " +
		"with K and pair correlation envelopes, relates intensity to covariate rasters and fits " +
		"log-linear Poisson point process models.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := applyDataFlags(cmd); err != nil {
			return err
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		f, _ := cmd.Flags().GetString("format")
		format, err = report.ParseFormat(f)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyDataFlags overrides the configured inputs with --data-dir, which
// points at a directory laid out the way synth writes one.
func applyDataFlags(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("data-dir")
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	cfg.Data.Window = filepath.Join(dir, "window.geojson")
	cfg.Data.Points = filepath.Join(dir, "points.csv")
	cfg.Data.CovariateDir = filepath.Join(dir, "covariates")
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("format", "text", "output format (text, yaml, json)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding window.geojson, points.csv and covariates/")
	rootCmd.PersistentFlags().String("dataset", "", "dataset name recorded with results (default: data directory name)")
	rootCmd.PersistentFlags().String("export", "", "write curve tables to this .xlsx workbook")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
