package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sells-group/pointpattern-cli/internal/analysis"
	"github.com/sells-group/pointpattern-cli/internal/config"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/report"
)

type envelopeFunc func(context.Context, *dataset.Dataset, config.EnvelopeConfig, *raster.Raster) (*analysis.Curve, error)

var kfuncCmd = &cobra.Command{
	Use:   "kfunc",
	Short: "Ripley's K with a Monte Carlo envelope and global test",
	Long: "Estimates K (or Kinhom with --inhom) with edge correction, simulates the reference " +
		"process nsim times for a pointwise envelope and runs the global maximum deviation test.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEnvelope(cmd, analysis.KEnvelope)
	},
}

var pcfCmd = &cobra.Command{
	Use:   "pcf",
	Short: "Pair correlation function with a Monte Carlo envelope and global test",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runEnvelope(cmd, analysis.PCFEnvelope)
	},
}

func runEnvelope(cmd *cobra.Command, fn envelopeFunc) error {
	ds, err := loadDataset("envelope")
	if err != nil {
		return err
	}
	applyEnvelopeFlags(cmd)
	surface, err := referenceSurface(cmd, ds)
	if err != nil {
		return err
	}
	c, err := fn(cmd.Context(), ds, cfg.Envelope, surface)
	if err != nil {
		return err
	}
	if err := emit(c, report.CurveText(c)); err != nil {
		return err
	}
	return export(cmd, report.EnvelopeSheet(c.Envelope.Name, c.Envelope))
}

func applyEnvelopeFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("nsim") {
		cfg.Envelope.NSim, _ = cmd.Flags().GetInt("nsim")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Envelope.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if cmd.Flags().Changed("rmax") {
		cfg.Envelope.RMax, _ = cmd.Flags().GetFloat64("rmax")
	}
}

// referenceSurface is the kernel intensity used as the inhomogeneous
// reference when --inhom is set, or nil for CSR.
func referenceSurface(cmd *cobra.Command, ds *dataset.Dataset) (*raster.Raster, error) {
	if inhom, _ := cmd.Flags().GetBool("inhom"); !inhom {
		return nil, nil
	}
	res, err := analysis.Explore(ds, cfg.Explore)
	if err != nil {
		return nil, err
	}
	return res.Density, nil
}

func init() {
	for _, c := range []*cobra.Command{kfuncCmd, pcfCmd} {
		c.Flags().Bool("inhom", false, "simulate from the kernel intensity instead of CSR")
		c.Flags().Int("nsim", 19, "number of simulations")
		c.Flags().Uint64("seed", 42, "random seed for the simulations")
		c.Flags().Float64("rmax", 0, "largest distance in analysis units (default: a quarter of the shorter side)")
		rootCmd.AddCommand(c)
	}
}
