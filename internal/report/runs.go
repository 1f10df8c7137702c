package report

import (
	"fmt"
	"io"

	"github.com/sells-group/pointpattern-cli/internal/store"
)

// RunsText lists ledger runs, newest first as given.
func RunsText(runs []store.Run) TextFunc {
	return func(w io.Writer) error {
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}
		tw := newTable(w)
		fmt.Fprintln(tw, "ID\tDATASET\tPOINTS\tAREA\tUNITS\tSEED\tCREATED")
		for _, r := range runs {
			printer.Fprintf(tw, "%s\t%s\t%d\t%.1f\t%s\t%d\t%s\n",
				truncateID(r.ID), r.Dataset, r.Points, r.Area, r.Units, r.Seed,
				r.CreatedAt.Format("2006-01-02 15:04"))
		}
		return flush(tw)
	}
}

// RunDetail is one run with the fits and comparisons recorded under it.
type RunDetail struct {
	Run         *store.Run               `json:"run" yaml:"run"`
	Fits        []store.FitRecord        `json:"fits" yaml:"fits"`
	Comparisons []store.ComparisonRecord `json:"comparisons" yaml:"comparisons"`
}

// RunDetailText renders a run with its stored fits.
func RunDetailText(d *RunDetail) TextFunc {
	return func(w io.Writer) error {
		r := d.Run
		fmt.Fprintf(w, "Run %s\n", r.ID)
		printer.Fprintf(w, "dataset %s, %d points, area %.2f %s^2, seed %d\n", r.Dataset, r.Points, r.Area, r.Units, r.Seed)
		fmt.Fprintf(w, "created %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
		if r.Note != "" {
			fmt.Fprintf(w, "note: %s\n", r.Note)
		}
		for _, f := range d.Fits {
			heading(w, "Model "+f.Formula)
			tw := newTable(w)
			fmt.Fprintln(tw, "TERM\tESTIMATE\tS.E.")
			for _, c := range f.Coefficients {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, num(c.Estimate, 5), num(c.SE, 4))
			}
			if err := flush(tw); err != nil {
				return err
			}
			fmt.Fprintf(w, "log-likelihood %s, AIC %s, df %d, converged %t\n", num(f.LogLik, 8), num(f.AIC, 8), f.DF, f.Converged)
			for _, warn := range f.Warnings {
				fmt.Fprintf(w, "warning: %s\n", warn)
			}
		}
		if len(d.Comparisons) > 0 {
			heading(w, "Likelihood ratio tests")
			tw := newTable(w)
			fmt.Fprintln(tw, "NESTED\tRICHER\tLRT\tDF\tP\tDELTA.AIC\tPREFERRED")
			for _, c := range d.Comparisons {
				fmt.Fprintf(tw, "%s\t%s\t%.3f\t%d\t%s\t%.2f\t%s\n",
					c.Nested, c.Richer, c.Statistic, c.DF, pval(c.PValue), c.DeltaAIC, c.Preferred)
			}
			return flush(tw)
		}
		return nil
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
