package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/analysis"
	"github.com/sells-group/pointpattern-cli/internal/dataset"
	"github.com/sells-group/pointpattern-cli/internal/ppm"
	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/rhohat"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func flush(tw *tabwriter.Writer) error {
	return eris.Wrap(tw.Flush(), "report: flush table")
}

func heading(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

// DatasetText describes a loaded dataset.
func DatasetText(name string, ds *dataset.Dataset) TextFunc {
	return func(w io.Writer) error {
		p := ds.Pattern
		printer.Fprintf(w, "Dataset %s: %d points in a window of area %.2f %s^2\n", name, p.N(), p.Window.Area(), ds.Units)
		rep := ds.Report
		if rep.OutsideWindow > 0 {
			printer.Fprintf(w, "  %d of %d rows fell outside the window and were dropped\n", rep.OutsideWindow, rep.Rows)
		}
		if len(ds.Covariates) == 0 {
			return nil
		}
		var sums []raster.Summary
		for _, n := range analysis.CovariateNames(ds) {
			s, err := ds.Covariates[n].Summarize()
			if err != nil {
				return err
			}
			sums = append(sums, s)
		}
		return covariateTable(w, sums)
	}
}

func covariateTable(w io.Writer, sums []raster.Summary) error {
	heading(w, "Covariates")
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tCELLS\tMISSING\tMIN\tQ25\tMEDIAN\tMEAN\tQ75\tMAX")
	for _, s := range sums {
		printer.Fprintf(tw, "%s\t%d\t%d\t", s.Name, s.Defined, s.Missing)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			num(s.Min, 4), num(s.Q25, 4), num(s.Median, 4), num(s.Mean, 4), num(s.Q75, 4), num(s.Max, 4))
	}
	return flush(tw)
}

// ExploreText renders the first-order summaries.
func ExploreText(res *analysis.ExploreResult) TextFunc {
	return func(w io.Writer) error { return writeExplore(w, res) }
}

func writeExplore(w io.Writer, res *analysis.ExploreResult) error {
	in := res.Intensity
	printer.Fprintf(w, "Intensity: %d points / %.2f = %s per unit area\n", in.N, in.Area, num(in.Lambda, 5))

	if q, t := res.Quadrat, res.QuadratTest; q != nil && t != nil {
		heading(w, fmt.Sprintf("Quadrat counts (%d x %d)", q.NX, q.NY))
		tw := newTable(w)
		fmt.Fprintln(tw, "ROW\tCOUNTS")
		for row := q.NY - 1; row >= 0; row-- {
			var cells []string
			for _, c := range q.Cells {
				if c.Row != row {
					continue
				}
				if c.Masked {
					cells = append(cells, ".")
				} else {
					cells = append(cells, fmt.Sprint(c.Count))
				}
			}
			fmt.Fprintf(tw, "%d\t%s\n", row, strings.Join(cells, "\t"))
		}
		if err := flush(tw); err != nil {
			return err
		}
		fmt.Fprintf(w, "Chi-squared test of CSR (%s): X2 = %s, df = %d, p = %s\n",
			t.Alternative, num(t.Statistic, 5), t.DF, pval(t.PValue))
	}

	if b := res.Bandwidth; b != nil {
		heading(w, "Kernel bandwidth")
		fmt.Fprintf(w, "sigma = %s", num(b.Sigma, 5))
		if len(b.Scores) == 0 {
			fmt.Fprintln(w, " (fixed)")
		} else {
			fmt.Fprintf(w, " (likelihood cross-validation over %d candidates)\n", len(b.Scores))
		}
	}

	if len(res.Covariates) > 0 {
		if err := covariateTable(w, res.Covariates); err != nil {
			return err
		}
	}
	for _, cb := range res.Bins {
		heading(w, "Intensity by "+cb.Covariate+" class")
		tw := newTable(w)
		fmt.Fprintln(tw, "RANGE\tPOINTS\tAREA\tINTENSITY")
		for _, b := range cb.Bins {
			fmt.Fprintf(tw, "[%s, %s]\t", num(b.Lower, 4), num(b.Upper, 4))
			printer.Fprintf(tw, "%d\t%.2f\t", b.Count, b.Area)
			fmt.Fprintf(tw, "%s\n", num(b.Intensity, 4))
		}
		if err := flush(tw); err != nil {
			return err
		}
		if cb.Unclassified > 0 {
			fmt.Fprintf(w, "%d points fall on cells without a value\n", cb.Unclassified)
		}
	}
	return nil
}

// CurveText renders an envelope with its global test.
func CurveText(c *analysis.Curve) TextFunc {
	return func(w io.Writer) error { return writeCurve(w, c) }
}

func writeCurve(w io.Writer, c *analysis.Curve) error {
	e := c.Envelope
	heading(w, fmt.Sprintf("%s with pointwise envelope of %d simulations", e.Name, e.NSim))
	tw := newTable(w)
	fmt.Fprintln(tw, "R\tOBSERVED\tTHEORETICAL\tLO\tHI\t")
	for i, r := range e.R {
		mark := ""
		if e.Outside[i] {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			num(r, 4), num(e.Observed[i], 5), num(e.Theoretical[i], 5), num(e.Lo[i], 5), num(e.Hi[i], 5), mark)
	}
	if err := flush(tw); err != nil {
		return err
	}
	if t := c.Test; t != nil {
		fmt.Fprintf(w, "Global deviation test: D = %s, rank %d of %d, p = %s\n",
			num(t.Statistic, 5), t.Rank, e.NSim+1, pval(t.PValue))
	}
	return nil
}

// SecondOrderText renders the K and pair correlation envelopes.
func SecondOrderText(res *analysis.SecondOrderResult) TextFunc {
	return func(w io.Writer) error { return writeSecondOrder(w, res) }
}

func writeSecondOrder(w io.Writer, res *analysis.SecondOrderResult) error {
	ref := "complete spatial randomness"
	if res.Inhomogeneous {
		ref = "inhomogeneous Poisson at the kernel intensity"
	}
	fmt.Fprintf(w, "Reference process: %s\n", ref)
	for _, c := range []*analysis.Curve{res.K, res.PCF} {
		if c == nil {
			continue
		}
		if err := writeCurve(w, c); err != nil {
			return err
		}
	}
	return nil
}

// rhohatRows is how many evaluation points a rhohat table shows.
const rhohatRows = 11

// RhohatText renders each response curve at evenly spaced covariate values.
func RhohatText(curves []*rhohat.Curve) TextFunc {
	return func(w io.Writer) error { return writeRhohat(w, curves) }
}

func writeRhohat(w io.Writer, curves []*rhohat.Curve) error {
	for _, c := range curves {
		heading(w, "rho("+c.Covariate+")")
		printer.Fprintf(w, "bandwidth %s, %d points", num(c.Bandwidth, 4), c.N)
		if c.Dropped > 0 {
			printer.Fprintf(w, ", %d on missing cells", c.Dropped)
		}
		fmt.Fprintf(w, ", average intensity %s\n", num(c.Average, 4))
		tw := newTable(w)
		fmt.Fprintln(tw, "Z\tRHO\tLO\tHI")
		for _, i := range sampleIndex(len(c.Z), rhohatRows) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", num(c.Z[i], 4), num(c.Rho[i], 4), num(c.Lo[i], 4), num(c.Hi[i], 4))
		}
		if err := flush(tw); err != nil {
			return err
		}
	}
	return nil
}

// sampleIndex picks up to k evenly spaced indices from [0, n), always
// including both ends.
func sampleIndex(n, k int) []int {
	if n <= k {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, k)
	for i := range out {
		out[i] = i * (n - 1) / (k - 1)
	}
	return out
}

// CorrelationText renders the covariate correlation matrix.
func CorrelationText(m *raster.CorrelationMatrix) TextFunc {
	return func(w io.Writer) error { return writeCorrelation(w, m) }
}

func writeCorrelation(w io.Writer, m *raster.CorrelationMatrix) error {
	printer.Fprintf(w, "Pearson correlation over %d cells\n", m.Cells)
	tw := newTable(w)
	fmt.Fprintln(tw, "\t"+strings.Join(m.Names, "\t"))
	for i, row := range m.R {
		cells := make([]string, len(row))
		for j, r := range row {
			cells[j] = fmt.Sprintf("%.3f", r)
		}
		fmt.Fprintf(tw, "%s\t%s\n", m.Names[i], strings.Join(cells, "\t"))
	}
	if err := flush(tw); err != nil {
		return err
	}
	for _, p := range m.Pairs {
		if p.Flagged {
			fmt.Fprintf(w, "warning: |r(%s, %s)| = %.3f exceeds %.2f\n", p.A, p.B, p.R, m.Threshold)
		}
	}
	return nil
}

// FitText renders every model summary, the AIC ranking and the likelihood
// ratio tests.
func FitText(res *analysis.FitResult) TextFunc {
	return func(w io.Writer) error { return writeFits(w, res) }
}

func writeFits(w io.Writer, res *analysis.FitResult) error {
	q := res.Quadrature
	printer.Fprintf(w, "Quadrature: %d dummy and %d data points over area %.2f", q.Dummy, q.Data, q.Area)
	if q.DroppedData > 0 || q.DroppedCells > 0 {
		printer.Fprintf(w, " (%d points and %d cells without covariate values dropped)", q.DroppedData, q.DroppedCells)
	}
	fmt.Fprintln(w)
	for i := range res.Summaries {
		if err := writeSummary(w, &res.Summaries[i]); err != nil {
			return err
		}
	}
	if err := writeRanking(w, res.Ranking); err != nil {
		return err
	}
	return writeComparisons(w, res.Comparisons)
}

func writeSummary(w io.Writer, s *ppm.Summary) error {
	heading(w, "Model "+s.Formula)
	tw := newTable(w)
	fmt.Fprintln(tw, "TERM\tESTIMATE\tS.E.\tCI95.LO\tCI95.HI\tZ\tP\t")
	for _, c := range s.Coefficients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name, num(c.Estimate, 5), num(c.SE, 4), num(c.CILo, 5), num(c.CIHi, 5),
			num(c.Z, 4), pval(c.PValue), stars(c.PValue))
	}
	if err := flush(tw); err != nil {
		return err
	}
	status := "converged"
	if !s.Converged {
		status = "did not converge"
	}
	fmt.Fprintf(w, "log-likelihood %s, AIC %s, df %d; %s after %d iterations\n",
		num(s.LogLik, 8), num(s.AIC, 8), s.DF, status, s.Iterations)
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	return nil
}

func writeRanking(w io.Writer, rows []ppm.AICRow) error {
	if len(rows) == 0 {
		return nil
	}
	heading(w, "AIC ranking")
	tw := newTable(w)
	fmt.Fprintln(tw, "MODEL\tDF\tLOGLIK\tAIC\tDELTA")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\n", r.Formula, r.DF, r.LogLik, r.AIC, r.DeltaAIC)
	}
	return flush(tw)
}

// ComparisonText renders likelihood ratio tests.
func ComparisonText(cs []*ppm.Comparison) TextFunc {
	return func(w io.Writer) error { return writeComparisons(w, cs) }
}

func writeComparisons(w io.Writer, cs []*ppm.Comparison) error {
	if len(cs) == 0 {
		return nil
	}
	heading(w, "Likelihood ratio tests")
	tw := newTable(w)
	fmt.Fprintln(tw, "NESTED\tRICHER\tLRT\tDF\tP\tDELTA.AIC\tPREFERRED")
	for _, c := range cs {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%d\t%s\t%.2f\t%s\n",
			c.Nested, c.Richer, c.Statistic, c.DF, pval(c.PValue), c.DeltaAIC, c.Preferred)
	}
	return flush(tw)
}

// DiagnosticsText renders partial residual summaries and the residual field.
func DiagnosticsText(d *analysis.Diagnostics) TextFunc {
	return func(w io.Writer) error { return writeDiagnostics(w, d) }
}

func writeDiagnostics(w io.Writer, d *analysis.Diagnostics) error {
	heading(w, "Diagnostics for "+d.Formula)
	if len(d.Partial) > 0 {
		tw := newTable(w)
		fmt.Fprintln(tw, "COVARIATE\tIN.MODEL\tBANDWIDTH\tMAX.DEVIATION\tFLATNESS")
		for _, c := range d.Partial {
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n",
				c.Covariate, c.InModel, num(c.Bandwidth, 4), num(c.MaxDeviation, 4), num(c.Flatness, 3))
		}
		if err := flush(tw); err != nil {
			return err
		}
	}
	if r := d.Residuals; r != nil {
		fmt.Fprintf(w, "Smoothed raw residuals (sigma %s): total %s, range [%s, %s]\n",
			num(r.Sigma, 4), num(r.Total, 4), num(r.Min, 4), num(r.Max, 4))
	}
	return nil
}

// AnalysisText renders a full pipeline result.
func AnalysisText(res *analysis.Result) TextFunc {
	return func(w io.Writer) error {
		if res.RunID != "" {
			fmt.Fprintf(w, "Run %s\n", res.RunID)
		}
		fmt.Fprintf(w, "Dataset %s (%s)\n", res.Dataset, res.Units)
		if res.Load.OutsideWindow > 0 {
			printer.Fprintf(w, "%d points outside the window were dropped\n", res.Load.OutsideWindow)
		}
		if res.Explore != nil {
			if err := writeExplore(w, res.Explore); err != nil {
				return err
			}
		}
		for _, so := range []*analysis.SecondOrderResult{res.SecondOrder, res.Inhomogeneous} {
			if so == nil {
				continue
			}
			fmt.Fprintln(w)
			if err := writeSecondOrder(w, so); err != nil {
				return err
			}
		}
		if len(res.Rhohat) > 0 {
			if err := writeRhohat(w, res.Rhohat); err != nil {
				return err
			}
		}
		if res.Correlation != nil {
			heading(w, "Covariate correlation")
			if err := writeCorrelation(w, res.Correlation); err != nil {
				return err
			}
		}
		if res.Fits != nil {
			heading(w, "Model fits")
			if err := writeFits(w, res.Fits); err != nil {
				return err
			}
		}
		if res.Diagnostics != nil {
			if err := writeDiagnostics(w, res.Diagnostics); err != nil {
				return err
			}
		}
		heading(w, "Timing")
		tw := newTable(w)
		for _, ph := range res.Phases {
			fmt.Fprintf(tw, "%s\t%s\n", ph.Name, ph.Duration.Round(time.Millisecond))
		}
		return flush(tw)
	}
}
