package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pointpattern-cli/internal/analysis"
	"github.com/sells-group/pointpattern-cli/internal/explore"
	"github.com/sells-group/pointpattern-cli/internal/ppm"
	"github.com/sells-group/pointpattern-cli/internal/rhohat"
	"github.com/sells-group/pointpattern-cli/internal/secondorder"
)

// maxSheetName is the longest sheet name Excel accepts.
const maxSheetName = 31

// Sheet is one table of a workbook. Rows hold float values; NaN is written
// as an empty cell.
type Sheet struct {
	Name    string
	Columns []string
	Rows    [][]float64
}

// ExportCurves writes sheets to a new workbook at path.
func ExportCurves(path string, sheets []Sheet) error {
	if len(sheets) == 0 {
		return eris.New("report: nothing to export")
	}
	f := xlsx.NewFile()
	used := make(map[string]bool)
	for _, s := range sheets {
		sheet, err := f.AddSheet(uniqueSheetName(s.Name, used))
		if err != nil {
			return eris.Wrapf(err, "report: add sheet %s", s.Name)
		}
		header := sheet.AddRow()
		for _, c := range s.Columns {
			header.AddCell().SetString(c)
		}
		for _, vals := range s.Rows {
			row := sheet.AddRow()
			for _, v := range vals {
				cell := row.AddCell()
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					cell.SetFloat(v)
				}
			}
		}
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

// uniqueSheetName strips characters Excel rejects, truncates to the name
// limit and appends a counter on collision.
func uniqueSheetName(name string, used map[string]bool) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	if clean == "" {
		clean = "Sheet"
	}
	base := strings.TrimSpace(truncate(clean, maxSheetName))
	out := base
	for i := 2; used[out]; i++ {
		suffix := fmt.Sprintf("~%d", i)
		out = strings.TrimSpace(truncate(base, maxSheetName-len(suffix))) + suffix
	}
	used[out] = true
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// EnvelopeSheet tabulates an envelope; Outside is written as 0 or 1.
func EnvelopeSheet(name string, e *secondorder.EnvelopeResult) Sheet {
	s := Sheet{Name: name, Columns: []string{"r", "observed", "theoretical", "lo", "hi", "outside"}}
	for i, r := range e.R {
		out := 0.0
		if e.Outside[i] {
			out = 1
		}
		s.Rows = append(s.Rows, []float64{r, e.Observed[i], e.Theoretical[i], e.Lo[i], e.Hi[i], out})
	}
	return s
}

// RhohatSheet tabulates a response curve with its confidence band.
func RhohatSheet(c *rhohat.Curve) Sheet {
	s := Sheet{Name: "rhohat " + c.Covariate, Columns: []string{c.Covariate, "rho", "lo", "hi"}}
	for i, z := range c.Z {
		s.Rows = append(s.Rows, []float64{z, c.Rho[i], c.Lo[i], c.Hi[i]})
	}
	return s
}

// PartialSheet tabulates a partial residual curve against the fitted effect.
func PartialSheet(c *ppm.PartialResidualCurve) Sheet {
	s := Sheet{Name: "partial " + c.Covariate, Columns: []string{c.Covariate, "residual", "fitted"}}
	for i, z := range c.Z {
		s.Rows = append(s.Rows, []float64{z, c.Residual[i], c.Fitted[i]})
	}
	return s
}

// BandwidthSheet tabulates the cross-validation criterion per bandwidth.
func BandwidthSheet(b *explore.BandwidthResult) Sheet {
	s := Sheet{Name: "bandwidth", Columns: []string{"sigma", "criterion"}}
	for _, sc := range b.Scores {
		s.Rows = append(s.Rows, []float64{sc.Sigma, sc.Criterion})
	}
	return s
}

// SecondOrderSheets tabulates both envelopes of res, prefixed by label.
func SecondOrderSheets(label string, res *analysis.SecondOrderResult) []Sheet {
	var out []Sheet
	for _, c := range []*analysis.Curve{res.K, res.PCF} {
		if c != nil && c.Envelope != nil {
			out = append(out, EnvelopeSheet(label+" "+c.Envelope.Name, c.Envelope))
		}
	}
	return out
}

// AnalysisSheets collects every curve of a pipeline result.
func AnalysisSheets(res *analysis.Result) []Sheet {
	var out []Sheet
	if res.Explore != nil && res.Explore.Bandwidth != nil && len(res.Explore.Bandwidth.Scores) > 0 {
		out = append(out, BandwidthSheet(res.Explore.Bandwidth))
	}
	if res.SecondOrder != nil {
		out = append(out, SecondOrderSheets("csr", res.SecondOrder)...)
	}
	if res.Inhomogeneous != nil {
		out = append(out, SecondOrderSheets("inhom", res.Inhomogeneous)...)
	}
	for _, c := range res.Rhohat {
		out = append(out, RhohatSheet(c))
	}
	if res.Diagnostics != nil {
		for _, c := range res.Diagnostics.Partial {
			out = append(out, PartialSheet(c))
		}
	}
	return out
}
