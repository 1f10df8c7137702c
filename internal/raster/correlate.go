package raster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
)

// Correlation is the pairwise Pearson correlation between two rasters.
type Correlation struct {
	A       string  `json:"a" yaml:"a"`
	B       string  `json:"b" yaml:"b"`
	R       float64 `json:"r" yaml:"r"`
	Flagged bool    `json:"flagged" yaml:"flagged"`
}

// CorrelationMatrix is the collinearity check run before model
// specification. Only cells where every raster is defined take part.
type CorrelationMatrix struct {
	Names     []string      `json:"names" yaml:"names"`
	R         [][]float64   `json:"r" yaml:"r"`
	Cells     int           `json:"cells" yaml:"cells"`
	Threshold float64       `json:"threshold" yaml:"threshold"`
	Pairs     []Correlation `json:"pairs" yaml:"pairs"`
}

// Correlate computes the correlation matrix of the set, flagging pairs with
// |r| greater than threshold.
func Correlate(set Set, threshold float64) (*CorrelationMatrix, error) {
	g, err := set.Grid()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([][]float64, len(names))
	for i := 0; i < g.Len(); i++ {
		ok := true
		for _, name := range names {
			if math.IsNaN(set[name].Values[i]) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for k, name := range names {
			cols[k] = append(cols[k], set[name].Values[i])
		}
	}
	if len(names) == 0 || len(cols[0]) < 3 {
		return nil, eris.New("raster: fewer than 3 cells where all covariates are defined")
	}

	m := &CorrelationMatrix{Names: names, Cells: len(cols[0]), Threshold: threshold}
	m.R = make([][]float64, len(names))
	for i := range names {
		m.R[i] = make([]float64, len(names))
		m.R[i][i] = 1
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			r := stat.Correlation(cols[i], cols[j], nil)
			m.R[i][j], m.R[j][i] = r, r
			m.Pairs = append(m.Pairs, Correlation{
				A: names[i], B: names[j], R: r,
				Flagged: math.Abs(r) > threshold,
			})
		}
	}
	return m, nil
}

// Flagged returns the pairs whose correlation exceeds the threshold.
func (m *CorrelationMatrix) Flagged() []Correlation {
	var out []Correlation
	for _, p := range m.Pairs {
		if p.Flagged {
			out = append(out, p)
		}
	}
	return out
}
