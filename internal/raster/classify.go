package raster

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// Summary describes the defined values of a raster.
type Summary struct {
	Name    string  `json:"name" yaml:"name"`
	Defined int     `json:"defined" yaml:"defined"`
	Missing int     `json:"missing" yaml:"missing"`
	Min     float64 `json:"min" yaml:"min"`
	Q25     float64 `json:"q25" yaml:"q25"`
	Median  float64 `json:"median" yaml:"median"`
	Mean    float64 `json:"mean" yaml:"mean"`
	Q75     float64 `json:"q75" yaml:"q75"`
	Max     float64 `json:"max" yaml:"max"`
}

// DefinedValues returns the non-missing values in cell order.
func (r *Raster) DefinedValues() []float64 {
	vals := make([]float64, 0, len(r.Values))
	for _, v := range r.Values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	return vals
}

// Summarize computes descriptive statistics over defined cells.
func (r *Raster) Summarize() (Summary, error) {
	vals := r.DefinedValues()
	s := Summary{Name: r.Name, Defined: len(vals), Missing: len(r.Values) - len(vals)}
	if len(vals) == 0 {
		return s, eris.Errorf("raster: %s has no defined cells", r.Name)
	}
	data := stats.Float64Data(vals)
	s.Min, _ = data.Min()
	s.Max, _ = data.Max()
	s.Mean, _ = data.Mean()
	s.Median, _ = data.Median()
	s.Q25, _ = data.Percentile(25)
	s.Q75, _ = data.Percentile(75)
	return s, nil
}

// QuantileBreaks returns k+1 ascending break points splitting the defined
// values into k bins of roughly equal cell count. Duplicate breaks, which a
// heavily tied covariate produces, are collapsed.
func QuantileBreaks(values []float64, k int) ([]float64, error) {
	if k < 1 {
		return nil, eris.Errorf("raster: need at least one bin, got %d", k)
	}
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return nil, eris.New("raster: no defined values to break")
	}
	lo, _ := data.Min()
	hi, _ := data.Max()
	breaks := []float64{lo}
	for i := 1; i < k; i++ {
		q, err := data.Percentile(100 * float64(i) / float64(k))
		if err != nil {
			return nil, eris.Wrap(err, "raster: percentile")
		}
		if q > breaks[len(breaks)-1] {
			breaks = append(breaks, q)
		}
	}
	if hi > breaks[len(breaks)-1] || len(breaks) == 1 {
		breaks = append(breaks, hi)
	}
	return breaks, nil
}

// Bin returns the bin of v for ascending breaks, or -1 when v is missing or
// outside [breaks[0], breaks[last]]. The last bin is closed on the right.
func Bin(v float64, breaks []float64) int {
	n := len(breaks)
	if math.IsNaN(v) || n < 2 || v < breaks[0] || v > breaks[n-1] {
		return -1
	}
	i := sort.SearchFloat64s(breaks, v)
	if i < n && breaks[i] == v {
		if i == n-1 {
			return n - 2
		}
		return i
	}
	return i - 1
}

// Classify maps each cell to its bin index; missing cells get -1.
func (r *Raster) Classify(breaks []float64) []int {
	out := make([]int, len(r.Values))
	for i, v := range r.Values {
		out[i] = Bin(v, breaks)
	}
	return out
}

// BinCount reports points and area for one covariate bin.
type BinCount struct {
	Lower     float64 `json:"lower" yaml:"lower"`
	Upper     float64 `json:"upper" yaml:"upper"`
	Count     int     `json:"count" yaml:"count"`
	Area      float64 `json:"area" yaml:"area"`
	Intensity float64 `json:"intensity" yaml:"intensity"`
}

// Tessellate counts points per covariate bin and divides by the area of the
// bin's cells. Points on missing cells are returned as unclassified.
func (r *Raster) Tessellate(pts []spatial.Point, breaks []float64) ([]BinCount, int) {
	bins := make([]BinCount, len(breaks)-1)
	for i := range bins {
		bins[i].Lower, bins[i].Upper = breaks[i], breaks[i+1]
	}
	area := r.CellArea()
	for _, b := range r.Classify(breaks) {
		if b >= 0 {
			bins[b].Area += area
		}
	}
	unclassified := 0
	for _, p := range pts {
		b := Bin(r.At(p.X, p.Y), breaks)
		if b < 0 {
			unclassified++
			continue
		}
		bins[b].Count++
	}
	for i := range bins {
		if bins[i].Area > 0 {
			bins[i].Intensity = float64(bins[i].Count) / bins[i].Area
		} else {
			bins[i].Intensity = math.NaN()
		}
	}
	return bins, unclassified
}
