package explore

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// areaSubsamples is the per-axis sub-sample count used to estimate how much
// of a quadrat lies inside the window.
const areaSubsamples = 8

// Quadrat is one cell of a quadrat grid.
type Quadrat struct {
	Col    int     `json:"col" yaml:"col"`
	Row    int     `json:"row" yaml:"row"`
	XMin   float64 `json:"xmin" yaml:"xmin"`
	YMin   float64 `json:"ymin" yaml:"ymin"`
	XMax   float64 `json:"xmax" yaml:"xmax"`
	YMax   float64 `json:"ymax" yaml:"ymax"`
	Count  int     `json:"count" yaml:"count"`
	Area   float64 `json:"area" yaml:"area"`
	Masked bool    `json:"masked" yaml:"masked"`
}

// QuadratCounts holds the counts of a pattern over an nx by ny grid laid on
// the window bounds.
type QuadratCounts struct {
	NX    int       `json:"nx" yaml:"nx"`
	NY    int       `json:"ny" yaml:"ny"`
	N     int       `json:"n" yaml:"n"`
	Cells []Quadrat `json:"cells" yaml:"cells"`
}

// QuadratCount counts points per quadrat. Every point is assigned to exactly
// one quadrat, so the counts sum to n. Quadrats that do not overlap the
// window are masked.
func QuadratCount(p *spatial.Pattern, nx, ny int) (*QuadratCounts, error) {
	if nx <= 0 || ny <= 0 {
		return nil, eris.Errorf("explore: invalid quadrat grid %dx%d", nx, ny)
	}
	xmin, ymin, xmax, ymax := p.Window.Bounds()
	dx := (xmax - xmin) / float64(nx)
	dy := (ymax - ymin) / float64(ny)

	q := &QuadratCounts{NX: nx, NY: ny, N: p.N(), Cells: make([]Quadrat, nx*ny)}
	for row := 0; row < ny; row++ {
		for col := 0; col < nx; col++ {
			c := Quadrat{
				Col:  col,
				Row:  row,
				XMin: xmin + float64(col)*dx,
				YMin: ymin + float64(row)*dy,
				XMax: xmin + float64(col+1)*dx,
				YMax: ymin + float64(row+1)*dy,
			}
			c.Area = clippedArea(p.Window, c.XMin, c.YMin, c.XMax, c.YMax)
			q.Cells[row*nx+col] = c
		}
	}

	for _, pt := range p.Points {
		col := clampIndex(int(math.Floor((pt.X-xmin)/dx)), nx)
		row := clampIndex(int(math.Floor((pt.Y-ymin)/dy)), ny)
		q.Cells[row*nx+col].Count++
	}

	for i := range q.Cells {
		c := &q.Cells[i]
		if c.Area == 0 && c.Count > 0 {
			// The sub-sample missed a sliver that still holds points.
			c.Area = (c.XMax - c.XMin) * (c.YMax - c.YMin) / (areaSubsamples * areaSubsamples)
		}
		c.Masked = c.Area == 0
	}
	return q, nil
}

func clampIndex(i, n int) int {
	return min(max(i, 0), n-1)
}

func clippedArea(w *spatial.Window, x0, y0, x1, y1 float64) float64 {
	sx := (x1 - x0) / areaSubsamples
	sy := (y1 - y0) / areaSubsamples
	inside := 0
	for j := 0; j < areaSubsamples; j++ {
		for i := 0; i < areaSubsamples; i++ {
			if w.Contains(x0+(float64(i)+0.5)*sx, y0+(float64(j)+0.5)*sy) {
				inside++
			}
		}
	}
	return float64(inside) * sx * sy
}

// Alternative selects the tail of the quadrat test. Greater means clustered,
// less means regular.
type Alternative string

// Alternatives accepted by QuadratTest.
const (
	TwoSided Alternative = "two.sided"
	Less     Alternative = "less"
	Greater  Alternative = "greater"
)

// QuadratTestResult is a Pearson chi-squared test of homogeneity.
type QuadratTestResult struct {
	Statistic   float64     `json:"statistic" yaml:"statistic"`
	DF          int         `json:"df" yaml:"df"`
	PValue      float64     `json:"p_value" yaml:"p_value"`
	Alternative Alternative `json:"alternative" yaml:"alternative"`
	Cells       int         `json:"cells" yaml:"cells"`
	Expected    []float64   `json:"expected" yaml:"expected"`
	Residuals   []float64   `json:"residuals" yaml:"residuals"`
}

// QuadratTest tests the counts against a homogeneous Poisson process. The
// expected count of a quadrat is proportional to its area inside the window.
// Masked quadrats are excluded.
func QuadratTest(q *QuadratCounts, alt Alternative) (*QuadratTestResult, error) {
	if alt == "" {
		alt = TwoSided
	}
	if alt != TwoSided && alt != Less && alt != Greater {
		return nil, eris.Errorf("explore: unknown alternative %q", alt)
	}

	var total float64
	cells := 0
	for _, c := range q.Cells {
		if !c.Masked {
			total += c.Area
			cells++
		}
	}
	if cells < 2 {
		return nil, eris.New("explore: quadrat test needs at least two unmasked quadrats")
	}
	if q.N == 0 {
		return nil, eris.New("explore: quadrat test needs at least one point")
	}

	res := &QuadratTestResult{
		DF:          cells - 1,
		Alternative: alt,
		Cells:       cells,
		Expected:    make([]float64, len(q.Cells)),
		Residuals:   make([]float64, len(q.Cells)),
	}
	for i, c := range q.Cells {
		if c.Masked {
			res.Expected[i] = math.NaN()
			res.Residuals[i] = math.NaN()
			continue
		}
		e := float64(q.N) * c.Area / total
		r := (float64(c.Count) - e) / math.Sqrt(e)
		res.Expected[i] = e
		res.Residuals[i] = r
		res.Statistic += r * r
	}

	chi := distuv.ChiSquared{K: float64(res.DF)}
	upper := chi.Survival(res.Statistic)
	switch alt {
	case Greater:
		res.PValue = upper
	case Less:
		res.PValue = chi.CDF(res.Statistic)
	default:
		res.PValue = math.Min(1, 2*math.Min(upper, 1-upper))
	}
	return res, nil
}
