package ppm

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// Coordinate covariates are always available to formulas.
const (
	CoordX = "x"
	CoordY = "y"
)

// Quadrature is a Berman-Turner quadrature scheme: one dummy point at the
// centre of every usable cell plus the data points, with each cell's area
// shared equally among the dummy and data points it holds. A cell is usable
// when its centre is inside the window and every covariate is defined there.
type Quadrature struct {
	Grid    raster.Grid
	Window  *spatial.Window
	X, Y    []float64
	Weights []float64
	// IsData marks data points; dummy points come first.
	IsData []bool
	Cell   []int
	Values map[string][]float64

	NDummy       int
	NData        int
	DroppedData  int
	DroppedCells int
}

// NewQuadrature builds the quadrature for p on the common grid of covs.
func NewQuadrature(p *spatial.Pattern, covs raster.Set) (*Quadrature, error) {
	g, err := covs.Grid()
	if err != nil {
		return nil, eris.Wrap(err, "ppm: quadrature grid")
	}
	names := make([]string, 0, len(covs))
	for name := range covs {
		if name == CoordX || name == CoordY {
			return nil, eris.Errorf("ppm: covariate name %q is reserved", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	log := zap.L().With(zap.String("component", "ppm.quadrature"))

	inside := g.InsideMask(p.Window)
	usable := make([]bool, g.Len())
	q := &Quadrature{Grid: g, Window: p.Window, Values: make(map[string][]float64, len(names)+2)}
	for i := range usable {
		if !inside[i] {
			continue
		}
		ok := true
		for _, name := range names {
			if math.IsNaN(covs[name].Values[i]) {
				ok = false
				break
			}
		}
		if !ok {
			q.DroppedCells++
			continue
		}
		usable[i] = true
		x, y := g.CenterOf(i)
		q.X = append(q.X, x)
		q.Y = append(q.Y, y)
		q.Cell = append(q.Cell, i)
		q.IsData = append(q.IsData, false)
	}
	q.NDummy = len(q.X)
	if q.NDummy == 0 {
		return nil, eris.New("ppm: no usable quadrature cells inside the window")
	}

	for _, pt := range p.Points {
		c := g.Index(pt.X, pt.Y)
		if c < 0 || !usable[c] {
			q.DroppedData++
			continue
		}
		q.X = append(q.X, pt.X)
		q.Y = append(q.Y, pt.Y)
		q.Cell = append(q.Cell, c)
		q.IsData = append(q.IsData, true)
	}
	q.NData = len(q.X) - q.NDummy
	if q.DroppedData > 0 {
		log.Warn("data points on unusable cells dropped from quadrature", zap.Int("dropped", q.DroppedData))
	}

	perCell := make(map[int]int, q.NData)
	for _, c := range q.Cell {
		perCell[c]++
	}
	q.Weights = make([]float64, len(q.X))
	for k, c := range q.Cell {
		q.Weights[k] = g.CellArea() / float64(perCell[c])
	}

	for _, name := range names {
		r := covs[name]
		vals := make([]float64, len(q.X))
		for k, c := range q.Cell {
			vals[k] = r.Values[c]
		}
		q.Values[name] = vals
	}
	q.Values[CoordX] = q.X
	q.Values[CoordY] = q.Y

	log.Debug("quadrature built",
		zap.Int("dummy", q.NDummy),
		zap.Int("data", q.NData),
		zap.Int("dropped_cells", q.DroppedCells),
	)
	return q, nil
}

// Len is the number of quadrature points.
func (q *Quadrature) Len() int { return len(q.X) }

// Area is the total quadrature weight, the usable window area.
func (q *Quadrature) Area() float64 {
	var s float64
	for _, w := range q.Weights {
		s += w
	}
	return s
}

func (q *Quadrature) dummyValues(vals []float64) []float64 {
	return vals[:q.NDummy]
}

// DataPattern returns the data points retained by the quadrature.
func (q *Quadrature) DataPattern() (*spatial.Pattern, error) {
	pts := make([]spatial.Point, 0, q.NData)
	for k := q.NDummy; k < q.Len(); k++ {
		pts = append(pts, spatial.Point{X: q.X[k], Y: q.Y[k]})
	}
	return spatial.NewPattern(q.Window, pts)
}

func (q *Quadrature) indicator() []float64 {
	z := make([]float64, q.Len())
	for k := q.NDummy; k < q.Len(); k++ {
		z[k] = 1
	}
	return z
}
