// Package raster provides covariate pixel grids and their summaries.
package raster

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// Grid is the pixel geometry shared by rasters. Row 0 is the southernmost row.
type Grid struct {
	NCol     int     `json:"ncol" yaml:"ncol"`
	NRow     int     `json:"nrow" yaml:"nrow"`
	XMin     float64 `json:"xmin" yaml:"xmin"`
	YMin     float64 `json:"ymin" yaml:"ymin"`
	CellSize float64 `json:"cell_size" yaml:"cell_size"`
}

// Raster is a read-only grid of values. NaN marks a missing value.
type Raster struct {
	Name string
	Grid
	Values []float64
}

// NewGrid validates pixel geometry.
func NewGrid(ncol, nrow int, xmin, ymin, cell float64) (Grid, error) {
	if ncol <= 0 || nrow <= 0 {
		return Grid{}, eris.Errorf("raster: invalid dimensions %dx%d", ncol, nrow)
	}
	if cell <= 0 || math.IsNaN(cell) {
		return Grid{}, eris.Errorf("raster: invalid cell size %g", cell)
	}
	return Grid{NCol: ncol, NRow: nrow, XMin: xmin, YMin: ymin, CellSize: cell}, nil
}

// GridFor builds a grid covering the window bounds with roughly n cells
// along the longer side.
func GridFor(w *spatial.Window, n int) Grid {
	xmin, ymin, xmax, ymax := w.Bounds()
	cell := math.Max(xmax-xmin, ymax-ymin) / float64(max(n, 1))
	return Grid{
		NCol:     max(int(math.Ceil((xmax-xmin)/cell)), 1),
		NRow:     max(int(math.Ceil((ymax-ymin)/cell)), 1),
		XMin:     xmin,
		YMin:     ymin,
		CellSize: cell,
	}
}

// New allocates a raster filled with NaN.
func New(name string, g Grid) *Raster {
	vals := make([]float64, g.NCol*g.NRow)
	for i := range vals {
		vals[i] = math.NaN()
	}
	return &Raster{Name: name, Grid: g, Values: vals}
}

// Len is the number of cells.
func (g Grid) Len() int { return g.NCol * g.NRow }

// CellArea is the area of a single cell.
func (g Grid) CellArea() float64 { return g.CellSize * g.CellSize }

// Center returns the centre of cell (col, row).
func (g Grid) Center(col, row int) (float64, float64) {
	return g.XMin + (float64(col)+0.5)*g.CellSize, g.YMin + (float64(row)+0.5)*g.CellSize
}

// CenterOf returns the centre of the cell with flat index i.
func (g Grid) CenterOf(i int) (float64, float64) {
	return g.Center(i%g.NCol, i/g.NCol)
}

// Index returns the flat cell index containing (x, y), or -1 outside the grid.
func (g Grid) Index(x, y float64) int {
	col := int(math.Floor((x - g.XMin) / g.CellSize))
	row := int(math.Floor((y - g.YMin) / g.CellSize))
	if col < 0 || row < 0 || col >= g.NCol || row >= g.NRow {
		return -1
	}
	return row*g.NCol + col
}

// SameAs reports whether two grids describe the same pixels.
func (g Grid) SameAs(o Grid) bool {
	const eps = 1e-9
	return g.NCol == o.NCol && g.NRow == o.NRow &&
		math.Abs(g.XMin-o.XMin) <= eps*math.Max(1, math.Abs(g.XMin)) &&
		math.Abs(g.YMin-o.YMin) <= eps*math.Max(1, math.Abs(g.YMin)) &&
		math.Abs(g.CellSize-o.CellSize) <= eps*g.CellSize
}

// Rescale divides the grid geometry by factor.
func (g Grid) Rescale(factor float64) Grid {
	return Grid{NCol: g.NCol, NRow: g.NRow, XMin: g.XMin / factor, YMin: g.YMin / factor, CellSize: g.CellSize / factor}
}

// InsideMask returns, per cell, whether the cell centre lies inside w.
func (g Grid) InsideMask(w *spatial.Window) []bool {
	mask := make([]bool, g.Len())
	for i := range mask {
		x, y := g.CenterOf(i)
		mask[i] = w.Contains(x, y)
	}
	return mask
}

// At returns the value at (x, y). Locations outside the grid and missing
// cells both yield NaN.
func (r *Raster) At(x, y float64) float64 {
	i := r.Index(x, y)
	if i < 0 {
		return math.NaN()
	}
	return r.Values[i]
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	return &Raster{Name: r.Name, Grid: r.Grid, Values: append([]float64(nil), r.Values...)}
}

// Mask returns a copy with cells whose centre is outside w set to NaN.
func (r *Raster) Mask(w *spatial.Window) *Raster {
	out := r.Clone()
	for i, in := range r.InsideMask(w) {
		if !in {
			out.Values[i] = math.NaN()
		}
	}
	return out
}

// Rescale returns a copy in new coordinate units. Values are unchanged.
func (r *Raster) Rescale(factor float64) *Raster {
	out := r.Clone()
	out.Grid = r.Grid.Rescale(factor)
	return out
}

// Defined returns the number of non-missing cells.
func (r *Raster) Defined() int {
	n := 0
	for _, v := range r.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Integral sums value times cell area over defined cells.
func (r *Raster) Integral() float64 {
	var s float64
	for _, v := range r.Values {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s * r.CellArea()
}

// Max returns the largest defined value, or NaN when none is defined.
func (r *Raster) Max() float64 {
	best := math.NaN()
	for _, v := range r.Values {
		if !math.IsNaN(v) && (math.IsNaN(best) || v > best) {
			best = v
		}
	}
	return best
}

// Sample evaluates the raster at each point.
func (r *Raster) Sample(pts []spatial.Point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = r.At(p.X, p.Y)
	}
	return out
}

// Set maps a raster name to the raster. All rasters in a Set share a grid.
type Set map[string]*Raster

// Grid returns the common grid, or an error if the rasters disagree.
func (s Set) Grid() (Grid, error) {
	var (
		g     Grid
		first = true
	)
	for name, r := range s {
		if first {
			g, first = r.Grid, false
			continue
		}
		if !g.SameAs(r.Grid) {
			return Grid{}, eris.Errorf("raster: %s does not share the common grid", name)
		}
	}
	if first {
		return Grid{}, eris.New("raster: empty covariate set")
	}
	return g, nil
}
