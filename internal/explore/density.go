package explore

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/pointpattern-cli/internal/raster"
	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// kernelReach is the truncation radius of the Gaussian kernel in sigmas.
const kernelReach = 4.0

// minEdgeMass keeps edge correction finite for locations almost outside
// the window.
const minEdgeMass = 1e-6

// EdgeCorrection selects how kernel mass lost outside the window is restored.
type EdgeCorrection string

// Edge corrections accepted by Density.
const (
	// EdgeDiggle divides each point's kernel by its mass inside the window.
	EdgeDiggle EdgeCorrection = "diggle"
	// EdgeUniform divides the estimate at u by the kernel mass around u.
	EdgeUniform EdgeCorrection = "uniform"
	// EdgeNone applies no correction.
	EdgeNone EdgeCorrection = "none"
)

// DensityOptions configures a kernel intensity estimate.
type DensityOptions struct {
	Sigma float64
	Grid  raster.Grid
	// Floor is the smallest value reported inside the window.
	Floor float64
	Edge  EdgeCorrection
	// Weights optionally weights each point. Nil means unit weights.
	Weights []float64
}

func (o DensityOptions) validate(n int) error {
	if o.Sigma <= 0 || math.IsNaN(o.Sigma) || math.IsInf(o.Sigma, 0) {
		return eris.Errorf("explore: invalid bandwidth %g", o.Sigma)
	}
	if o.Grid.Len() == 0 {
		return eris.New("explore: density grid is empty")
	}
	if o.Weights != nil && len(o.Weights) != n {
		return eris.Errorf("explore: %d weights for %d points", len(o.Weights), n)
	}
	switch o.Edge {
	case "", EdgeDiggle, EdgeUniform, EdgeNone:
	default:
		return eris.Errorf("explore: unknown edge correction %q", o.Edge)
	}
	return nil
}

func gaussian(d2, sigma float64) float64 {
	return math.Exp(-d2/(2*sigma*sigma)) / (2 * math.Pi * sigma * sigma)
}

// edgeField evaluates the Gaussian kernel mass falling inside the window,
// approximating the window by the grid cells whose centre is inside it.
type edgeField struct {
	g      raster.Grid
	inside []bool
	sigma  float64
	reach  int
}

func newEdgeField(g raster.Grid, inside []bool, sigma float64) *edgeField {
	return &edgeField{g: g, inside: inside, sigma: sigma, reach: int(math.Ceil(kernelReach*sigma/g.CellSize)) + 1}
}

// mass integrates the kernel centred at (x, y) exactly over each inside cell.
func (e *edgeField) mass(x, y float64) float64 {
	norm := distuv.UnitNormal
	col := int(math.Floor((x - e.g.XMin) / e.g.CellSize))
	row := int(math.Floor((y - e.g.YMin) / e.g.CellSize))
	var m float64
	for r := max(row-e.reach, 0); r <= min(row+e.reach, e.g.NRow-1); r++ {
		y0 := e.g.YMin + float64(r)*e.g.CellSize
		py := norm.CDF((y0+e.g.CellSize-y)/e.sigma) - norm.CDF((y0-y)/e.sigma)
		if py == 0 {
			continue
		}
		for c := max(col-e.reach, 0); c <= min(col+e.reach, e.g.NCol-1); c++ {
			if !e.inside[r*e.g.NCol+c] {
				continue
			}
			x0 := e.g.XMin + float64(c)*e.g.CellSize
			m += py * (norm.CDF((x0+e.g.CellSize-x)/e.sigma) - norm.CDF((x0-x)/e.sigma))
		}
	}
	return math.Max(m, minEdgeMass)
}

func pointWeights(p *spatial.Pattern, opts DensityOptions, ef *edgeField) []float64 {
	w := make([]float64, p.N())
	for i, pt := range p.Points {
		w[i] = 1
		if opts.Weights != nil {
			w[i] = opts.Weights[i]
		}
		if opts.Edge == EdgeDiggle || opts.Edge == "" {
			w[i] /= ef.mass(pt.X, pt.Y)
		}
	}
	return w
}

// Density returns the kernel intensity surface of p on opts.Grid. Cells whose
// centre is outside the window are NaN; inside cells never fall below
// opts.Floor.
func Density(p *spatial.Pattern, opts DensityOptions) (*raster.Raster, error) {
	if err := opts.validate(p.N()); err != nil {
		return nil, err
	}
	g := opts.Grid
	inside := g.InsideMask(p.Window)
	ef := newEdgeField(g, inside, opts.Sigma)
	weights := pointWeights(p, opts, ef)

	out := raster.New("density", g)
	for i, in := range inside {
		if in {
			out.Values[i] = 0
		}
	}
	limit2 := kernelReach * kernelReach * opts.Sigma * opts.Sigma
	for k, pt := range p.Points {
		col := int(math.Floor((pt.X - g.XMin) / g.CellSize))
		row := int(math.Floor((pt.Y - g.YMin) / g.CellSize))
		for r := max(row-ef.reach, 0); r <= min(row+ef.reach, g.NRow-1); r++ {
			for c := max(col-ef.reach, 0); c <= min(col+ef.reach, g.NCol-1); c++ {
				i := r*g.NCol + c
				if !inside[i] {
					continue
				}
				cx, cy := g.Center(c, r)
				d2 := (cx-pt.X)*(cx-pt.X) + (cy-pt.Y)*(cy-pt.Y)
				if d2 <= limit2 {
					out.Values[i] += weights[k] * gaussian(d2, opts.Sigma)
				}
			}
		}
	}

	for i, in := range inside {
		if !in {
			continue
		}
		if opts.Edge == EdgeUniform {
			cx, cy := g.CenterOf(i)
			out.Values[i] /= ef.mass(cx, cy)
		}
		out.Values[i] = math.Max(out.Values[i], opts.Floor)
	}
	return out, nil
}

// DensityAtPoints evaluates the kernel estimate at the data points. With
// leaveOneOut set each point's own kernel is excluded, as in likelihood
// cross-validation.
func DensityAtPoints(p *spatial.Pattern, opts DensityOptions, leaveOneOut bool) ([]float64, error) {
	if err := opts.validate(p.N()); err != nil {
		return nil, err
	}
	ef := newEdgeField(opts.Grid, opts.Grid.InsideMask(p.Window), opts.Sigma)
	weights := pointWeights(p, opts, ef)
	radius := kernelReach * opts.Sigma
	idx := spatial.NewIndex(p.Points, radius)

	out := make([]float64, p.N())
	for i, pt := range p.Points {
		var s float64
		idx.Within(pt.X, pt.Y, radius, func(j int, d float64) {
			if leaveOneOut && j == i {
				return
			}
			s += weights[j] * gaussian(d*d, opts.Sigma)
		})
		if opts.Edge == EdgeUniform {
			s /= ef.mass(pt.X, pt.Y)
		}
		out[i] = math.Max(s, opts.Floor)
	}
	return out, nil
}
