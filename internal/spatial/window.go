// Package spatial holds the observation window and planar point patterns.
package spatial

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Window is the polygonal region that bounds a point pattern. It is
// immutable once built; Rescale returns a new window.
type Window struct {
	mp   *geom.MultiPolygon
	area float64
}

// NewWindow wraps a multipolygon. The geometry is copied into an XY layout.
// The area is shells minus holes whatever the ring orientation, so
// clockwise shapefile shells and counter-clockwise GeoJSON shells agree.
func NewWindow(mp *geom.MultiPolygon) (*Window, error) {
	if mp == nil || mp.NumPolygons() == 0 {
		return nil, eris.New("spatial: window has no polygons")
	}
	flat := toXY(mp)
	w := &Window{mp: flat, area: flat.Area()}
	if w.area <= 0 || math.IsNaN(w.area) {
		return nil, eris.New("spatial: window has zero area")
	}
	return w, nil
}

// RectWindow builds an axis-aligned rectangular window.
func RectWindow(xmin, ymin, xmax, ymax float64) (*Window, error) {
	if xmax <= xmin || ymax <= ymin {
		return nil, eris.Errorf("spatial: degenerate rectangle [%g,%g]x[%g,%g]", xmin, xmax, ymin, ymax)
	}
	ring := geom.NewLinearRingFlat(geom.XY, []float64{
		xmin, ymin, xmax, ymin, xmax, ymax, xmin, ymax, xmin, ymin,
	})
	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(ring); err != nil {
		return nil, eris.Wrap(err, "spatial: build rectangle")
	}
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(poly); err != nil {
		return nil, eris.Wrap(err, "spatial: build rectangle")
	}
	return NewWindow(mp)
}

// Geometry returns the underlying multipolygon.
func (w *Window) Geometry() *geom.MultiPolygon { return w.mp }

// Area returns the window area in squared coordinate units.
func (w *Window) Area() float64 { return w.area }

// Bounds returns xmin, ymin, xmax, ymax.
func (w *Window) Bounds() (xmin, ymin, xmax, ymax float64) {
	b := w.mp.Bounds()
	return b.Min(0), b.Min(1), b.Max(0), b.Max(1)
}

// Contains reports whether (x, y) lies inside the window. Points on a shell
// boundary count as inside; points inside a hole do not.
func (w *Window) Contains(x, y float64) bool {
	c := geom.Coord{x, y}
	for i := 0; i < w.mp.NumPolygons(); i++ {
		p := w.mp.Polygon(i)
		if !xy.IsPointInRing(geom.XY, c, p.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for j := 1; j < p.NumLinearRings(); j++ {
			if xy.IsPointInRing(geom.XY, c, p.LinearRing(j).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// BoundaryDistance returns the distance from (x, y) to the nearest edge of
// any ring of the window.
func (w *Window) BoundaryDistance(x, y float64) float64 {
	c := geom.Coord{x, y}
	best := math.Inf(1)
	for i := 0; i < w.mp.NumPolygons(); i++ {
		p := w.mp.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			d := xy.DistanceFromPointToLineString(geom.XY, c, p.LinearRing(j).FlatCoords())
			best = math.Min(best, d)
		}
	}
	return best
}

// Rescale returns a window with every coordinate divided by factor.
func (w *Window) Rescale(factor float64) (*Window, error) {
	if factor <= 0 {
		return nil, eris.Errorf("spatial: invalid rescale factor %g", factor)
	}
	src := w.mp.FlatCoords()
	flat := make([]float64, len(src))
	for i, v := range src {
		flat[i] = v / factor
	}
	return NewWindow(geom.NewMultiPolygonFlat(geom.XY, flat, copyEndss(w.mp.Endss())))
}

func copyEndss(endss [][]int) [][]int {
	out := make([][]int, len(endss))
	for i, ends := range endss {
		out[i] = append([]int(nil), ends...)
	}
	return out
}

// toXY drops any Z or M ordinates so the window always has stride 2.
func toXY(mp *geom.MultiPolygon) *geom.MultiPolygon {
	stride := mp.Stride()
	if stride == 2 {
		return geom.NewMultiPolygonFlat(geom.XY, append([]float64(nil), mp.FlatCoords()...), copyEndss(mp.Endss()))
	}
	src := mp.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i+1 < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	endss := make([][]int, len(mp.Endss()))
	for i, ends := range mp.Endss() {
		endss[i] = make([]int, len(ends))
		for j, e := range ends {
			endss[i][j] = e / stride * 2
		}
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}
