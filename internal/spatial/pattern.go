package spatial

import (
	"math"

	"github.com/rotisserie/eris"
)

// Point is a planar event location.
type Point struct {
	X float64 `json:"x" csv:"X"`
	Y float64 `json:"y" csv:"Y"`
}

// Pattern is an unordered set of points that all fall inside Window.
// Patterns are never mutated after construction.
type Pattern struct {
	Window *Window
	Points []Point
}

// NewPattern builds a pattern, rejecting points outside the window.
func NewPattern(w *Window, pts []Point) (*Pattern, error) {
	if w == nil {
		return nil, eris.New("spatial: pattern requires a window")
	}
	for i, p := range pts {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, eris.Errorf("spatial: point %d has non-finite coordinates", i)
		}
		if !w.Contains(p.X, p.Y) {
			return nil, eris.Errorf("spatial: point %d (%g, %g) lies outside the window", i, p.X, p.Y)
		}
	}
	return &Pattern{Window: w, Points: append([]Point(nil), pts...)}, nil
}

// N returns the number of points.
func (p *Pattern) N() int { return len(p.Points) }

// Rescale divides window and point coordinates by factor.
func (p *Pattern) Rescale(factor float64) (*Pattern, error) {
	w, err := p.Window.Rescale(factor)
	if err != nil {
		return nil, err
	}
	pts := make([]Point, len(p.Points))
	for i, pt := range p.Points {
		pts[i] = Point{X: pt.X / factor, Y: pt.Y / factor}
	}
	// Points that sat exactly on the boundary may drift by rounding; keep them.
	return &Pattern{Window: w, Points: pts}, nil
}

// FilterWindow splits points into those inside w and a count of those outside.
func FilterWindow(w *Window, pts []Point) (inside []Point, outside int) {
	inside = make([]Point, 0, len(pts))
	for _, p := range pts {
		if w.Contains(p.X, p.Y) {
			inside = append(inside, p)
		} else {
			outside++
		}
	}
	return inside, outside
}
