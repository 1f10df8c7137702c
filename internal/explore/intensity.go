// Package explore computes first-order summaries of a point pattern:
// average intensity, quadrat counts and kernel intensity surfaces.
package explore

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/pointpattern-cli/internal/spatial"
)

// IntensitySummary is the average intensity of a pattern.
type IntensitySummary struct {
	N      int     `json:"n" yaml:"n"`
	Area   float64 `json:"area" yaml:"area"`
	Lambda float64 `json:"lambda" yaml:"lambda"`
}

// Intensity returns n divided by the window area in the pattern's units.
func Intensity(p *spatial.Pattern) (IntensitySummary, error) {
	if p == nil || p.Window == nil {
		return IntensitySummary{}, eris.New("explore: pattern has no window")
	}
	a := p.Window.Area()
	if a <= 0 {
		return IntensitySummary{}, eris.New("explore: window has zero area")
	}
	return IntensitySummary{N: p.N(), Area: a, Lambda: float64(p.N()) / a}, nil
}
