package guard

import (
	"math"

	"github.com/brunobiangulo/goecl/graph"
)

// DefaultThreshold is the acceptance threshold used when none is configured.
const DefaultThreshold = 0.70

// Filter splits entities into those at or above threshold and the rest.
// The boundary is inclusive and input order is preserved on both sides.
// Both returned slices are non-nil.
func Filter(entities []graph.Entity, threshold float64) (accepted, rejected []graph.Entity) {
	accepted = make([]graph.Entity, 0, len(entities))
	rejected = []graph.Entity{}
	for _, e := range entities {
		if e.Confidence >= threshold {
			accepted = append(accepted, e)
		} else {
			rejected = append(rejected, e)
		}
	}
	return accepted, rejected
}

// Clamp forces c into [0, 1] and reports whether it had to.
func Clamp(c float64) (float64, bool) {
	switch {
	case math.IsNaN(c), c < 0:
		return 0, true
	case c > 1:
		return 1, true
	}
	return c, false
}
