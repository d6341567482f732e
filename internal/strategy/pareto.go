package strategy

import (
	"math"

	"negotiator/internal/types"
	"negotiator/internal/ufun"
)

// Point is a grid offer with both parties' utilities.
type Point struct {
	Offer  types.Offer `json:"offer"`
	Mine   float64     `json:"mine"`
	Theirs float64     `json:"theirs"`
}

// Grid is the null offer followed by every quantity in [1,maxQuantity] at every
// price of the round's bounds. Inverted bounds yield the null offer alone.
func Grid(bounds types.PriceBounds, step, maxQuantity int) []types.Offer {
	span := bounds.Max - bounds.Min
	if span < 0 || maxQuantity < 0 {
		return []types.Offer{types.NullOffer(step)}
	}
	grid := make([]types.Offer, 0, 1+maxQuantity*(span+1))
	grid = append(grid, types.NullOffer(step))
	for q := 1; q <= maxQuantity; q++ {
		for d := 0; d <= span; d++ {
			grid = append(grid, types.Offer{Quantity: q, Time: step, UnitPrice: bounds.Min + d})
		}
	}
	return grid
}

// Score evaluates every offer once under both utilities.
func Score(offers []types.Offer, mine, theirs ufun.Function) []Point {
	points := make([]Point, len(offers))
	for i, o := range offers {
		points[i] = Point{Offer: o, Mine: mine.Utility(o), Theirs: theirs.Utility(o)}
	}
	return points
}

func dominates(a, b Point) bool {
	return (a.Mine > b.Mine && a.Theirs >= b.Theirs) || (a.Mine >= b.Mine && a.Theirs > b.Theirs)
}

// ParetoFrontier keeps the points no other point dominates. Quadratic in len(points).
func ParetoFrontier(points []Point) []Point {
	var frontier []Point
	for i, p := range points {
		kept := true
		for j, q := range points {
			if i != j && dominates(q, p) {
				kept = false
				break
			}
		}
		if kept {
			frontier = append(frontier, p)
		}
	}
	return frontier
}

// NashPoint maximizes the product of both parties' gains over disagreement.
func NashPoint(frontier []Point, mineDisagree, theirsDisagree float64) (Point, bool) {
	best := math.Inf(-1)
	var found Point
	ok := false
	for _, p := range frontier {
		v := (p.Mine - mineDisagree) * (p.Theirs - theirsDisagree)
		if v > best {
			best = v
			found = p
			ok = true
		}
	}
	return found, ok
}
