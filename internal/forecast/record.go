package forecast

import (
	"context"

	"negotiator/internal/types"
)

// Record is one historical observation: the state a proposal was made in and how
// that negotiation eventually ended (Quantity 0 means disagreement).
type Record struct {
	Role              types.Role `json:"role"`
	OwnRemaining      int        `json:"own_remaining"`
	OpponentLastQty   int        `json:"opponent_last_qty"`
	Step              int        `json:"step"`
	RemainingFraction float64    `json:"remaining_fraction"`
	Quantity          int        `json:"quantity"`
	UnitPrice         float64    `json:"unit_price"`
	MinPrice          float64    `json:"min_price"`
	MaxPrice          float64    `json:"max_price"`
}

func (r Record) Key() StateKey {
	return NewStateKey(r.Role, r.OwnRemaining, r.OpponentLastQty, r.Step, r.RemainingFraction)
}

// NormalizedPrice maps the agreed price into [0,1] over the round's price range.
func (r Record) NormalizedPrice() float64 {
	rng := r.MaxPrice - r.MinPrice
	if rng <= 0 {
		return 0
	}
	return (r.UnitPrice - r.MinPrice) / rng
}

// Source yields historical records; implemented by CSV files and the history store.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}
