// Package ufun scores sets of concurrent offers against a round's production economics.
package ufun

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"negotiator/internal/types"
)

// ErrConfiguration marks malformed evaluation input (mismatched tags, negative values).
var ErrConfiguration = errors.New("ufun: invalid configuration")

const degenerateRange = 1e-12

// Lot is a fractional offer tagged with its side. Exogenous pseudo-offers,
// forecasts and synthetic counterpart positions are not integral.
type Lot struct {
	Quantity  float64
	UnitPrice float64
	Output    bool
}

// LotFromOffer converts an integral offer.
func LotFromOffer(o types.Offer, output bool) Lot {
	return Lot{Quantity: float64(o.Quantity), UnitPrice: float64(o.UnitPrice), Output: output}
}

// Outcome is the result of one aggregate evaluation.
type Outcome struct {
	Utility       float64 `json:"utility"`
	Raw           float64 `json:"raw"`
	Producible    float64 `json:"producible"`
	InputQty      float64 `json:"input_qty"`
	InputPaid     float64 `json:"input_paid"`
	OutputQty     float64 `json:"output_qty"`
	OutputSigned  float64 `json:"output_signed"`
	OutputRealize float64 `json:"output_realized"`
	Affordable    float64 `json:"affordable"`
	InputPenalty  float64 `json:"input_penalty"`
	OutputPenalty float64 `json:"output_penalty"`
}

// Evaluate scores offers; outputs[i] tags offers[i] as a sale of the agent's output.
func Evaluate(offers []types.Offer, outputs []bool, econ types.Economics, exo types.Exogenous) (Outcome, error) {
	if len(offers) != len(outputs) {
		return Outcome{}, fmt.Errorf("%w: %d offers but %d output flags", ErrConfiguration, len(offers), len(outputs))
	}
	lots := make([]Lot, len(offers))
	for i, o := range offers {
		if err := o.Valid(); err != nil {
			return Outcome{}, fmt.Errorf("%w: offer %d: %v", ErrConfiguration, i, err)
		}
		lots[i] = LotFromOffer(o, outputs[i])
	}
	return EvaluateLots(lots, econ, exo)
}

// EvaluateLots runs the aggregation over fractional lots. The input slice is not modified.
func EvaluateLots(lots []Lot, econ types.Economics, exo types.Exogenous) (Outcome, error) {
	for i, l := range lots {
		if l.Quantity < 0 || l.UnitPrice < 0 || math.IsNaN(l.Quantity) || math.IsNaN(l.UnitPrice) {
			return Outcome{}, fmt.Errorf("%w: lot %d has negative or NaN values", ErrConfiguration, i)
		}
	}
	if exo.Input.Quantity < 0 || exo.Output.Quantity < 0 {
		return Outcome{}, fmt.Errorf("%w: negative exogenous quantity", ErrConfiguration)
	}

	all := make([]Lot, 0, len(lots)+2)
	all = append(all, lots...)
	all = append(all,
		Lot{Quantity: exo.Input.Quantity, UnitPrice: exo.Input.UnitPrice(), Output: false},
		Lot{Quantity: exo.Output.Quantity, UnitPrice: exo.Output.UnitPrice(), Output: true},
	)
	inputs, outputs := splitSorted(all)

	var out Outcome
	var qin, pin, qinBar float64
	constrained := econ.CurrentBalance < 0
	for _, l := range inputs {
		cost := l.UnitPrice * l.Quantity
		if !constrained && pin+cost+l.Quantity*econ.ProductionCost > econ.CurrentBalance {
			qinBar = qin + affordable(econ.CurrentBalance-pin, l.UnitPrice+econ.ProductionCost, l.Quantity)
			constrained = true
		}
		pin += cost
		qin += l.Quantity
	}
	if !constrained {
		qinBar = qin
	}
	producible := math.Min(qinBar, float64(econ.NLines))

	var qout, pout, poutBar float64
	doneSelling := false
	for _, l := range outputs {
		if !doneSelling {
			canSell := l.Quantity
			if qout+l.Quantity >= producible {
				canSell = math.Max(producible-qout, 0)
				doneSelling = true
			}
			poutBar += canSell * l.UnitPrice
		}
		pout += l.UnitPrice * l.Quantity
		qout += l.Quantity
	}

	producible = math.Min(producible, qout)
	producible = math.Min(producible, math.Min(qin, float64(econ.NLines)))

	outScale := averagePrice(pout, qout)
	if econ.OutputPenaltyScale != nil {
		outScale = *econ.OutputPenaltyScale
	}
	inScale := averagePrice(pin, qin)
	if econ.InputPenaltyScale != nil {
		inScale = *econ.InputPenaltyScale
	}
	out.OutputPenalty = outScale * econ.ShortfallPenalty * math.Max(0, qout-producible)
	out.InputPenalty = inScale * econ.DisposalCost * math.Max(0, qin-producible)

	out.Raw = poutBar - pin - econ.ProductionCost*producible - out.InputPenalty - out.OutputPenalty
	out.Utility = normalize(out.Raw, econ)
	out.Producible = producible
	out.InputQty = qin
	out.InputPaid = pin
	out.OutputQty = qout
	out.OutputSigned = pout
	out.OutputRealize = poutBar
	out.Affordable = qinBar
	return out, nil
}

// splitSorted orders inputs cheapest first and outputs priciest first. Lots at
// the same price keep their arrival order.
func splitSorted(lots []Lot) (inputs, outputs []Lot) {
	for _, l := range lots {
		if l.Output {
			outputs = append(outputs, l)
		} else {
			inputs = append(inputs, l)
		}
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		return inputs[i].UnitPrice < inputs[j].UnitPrice
	})
	sort.SliceStable(outputs, func(i, j int) bool {
		return outputs[i].UnitPrice > outputs[j].UnitPrice
	})
	return inputs, outputs
}

func affordable(budget, unitCost, lot float64) float64 {
	if budget <= 0 {
		return 0
	}
	if unitCost <= 0 {
		return lot
	}
	n := math.Floor(budget / unitCost)
	return math.Min(math.Max(n, 0), lot)
}

func averagePrice(total, qty float64) float64 {
	if qty == 0 {
		return 0
	}
	return total / qty
}

func normalize(raw float64, econ types.Economics) float64 {
	if !econ.Normalized {
		return raw
	}
	rng := econ.MaxUtility - econ.MinUtility
	if rng < degenerateRange {
		return 1.0
	}
	return (raw - econ.MinUtility) / rng
}
