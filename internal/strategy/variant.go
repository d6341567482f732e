// Package strategy implements the Pareto/Nash aspiration concession strategy.
package strategy

import (
	"fmt"
	"strings"
)

// Variant selects which utility view the strategy negotiates with.
type Variant string

const (
	// VariantGoldfish only remembers offers already accepted this round.
	VariantGoldfish Variant = "goldfish"
	// VariantPredictiveMean adds mean forecasts of the other open negotiations.
	VariantPredictiveMean Variant = "predictive_mean"
	// VariantPredictiveMeanOrDisagreement averages over agree/disagree scenarios.
	VariantPredictiveMeanOrDisagreement Variant = "predictive_mean_or_disagreement"
)

func ParseVariant(raw string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(raw))); v {
	case VariantGoldfish, VariantPredictiveMean, VariantPredictiveMeanOrDisagreement:
		return v, nil
	case "":
		return VariantGoldfish, nil
	default:
		return "", fmt.Errorf("unknown strategy variant %q", raw)
	}
}

// Predictive reports whether the variant needs a forecast table.
func (v Variant) Predictive() bool {
	return v == VariantPredictiveMean || v == VariantPredictiveMeanOrDisagreement
}

// MaxGridQuantity bounds grid_max_quantity; the frontier check is quadratic in the grid.
const MaxGridQuantity = 50

// Params configure one strategy instance.
type Params struct {
	Variant            Variant `json:"variant"`
	AspirationExponent float64 `json:"aspiration_exponent"`
	NashBalance        float64 `json:"nash_balance"`
	GridMaxQuantity    int     `json:"grid_max_quantity"`
}

// DefaultParams is the baseline: linear aspiration, halfway between Nash and disagreement.
func DefaultParams() Params {
	return Params{
		Variant:            VariantGoldfish,
		AspirationExponent: 1,
		NashBalance:        0.5,
		GridMaxQuantity:    10,
	}
}

func (p Params) Validate() error {
	if _, err := ParseVariant(string(p.Variant)); err != nil {
		return err
	}
	if p.AspirationExponent <= 0 {
		return fmt.Errorf("aspiration_exponent must be > 0")
	}
	if p.NashBalance < 0 || p.NashBalance > 1 {
		return fmt.Errorf("nash_balance must be in [0,1]")
	}
	if p.GridMaxQuantity < 1 || p.GridMaxQuantity > MaxGridQuantity {
		return fmt.Errorf("grid_max_quantity must be in [1,%d]", MaxGridQuantity)
	}
	return nil
}
