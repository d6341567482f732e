package ufun

import (
	"fmt"
	"math"

	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/types"

	"github.com/shopspring/decimal"
)

// scenarioTolerance bounds how far the summed scenario weights may drift from 1.
var scenarioTolerance = decimal.NewFromFloat(1e-5)

// Forecaster predicts how an open negotiation will end.
type Forecaster interface {
	Lookup(key forecast.StateKey, bounds types.PriceBounds) forecast.Prediction
}

// OpenState describes the still-open negotiations of the round from the agent's side.
type OpenState struct {
	// Pending holds the last offer received from each open negotiation.
	Pending []types.Offer
	// Step is the elapsed step of the focal negotiation, bucketed into the state key.
	Step                  int
	OwnRemaining          int
	RemainingNegotiations int
	NPartners             int
}

func (s OpenState) remainingFraction() float64 {
	if s.NPartners <= 0 {
		return 0
	}
	return float64(s.RemainingNegotiations) / float64(s.NPartners)
}

func predictions(ctx Context, open OpenState, model Forecaster) []forecast.Prediction {
	out := make([]forecast.Prediction, len(open.Pending))
	for i, o := range open.Pending {
		key := forecast.NewStateKey(ctx.Economics.Role, open.OwnRemaining, o.Quantity, open.Step, open.remainingFraction())
		out[i] = model.Lookup(key, ctx.Bounds)
	}
	return out
}

// NewPredictiveMeanView folds each open negotiation's mean forecast into the
// aggregate as if it had already been agreed.
func NewPredictiveMeanView(ctx Context, accepted []types.Offer, open OpenState, model Forecaster) (*BilateralView, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil forecaster", ErrConfiguration)
	}
	preds := predictions(ctx, open, model)
	lots := make([]Lot, len(preds))
	for i, p := range preds {
		lots[i] = Lot{Quantity: p.Quantity, UnitPrice: p.UnitPrice}
	}
	return NewBilateralView(ctx, accepted, lots)
}

// Scenario is one agree/disagree combination across the open negotiations.
type Scenario struct {
	Agreed  []bool  `json:"agreed"`
	Weight  float64 `json:"weight"`
	Utility float64 `json:"utility"`
}

// MeanOrDisagreementView treats every open negotiation as either agreeing at the
// empirical mean or failing, and averages utility over all 2^k combinations.
// The embedded view's Evaluate scores the accepted offers alone.
type MeanOrDisagreementView struct {
	*BilateralView
	preds []forecast.Prediction
}

func NewMeanOrDisagreementView(ctx Context, accepted []types.Offer, open OpenState, model Forecaster) (*MeanOrDisagreementView, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil forecaster", ErrConfiguration)
	}
	if len(open.Pending) > MaxOpenNegotiations {
		return nil, fmt.Errorf("%w: %d open negotiations exceeds %d", ErrConfiguration, len(open.Pending), MaxOpenNegotiations)
	}
	base, err := NewBilateralView(ctx, accepted, nil)
	if err != nil {
		return nil, err
	}
	return &MeanOrDisagreementView{BilateralView: base, preds: predictions(ctx, open, model)}, nil
}

// Scenarios evaluates candidate under every combination. Index bit j set means
// negotiation j disagrees.
func (v *MeanOrDisagreementView) Scenarios(candidate types.Offer) ([]Scenario, error) {
	if err := candidate.Valid(); err != nil {
		return nil, fmt.Errorf("%w: candidate: %v", ErrConfiguration, err)
	}
	k := len(v.preds)
	n := 1 << k
	out := make([]Scenario, 0, n)
	extra := make([]Lot, k)
	output := v.ctx.Economics.Role.NegotiatesOutput()
	for mask := 0; mask < n; mask++ {
		agreed := make([]bool, k)
		weight := 1.0
		for j, p := range v.preds {
			if mask&(1<<j) == 0 {
				agreed[j] = true
				extra[j] = Lot{Quantity: p.Quantity, UnitPrice: p.UnitPrice, Output: output}
				weight *= p.AgreeProb
			} else {
				extra[j] = Lot{Output: output}
				weight *= p.DisagreeProb
			}
		}
		res, err := EvaluateLots(v.lotsWith(extra, candidate), v.ctx.Economics, v.ctx.Exogenous)
		if err != nil {
			return nil, err
		}
		out = append(out, Scenario{Agreed: agreed, Weight: weight, Utility: res.Utility})
	}
	return out, nil
}

// WeightsBalanced reports whether the scenario weights sum to 1 within tolerance.
func WeightsBalanced(scenarios []Scenario) bool {
	sum := decimal.Zero
	for _, s := range scenarios {
		sum = sum.Add(decimal.NewFromFloat(s.Weight))
	}
	return sum.Sub(decimal.NewFromInt(1)).Abs().LessThanOrEqual(scenarioTolerance)
}

// Utility is the probability-weighted expectation over all scenarios.
func (v *MeanOrDisagreementView) Utility(candidate types.Offer) float64 {
	scenarios, err := v.Scenarios(candidate)
	if err != nil {
		logger.Warnf("expected utility of %s: %v", candidate, err)
		return math.Inf(-1)
	}
	if !WeightsBalanced(scenarios) {
		logger.Errorf("scenario weights for %s do not sum to 1", candidate)
	}
	var u float64
	for _, s := range scenarios {
		u += s.Weight * s.Utility
	}
	return u
}
