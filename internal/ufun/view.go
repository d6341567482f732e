package ufun

import (
	"fmt"
	"math"

	"negotiator/internal/logger"
	"negotiator/internal/types"
)

// Function scores a single candidate offer.
type Function interface {
	Utility(offer types.Offer) float64
}

const (
	// MaxPriceSpan bounds bounds.Max-bounds.Min so the offer grid stays small.
	MaxPriceSpan = 200
	// MaxOpenNegotiations bounds the pending offers a scenario view enumerates (2^k).
	MaxOpenNegotiations = 12
)

// Context is the per-round information every utility view is built from.
type Context struct {
	Economics types.Economics
	Exogenous types.Exogenous
	Bounds    types.PriceBounds
	Step      int
}

func (c Context) validate() error {
	if err := c.Economics.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := c.Bounds.Valid(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if span := c.Bounds.Max - c.Bounds.Min; span > MaxPriceSpan {
		return fmt.Errorf("%w: price range %d exceeds %d", ErrConfiguration, span, MaxPriceSpan)
	}
	return nil
}

// BilateralView scores one focal negotiation while holding the offers already
// accepted this round (and optional forecast lots) fixed.
type BilateralView struct {
	ctx       Context
	accepted  []Lot
	forecasts []Lot
	best      types.Offer
}

// NewBilateralView validates the accepted offers once so per-candidate scoring cannot fail on them.
func NewBilateralView(ctx Context, accepted []types.Offer, forecasts []Lot) (*BilateralView, error) {
	if err := ctx.validate(); err != nil {
		return nil, err
	}
	output := ctx.Economics.Role.NegotiatesOutput()
	lots := make([]Lot, 0, len(accepted))
	for i, o := range accepted {
		if err := o.Valid(); err != nil {
			return nil, fmt.Errorf("%w: accepted offer %d: %v", ErrConfiguration, i, err)
		}
		lots = append(lots, LotFromOffer(o, output))
	}
	fc := make([]Lot, len(forecasts))
	for i, l := range forecasts {
		if l.Quantity < 0 || l.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: forecast %d has negative values", ErrConfiguration, i)
		}
		l.Output = output
		fc[i] = l
	}
	return &BilateralView{
		ctx:       ctx,
		accepted:  lots,
		forecasts: fc,
		best:      bestOffer(ctx, accepted),
	}, nil
}

// bestOffer asks for the whole uncovered exogenous need at the most favorable
// boundary price. It anchors the aspiration curve rather than being a grid optimum.
func bestOffer(ctx Context, accepted []types.Offer) types.Offer {
	need := ctx.Exogenous.NeedFor(ctx.Economics.Role)
	for _, o := range accepted {
		need -= float64(o.Quantity)
	}
	price := ctx.Bounds.Max
	if ctx.Economics.Role == types.RoleBuyer {
		price = ctx.Bounds.Min
	}
	return types.Offer{
		Quantity:  int(math.Max(math.Round(need), 0)),
		Time:      ctx.Step,
		UnitPrice: price,
	}
}

func (v *BilateralView) Role() types.Role          { return v.ctx.Economics.Role }
func (v *BilateralView) Bounds() types.PriceBounds { return v.ctx.Bounds }
func (v *BilateralView) Step() int                 { return v.ctx.Step }
func (v *BilateralView) BestOffer() types.Offer    { return v.best }

// Forecasts returns a copy of the forecast lots folded into every evaluation.
func (v *BilateralView) Forecasts() []Lot {
	return append([]Lot(nil), v.forecasts...)
}

// Evaluate returns the full breakdown for accepted + forecast + candidate.
func (v *BilateralView) Evaluate(candidate types.Offer) (Outcome, error) {
	if err := candidate.Valid(); err != nil {
		return Outcome{}, fmt.Errorf("%w: candidate: %v", ErrConfiguration, err)
	}
	return EvaluateLots(v.lotsWith(nil, candidate), v.ctx.Economics, v.ctx.Exogenous)
}

func (v *BilateralView) Utility(candidate types.Offer) float64 {
	out, err := v.Evaluate(candidate)
	if err != nil {
		logger.Warnf("utility of %s: %v", candidate, err)
		return math.Inf(-1)
	}
	return out.Utility
}

func (v *BilateralView) lotsWith(extra []Lot, candidate types.Offer) []Lot {
	lots := make([]Lot, 0, len(v.forecasts)+len(extra)+len(v.accepted)+1)
	lots = append(lots, v.forecasts...)
	lots = append(lots, extra...)
	lots = append(lots, v.accepted...)
	lots = append(lots, LotFromOffer(candidate, v.ctx.Economics.Role.NegotiatesOutput()))
	return lots
}
