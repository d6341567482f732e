package ufun

import (
	"math"

	"negotiator/internal/logger"
	"negotiator/internal/types"
)

// CounterpartConfig holds the cost assumptions used to mirror the opposing role.
type CounterpartConfig struct {
	ExpectedQuantitySeller float64
	ExpectedQuantityBuyer  float64
	ProductionCostStep     float64
	DisposalCost           float64
	ShortfallPenalty       float64
	SellerInputUnitPrice   float64
	BuyerOutputUnitPrice   float64
	NLines                 int
}

// DefaultCounterpartConfig returns the constants measured over past simulations.
func DefaultCounterpartConfig() CounterpartConfig {
	return CounterpartConfig{
		ExpectedQuantitySeller: 8.9992004,
		ExpectedQuantityBuyer:  9.02894599,
		ProductionCostStep:     2.5,
		DisposalCost:           0.1,
		ShortfallPenalty:       0.6,
		SellerInputUnitPrice:   10,
		BuyerOutputUnitPrice:   27,
		NLines:                 10,
	}
}

func (c CounterpartConfig) expectedQuantity(role types.Role) float64 {
	if role == types.RoleBuyer {
		return c.ExpectedQuantityBuyer
	}
	return c.ExpectedQuantitySeller
}

// CounterpartModel is a synthetic utility for the opposite role, standing in for
// the counterpart's unobservable one.
type CounterpartModel struct {
	role types.Role
	econ types.Economics
	exo  types.Exogenous
	need float64
}

// NewCounterpartModel mirrors ownRole. The counterpart's exogenous need is the
// quantity of its last offer, or the expected per-partner share when none was seen.
func NewCounterpartModel(cfg CounterpartConfig, ownRole types.Role, nCompetitors int, lastOffer *types.Offer) *CounterpartModel {
	role := ownRole.Opposite()
	var need float64
	if lastOffer != nil {
		need = float64(lastOffer.Quantity)
	} else {
		need = cfg.expectedQuantity(role) / float64(max(nCompetitors, 0)+1)
	}
	var exo types.Exogenous
	if role == types.RoleSeller {
		exo.Input = types.ExogenousPosition{Quantity: need, TotalPrice: cfg.SellerInputUnitPrice * need}
	} else {
		exo.Output = types.ExogenousPosition{Quantity: need, TotalPrice: cfg.BuyerOutputUnitPrice * need}
	}
	return &CounterpartModel{
		role: role,
		econ: types.Economics{
			Role:             role,
			ProductionCost:   float64(role.Level()+1) * cfg.ProductionCostStep,
			DisposalCost:     cfg.DisposalCost,
			ShortfallPenalty: cfg.ShortfallPenalty,
			NLines:           cfg.NLines,
			CurrentBalance:   math.Inf(1),
		},
		exo:  exo,
		need: need,
	}
}

func (m *CounterpartModel) Role() types.Role { return m.role }

// Need is the exogenous quantity the model assumes the counterpart must trade.
func (m *CounterpartModel) Need() float64 { return m.need }

func (m *CounterpartModel) Utility(offer types.Offer) float64 {
	if err := offer.Valid(); err != nil {
		logger.Warnf("counterpart utility of %s: %v", offer, err)
		return math.Inf(-1)
	}
	out, err := EvaluateLots([]Lot{LotFromOffer(offer, m.role.NegotiatesOutput())}, m.econ, m.exo)
	if err != nil {
		logger.Warnf("counterpart utility of %s: %v", offer, err)
		return math.Inf(-1)
	}
	return out.Utility
}
