package ufun

import (
	"testing"

	"negotiator/internal/forecast"
	"negotiator/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sellerContext() Context {
	return Context{
		Economics: sellerEconomics(1000),
		Exogenous: types.Exogenous{Input: types.ExogenousPosition{Quantity: 8, TotalPrice: 80}},
		Bounds:    types.PriceBounds{Min: 15, Max: 22},
		Step:      4,
	}
}

func TestBilateralView_BestOffer(t *testing.T) {
	v, err := NewBilateralView(sellerContext(), []types.Offer{{Quantity: 3, UnitPrice: 18}}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.Offer{Quantity: 5, Time: 4, UnitPrice: 22}, v.BestOffer())

	v, err = NewBilateralView(sellerContext(), []types.Offer{{Quantity: 9, UnitPrice: 18}}, nil)
	require.NoError(t, err)
	assert.Zero(t, v.BestOffer().Quantity)

	buyer := sellerContext()
	buyer.Economics.Role = types.RoleBuyer
	buyer.Exogenous = types.Exogenous{Output: types.ExogenousPosition{Quantity: 6, TotalPrice: 180}}
	v, err = NewBilateralView(buyer, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, types.Offer{Quantity: 6, Time: 4, UnitPrice: 15}, v.BestOffer())
}

func TestBilateralView_UtilityMatchesEngine(t *testing.T) {
	ctx := sellerContext()
	accepted := []types.Offer{{Quantity: 3, UnitPrice: 18}}
	v, err := NewBilateralView(ctx, accepted, nil)
	require.NoError(t, err)

	candidate := types.Offer{Quantity: 4, UnitPrice: 21}
	want, err := Evaluate([]types.Offer{accepted[0], candidate}, []bool{true, true}, ctx.Economics, ctx.Exogenous)
	require.NoError(t, err)
	assert.InDelta(t, want.Utility, v.Utility(candidate), 1e-9)
}

func TestBilateralView_RejectsBadInput(t *testing.T) {
	_, err := NewBilateralView(sellerContext(), []types.Offer{{Quantity: -2}}, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	ctx := sellerContext()
	ctx.Bounds = types.PriceBounds{Min: 10, Max: 5}
	_, err = NewBilateralView(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	v, err := NewBilateralView(sellerContext(), nil, nil)
	require.NoError(t, err)
	_, err = v.Evaluate(types.Offer{Quantity: 1, UnitPrice: -1})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCounterpartModel(t *testing.T) {
	cfg := DefaultCounterpartConfig()

	t.Run("need from last offer", func(t *testing.T) {
		m := NewCounterpartModel(cfg, types.RoleBuyer, 2, &types.Offer{Quantity: 3, UnitPrice: 12})
		assert.Equal(t, types.RoleSeller, m.Role())
		assert.Equal(t, 3.0, m.Need())
		// revenue 60, input 30, production 2.5*3
		assert.InDelta(t, 22.5, m.Utility(types.Offer{Quantity: 3, UnitPrice: 20}), 1e-9)
	})

	t.Run("expected share without offer", func(t *testing.T) {
		m := NewCounterpartModel(cfg, types.RoleSeller, 3, nil)
		assert.Equal(t, types.RoleBuyer, m.Role())
		assert.InDelta(t, cfg.ExpectedQuantityBuyer/4, m.Need(), 1e-12)
	})

	t.Run("buyer prefers low prices", func(t *testing.T) {
		m := NewCounterpartModel(cfg, types.RoleSeller, 0, &types.Offer{Quantity: 4})
		cheap := m.Utility(types.Offer{Quantity: 4, UnitPrice: 10})
		dear := m.Utility(types.Offer{Quantity: 4, UnitPrice: 20})
		assert.Greater(t, cheap, dear)
	})
}

type fixedForecaster struct {
	pred forecast.Prediction
	keys []string
}

func (f *fixedForecaster) Lookup(key forecast.StateKey, _ types.PriceBounds) forecast.Prediction {
	f.keys = append(f.keys, key.String())
	return f.pred
}

func TestPredictiveMeanView(t *testing.T) {
	ctx := sellerContext()
	model := &fixedForecaster{pred: forecast.Prediction{Quantity: 2, UnitPrice: 19, AgreeProb: 1, Hit: true}}
	open := OpenState{Pending: []types.Offer{{Quantity: 3}, {Quantity: 1}}, Step: 7, OwnRemaining: 5, RemainingNegotiations: 2, NPartners: 4}
	v, err := NewPredictiveMeanView(ctx, nil, open, model)
	require.NoError(t, err)
	// the time part follows the negotiation step, not the round in ctx.Step
	assert.Equal(t, []string{"ss5o3t5+rem0.25+", "ss5o1t5+rem0.25+"}, model.keys)

	candidate := types.Offer{Quantity: 2, UnitPrice: 20}
	want, err := Evaluate(
		[]types.Offer{{Quantity: 2, UnitPrice: 19}, {Quantity: 2, UnitPrice: 19}, candidate},
		[]bool{true, true, true}, ctx.Economics, ctx.Exogenous)
	require.NoError(t, err)
	assert.InDelta(t, want.Utility, v.Utility(candidate), 1e-9)
	assert.Len(t, v.Forecasts(), 2)
}

func TestMeanOrDisagreementView(t *testing.T) {
	ctx := sellerContext()
	open := OpenState{Pending: []types.Offer{{Quantity: 3}, {Quantity: 2}, {Quantity: 1}}, OwnRemaining: 5, RemainingNegotiations: 3, NPartners: 4}
	model := &fixedForecaster{pred: forecast.Prediction{Quantity: 2, UnitPrice: 19, AgreeProb: 0.3, DisagreeProb: 0.7, Hit: true}}
	v, err := NewMeanOrDisagreementView(ctx, []types.Offer{{Quantity: 1, UnitPrice: 17}}, open, model)
	require.NoError(t, err)

	candidate := types.Offer{Quantity: 2, UnitPrice: 21}
	scenarios, err := v.Scenarios(candidate)
	require.NoError(t, err)
	require.Len(t, scenarios, 8)
	assert.True(t, WeightsBalanced(scenarios))

	var expected, sum float64
	for _, s := range scenarios {
		expected += s.Weight * s.Utility
		sum += s.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.InDelta(t, expected, v.Utility(candidate), 1e-9)
	assert.Equal(t, []bool{true, true, true}, scenarios[0].Agreed)
	assert.InDelta(t, 0.3*0.3*0.3, scenarios[0].Weight, 1e-12)

	t.Run("certain agreement equals mean view", func(t *testing.T) {
		sure := &fixedForecaster{pred: forecast.Prediction{Quantity: 2, UnitPrice: 19, AgreeProb: 1}}
		mod, err := NewMeanOrDisagreementView(ctx, nil, open, sure)
		require.NoError(t, err)
		mean, err := NewPredictiveMeanView(ctx, nil, open, sure)
		require.NoError(t, err)
		assert.InDelta(t, mean.Utility(candidate), mod.Utility(candidate), 1e-9)
	})

	t.Run("no open negotiations", func(t *testing.T) {
		mod, err := NewMeanOrDisagreementView(ctx, nil, OpenState{}, model)
		require.NoError(t, err)
		base, err := NewBilateralView(ctx, nil, nil)
		require.NoError(t, err)
		assert.InDelta(t, base.Utility(candidate), mod.Utility(candidate), 1e-9)
	})
}

func TestViews_WorkLimits(t *testing.T) {
	ctx := sellerContext()
	ctx.Bounds = types.PriceBounds{Min: 0, Max: MaxPriceSpan + 1}
	_, err := NewBilateralView(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	ctx.Bounds = types.PriceBounds{Min: 10, Max: 10 + MaxPriceSpan}
	_, err = NewBilateralView(ctx, nil, nil)
	assert.NoError(t, err)

	model := &fixedForecaster{pred: forecast.Prediction{Quantity: 1, UnitPrice: 19, AgreeProb: 0.5, DisagreeProb: 0.5}}
	open := OpenState{Pending: make([]types.Offer, MaxOpenNegotiations+1), NPartners: MaxOpenNegotiations + 2}
	_, err = NewMeanOrDisagreementView(sellerContext(), nil, open, model)
	assert.ErrorIs(t, err, ErrConfiguration)

	open.Pending = open.Pending[:MaxOpenNegotiations]
	_, err = NewMeanOrDisagreementView(sellerContext(), nil, open, model)
	assert.NoError(t, err)
}

func TestWeightsBalanced(t *testing.T) {
	assert.True(t, WeightsBalanced([]Scenario{{Weight: 0.25}, {Weight: 0.75}}))
	assert.False(t, WeightsBalanced([]Scenario{{Weight: 0.25}, {Weight: 0.7}}))
}
