package ufun

import (
	"math/rand"
	"testing"

	"negotiator/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sellerEconomics(balance float64) types.Economics {
	return types.Economics{
		Role:             types.RoleSeller,
		ProductionCost:   1,
		DisposalCost:     0.1,
		ShortfallPenalty: 0.6,
		NLines:           10,
		CurrentBalance:   balance,
	}
}

func TestEvaluate_UnconstrainedExample(t *testing.T) {
	exo := types.Exogenous{Input: types.ExogenousPosition{Quantity: 5, TotalPrice: 50}}
	offers := []types.Offer{{Quantity: 5, UnitPrice: 20}, {}}
	out, err := Evaluate(offers, []bool{true, true}, sellerEconomics(1000), exo)
	require.NoError(t, err)
	assert.Equal(t, 5.0, out.Producible)
	assert.InDelta(t, 45.0, out.Raw, 1e-9)
	assert.InDelta(t, 45.0, out.Utility, 1e-9)
	assert.Zero(t, out.InputPenalty)
	assert.Zero(t, out.OutputPenalty)
}

func TestEvaluate_CapitalConstrained(t *testing.T) {
	econ := types.Economics{Role: types.RoleBuyer, NLines: 10, CurrentBalance: 30}
	out, err := Evaluate([]types.Offer{{Quantity: 5, UnitPrice: 10}}, []bool{false}, econ, types.Exogenous{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, out.Affordable)
	assert.Equal(t, 5.0, out.InputQty)
	assert.Equal(t, 50.0, out.InputPaid)

	t.Run("cheaper lot is bought first", func(t *testing.T) {
		offers := []types.Offer{{Quantity: 5, UnitPrice: 10}, {Quantity: 1, UnitPrice: 4}}
		a, err := Evaluate(offers, []bool{false, false}, econ, types.Exogenous{})
		require.NoError(t, err)
		b, err := Evaluate([]types.Offer{offers[1], offers[0]}, []bool{false, false}, econ, types.Exogenous{})
		require.NoError(t, err)
		// 4 spent on the cheap lot leaves 26 for two more units at 10.
		assert.Equal(t, 3.0, a.Affordable)
		assert.Equal(t, a, b)
	})

	t.Run("negative balance buys nothing", func(t *testing.T) {
		neg := econ
		neg.CurrentBalance = -1
		out, err := Evaluate([]types.Offer{{Quantity: 5, UnitPrice: 10}}, []bool{false}, neg, types.Exogenous{})
		require.NoError(t, err)
		assert.Zero(t, out.Affordable)
		assert.Zero(t, out.Producible)
	})
}

func TestEvaluate_ConfigurationErrors(t *testing.T) {
	_, err := Evaluate([]types.Offer{{Quantity: 1}}, nil, sellerEconomics(10), types.Exogenous{})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Evaluate([]types.Offer{{Quantity: -1}}, []bool{true}, sellerEconomics(10), types.Exogenous{})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Evaluate([]types.Offer{{Quantity: 1, UnitPrice: -3}}, []bool{true}, sellerEconomics(10), types.Exogenous{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestEvaluate_Penalties(t *testing.T) {
	t.Run("shortfall", func(t *testing.T) {
		exo := types.Exogenous{Input: types.ExogenousPosition{Quantity: 2, TotalPrice: 20}}
		out, err := Evaluate([]types.Offer{{Quantity: 5, UnitPrice: 20}}, []bool{true}, sellerEconomics(1000), exo)
		require.NoError(t, err)
		assert.Equal(t, 2.0, out.Producible)
		assert.InDelta(t, 36.0, out.OutputPenalty, 1e-9)
		assert.InDelta(t, 40-20-2-36.0, out.Raw, 1e-9)
	})
	t.Run("disposal", func(t *testing.T) {
		econ := sellerEconomics(1000)
		econ.Role = types.RoleBuyer
		exo := types.Exogenous{Output: types.ExogenousPosition{Quantity: 2, TotalPrice: 60}}
		out, err := Evaluate([]types.Offer{{Quantity: 5, UnitPrice: 10}}, []bool{false}, econ, exo)
		require.NoError(t, err)
		assert.Equal(t, 2.0, out.Producible)
		assert.InDelta(t, 3.0, out.InputPenalty, 1e-9)
		assert.InDelta(t, 5.0, out.Raw, 1e-9)
	})
	t.Run("scale override", func(t *testing.T) {
		scale := 100.0
		econ := sellerEconomics(1000)
		econ.OutputPenaltyScale = &scale
		out, err := Evaluate([]types.Offer{{Quantity: 1, UnitPrice: 20}}, []bool{true}, econ, types.Exogenous{})
		require.NoError(t, err)
		assert.InDelta(t, 60.0, out.OutputPenalty, 1e-9)
	})
	t.Run("no quantity no penalty", func(t *testing.T) {
		out, err := Evaluate(nil, nil, sellerEconomics(1000), types.Exogenous{})
		require.NoError(t, err)
		assert.Zero(t, out.Raw)
	})
}

func TestEvaluate_Normalization(t *testing.T) {
	exo := types.Exogenous{Input: types.ExogenousPosition{Quantity: 5, TotalPrice: 50}}
	offers := []types.Offer{{Quantity: 5, UnitPrice: 20}}
	econ := sellerEconomics(1000)
	econ.Normalized = true

	econ.MinUtility, econ.MaxUtility = -50, 100
	out, err := Evaluate(offers, []bool{true}, econ, exo)
	require.NoError(t, err)
	assert.InDelta(t, (45.0+50)/150, out.Utility, 1e-9)
	assert.GreaterOrEqual(t, out.Utility, 0.0)
	assert.LessOrEqual(t, out.Utility, 1.0)

	econ.MinUtility, econ.MaxUtility = 0, 10
	out, err = Evaluate(offers, []bool{true}, econ, exo)
	require.NoError(t, err)
	assert.Greater(t, out.Utility, 1.0)

	econ.MinUtility, econ.MaxUtility = 7, 7
	out, err = Evaluate(offers, []bool{true}, econ, exo)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Utility)
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := append(append(append([]int{}, p[:i]...), n-1), p[i:]...)
			out = append(out, next)
		}
	}
	return out
}

func TestEvaluate_PermutationInvariance(t *testing.T) {
	offers := []types.Offer{
		{Quantity: 2, UnitPrice: 12},
		{Quantity: 5, UnitPrice: 12},
		{Quantity: 3, UnitPrice: 25},
		{Quantity: 4, UnitPrice: 9},
		{Quantity: 1, UnitPrice: 25},
	}
	outputs := []bool{false, false, true, false, true}
	exo := types.Exogenous{Output: types.ExogenousPosition{Quantity: 2, TotalPrice: 44}}
	for _, balance := range []float64{1000, 60, 5, -1} {
		econ := sellerEconomics(balance)
		want, err := Evaluate(offers, outputs, econ, exo)
		require.NoError(t, err)
		for _, perm := range permutations(len(offers)) {
			o := make([]types.Offer, len(perm))
			f := make([]bool, len(perm))
			for i, idx := range perm {
				o[i], f[i] = offers[idx], outputs[idx]
			}
			got, err := Evaluate(o, f, econ, exo)
			require.NoError(t, err)
			assert.InDelta(t, want.Utility, got.Utility, 1e-9, "balance=%v perm=%v", balance, perm)
			assert.Equal(t, want.Producible, got.Producible)
		}
	}
}

func randomCase(rng *rand.Rand) ([]types.Offer, []bool, types.Exogenous) {
	n := rng.Intn(6)
	offers := make([]types.Offer, n)
	outputs := make([]bool, n)
	for i := range offers {
		offers[i] = types.Offer{Quantity: rng.Intn(8), UnitPrice: 8 + rng.Intn(20)}
		outputs[i] = rng.Intn(2) == 0
	}
	exo := types.Exogenous{
		Input:  types.ExogenousPosition{Quantity: float64(rng.Intn(6)), TotalPrice: float64(rng.Intn(60))},
		Output: types.ExogenousPosition{Quantity: float64(rng.Intn(6)), TotalPrice: float64(rng.Intn(200))},
	}
	return offers, outputs, exo
}

func TestEvaluate_ProducibleBound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		offers, outputs, exo := randomCase(rng)
		econ := sellerEconomics(float64(rng.Intn(300) - 20))
		econ.NLines = rng.Intn(12)
		out, err := Evaluate(offers, outputs, econ, exo)
		require.NoError(t, err)
		assert.LessOrEqual(t, out.Producible, out.InputQty)
		assert.LessOrEqual(t, out.Producible, out.OutputQty)
		assert.LessOrEqual(t, out.Producible, float64(econ.NLines))
		assert.GreaterOrEqual(t, out.Producible, 0.0)
	}
}

func TestEvaluate_BalanceMonotonic(t *testing.T) {
	offers := []types.Offer{{Quantity: 4, UnitPrice: 8}, {Quantity: 3, UnitPrice: 11}, {Quantity: 6, UnitPrice: 30}}
	outputs := []bool{false, false, true}
	prev := -1e18
	for balance := -10.0; balance <= 200; balance += 2.5 {
		out, err := Evaluate(offers, outputs, sellerEconomics(balance), types.Exogenous{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, out.Utility, prev, "balance=%v", balance)
		prev = out.Utility
	}
}

func TestSplitSorted_EqualPricesKeepArrivalOrder(t *testing.T) {
	lots := []Lot{
		{Quantity: 4, UnitPrice: 12},
		{Quantity: 1, UnitPrice: 18, Output: true},
		{Quantity: 2, UnitPrice: 12},
		{Quantity: 3, UnitPrice: 18, Output: true},
		{Quantity: 1, UnitPrice: 10},
		{Quantity: 5, UnitPrice: 20, Output: true},
	}
	inputs, outputs := splitSorted(lots)
	assert.Equal(t, []Lot{
		{Quantity: 1, UnitPrice: 10},
		{Quantity: 4, UnitPrice: 12},
		{Quantity: 2, UnitPrice: 12},
	}, inputs)
	assert.Equal(t, []Lot{
		{Quantity: 5, UnitPrice: 20, Output: true},
		{Quantity: 1, UnitPrice: 18, Output: true},
		{Quantity: 3, UnitPrice: 18, Output: true},
	}, outputs)
}
