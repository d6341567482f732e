package visual

import (
	"testing"

	"negotiator/internal/strategy"
	"negotiator/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() strategy.Plan {
	frontier := []strategy.Point{
		{Offer: types.Offer{Quantity: 5, Time: 3, UnitPrice: 20}, Mine: 0.9, Theirs: 0.1},
		{Offer: types.Offer{Quantity: 5, Time: 3, UnitPrice: 17}, Mine: 0.6, Theirs: 0.5},
	}
	return strategy.Plan{
		T:           0.25,
		Aspiration:  0.75,
		Target:      0.7,
		Floor:       0.3,
		BestUtility: 0.9,
		Nash:        frontier[1],
		HasNash:     true,
		Grid:        append([]strategy.Point{{Offer: types.NullOffer(3), Mine: 0.1, Theirs: 0}}, frontier...),
		Frontier:    frontier,
		Offer:       frontier[0].Offer,
	}
}

func TestRenderFrontier(t *testing.T) {
	html, err := RenderFrontier(FrontierInput{
		Partner:    "buyer-1",
		Plan:       samplePlan(),
		Aspiration: func(t float64) float64 { return 1 - t },
	})
	require.NoError(t, err)
	body := string(html)
	assert.Contains(t, body, "echarts")
	assert.Contains(t, body, "Pareto frontier vs buyer-1")
	assert.Contains(t, body, "nash")
	assert.Contains(t, body, "target")
}

func TestRenderFrontier_EmptyPlan(t *testing.T) {
	_, err := RenderFrontier(FrontierInput{})
	assert.Error(t, err)
}

func TestOfferPoint(t *testing.T) {
	plan := samplePlan()
	pt, ok := offerPoint(plan)
	require.True(t, ok)
	assert.Equal(t, 0.9, pt.Mine)

	plan.Offer = types.Offer{Quantity: 9, Time: 3, UnitPrice: 99}
	_, ok = offerPoint(plan)
	assert.False(t, ok)
}

func TestTargetSeries(t *testing.T) {
	series := TargetSeries(func(t float64) float64 { return 1 - t }, 1, 0.2, 4)
	require.Len(t, series, 5)
	assert.Equal(t, []float64{0, 1}, series[0].Value)
	assert.Equal(t, []float64{0.5, 0.6}, series[2].Value)
	assert.Equal(t, []float64{1, 0.2}, series[4].Value)
}
