package sim

import (
	"context"
	"errors"
	"testing"

	"negotiator/internal/agent"
	"negotiator/internal/forecast"
	"negotiator/internal/store/model"
	"negotiator/internal/strategy"
	"negotiator/internal/types"
	"negotiator/internal/ufun"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRuns struct {
	mock.Mock
}

func (m *mockRuns) StartRun(ctx context.Context, source string, params any) (string, error) {
	args := m.Called(ctx, source, params)
	return args.String(0), args.Error(1)
}

func (m *mockRuns) FinishRun(ctx context.Context, runID string, records int, runErr error) error {
	args := m.Called(ctx, runID, records, runErr)
	return args.Error(0)
}

func (m *mockRuns) ListRuns(ctx context.Context, limit int) ([]model.RunModel, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]model.RunModel)
	return runs, args.Error(1)
}

type failingSink struct{}

func (failingSink) Append(context.Context, []forecast.Record) error { return errors.New("disk full") }

func testParams() Params {
	return Params{
		Markets:     2,
		Rounds:      3,
		NSteps:      6,
		Sellers:     2,
		Buyers:      2,
		MinPrice:    15,
		MaxPrice:    25,
		MaxExogQty:  6,
		Seed:        42,
		Concurrency: 2,
	}
}

func testDecider(t *testing.T) *agent.Decider {
	t.Helper()
	d, err := agent.NewDecider(agent.DeciderParams{Strategy: strategy.DefaultParams(), Counterpart: ufun.DefaultCounterpartConfig()})
	require.NoError(t, err)
	return d
}

func TestSimulator_Run(t *testing.T) {
	p := testParams()
	runs := new(mockRuns)
	runs.On("StartRun", mock.Anything, "simulate", p).Return("run-1", nil).Once()
	runs.On("FinishRun", mock.Anything, "run-1", mock.AnythingOfType("int"), nil).Return(nil).Once()

	s, err := NewSimulator(SimulatorConfig{Params: p, Decider: testDecider(t), Runs: runs})
	require.NoError(t, err)
	stats, records, err := s.Run(context.Background())
	require.NoError(t, err)
	runs.AssertExpectations(t)

	assert.Equal(t, "run-1", stats.RunID)
	assert.Equal(t, p.Markets*p.Rounds*p.Sellers*p.Buyers, stats.Negotiations)
	assert.LessOrEqual(t, stats.Agreements, stats.Negotiations)
	assert.Equal(t, len(records), stats.Records)
	assert.NotEmpty(t, records)
	assert.Positive(t, stats.Need)
	assert.LessOrEqual(t, stats.Unmet, stats.Need)
	if stats.Volume > 0 {
		assert.GreaterOrEqual(t, stats.MeanPrice(), float64(p.MinPrice))
		assert.LessOrEqual(t, stats.MeanPrice(), float64(p.MaxPrice))
	}
	for _, r := range records {
		assert.Equal(t, float64(p.MinPrice), r.MinPrice)
		assert.Equal(t, float64(p.MaxPrice), r.MaxPrice)
		assert.GreaterOrEqual(t, r.Quantity, 0)
		assert.GreaterOrEqual(t, r.RemainingFraction, 0.0)
		assert.LessOrEqual(t, r.RemainingFraction, 1.0)
		assert.GreaterOrEqual(t, r.Step, 1)
		assert.LessOrEqual(t, r.Step, p.NSteps)
		if r.Quantity == 0 {
			assert.Zero(t, r.UnitPrice)
		}
	}

	// 记录下来的数据可以直接构建预测表
	table, err := forecast.Build(forecast.KindMeanOrDisagreement, records)
	require.NoError(t, err)
	assert.Equal(t, len(records), table.Rows())
}

func TestSimulator_Deterministic(t *testing.T) {
	p := testParams()
	p.Concurrency = 1
	run := func() Stats {
		s, err := NewSimulator(SimulatorConfig{Params: p, Decider: testDecider(t)})
		require.NoError(t, err)
		st, _, err := s.Run(context.Background())
		require.NoError(t, err)
		st.Elapsed = 0
		return st
	}
	assert.Equal(t, run(), run())
}

func TestSimulator_SinkErrorFailsRun(t *testing.T) {
	p := testParams()
	runs := new(mockRuns)
	runs.On("StartRun", mock.Anything, "simulate", p).Return("run-2", nil).Once()
	runs.On("FinishRun", mock.Anything, "run-2", mock.AnythingOfType("int"), mock.MatchedBy(func(err error) bool { return err != nil })).Return(nil).Once()

	s, err := NewSimulator(SimulatorConfig{Params: p, Decider: testDecider(t), History: failingSink{}, Runs: runs})
	require.NoError(t, err)
	_, _, err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	runs.AssertExpectations(t)
}

func TestSimulator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := NewSimulator(SimulatorConfig{Params: testParams(), Decider: testDecider(t)})
	require.NoError(t, err)
	_, _, err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSimulator_Validates(t *testing.T) {
	d := testDecider(t)
	_, err := NewSimulator(SimulatorConfig{Params: testParams()})
	assert.Error(t, err)

	bad := []func(*Params){
		func(p *Params) { p.Markets = 0 },
		func(p *Params) { p.NSteps = 0 },
		func(p *Params) { p.Buyers = 0 },
		func(p *Params) { p.MinPrice = 30 },
		func(p *Params) { p.MaxExogQty = 0 },
	}
	for _, mutate := range bad {
		p := testParams()
		mutate(&p)
		_, err := NewSimulator(SimulatorConfig{Params: p, Decider: d})
		assert.Error(t, err)
	}
}

func TestUtilityRange(t *testing.T) {
	econ := types.Economics{Role: types.RoleSeller, ProductionCost: 1, DisposalCost: 0.1, ShortfallPenalty: 0.6, NLines: 10, CurrentBalance: 1000}
	exo := types.Exogenous{Input: types.ExogenousPosition{Quantity: 5, TotalPrice: 50}}
	bounds := types.PriceBounds{Min: 15, Max: 20}
	lo, hi, err := utilityRange(econ, exo, bounds, 10)
	require.NoError(t, err)
	assert.Less(t, lo, hi)

	best, err := ufun.Evaluate([]types.Offer{{Quantity: 5, UnitPrice: 20}}, []bool{true}, econ, exo)
	require.NoError(t, err)
	assert.LessOrEqual(t, best.Utility, hi)
	assert.GreaterOrEqual(t, best.Utility, lo)
}

func TestCollectorForwards(t *testing.T) {
	inner := NewCollector(nil)
	c := NewCollector(inner)
	require.NoError(t, c.Append(context.Background(), []forecast.Record{{Quantity: 1}, {Quantity: 2}}))
	assert.Len(t, c.Records(), 2)
	assert.Len(t, inner.Records(), 2)
}
