package config

import (
	"os"
	"path/filepath"
	"testing"

	"negotiator/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, strategy.DefaultParams(), cfg.Strategy.Params())
	assert.Equal(t, 10, cfg.Counterpart.NLines)
	assert.InDelta(t, 9.02894599, cfg.Counterpart.ExpectedQuantityBuyer, 1e-12)
	assert.Equal(t, ForecastSourceNone, cfg.Forecast.Source)
	assert.Equal(t, cfg.Simulation.Markets, cfg.Simulation.Concurrency)
}

func TestLoad_IncludesAndExplicitZero(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
app:
  log_level: debug
strategy:
  aspiration_exponent: 2
counterpart:
  disposal_cost: 0.2
`)
	main := writeFile(t, dir, "main.yaml", `
include:
  - base.yaml
strategy:
  variant: predictive_mean
  nash_balance: 0
forecast:
  source: file
  path: history.csv.zst
  kind: mean
simulation:
  seed: 7
`)
	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	params := cfg.Strategy.Params()
	assert.Equal(t, strategy.VariantPredictiveMean, params.Variant)
	assert.Equal(t, 2.0, params.AspirationExponent)
	assert.Zero(t, params.NashBalance, "explicit zero must survive defaults")
	assert.Equal(t, 10, params.GridMaxQuantity)
	assert.Equal(t, 0.2, cfg.Counterpart.DisposalCost)
	assert.Equal(t, 0.6, cfg.Counterpart.ShortfallPenalty)
	assert.Equal(t, int64(7), cfg.Simulation.Seed)
}

func TestLoad_Rejects(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"predictive without source": "strategy:\n  variant: predictive_mean\n",
		"predictive kind mismatch":  "strategy:\n  variant: predictive_mean\nforecast:\n  source: store\n  kind: mean_or_disagreement\n",
		"unknown variant":           "strategy:\n  variant: greedy\n",
		"file source without path":  "forecast:\n  source: file\n",
		"bad log format":            "app:\n  log_format: xml\n",
		"bad price range":           "simulation:\n  min_price: 30\n  max_price: 20\n",
		"include not a list":        "include: base.yaml\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, "bad.yaml", body))
			assert.Error(t, err)
		})
	}

	t.Run("include cycle", func(t *testing.T) {
		writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
		writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
		_, err := Load(filepath.Join(dir, "a.yaml"))
		assert.ErrorContains(t, err, "include cycle")
	})
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/negotiator.yaml")
	assert.Equal(t, "cli.yaml", ResolvePath(" cli.yaml "))
	assert.Equal(t, "/etc/negotiator.yaml", ResolvePath(""))
}
