package loader

import (
	"os"
	"path/filepath"
	"testing"

	"negotiator/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfiles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestProfileLoader_ResolveLayersOverBase(t *testing.T) {
	path := writeProfiles(t, `
profiles:
  patient:
    description: concede late
    params:
      aspiration_exponent: 4
  hasty:
    description: concede early
    variant: predictive_mean
    default: true
    params:
      aspiration_exponent: "0.5"
      nash_balance: 0
`)
	base := strategy.DefaultParams()
	l, err := NewProfileLoader(path, base)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, "hasty", snap.DefaultName)
	assert.Equal(t, []string{"hasty", "patient"}, snap.Names())

	def, err := l.Resolve("")
	require.NoError(t, err)
	p := def.StrategyParams()
	assert.Equal(t, strategy.VariantPredictiveMean, p.Variant)
	assert.InDelta(t, 0.5, p.AspirationExponent, 1e-12)
	assert.Zero(t, p.NashBalance)
	assert.Equal(t, base.GridMaxQuantity, p.GridMaxQuantity)

	def, err = l.Resolve("patient")
	require.NoError(t, err)
	p = def.StrategyParams()
	assert.Equal(t, base.Variant, p.Variant)
	assert.InDelta(t, 4.0, p.AspirationExponent, 1e-12)
	assert.InDelta(t, base.NashBalance, p.NashBalance, 1e-12)

	_, err = l.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestProfileLoader_DefaultFallsBackToFirstName(t *testing.T) {
	path := writeProfiles(t, `
profiles:
  zeta: {}
  alpha:
    params:
      grid_max_quantity: 20
`)
	l, err := NewProfileLoader(path, strategy.DefaultParams())
	require.NoError(t, err)
	def, err := l.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "alpha", def.Name)
	assert.Equal(t, 20, def.StrategyParams().GridMaxQuantity)
}

func TestProfileLoader_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": "profiles:\n  a:\n    colour: red\n",
		"unknown param": "profiles:\n  a:\n    params:\n      speed: 3\n",
		"schema range":  "profiles:\n  a:\n    params:\n      nash_balance: 1.5\n",
		"non integer":   "profiles:\n  a:\n    params:\n      grid_max_quantity: 2.5\n",
		"bad variant":   "profiles:\n  a:\n    variant: tit_for_tat\n",
		"two defaults":  "profiles:\n  a:\n    default: true\n  b:\n    default: true\n",
		"empty":         "profiles: {}\n",
		"negative expo": "profiles:\n  a:\n    params:\n      aspiration_exponent: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewProfileLoader(writeProfiles(t, body), strategy.DefaultParams())
			assert.Error(t, err)
		})
	}
}

func TestProfileLoader_RequiresPath(t *testing.T) {
	_, err := NewProfileLoader(" ", strategy.DefaultParams())
	assert.Error(t, err)
}

func TestProfileLoader_SubscribeReceivesSnapshot(t *testing.T) {
	path := writeProfiles(t, "profiles:\n  only: {}\n")
	l, err := NewProfileLoader(path, strategy.DefaultParams())
	require.NoError(t, err)

	got := make(chan ProfileSnapshot, 1)
	l.Subscribe(func(s ProfileSnapshot) { got <- s })
	snap := <-got
	assert.Equal(t, "only", snap.DefaultName)

	// 快照是深拷贝
	snap.Profiles["extra"] = ProfileDefinition{}
	_, err = l.Resolve("extra")
	assert.Error(t, err)
}

func TestSanitizeParams(t *testing.T) {
	out := sanitizeParams(map[string]any{"a": "1.5", "b": 2, "c": "x", "d": []any{"3"}})
	assert.Equal(t, map[string]any{"a": 1.5, "b": 2.0, "c": "x", "d": []any{3.0}}, out)
	assert.Equal(t, map[string]any{}, sanitizeParams(nil))
}
