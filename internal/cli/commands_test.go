package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	nccfg "negotiator/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "negotiator.yaml")
	body := fmt.Sprintf(`
app:
  log_level: warn
store:
  history_path: %s
  decision_log_path: %s
forecast:
  kind: mean
simulation:
  markets: 1
  rounds: 2
  n_steps: 4
  sellers: 2
  buyers: 1
  max_exogenous_quantity: 4
  seed: 9
`, filepath.Join(dir, "history.db"), filepath.Join(dir, "decisions.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", ""))
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "seed: 9")
	assert.Contains(t, out, "max_exogenous_quantity: 4")
	assert.Contains(t, out, "http_addr:")
}

func TestConfigValidate_BadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("forecast:\n  source: somewhere\n"), 0o644))
	_, err := execute(t, "config", "validate", "--config", path)
	assert.Error(t, err)
}

func TestSimulateThenInspect(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "simulate", "--config", path, "--rounds", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Simulation")
	assert.Contains(t, out, "1 x 3")
	assert.Contains(t, out, "need / unmet")

	out, err = execute(t, "table", "inspect", "--config", path, "--source", "store", "--top", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Forecast table")
	assert.Contains(t, out, "mean")

	out, err = execute(t, "runs", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "simulate")
	assert.Contains(t, out, "done")
}

func TestTableInspect_NoSource(t *testing.T) {
	path := writeConfig(t)
	_, err := execute(t, "table", "inspect", "--config", path)
	assert.Error(t, err)
}

func TestSettingsMap(t *testing.T) {
	cfg := nccfg.Default()
	m, ok := settingsMap(reflect.ValueOf(*cfg)).(map[string]any)
	require.True(t, ok)
	app, ok := m["app"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, cfg.App.HTTPAddr, app["http_addr"])
	sim, ok := m["simulation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, cfg.Simulation.Seed, sim["seed"])
}
