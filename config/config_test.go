package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp isolates Load from any config.yaml or .env in the package dir.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "XAU_USD", cfg.Instrument)
	assert.Equal(t, 300*time.Second, cfg.Strategy.TVWAPWindow)
	assert.Equal(t, 100, cfg.Strategy.BreakoutPeriod)
	assert.Equal(t, 40, cfg.Strategy.LagPeriod)
	assert.Equal(t, 0.1, cfg.Strategy.VolatilityThreshold)
	assert.Equal(t, 6.0, cfg.Strategy.TakeProfitOffset)
	assert.Equal(t, 3.0, cfg.Strategy.StopLossDistance)
	assert.Equal(t, 10*time.Second, cfg.Intervals.Account)
	assert.Equal(t, 20*time.Second, cfg.Intervals.History)
	assert.Equal(t, ":3001", cfg.Server.APIAddr)
	assert.Equal(t, "paper", cfg.Broker.Mode)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "engine.yaml")
	yaml := `
strategy:
  lag_period: 10
  tvwap_window: 60s
intervals:
  account: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("ENGINE_STRATEGY_LAG_PERIOD", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Strategy.LagPeriod, "env beats file")
	assert.Equal(t, 60*time.Second, cfg.Strategy.TVWAPWindow)
	assert.Equal(t, 3*time.Second, cfg.Intervals.Account)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ENGINE_INSTRUMENT=EUR_USD\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ENGINE_INSTRUMENT") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "EUR_USD", cfg.Instrument)
}

func TestLoad_OandaModeNeedsCredentials(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENGINE_BROKER_MODE", "oanda")

	_, err := Load("")
	require.Error(t, err)

	t.Setenv("ENGINE_BROKER_ACCOUNT_ID", "101-001-1234567-001")
	t.Setenv("ENGINE_BROKER_TOKEN", "secret")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "oanda", cfg.Broker.Mode)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENGINE_STRATEGY_LAG_PERIOD", "0")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	chdirTemp(t)
	_, err := Load("/nonexistent/engine.yaml")
	assert.Error(t, err)
}
