package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
server:
  addr: ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "binance", cfg.Data.Source)
	assert.Equal(t, "data/klines", cfg.Data.Root)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, 10_000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, "percentage", cfg.Backtest.SlippageModel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("unknown data source", func(t *testing.T) {
		path := writeConfig(t, "data:\n  source: kraken\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("unknown slippage model", func(t *testing.T) {
		path := writeConfig(t, "backtest:\n  slippage_model: chaotic\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("sizing pct above one", func(t *testing.T) {
		path := writeConfig(t, "backtest:\n  sizing_pct: 1.5\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Load("")
		require.Error(t, err)
	})
}

func TestLoadWeaklyTypedValues(t *testing.T) {
	path := writeConfig(t, `
backtest:
  max_concurrent: "4"
  initial_capital: "50000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Backtest.MaxConcurrent)
	assert.Equal(t, 50_000.0, cfg.Backtest.InitialCapital)
}
