package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "hybrid", cfg.DataProvider)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL"}, cfg.DefaultStocks)
	assert.Equal(t, filepath.Join("data", "stock_list.txt"), cfg.WatchlistPath)
	assert.Equal(t, 60, cfg.Cache.QuoteTTLSeconds)
	assert.Equal(t, 1800, cfg.Cache.SyntheticEarningsTTLSeconds)
	assert.Equal(t, 10, cfg.Providers.FMP.ForbiddenThreshold)
	assert.Equal(t, 500, cfg.Providers.FMP.MinIntervalMs)
	assert.Equal(t, 10.0, cfg.Alerts.BuyDipThresholdPct)
	assert.Equal(t, 600, cfg.Alerts.BuyDip.IntervalSeconds)
	assert.Equal(t, 120, cfg.Alerts.BuyDip.StartupDelaySeconds)
	assert.Equal(t, 30, cfg.Alerts.GlobalCooldownSeconds)
	assert.Equal(t, "json", cfg.Dedup.Backend)
	assert.True(t, cfg.Providers.Yahoo.IsEnabled())
}

func TestLoad_YAMLThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
data_dir: /tmp/alerts
data_provider: yahoo
providers:
  fmp:
    min_interval_ms: 900
    forbidden_threshold: 4
  yahoo:
    enabled: false
alerts:
  buy_dip_threshold_pct: 12.5
  buy_dip:
    interval_seconds: 300
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	t.Setenv("DEFAULT_STOCKS", "tsla, nvda ,")
	t.Setenv("FMP_DELAY_SECONDS", "1.5")
	t.Setenv("ALERT_BUY_DIP_INTERVAL", "120")
	t.Setenv("STOCK_THRESHOLD_PCT", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "yahoo", cfg.DataProvider)
	assert.Equal(t, filepath.Join("/tmp/alerts", "stock_list.txt"), cfg.WatchlistPath)
	assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.DefaultStocks)
	assert.Equal(t, 1500, cfg.Providers.FMP.MinIntervalMs)
	assert.Equal(t, 4, cfg.Providers.FMP.ForbiddenThreshold)
	assert.False(t, cfg.Providers.Yahoo.IsEnabled())
	assert.Equal(t, 12.5, cfg.Alerts.BuyDipThresholdPct)
	assert.Equal(t, 120, cfg.Alerts.BuyDip.IntervalSeconds)
	assert.Equal(t, 2.0, cfg.Alerts.StockThresholdPct)
}

func TestLoad_RejectsUnknownProviderMode(t *testing.T) {
	t.Setenv("DATA_PROVIDER", "bloomberg")
	_, err := Load("")
	assert.Error(t, err)
}

func TestFMPKey_FromEnv(t *testing.T) {
	t.Setenv("FMP_API_KEY", "secret")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.FMPKey())

	cfg.Providers.FMP.APIKey = "inline"
	assert.Equal(t, "inline", cfg.FMPKey())
}
