package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsMissingFileYieldsDefaults(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettingsSparseDocumentBackfillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	doc := `
risk:
  max_positions: 3
phase5:
  panic_drawdown: 0.05
schedule:
  market_open: "10:00"
tiers:
  tier1_large_cap:
    min_market_cap: 5000000000
    position_multiplier: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)

	// Overrides take
	assert.Equal(t, 3, s.Risk.MaxPositions)
	assert.Equal(t, 0.05, s.Phase5.PanicDrawdown)
	assert.Equal(t, "10:00", s.Schedule.MarketOpen)
	assert.Equal(t, 5_000_000_000.0, s.Tiers.Tier1.MinMarketCap)
	assert.Equal(t, 0.9, s.Tiers.Tier1.PositionMultiplier)

	// Untouched sections keep defaults
	assert.Equal(t, 0.01, s.Risk.RiskPerTrade)
	assert.Equal(t, 14, s.Phase5.BreakevenHour)
	assert.Equal(t, "16:00", s.Schedule.MarketClose)
	assert.Equal(t, "SPY", s.Phase2.Benchmark)
	assert.Equal(t, 95, s.News.DailyQuota)
}

func TestLoadSettingsRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk: [not a map"), 0o644))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}
