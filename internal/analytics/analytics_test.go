package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/market"
)

func dailyBars(symbol string, closes []float64) *market.OHLCV {
	bars := &market.OHLCV{Symbol: symbol}
	day := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars.Dates = append(bars.Dates, day.AddDate(0, 0, i))
		bars.Opens = append(bars.Opens, c*0.995)
		bars.Highs = append(bars.Highs, c*1.01)
		bars.Lows = append(bars.Lows, c*0.99)
		bars.Closes = append(bars.Closes, c)
		bars.Volumes = append(bars.Volumes, 1_000_000+float64(i%7)*50_000)
	}
	return bars
}

func trending(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step + 0.3*math.Sin(float64(i))
	}
	return out
}

func TestBuildTechnicalSnapshotUptrend(t *testing.T) {
	bars := dailyBars("TEST", trending(80, 100, 0.5))
	snap, err := BuildTechnicalSnapshot(bars, config.DefaultSettings().Technical)
	require.NoError(t, err)

	assert.Equal(t, "TEST", snap.Symbol)
	assert.Equal(t, TrendUp, snap.Trend)
	assert.Greater(t, snap.RSI, 50.0)
	assert.Greater(t, snap.ATR, 0.0)
	assert.Greater(t, snap.EMA20, snap.EMA50)
	assert.True(t, snap.SuperTrendBullish)
	assert.Greater(t, snap.DollarVolume, 0.0)
	assert.Less(t, snap.Support, snap.Resistance)
}

func TestBuildTechnicalSnapshotDowntrend(t *testing.T) {
	bars := dailyBars("TEST", trending(80, 200, -0.8))
	snap, err := BuildTechnicalSnapshot(bars, config.DefaultSettings().Technical)
	require.NoError(t, err)

	assert.Equal(t, TrendDown, snap.Trend)
	assert.Less(t, snap.RSI, 50.0)
}

func TestBuildTechnicalSnapshotInsufficientHistory(t *testing.T) {
	bars := dailyBars("TEST", trending(30, 100, 0.5))
	_, err := BuildTechnicalSnapshot(bars, config.DefaultSettings().Technical)
	assert.Error(t, err)
}

func TestComputeRiskMetrics(t *testing.T) {
	closes := trending(61, 100, 0.4)
	benchmark := trending(61, 400, 0.8)

	m, err := ComputeRiskMetrics("TEST", closes, benchmark)
	require.NoError(t, err)

	assert.Equal(t, "TEST", m.Symbol)
	assert.Greater(t, m.Vol20d, 0.0)
	assert.Greater(t, m.Vol60d, 0.0)
	assert.GreaterOrEqual(t, m.MaxDrawdown, 0.0)
	assert.GreaterOrEqual(t, m.CVaR95, m.VaR95)
}

func TestBetaMultiplierBands(t *testing.T) {
	tests := []struct {
		name        string
		beta        float64
		volumeRatio float64
		want        float64
	}{
		{"low beta", 1.5, 1.0, 1.0},
		{"normal boundary", 2.0, 1.0, 0.75},
		{"aggressive with volume", 3.0, 2.5, 0.5},
		{"aggressive boundary volume", 3.0, 2.0, 0.5},
		{"aggressive without volume", 3.5, 1.5, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BetaMultiplier(tt.beta, tt.volumeRatio, 2.0, 3.0)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPairwiseCorrelationNeedsTwentyObservations(t *testing.T) {
	short := trending(15, 100, 0.5)
	assert.Equal(t, 0.0, PairwiseCorrelation(short, short))

	long := trending(40, 100, 0.5)
	assert.InDelta(t, 1.0, PairwiseCorrelation(long, long), 1e-9)
}

func TestEnforceCorrelationLimit(t *testing.T) {
	base := trending(61, 100, 0.5)

	// Perfectly correlated clone of the candidate
	clone := make([]float64, len(base))
	for i, v := range base {
		clone[i] = v * 2
	}

	// Independent oscillating series
	uncorrelated := make([]float64, len(base))
	for i := range uncorrelated {
		uncorrelated[i] = 100 + 5*math.Sin(float64(i)*1.7)
	}

	allowed, violators := EnforceCorrelationLimit(base, map[string][]float64{
		"CLONE": clone,
		"OTHER": uncorrelated,
	}, 0.75)
	assert.False(t, allowed)
	assert.Equal(t, []string{"CLONE"}, violators)

	allowed, violators = EnforceCorrelationLimit(base, map[string][]float64{
		"OTHER": uncorrelated,
	}, 0.75)
	assert.True(t, allowed)
	assert.Empty(t, violators)

	// Empty portfolio never vetoes
	allowed, _ = EnforceCorrelationLimit(base, nil, 0.75)
	assert.True(t, allowed)
}
