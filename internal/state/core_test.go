package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
)

func newTestCore(t *testing.T, capital float64) *Core {
	t.Helper()
	return New(capital, config.DefaultSettings(), zerolog.Nop())
}

func longPosition(symbol string, entry float64, qty int) domain.Position {
	return domain.Position{
		Symbol:     symbol,
		Direction:  domain.DirectionLong,
		EntryPrice: entry,
		Quantity:   qty,
		StopLoss:   entry * 0.97,
		TakeProfit: entry * 1.05,
		EntryTime:  time.Now(),
		Sector:     "Technology",
	}
}

func TestOnePositionPerSymbol(t *testing.T) {
	core := newTestCore(t, 100_000)

	require.NoError(t, core.AddPosition(longPosition("AAPL", 190, 10)))
	err := core.AddPosition(longPosition("AAPL", 191, 5))
	assert.Error(t, err)
	assert.Len(t, core.OpenPositions(), 1)
}

func TestMaxPositionsEnforced(t *testing.T) {
	core := newTestCore(t, 100_000)

	for _, sym := range []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOG"} {
		require.NoError(t, core.AddPosition(longPosition(sym, 100, 10)))
	}
	err := core.AddPosition(longPosition("META", 100, 10))
	assert.Error(t, err)
	assert.Len(t, core.OpenPositions(), 5)
}

func TestRemovePositionRealizesPnL(t *testing.T) {
	core := newTestCore(t, 100_000)
	require.NoError(t, core.AddPosition(longPosition("AAPL", 100, 50)))

	closed, err := core.RemovePosition("AAPL", 110)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, closed.PnL(110), 1e-9)

	stats := core.DailyStats()
	assert.InDelta(t, 500.0, stats.RealizedPnL, 1e-9)
	assert.Equal(t, 1, stats.TradesCount)
	assert.Equal(t, 1, stats.Wins)
	assert.InDelta(t, 100_500.0, core.Capital(), 1e-9)
}

func TestShortPnL(t *testing.T) {
	core := newTestCore(t, 100_000)
	pos := longPosition("TSLA", 200, 20)
	pos.Direction = domain.DirectionShort
	pos.StopLoss = 206
	require.NoError(t, core.AddPosition(pos))

	closed, err := core.RemovePosition("TSLA", 190)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, closed.PnL(190), 1e-9)
}

func TestCurrentDrawdown(t *testing.T) {
	core := newTestCore(t, 100_000)
	require.NoError(t, core.AddPosition(longPosition("AAPL", 100, 100)))

	// Price drops 3%: unrealized -300 on 100k starting capital
	core.UpdatePrices(map[string]float64{"AAPL": 97})
	assert.InDelta(t, 0.003, core.CurrentDrawdown(), 1e-9)

	// Profit floors the drawdown at zero
	core.UpdatePrices(map[string]float64{"AAPL": 105})
	assert.Equal(t, 0.0, core.CurrentDrawdown())
}

func TestWeeklyDrawdownAndDefensiveMode(t *testing.T) {
	core := newTestCore(t, 100_000)

	day := 0
	core.SetClock(func() time.Time {
		day++
		return time.Date(2026, 3, 2+day, 18, 0, 0, 0, time.UTC)
	})

	// Simulate six sessions bleeding capital: 100k -> 97k
	for i := 0; i < 6; i++ {
		core.mu.Lock()
		core.capital = 100_000 - float64(i+1)*500
		core.mu.Unlock()
		core.RollOverDay()
	}

	// History holds [99.5k ... 97k]; the reference is the snapshot five
	// sessions before today's: (99.5k - 97k) / 99.5k ≈ 2.51%
	assert.InDelta(t, (99_500.0-97_000.0)/99_500.0, core.WeeklyDrawdown(), 1e-9)
	assert.False(t, core.DefensiveMode())
	assert.Equal(t, 1.0, core.DefensiveMultiplier())
}

func TestDefensiveModeOnWeeklyLoss(t *testing.T) {
	core := newTestCore(t, 100_000)

	for i, cap := range []float64{100_000, 99_000, 97_000, 96_000, 95_000, 93_000} {
		_ = i
		core.mu.Lock()
		core.capital = cap
		core.mu.Unlock()
		core.RollOverDay()
	}

	// 100k -> 93k over five sessions is a 7% weekly drawdown
	assert.GreaterOrEqual(t, core.WeeklyDrawdown(), 0.05)
	assert.True(t, core.DefensiveMode())
	assert.Equal(t, 0.5, core.DefensiveMultiplier())
}

func TestDrawdownLimitsTripKillSwitch(t *testing.T) {
	core := newTestCore(t, 100_000)
	require.NoError(t, core.AddPosition(longPosition("AAPL", 100, 700)))

	// -2.1% pauses entries but does not kill
	core.UpdatePrices(map[string]float64{"AAPL": 97})
	assert.False(t, core.CheckDrawdownLimits())
	assert.False(t, core.KillSwitchActive())

	// -6.3% trips the kill switch
	core.UpdatePrices(map[string]float64{"AAPL": 91})
	assert.False(t, core.CheckDrawdownLimits())
	assert.True(t, core.KillSwitchActive())
	assert.Equal(t, domain.StateKilled, core.SystemState())

	// Latched until manually cleared
	core.UpdatePrices(map[string]float64{"AAPL": 100})
	assert.True(t, core.KillSwitchActive())
	core.DeactivateKillSwitch()
	assert.False(t, core.KillSwitchActive())
	assert.Equal(t, domain.StateRunning, core.SystemState())
}

func TestSectorExposureVeto(t *testing.T) {
	core := newTestCore(t, 100_000)

	pos := longPosition("AAPL", 100, 150) // 15k Technology
	require.NoError(t, core.AddPosition(pos))

	// 15k + 4k = 19k <= 20k cap
	assert.True(t, core.CheckSectorExposure("Technology", 4_000))
	// 15k + 6k = 21k > 20k cap
	assert.False(t, core.CheckSectorExposure("Technology", 6_000))
	// Other sectors unaffected
	assert.True(t, core.CheckSectorExposure("Energy", 6_000))
}

func TestSectorExposureUnknownBucket(t *testing.T) {
	core := newTestCore(t, 100_000)

	pos := longPosition("XYZ", 100, 180)
	pos.Sector = ""
	require.NoError(t, core.AddPosition(pos))

	exposure := core.ExposureBySector()
	assert.InDelta(t, 18_000.0, exposure["Unknown"], 1e-9)
	// The 20% cap applies to the Unknown bucket too
	assert.False(t, core.CheckSectorExposure("", 3_000))
}

func TestCapitalHistoryRingBounded(t *testing.T) {
	core := newTestCore(t, 100_000)

	for i := 0; i < 40; i++ {
		core.RollOverDay()
	}
	assert.Len(t, core.CapitalHistory(), 30)
}

func TestSnapshotRoundTrip(t *testing.T) {
	core := newTestCore(t, 100_000)
	require.NoError(t, core.AddPosition(longPosition("AAPL", 190, 10)))
	require.NoError(t, core.AddPosition(longPosition("MSFT", 410, 5)))
	core.UpdatePrices(map[string]float64{"AAPL": 195})
	core.ActivateKillSwitch("test latch")

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, core.SaveToFile(path))

	restored := newTestCore(t, 0)
	require.NoError(t, restored.LoadFromFile(path))

	assert.Equal(t, core.Capital(), restored.Capital())
	assert.Equal(t, core.DailyStats(), restored.DailyStats())
	assert.True(t, restored.KillSwitchActive())
	assert.Equal(t, "test latch", restored.KillReason())

	orig := core.Snapshot()
	back := restored.Snapshot()
	require.Len(t, back.Positions, len(orig.Positions))

	bySymbol := make(map[string]domain.Position, len(back.Positions))
	for _, p := range back.Positions {
		bySymbol[p.Symbol] = p
	}
	for _, want := range orig.Positions {
		got, ok := bySymbol[want.Symbol]
		require.True(t, ok, "position %s lost in round trip", want.Symbol)
		assert.Equal(t, want.Direction, got.Direction)
		assert.Equal(t, want.EntryPrice, got.EntryPrice)
		assert.Equal(t, want.Quantity, got.Quantity)
		assert.Equal(t, want.StopLoss, got.StopLoss)
		assert.Equal(t, want.TakeProfit, got.TakeProfit)
		assert.Equal(t, want.BackupStop, got.BackupStop)
		assert.Equal(t, want.CurrentPrice, got.CurrentPrice)
		assert.Equal(t, want.UnrealizedPnL, got.UnrealizedPnL)
		assert.Equal(t, want.Sector, got.Sector)
		// JSON drops the monotonic clock reading; compare instants
		assert.True(t, want.EntryTime.Equal(got.EntryTime))
	}
}

func TestLoadMissingSnapshotIsNoop(t *testing.T) {
	core := newTestCore(t, 50_000)
	require.NoError(t, core.LoadFromFile(filepath.Join(t.TempDir(), "absent.json")))
	assert.InDelta(t, 50_000.0, core.Capital(), 1e-9)
}
