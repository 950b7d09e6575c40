package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vigil/internal/broker"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/database"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/state"
	"github.com/aristath/vigil/internal/store"
)

type fakeEarnings struct {
	near map[string]bool
}

func (f *fakeEarnings) EarningsWithin(_ context.Context, symbol string, _ int) (bool, error) {
	return f.near[symbol], nil
}

type fixture struct {
	exec   *Executor
	paper  *broker.Paper
	core   *state.Core
	trades *store.TradeRepository
}

func newFixture(t *testing.T, near map[string]bool) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(db))

	settings := config.DefaultSettings()
	core := state.New(100_000, settings, zerolog.Nop())
	trades := store.NewTradeRepository(db.Conn(), zerolog.Nop())
	paper := broker.NewPaper(100_000, zerolog.Nop())
	require.NoError(t, paper.Connect(context.Background()))

	return &fixture{
		exec:   New(paper, &fakeEarnings{near: near}, core, trades, settings, zerolog.Nop()),
		paper:  paper,
		core:   core,
		trades: trades,
	}
}

func approval(symbol string, entry, stop float64, dir domain.Direction) *domain.TradeDecision {
	return &domain.TradeDecision{
		Symbol:     symbol,
		Verdict:    domain.VerdictApprove,
		Direction:  dir,
		Entry:      entry,
		Stop:       stop,
		TP1:        entry * 1.05,
		TP2:        entry * 1.10,
		RiskReward: 2.5,
		SizeHint:   domain.SizeNormal,
		Timestamp:  time.Now(),
	}
}

func plan(d *domain.TradeDecision, atr float64) Plan {
	return Plan{
		Decision:       d,
		ATR:            atr,
		SwingLow:       d.Entry * 0.9,
		SwingHigh:      d.Entry * 1.1,
		Tier:           domain.TierLarge,
		BetaMultiplier: 1.0,
		Sector:         "Technology",
	}
}

func TestSelectStopEarningsProximity(t *testing.T) {
	f := newFixture(t, map[string]bool{"RPTS": true})

	long := plan(approval("RPTS", 100, 95, domain.DirectionLong), 2)
	assert.InDelta(t, 99.5, f.exec.SelectStop(context.Background(), long), 1e-9)

	short := plan(approval("RPTS", 100, 105, domain.DirectionShort), 2)
	assert.InDelta(t, 100.5, f.exec.SelectStop(context.Background(), short), 1e-9)
}

func TestSelectStopATRVersusSwing(t *testing.T) {
	f := newFixture(t, nil)

	// ATR stop at 100 - 2.5*2 = 95; swing low at 96 is tighter and wins
	p := plan(approval("AAPL", 100, 95, domain.DirectionLong), 2)
	p.SwingLow = 96
	assert.InDelta(t, 96.0, f.exec.SelectStop(context.Background(), p), 1e-9)

	// Swing low below the ATR stop does not loosen it
	p.SwingLow = 80
	assert.InDelta(t, 95.0, f.exec.SelectStop(context.Background(), p), 1e-9)
}

func TestSelectStopSafetyCap(t *testing.T) {
	f := newFixture(t, nil)

	// ATR stop would be 100 - 2.5*8 = 80, a 20% loss; capped at 90
	p := plan(approval("WILD", 100, 90, domain.DirectionLong), 8)
	p.SwingLow = 70
	assert.InDelta(t, 90.0, f.exec.SelectStop(context.Background(), p), 1e-9)

	short := plan(approval("WILD", 100, 110, domain.DirectionShort), 8)
	short.SwingHigh = 130
	assert.InDelta(t, 110.0, f.exec.SelectStop(context.Background(), short), 1e-9)
}

func TestSizeBasicRiskMath(t *testing.T) {
	f := newFixture(t, nil)
	d := approval("AAPL", 100, 95, domain.DirectionLong)

	size, err := f.exec.Size(d, 95, plan(d, 2))
	require.NoError(t, err)

	// 100k * 1% risk = 1000 over a $5 stop distance
	assert.Equal(t, 200, size.Shares)
	assert.Equal(t, 20_000.0, size.PositionValue)
	assert.Equal(t, 1000.0, size.RiskAmount)
	assert.InDelta(t, 0.01, size.RiskPercent, 1e-9)
}

func TestSizeTwentyPercentCap(t *testing.T) {
	f := newFixture(t, nil)
	d := approval("AAPL", 100, 99.5, domain.DirectionLong)

	// Tight stop implies 2000 shares; the 20% cap allows only 200
	size, err := f.exec.Size(d, 99.5, plan(d, 2))
	require.NoError(t, err)
	assert.Equal(t, 200, size.Shares)
}

func TestSizeMultipliersShrinkPosition(t *testing.T) {
	f := newFixture(t, nil)
	d := approval("MID", 100, 95, domain.DirectionLong)
	d.SizeHint = domain.SizeReduced

	p := plan(d, 2)
	p.Tier = domain.TierMid
	p.BetaMultiplier = 0.75

	size, err := f.exec.Size(d, 95, p)
	require.NoError(t, err)
	// 1000 * 0.75 (tier2) * 0.5 (REDUZIDO) * 0.75 (beta) = 281.25 over $5
	assert.Equal(t, 56, size.Shares)
}

func TestSizeHonorsConfiguredTier1Multiplier(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.settings.Tiers.Tier1.PositionMultiplier = 0.5
	d := approval("AAPL", 100, 95, domain.DirectionLong)

	// Large-cap tier reads its configured multiplier: 1000 * 0.5 over $5
	size, err := f.exec.Size(d, 95, plan(d, 2))
	require.NoError(t, err)
	assert.Equal(t, 100, size.Shares)
}

func TestSizeRejectsBelowOneShare(t *testing.T) {
	settings := config.DefaultSettings()
	core := state.New(400, settings, zerolog.Nop())
	f := newFixture(t, nil)
	f.exec.state = core

	d := approval("PRICY", 100, 90, domain.DirectionLong)
	_, err := f.exec.Size(d, 90, plan(d, 2))
	assert.Error(t, err)
}

func TestSizeRejectsExposureCap(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.core.AddPosition(domain.Position{
		Symbol: "HELD", Direction: domain.DirectionLong,
		EntryPrice: 100, Quantity: 700, StopLoss: 95,
		CurrentPrice: 100, EntryTime: time.Now(),
	}))

	// 70k held + 20k new = 90k > 80% of 100k
	d := approval("AAPL", 100, 95, domain.DirectionLong)
	_, err := f.exec.Size(d, 95, plan(d, 2))
	assert.Error(t, err)
}

func TestExecuteEntryFillOpensPositionWithProtection(t *testing.T) {
	f := newFixture(t, nil)
	d := approval("AAPL", 100, 95, domain.DirectionLong)

	size, err := f.exec.Execute(context.Background(), plan(d, 2))
	require.NoError(t, err)
	require.Equal(t, 200, size.Shares)

	// Entry rests until price trades through the trigger
	assert.False(t, f.core.HasPosition("AAPL"))

	f.paper.MarkPrice("AAPL", 100.2)
	f.exec.CheckPendingEntries(context.Background())

	require.True(t, f.core.HasPosition("AAPL"))
	pos := f.core.Position("AAPL")
	assert.Equal(t, 200, pos.Quantity)
	assert.Equal(t, 95.0, pos.StopLoss)
	assert.InDelta(t, pos.EntryPrice*0.90, pos.BackupStop, 0.01)

	// Trade history recorded the entry
	history, err := f.trades.History(5)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// Stop fires: position protection worked, targets cancel
	f.paper.MarkPrice("AAPL", 94)
	positions, _ := f.paper.GetPositions(context.Background())
	assert.Empty(t, positions) // 200 bought, 200 sold by the stop
}

func TestExecuteRefusesWhenKillSwitchActive(t *testing.T) {
	f := newFixture(t, nil)
	f.core.ActivateKillSwitch("test")

	d := approval("AAPL", 100, 95, domain.DirectionLong)
	_, err := f.exec.Execute(context.Background(), plan(d, 2))
	assert.Error(t, err)
}

func TestExecuteRefusesNonApproval(t *testing.T) {
	f := newFixture(t, nil)
	d := approval("AAPL", 100, 95, domain.DirectionLong)
	d.Verdict = domain.VerdictWait

	_, err := f.exec.Execute(context.Background(), plan(d, 2))
	assert.Error(t, err)
}

func TestClosePosition(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.core.AddPosition(domain.Position{
		Symbol: "AAPL", Direction: domain.DirectionLong,
		EntryPrice: 100, Quantity: 50, StopLoss: 95,
		CurrentPrice: 100, EntryTime: time.Now(),
	}))

	require.NoError(t, f.exec.ClosePosition(context.Background(), "AAPL", 104, "panic protocol"))
	assert.False(t, f.core.HasPosition("AAPL"))

	// Realized PnL landed in the daily stats: (104-100)*50 = 200
	assert.InDelta(t, 200.0, f.core.DailyStats().RealizedPnL, 1e-9)

	assert.Error(t, f.exec.ClosePosition(context.Background(), "AAPL", 104, "again"))
}
