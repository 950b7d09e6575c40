// Package state implements the shared state core: capital, open positions,
// daily stats, the capital-history ring, sector exposures and the kill
// switch. It is the single source of truth for every other component.
//
// All mutation is serialized behind one mutex; readers get copies, never
// references into internal maps.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
)

// Core is the engine's shared state.
type Core struct {
	mu sync.Mutex

	capital        float64
	positions      map[string]*domain.Position
	daily          domain.DailyStats
	capitalHistory []domain.CapitalSnapshot // bounded ring, oldest first
	systemState    domain.SystemState
	killSwitch     bool
	killReason     string

	settings *config.Settings
	log      zerolog.Logger

	now func() time.Time // injectable clock for tests
}

// New creates a state core with the given starting capital.
func New(capital float64, settings *config.Settings, log zerolog.Logger) *Core {
	c := &Core{
		capital:     capital,
		positions:   make(map[string]*domain.Position),
		systemState: domain.StateRunning,
		settings:    settings,
		log:         log.With().Str("component", "state").Logger(),
		now:         time.Now,
	}
	c.daily = domain.DailyStats{
		Date:            c.now().Format("2006-01-02"),
		StartingCapital: capital,
		CurrentCapital:  capital,
	}
	return c
}

// SetClock overrides the core's clock. Test hook.
func (c *Core) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Capital returns the current capital.
func (c *Core) Capital() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capital
}

// AddPosition registers a new open position. At most one position per symbol
// and at most max_positions in total; both are hard portfolio invariants.
func (c *Core) AddPosition(p domain.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.positions[p.Symbol]; exists {
		return fmt.Errorf("position already open for %s", p.Symbol)
	}
	if len(c.positions) >= c.settings.Risk.MaxPositions {
		return fmt.Errorf("max positions reached (%d)", c.settings.Risk.MaxPositions)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("invalid quantity %d for %s", p.Quantity, p.Symbol)
	}

	cp := p
	c.positions[p.Symbol] = &cp
	c.log.Info().
		Str("symbol", p.Symbol).
		Str("direction", string(p.Direction)).
		Int("quantity", p.Quantity).
		Float64("entry", p.EntryPrice).
		Msg("Position opened")
	return nil
}

// RemovePosition closes a position at the given exit price, realizes its
// P&L into the daily stats, and returns the closed copy.
func (c *Core) RemovePosition(symbol string, exitPrice float64) (*domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.positions[symbol]
	if !ok {
		return nil, fmt.Errorf("no open position for %s", symbol)
	}
	delete(c.positions, symbol)

	pnl := p.PnL(exitPrice)
	c.daily.RealizedPnL += pnl
	c.daily.TradesCount++
	if pnl >= 0 {
		c.daily.Wins++
	} else {
		c.daily.Losses++
	}
	c.capital += pnl
	c.daily.CurrentCapital = c.capital
	c.recomputeUnrealizedLocked()

	closed := *p
	closed.CurrentPrice = exitPrice
	c.log.Info().
		Str("symbol", symbol).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Msg("Position closed")
	return &closed, nil
}

// OpenPositions returns copies of all open positions.
func (c *Core) OpenPositions() []domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	return out
}

// Position returns a copy of the open position for symbol, or nil.
func (c *Core) Position(symbol string) *domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.positions[symbol]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// HasPosition reports whether a position is open for symbol.
func (c *Core) HasPosition(symbol string) bool {
	return c.Position(symbol) != nil
}

// UpdatePrices refreshes current prices and unrealized P&L for the symbols
// present in the map. Called by the watchdog every monitor tick.
func (c *Core) UpdatePrices(prices map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for symbol, price := range prices {
		if p, ok := c.positions[symbol]; ok && price > 0 {
			p.CurrentPrice = price
			p.UnrealizedPnL = p.PnL(price)
		}
	}
	c.recomputeUnrealizedLocked()
}

// UpdateStop tightens (or sets) the tracked stop for an open position.
func (c *Core) UpdateStop(symbol string, stop float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.positions[symbol]
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	p.StopLoss = stop
	return nil
}

func (c *Core) recomputeUnrealizedLocked() {
	total := 0.0
	for _, p := range c.positions {
		total += p.UnrealizedPnL
	}
	c.daily.UnrealizedPnL = total
}

// CurrentDrawdown returns today's drawdown:
//
//	|min(0, realized + unrealized)| / starting capital
func (c *Core) CurrentDrawdown() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDrawdownLocked()
}

func (c *Core) currentDrawdownLocked() float64 {
	if c.daily.StartingCapital <= 0 {
		return 0
	}
	total := c.daily.RealizedPnL + c.daily.UnrealizedPnL
	if total >= 0 {
		return 0
	}
	return -total / c.daily.StartingCapital
}

// WeeklyDrawdown returns the drawdown over the last five daily snapshots of
// the capital-history ring, floored at zero.
func (c *Core) WeeklyDrawdown() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weeklyDrawdownLocked()
}

func (c *Core) weeklyDrawdownLocked() float64 {
	n := len(c.capitalHistory)
	if n < 2 {
		return 0
	}
	back := 5
	if back > n-1 {
		back = n - 1
	}
	ref := c.capitalHistory[n-1-back].Capital
	cur := c.capitalHistory[n-1].Capital
	if ref <= 0 {
		return 0
	}
	dd := (ref - cur) / ref
	if dd < 0 {
		return 0
	}
	return dd
}

// DefensiveMode reports whether the engine is in its capital-preservation
// posture: weekly drawdown ≥ 5% or daily drawdown ≥ 3% (configurable).
func (c *Core) DefensiveMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weeklyDrawdownLocked() >= c.settings.Phase2.WeeklyDDDefensive ||
		c.currentDrawdownLocked() >= c.settings.Phase2.DailyDDDefensive
}

// DefensiveMultiplier returns the position sizing multiplier implied by the
// defensive mode: 0.5 when defensive, otherwise 1.0.
func (c *Core) DefensiveMultiplier() float64 {
	if c.DefensiveMode() {
		return 0.5
	}
	return 1.0
}

// CheckDrawdownLimits returns false when new entries must pause. Crossing
// the total drawdown limit also trips the kill switch.
func (c *Core) CheckDrawdownLimits() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	dd := c.currentDrawdownLocked()
	if dd >= c.settings.Risk.MaxDrawdownTotal {
		c.activateKillSwitchLocked(fmt.Sprintf("daily drawdown %.2f%% breached total limit %.2f%%",
			dd*100, c.settings.Risk.MaxDrawdownTotal*100))
		return false
	}
	if dd >= c.settings.Risk.MaxDrawdownDaily {
		c.log.Warn().Float64("drawdown", dd).Msg("Daily drawdown limit reached, pausing new entries")
		return false
	}
	return true
}

// ExposureBySector sums current market value of open positions per sector.
// Positions without a sector land in the "Unknown" bucket.
func (c *Core) ExposureBySector() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposureBySectorLocked()
}

func (c *Core) exposureBySectorLocked() map[string]float64 {
	out := make(map[string]float64)
	for _, p := range c.positions {
		sector := p.Sector
		if sector == "" {
			sector = "Unknown"
		}
		out[sector] += p.MarketValue()
	}
	return out
}

// CheckSectorExposure reports whether a new position of positionValue in the
// given sector would keep that sector at or below the configured share of
// capital (default 20%).
func (c *Core) CheckSectorExposure(sector string, positionValue float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sector == "" {
		sector = "Unknown"
	}
	if c.capital <= 0 {
		return false
	}

	exposure := c.exposureBySectorLocked()
	next := exposure[sector] + positionValue
	allowed := next <= c.settings.Phase2.SectorExposureMax*c.capital
	if !allowed {
		c.log.Warn().
			Str("sector", sector).
			Float64("would_be", next).
			Float64("cap", c.settings.Phase2.SectorExposureMax*c.capital).
			Msg("Sector exposure veto")
	}
	return allowed
}

// ActivateKillSwitch latches the kill switch. Phases 0-4 must no-op while
// it is set; only an explicit manual clear releases it.
func (c *Core) ActivateKillSwitch(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activateKillSwitchLocked(reason)
}

func (c *Core) activateKillSwitchLocked(reason string) {
	if c.killSwitch {
		return
	}
	c.killSwitch = true
	c.killReason = reason
	c.systemState = domain.StateKilled
	c.log.Error().Str("reason", reason).Msg("KILL SWITCH ACTIVATED")
}

// DeactivateKillSwitch clears the latch. This is the manual clearance path.
func (c *Core) DeactivateKillSwitch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.killSwitch {
		return
	}
	c.killSwitch = false
	c.killReason = ""
	c.systemState = domain.StateRunning
	c.log.Warn().Msg("Kill switch manually cleared")
}

// KillSwitchActive reports whether the kill switch is latched.
func (c *Core) KillSwitchActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killSwitch
}

// KillReason returns the reason recorded when the switch latched.
func (c *Core) KillReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killReason
}

// SystemState returns the engine lifecycle state.
func (c *Core) SystemState() domain.SystemState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemState
}

// DailyStats returns a copy of today's stats.
func (c *Core) DailyStats() domain.DailyStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.daily
}

// CapitalHistory returns a copy of the capital-history ring, oldest first.
func (c *Core) CapitalHistory() []domain.CapitalSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.CapitalSnapshot, len(c.capitalHistory))
	copy(out, c.capitalHistory)
	return out
}

// RollOverDay pushes today's snapshot into the capital-history ring and
// resets the daily stats for a new session. Called once per session
// boundary by the orchestrator.
func (c *Core) RollOverDay() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capitalHistory = append(c.capitalHistory, domain.CapitalSnapshot{
		Date:          c.daily.Date,
		Capital:       c.capital,
		RealizedPnL:   c.daily.RealizedPnL,
		UnrealizedPnL: c.daily.UnrealizedPnL,
	})
	limit := c.settings.Risk.CapitalHistoryDays
	if limit > 0 && len(c.capitalHistory) > limit {
		c.capitalHistory = c.capitalHistory[len(c.capitalHistory)-limit:]
	}

	c.daily = domain.DailyStats{
		Date:            c.now().Format("2006-01-02"),
		StartingCapital: c.capital,
		CurrentCapital:  c.capital,
	}
	c.log.Info().Float64("capital", c.capital).Msg("Session rolled over")
}
