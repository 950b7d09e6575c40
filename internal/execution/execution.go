// Package execution implements phase 4: turning an approved decision
// into sized, protected orders at the broker.
package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/broker"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/state"
	"github.com/aristath/vigil/internal/store"
)

const (
	// entrySlippageBound sets the limit leg of the stop-limit entry at
	// half a percent past the trigger.
	entrySlippageBound = 0.005
	// backupStopPct is the locally tracked fail-safe stop distance.
	backupStopPct = 0.10
	// maxStopLossPct caps how far a computed stop may sit from entry.
	maxStopLossPct = 0.10
	// maxPositionFraction caps one position at 20% of capital.
	maxPositionFraction = 0.20
	// maxTotalExposure caps aggregate exposure at 80% of capital.
	maxTotalExposure = 0.80
)

// Plan carries the per-candidate context the executor needs beyond the
// decision itself.
type Plan struct {
	Decision       *domain.TradeDecision
	ATR            float64
	SwingLow       float64 // recent swing low (LONG reference)
	SwingHigh      float64 // recent swing high (SHORT reference)
	Tier           domain.Tier
	BetaMultiplier float64
	Sector         string
}

// pendingEntry tracks a placed entry order until the broker reports a
// fill.
type pendingEntry struct {
	plan  Plan
	order *broker.Order
	stop  float64
	size  *domain.PositionSize
}

// Executor routes approved decisions to the broker.
type Executor struct {
	broker   broker.Broker
	earnings market.EarningsCalendar
	state    *state.Core
	trades   *store.TradeRepository
	settings *config.Settings
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEntry // entry order id -> pending
}

// New wires the executor.
func New(b broker.Broker, ec market.EarningsCalendar, core *state.Core, trades *store.TradeRepository, settings *config.Settings, log zerolog.Logger) *Executor {
	return &Executor{
		broker:   b,
		earnings: ec,
		state:    core,
		trades:   trades,
		settings: settings,
		log:      log.With().Str("component", "execution").Logger(),
	}
}

// Execute sizes and places the entry order for one approved decision.
// The position itself is created later, when CheckPendingEntries
// observes the fill.
func (e *Executor) Execute(ctx context.Context, plan Plan) (*domain.PositionSize, error) {
	d := plan.Decision
	if !d.Approved() {
		return nil, fmt.Errorf("decision for %s is %s, not executable", d.Symbol, d.Verdict)
	}
	if e.state.KillSwitchActive() {
		return nil, fmt.Errorf("kill switch active, refusing to enter %s", d.Symbol)
	}

	stop := e.SelectStop(ctx, plan)
	size, err := e.Size(d, stop, plan)
	if err != nil {
		return nil, err
	}

	entry := e.entryOrder(d, size.Shares)
	if err := e.broker.PlaceOrder(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to place entry order for %s: %w", d.Symbol, err)
	}

	e.mu.Lock()
	if e.pending == nil {
		e.pending = make(map[string]*pendingEntry)
	}
	e.pending[entry.ID] = &pendingEntry{plan: plan, order: entry, stop: stop, size: size}
	e.mu.Unlock()

	e.log.Info().
		Str("symbol", d.Symbol).
		Str("direction", string(d.Direction)).
		Int("shares", size.Shares).
		Float64("entry", d.Entry).
		Float64("stop", stop).
		Msg("Entry order placed")

	// Market orders (and the paper broker) may fill synchronously
	if entry.Status == broker.StatusFilled {
		e.finalizeFill(ctx, entry.ID)
	}
	return size, nil
}

// CheckPendingEntries polls the broker for entry fills and finalizes
// any that completed: protective orders go out and the position enters
// the state core.
func (e *Executor) CheckPendingEntries(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		status, err := e.broker.GetOrderStatus(ctx, id)
		if err != nil {
			e.log.Warn().Err(err).Str("order_id", id).Msg("Entry status poll failed")
			continue
		}
		switch status {
		case broker.StatusFilled:
			e.finalizeFill(ctx, id)
		case broker.StatusCancelled, broker.StatusRejected:
			e.mu.Lock()
			delete(e.pending, id)
			e.mu.Unlock()
		}
	}
}

// SelectStop picks the protective stop for a decision: a tight
// half-percent stop when earnings are imminent, otherwise the wider of
// the ATR stop and the recent swing level, always capped at 10% from
// entry.
func (e *Executor) SelectStop(ctx context.Context, plan Plan) float64 {
	d := plan.Decision
	short := d.Direction == domain.DirectionShort

	near, _ := e.earnings.EarningsWithin(ctx, d.Symbol, e.settings.Phase0.EarningsProximityDays)
	if near {
		if short {
			return d.Entry * 1.005
		}
		return d.Entry * 0.995
	}

	atrMult := e.settings.Technical.ATRStopMultiplier
	var stop float64
	if short {
		stop = d.Entry + atrMult*plan.ATR
		if plan.SwingHigh > 0 && plan.SwingHigh < stop {
			stop = plan.SwingHigh
		}
		if ceiling := d.Entry * (1 + maxStopLossPct); stop > ceiling {
			stop = ceiling
		}
	} else {
		stop = d.Entry - atrMult*plan.ATR
		if plan.SwingLow > stop {
			stop = plan.SwingLow
		}
		if floor := d.Entry * (1 - maxStopLossPct); stop < floor {
			stop = floor
		}
	}
	return stop
}

// Size computes the share count from capital at risk and the stop
// distance, applying the tier, size-hint, beta and defensive
// multipliers, then validates against the per-position and portfolio
// caps.
func (e *Executor) Size(d *domain.TradeDecision, stop float64, plan Plan) (*domain.PositionSize, error) {
	capital := e.state.Capital()
	risk := capital * e.settings.Risk.RiskPerTrade

	tierMult := e.settings.Tiers.Tier1.PositionMultiplier
	if plan.Tier == domain.TierMid {
		tierMult = e.settings.Tiers.Tier2.PositionMultiplier
	}
	hintMult := d.SizeHint.Multiplier()
	betaMult := plan.BetaMultiplier
	if betaMult == 0 {
		betaMult = 1.0
	}
	defMult := e.state.DefensiveMultiplier()

	base := risk * tierMult * hintMult * betaMult * defMult

	perShareRisk := math.Abs(d.Entry - stop)
	if perShareRisk <= 0 {
		return nil, fmt.Errorf("zero stop distance for %s", d.Symbol)
	}
	shares := int(math.Floor(base / perShareRisk))

	// Per-position cap: 20% of capital
	if maxShares := int(math.Floor(capital * maxPositionFraction / d.Entry)); shares > maxShares {
		shares = maxShares
	}
	if shares < 1 {
		return nil, fmt.Errorf("position for %s sizes below one share", d.Symbol)
	}

	if err := e.validateSize(d.Symbol, float64(shares)*d.Entry, capital); err != nil {
		return nil, err
	}

	return &domain.PositionSize{
		Symbol:        d.Symbol,
		Shares:        shares,
		PositionValue: float64(shares) * d.Entry,
		RiskAmount:    float64(shares) * perShareRisk,
		RiskPercent:   float64(shares) * perShareRisk / capital,
		Multipliers: []string{
			fmt.Sprintf("tier=%.2f", tierMult),
			fmt.Sprintf("size_hint=%.2f", hintMult),
			fmt.Sprintf("beta=%.2f", betaMult),
			fmt.Sprintf("defensive=%.2f", defMult),
		},
		Reason: fmt.Sprintf("risk %.2f over stop distance %.2f", base, perShareRisk),
	}, nil
}

func (e *Executor) validateSize(symbol string, positionValue, capital float64) error {
	open := e.state.OpenPositions()
	if len(open) >= e.settings.Risk.MaxPositions {
		return fmt.Errorf("max positions reached (%d)", e.settings.Risk.MaxPositions)
	}

	exposure := positionValue
	for _, p := range open {
		exposure += p.MarketValue()
	}
	if exposure > capital*maxTotalExposure {
		return fmt.Errorf("total exposure %.0f would exceed %.0f%% of capital", exposure, maxTotalExposure*100)
	}
	return nil
}

// entryOrder builds the stop-limit entry: trigger at the decision's
// entry, limit half a percent past it to bound slippage.
func (e *Executor) entryOrder(d *domain.TradeDecision, shares int) *broker.Order {
	side := broker.SideBuy
	limit := d.Entry * (1 + entrySlippageBound)
	if d.Direction == domain.DirectionShort {
		side = broker.SideSell
		limit = d.Entry * (1 - entrySlippageBound)
	}
	return &broker.Order{
		Symbol:     d.Symbol,
		Side:       side,
		Type:       broker.TypeStopLimit,
		Quantity:   shares,
		StopPrice:  d.Entry,
		LimitPrice: limit,
		Notes:      "entry",
	}
}

// finalizeFill places the protective orders and registers the position
// once the entry order has filled.
func (e *Executor) finalizeFill(ctx context.Context, orderID string) {
	e.mu.Lock()
	p, ok := e.pending[orderID]
	if ok {
		delete(e.pending, orderID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	d := p.plan.Decision
	fillPrice := p.order.AvgFillPrice
	if fillPrice == 0 {
		fillPrice = d.Entry
	}

	short := d.Direction == domain.DirectionShort
	backup := fillPrice * (1 - backupStopPct)
	if short {
		backup = fillPrice * (1 + backupStopPct)
	}

	position := domain.Position{
		Symbol:       d.Symbol,
		Direction:    d.Direction,
		EntryPrice:   fillPrice,
		Quantity:     p.order.FilledQty,
		StopLoss:     p.stop,
		TakeProfit:   d.TP1,
		BackupStop:   backup,
		EntryTime:    time.Now(),
		CurrentPrice: fillPrice,
		Sector:       p.plan.Sector,
	}
	if err := e.state.AddPosition(position); err != nil {
		e.log.Error().Err(err).Str("symbol", d.Symbol).Msg("Fill could not be registered, closing immediately")
		e.marketClose(ctx, d.Symbol, p.order.FilledQty, short)
		return
	}
	if _, err := e.trades.RecordEntry(&position); err != nil {
		e.log.Error().Err(err).Str("symbol", d.Symbol).Msg("Failed to record trade entry")
	}

	e.placeProtectiveOrders(ctx, d, p.stop, p.order.FilledQty)

	e.log.Info().
		Str("symbol", d.Symbol).
		Float64("fill", fillPrice).
		Int("quantity", p.order.FilledQty).
		Msg("Entry filled, position opened")
}

// placeProtectiveOrders sends the physical stop and the two
// take-profit targets. When the broker supports OCO the three legs are
// grouped; otherwise they are placed independently and the guardian
// reconciles.
func (e *Executor) placeProtectiveOrders(ctx context.Context, d *domain.TradeDecision, stop float64, qty int) {
	exitSide := broker.SideSell
	if d.Direction == domain.DirectionShort {
		exitSide = broker.SideBuy
	}

	stopOrder := &broker.Order{
		Symbol:    d.Symbol,
		Side:      exitSide,
		Type:      broker.TypeStop,
		Quantity:  qty,
		StopPrice: stop,
		Notes:     "physical stop",
	}

	half := qty / 2
	var targets []*broker.Order
	if half > 0 && d.TP1 > 0 {
		targets = append(targets, &broker.Order{
			Symbol: d.Symbol, Side: exitSide, Type: broker.TypeLimit,
			Quantity: half, LimitPrice: d.TP1, Notes: "tp1",
		})
	}
	if rest := qty - half; rest > 0 && d.TP2 > 0 {
		targets = append(targets, &broker.Order{
			Symbol: d.Symbol, Side: exitSide, Type: broker.TypeLimit,
			Quantity: rest, LimitPrice: d.TP2, Notes: "tp2",
		})
	}

	if oco, ok := e.broker.(broker.OCOBroker); ok {
		if err := oco.PlaceOCOOrder(ctx, stopOrder, targets); err != nil {
			e.log.Error().Err(err).Str("symbol", d.Symbol).Msg("Failed to place OCO exits")
		}
		return
	}

	if err := e.broker.PlaceOrder(ctx, stopOrder); err != nil {
		e.log.Error().Err(err).Str("symbol", d.Symbol).Msg("Failed to place physical stop")
	}
	for _, t := range targets {
		if err := e.broker.PlaceOrder(ctx, t); err != nil {
			e.log.Error().Err(err).Str("symbol", d.Symbol).Str("leg", t.Notes).Msg("Failed to place target")
		}
	}
}

// ClosePosition exits an open position at market, realizes the PnL in
// the state core and records the exit in trade history.
func (e *Executor) ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason string) error {
	p := e.state.Position(symbol)
	if p == nil {
		return fmt.Errorf("no open position for %s", symbol)
	}

	side := broker.SideSell
	if p.Direction == domain.DirectionShort {
		side = broker.SideBuy
	}
	order := &broker.Order{
		Symbol:     symbol,
		Side:       side,
		Type:       broker.TypeMarket,
		Quantity:   p.Quantity,
		LimitPrice: exitPrice,
		Notes:      reason,
	}
	if err := e.broker.PlaceOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to close %s: %w", symbol, err)
	}

	fill := order.AvgFillPrice
	if fill == 0 {
		fill = exitPrice
	}
	if _, err := e.state.RemovePosition(symbol, fill); err != nil {
		return fmt.Errorf("failed to settle %s: %w", symbol, err)
	}
	if err := e.trades.RecordExit(symbol, fill, time.Now(), reason); err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to record trade exit")
	}

	e.log.Info().
		Str("symbol", symbol).
		Float64("exit", fill).
		Str("reason", reason).
		Msg("Position closed")
	return nil
}

// marketClose flattens a quantity at market.
func (e *Executor) marketClose(ctx context.Context, symbol string, qty int, short bool) {
	side := broker.SideSell
	if short {
		side = broker.SideBuy
	}
	order := &broker.Order{Symbol: symbol, Side: side, Type: broker.TypeMarket, Quantity: qty, Notes: "forced close"}
	if err := e.broker.PlaceOrder(ctx, order); err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("Forced close failed")
	}
}
