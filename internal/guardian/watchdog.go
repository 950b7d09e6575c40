package guardian

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/state"
)

// vixSymbol is the volatility index consulted to classify flash moves.
const vixSymbol = "^VIX"

const (
	vixMarketWideMove = 0.10  // VIX +10% inside the window
	spyMarketWideMove = -0.02 // SPY -2% inside the window
	killSwitchMove    = 0.10  // isolated move past 10% escalates
)

// PositionCloser flattens one open position at market.
type PositionCloser interface {
	ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason string) error
}

type sample struct {
	At    time.Time `msgpack:"at"`
	Price float64   `msgpack:"price"`
}

// priceRing is a time-bounded window of price samples for one symbol.
type priceRing struct {
	Samples []sample `msgpack:"samples"`
}

func (r *priceRing) push(at time.Time, price float64, window time.Duration) {
	r.Samples = append(r.Samples, sample{At: at, Price: price})
	cutoff := at.Add(-window)
	i := 0
	for i < len(r.Samples) && r.Samples[i].At.Before(cutoff) {
		i++
	}
	r.Samples = r.Samples[i:]
}

// change returns the percentage move from the oldest sample in the
// window to the newest. It needs at least two samples.
func (r *priceRing) change() (float64, bool) {
	if len(r.Samples) < 2 || r.Samples[0].Price == 0 {
		return 0, false
	}
	oldest := r.Samples[0].Price
	newest := r.Samples[len(r.Samples)-1].Price
	return (newest - oldest) / oldest, true
}

// Watchdog is the one-minute supervision loop: price updates, flash
// move detection, stop/TP crossing alerts and the intraday panic
// protocol.
type Watchdog struct {
	market   market.Data
	state    *state.Core
	closer   PositionCloser
	dispatch *Dispatcher
	settings *config.Settings
	log      zerolog.Logger
	now      func() time.Time

	rings map[string]*priceRing
}

// NewWatchdog wires the watchdog.
func NewWatchdog(md market.Data, core *state.Core, closer PositionCloser, dispatch *Dispatcher, settings *config.Settings, log zerolog.Logger) *Watchdog {
	return &Watchdog{
		market:   md,
		state:    core,
		closer:   closer,
		dispatch: dispatch,
		settings: settings,
		log:      log.With().Str("component", "watchdog").Logger(),
		now:      time.Now,
		rings:    make(map[string]*priceRing),
	}
}

// SetClock overrides the wall clock, used by tests.
func (w *Watchdog) SetClock(now func() time.Time) { w.now = now }

// Run drives the tick loop until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	interval := time.Duration(w.settings.Phase5.WatchdogInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", interval).Msg("Watchdog started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Watchdog stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one supervision pass.
func (w *Watchdog) Tick(ctx context.Context) {
	positions := w.state.OpenPositions()
	if len(positions) == 0 {
		return
	}

	window := time.Duration(w.settings.Phase5.FlashCrashWindow) * time.Second
	now := w.now()

	// Index rings feed the market-wide classification
	w.trackIndex(ctx, w.settings.Phase2.Benchmark, window, now)
	w.trackIndex(ctx, vixSymbol, window, now)

	prices := make(map[string]float64, len(positions))
	for _, p := range positions {
		q, err := w.market.GetQuote(ctx, p.Symbol)
		if err != nil {
			w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Price fetch failed")
			continue
		}
		prices[p.Symbol] = q.Price
		w.ring(p.Symbol).push(now, q.Price, window)
	}
	w.state.UpdatePrices(prices)
	w.pruneRings(positions)

	// Panic protocol pre-empts per-position checks
	if dd := w.state.CurrentDrawdown(); dd >= w.settings.Phase5.PanicDrawdown {
		w.panicProtocol(ctx, dd, prices)
		return
	}

	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		w.checkFlashMove(p, price, window)
		w.checkStopViolation(ctx, p, price)
	}
}

// panicProtocol flattens the book and latches the kill switch once the
// intraday drawdown crosses the panic threshold.
func (w *Watchdog) panicProtocol(ctx context.Context, drawdown float64, prices map[string]float64) {
	reason := fmt.Sprintf("panic protocol: intraday drawdown %.2f%%", drawdown*100)
	w.log.Error().Float64("drawdown", drawdown).Msg("Panic protocol engaged")

	for _, p := range w.state.OpenPositions() {
		price := prices[p.Symbol]
		if price == 0 {
			price = p.CurrentPrice
		}
		if err := w.closer.ClosePosition(ctx, p.Symbol, price, reason); err != nil {
			w.log.Error().Err(err).Str("symbol", p.Symbol).Msg("Panic close failed")
		}
	}
	w.state.ActivateKillSwitch(reason)

	w.dispatch.Emit(domain.Alert{
		Kind:     domain.AlertKindPrice,
		Severity: domain.SeverityEmergency,
		Message:  reason,
		Price: &domain.PriceAlert{
			ChangePct: -drawdown,
			Trigger:   "panic_protocol",
		},
	})
}

func (w *Watchdog) checkFlashMove(p domain.Position, price float64, window time.Duration) {
	change, ok := w.ring(p.Symbol).change()
	if !ok || math.Abs(change) < w.settings.Alerts.FlashCrashThreshold {
		return
	}

	marketWide := w.marketWideMove()
	severity := domain.SeverityEmergency
	if marketWide {
		severity = domain.SeverityCritical
	}
	trigger := "flash_spike"
	if change < 0 {
		trigger = "flash_crash"
	}

	w.dispatch.Emit(domain.Alert{
		Kind:     domain.AlertKindPrice,
		Severity: severity,
		Symbol:   p.Symbol,
		Message:  fmt.Sprintf("%s moved %.2f%% in %s", p.Symbol, change*100, window),
		Price: &domain.PriceAlert{
			CurrentPrice: price,
			ChangePct:    change,
			WindowSecs:   int(window.Seconds()),
			MarketWide:   marketWide,
			Trigger:      trigger,
		},
	})

	if !marketWide && math.Abs(change) > killSwitchMove {
		w.state.ActivateKillSwitch(fmt.Sprintf("isolated flash move on %s: %.2f%%", p.Symbol, change*100))
	}
}

func (w *Watchdog) checkStopViolation(ctx context.Context, p domain.Position, price float64) {
	short := p.Direction == domain.DirectionShort

	stopHit := (!short && price <= p.StopLoss) || (short && price >= p.StopLoss)
	backupHit := p.BackupStop > 0 &&
		((!short && price <= p.BackupStop) || (short && price >= p.BackupStop))
	tpHit := p.TakeProfit > 0 &&
		((!short && price >= p.TakeProfit) || (short && price <= p.TakeProfit))

	if backupHit {
		// The broker stop should have fired long before this level;
		// act locally.
		reason := fmt.Sprintf("backup stop hit at %.2f", price)
		if err := w.closer.ClosePosition(ctx, p.Symbol, price, reason); err != nil {
			w.log.Error().Err(err).Str("symbol", p.Symbol).Msg("Backup stop close failed")
		}
		w.dispatch.Emit(domain.Alert{
			Kind:     domain.AlertKindPrice,
			Severity: domain.SeverityEmergency,
			Symbol:   p.Symbol,
			Message:  reason,
			Price:    &domain.PriceAlert{CurrentPrice: price, Trigger: "stop_violation"},
		})
		return
	}

	if stopHit {
		w.dispatch.Emit(domain.Alert{
			Kind:     domain.AlertKindPrice,
			Severity: domain.SeverityCritical,
			Symbol:   p.Symbol,
			Message:  fmt.Sprintf("%s trading through stop %.2f at %.2f", p.Symbol, p.StopLoss, price),
			Price:    &domain.PriceAlert{CurrentPrice: price, Trigger: "stop_violation"},
		})
	}
	if tpHit {
		w.dispatch.Emit(domain.Alert{
			Kind:     domain.AlertKindPrice,
			Severity: domain.SeverityInfo,
			Symbol:   p.Symbol,
			Message:  fmt.Sprintf("%s reached take-profit %.2f", p.Symbol, p.TakeProfit),
			Price:    &domain.PriceAlert{CurrentPrice: price, Trigger: "tp_reached"},
		})
	}
}

// marketWideMove reports whether the index rings confirm a broad-market
// move: VIX up 10% or the benchmark down 2% inside the window.
func (w *Watchdog) marketWideMove() bool {
	if vix, ok := w.ring(vixSymbol).change(); ok && vix >= vixMarketWideMove {
		return true
	}
	if spy, ok := w.ring(w.settings.Phase2.Benchmark).change(); ok && spy <= spyMarketWideMove {
		return true
	}
	return false
}

func (w *Watchdog) trackIndex(ctx context.Context, symbol string, window time.Duration, now time.Time) {
	if symbol == "" {
		return
	}
	q, err := w.market.GetQuote(ctx, symbol)
	if err != nil {
		w.log.Debug().Err(err).Str("symbol", symbol).Msg("Index fetch failed")
		return
	}
	w.ring(symbol).push(now, q.Price, window)
}

func (w *Watchdog) ring(symbol string) *priceRing {
	r, ok := w.rings[symbol]
	if !ok {
		r = &priceRing{}
		w.rings[symbol] = r
	}
	return r
}

// pruneRings drops rings for symbols no longer held, keeping the index
// rings alive.
func (w *Watchdog) pruneRings(positions []domain.Position) {
	keep := map[string]bool{
		vixSymbol:                   true,
		w.settings.Phase2.Benchmark: true,
	}
	for _, p := range positions {
		keep[p.Symbol] = true
	}
	for symbol := range w.rings {
		if !keep[symbol] {
			delete(w.rings, symbol)
		}
	}
}
