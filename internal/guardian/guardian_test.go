package guardian

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vigil/internal/ai"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/news"
	"github.com/aristath/vigil/internal/state"
)

type collector struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (c *collector) handler(a domain.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func (c *collector) all() []domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// waitFor blocks until at least n alerts arrived; dispatch is async.
func (c *collector) waitFor(t *testing.T, n int) []domain.Alert {
	t.Helper()
	require.Eventually(t, func() bool { return c.count() >= n }, time.Second, 5*time.Millisecond)
	return c.all()
}

type fakeMarket struct {
	mu     sync.Mutex
	quotes map[string]*market.Quote
	bars   map[string]*market.OHLCV
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		quotes: make(map[string]*market.Quote),
		bars:   make(map[string]*market.OHLCV),
	}
}

func (f *fakeMarket) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbol]
	if !ok {
		q = &market.Quote{Symbol: symbol}
		f.quotes[symbol] = q
	}
	q.Price = price
}

func (f *fakeMarket) GetQuote(_ context.Context, symbol string) (*market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	cp := *q
	return &cp, nil
}

func (f *fakeMarket) GetOHLCV(_ context.Context, symbol, _, _ string) (*market.OHLCV, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("no bars for %s", symbol)
	}
	return b, nil
}

func (f *fakeMarket) CheckLiquidity(context.Context, string) (bool, error) { return true, nil }

type fakeCloser struct {
	core   *state.Core
	mu     sync.Mutex
	closed []string
}

func (f *fakeCloser) ClosePosition(_ context.Context, symbol string, exitPrice float64, _ string) error {
	f.mu.Lock()
	f.closed = append(f.closed, symbol)
	f.mu.Unlock()
	if f.core != nil {
		_, _ = f.core.RemovePosition(symbol, exitPrice)
	}
	return nil
}

func (f *fakeCloser) closedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.closed))
	copy(out, f.closed)
	return out
}

type fakeNews struct {
	mu       sync.Mutex
	articles map[string][]news.Article
	calls    int
}

func (f *fakeNews) SymbolNews(_ context.Context, symbol string, _ int) ([]news.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.articles[symbol], nil
}

func (f *fakeNews) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGateway struct {
	mu     sync.Mutex
	parsed map[string]interface{}
	calls  int
}

func (f *fakeGateway) Complete(context.Context, ai.Request) ai.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.parsed == nil {
		return ai.Response{Success: false, Error: "no backend"}
	}
	return ai.Response{Success: true, ParsedJSON: f.parsed}
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeExits struct {
	mu         sync.Mutex
	assessment *domain.ExitAssessment
	err        error
	calls      int
}

func (f *fakeExits) AdjudicateExit(context.Context, domain.Position, string, string) (*domain.ExitAssessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.assessment, nil
}

func (f *fakeExits) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func openPosition(t *testing.T, core *state.Core, symbol string, dir domain.Direction, entry float64, qty int, stop float64) {
	t.Helper()
	require.NoError(t, core.AddPosition(domain.Position{
		Symbol:       symbol,
		Direction:    dir,
		EntryPrice:   entry,
		Quantity:     qty,
		StopLoss:     stop,
		CurrentPrice: entry,
		EntryTime:    time.Now(),
	}))
}

// flatBars builds n bars with a constant true range of 2, so the ATR
// converges to exactly 2.
func flatBars(n int, close float64) *market.OHLCV {
	bars := &market.OHLCV{}
	day := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars.Dates = append(bars.Dates, day.AddDate(0, 0, i))
		bars.Opens = append(bars.Opens, close)
		bars.Highs = append(bars.Highs, close+1)
		bars.Lows = append(bars.Lows, close-1)
		bars.Closes = append(bars.Closes, close)
		bars.Volumes = append(bars.Volumes, 1_000_000)
	}
	return bars
}

// --- watchdog ---

type watchdogFixture struct {
	w      *Watchdog
	market *fakeMarket
	closer *fakeCloser
	core   *state.Core
	col    *collector
	clock  time.Time
}

func newWatchdogFixture(t *testing.T) *watchdogFixture {
	t.Helper()
	settings := config.DefaultSettings()
	core := state.New(100_000, settings, zerolog.Nop())
	md := newFakeMarket()
	md.setPrice("SPY", 500)
	md.setPrice("^VIX", 15)

	closer := &fakeCloser{core: core}
	dispatch := NewDispatcher(zerolog.Nop())
	col := &collector{}
	dispatch.Register(col.handler)

	f := &watchdogFixture{
		w:      NewWatchdog(md, core, closer, dispatch, settings, zerolog.Nop()),
		market: md,
		closer: closer,
		core:   core,
		col:    col,
		clock:  time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC),
	}
	f.w.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *watchdogFixture) tick(t *testing.T) {
	t.Helper()
	f.w.Tick(context.Background())
	f.clock = f.clock.Add(time.Minute)
}

func TestWatchdogPanicProtocolFlattensBook(t *testing.T) {
	f := newWatchdogFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 1000, 90)
	f.market.setPrice("AAPL", 95.5) // -4.5% on 100k capital

	f.tick(t)

	assert.Equal(t, []string{"AAPL"}, f.closer.closedSymbols())
	assert.True(t, f.core.KillSwitchActive())
	assert.Contains(t, f.core.KillReason(), "panic")

	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.SeverityEmergency, alerts[0].Severity)
	assert.Equal(t, "panic_protocol", alerts[0].Price.Trigger)
}

func TestWatchdogFlashCrashIsolated(t *testing.T) {
	f := newWatchdogFixture(t)
	openPosition(t, f.core, "NVDA", domain.DirectionLong, 100, 10, 80)

	f.market.setPrice("NVDA", 100)
	f.tick(t)
	f.market.setPrice("NVDA", 96.5) // -3.5% inside the window
	f.tick(t)

	alerts := f.col.waitFor(t, 1)
	a := alerts[0]
	assert.Equal(t, domain.AlertKindPrice, a.Kind)
	assert.Equal(t, domain.SeverityEmergency, a.Severity)
	assert.Equal(t, "flash_crash", a.Price.Trigger)
	assert.False(t, a.Price.MarketWide)
	assert.False(t, f.core.KillSwitchActive())
}

func TestWatchdogFlashCrashMarketWide(t *testing.T) {
	f := newWatchdogFixture(t)
	openPosition(t, f.core, "NVDA", domain.DirectionLong, 100, 10, 80)

	f.market.setPrice("NVDA", 100)
	f.tick(t)
	f.market.setPrice("NVDA", 96)
	f.market.setPrice("SPY", 487.5) // -2.5%: broad-market move
	f.tick(t)

	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.True(t, alerts[0].Price.MarketWide)
	assert.False(t, f.core.KillSwitchActive())
}

func TestWatchdogIsolatedMoveEscalatesKillSwitch(t *testing.T) {
	f := newWatchdogFixture(t)
	openPosition(t, f.core, "NVDA", domain.DirectionLong, 100, 10, 80)

	f.market.setPrice("NVDA", 100)
	f.tick(t)
	f.market.setPrice("NVDA", 88) // -12% with indexes flat
	f.tick(t)

	f.col.waitFor(t, 1)
	assert.True(t, f.core.KillSwitchActive())
	assert.Contains(t, f.core.KillReason(), "NVDA")
}

func TestWatchdogBackupStopActsLocally(t *testing.T) {
	f := newWatchdogFixture(t)
	require.NoError(t, f.core.AddPosition(domain.Position{
		Symbol: "AAPL", Direction: domain.DirectionLong,
		EntryPrice: 100, Quantity: 10,
		StopLoss: 90, BackupStop: 85,
		CurrentPrice: 100, EntryTime: time.Now(),
	}))

	f.market.setPrice("AAPL", 84)
	f.tick(t)

	assert.Equal(t, []string{"AAPL"}, f.closer.closedSymbols())
	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.SeverityEmergency, alerts[0].Severity)
	assert.Equal(t, "stop_violation", alerts[0].Price.Trigger)
}

func TestWatchdogStopViolationAlertsWithoutClosing(t *testing.T) {
	f := newWatchdogFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 90)

	f.market.setPrice("AAPL", 89)
	f.tick(t)

	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "stop_violation", alerts[0].Price.Trigger)
	assert.Empty(t, f.closer.closedSymbols())
	assert.True(t, f.core.HasPosition("AAPL"))
}

func TestWatchdogTakeProfitReached(t *testing.T) {
	f := newWatchdogFixture(t)
	require.NoError(t, f.core.AddPosition(domain.Position{
		Symbol: "AAPL", Direction: domain.DirectionLong,
		EntryPrice: 100, Quantity: 10,
		StopLoss: 90, TakeProfit: 110,
		CurrentPrice: 100, EntryTime: time.Now(),
	}))

	f.market.setPrice("AAPL", 110.5)
	f.tick(t)

	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.SeverityInfo, alerts[0].Severity)
	assert.Equal(t, "tp_reached", alerts[0].Price.Trigger)
}

func TestDispatcherFanOut(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	first, second := &collector{}, &collector{}
	d.Register(first.handler)
	d.Register(second.handler)

	d.Emit(domain.Alert{Kind: domain.AlertKindPrice, Severity: domain.SeverityInfo, Symbol: "AAPL"})

	a := first.waitFor(t, 1)[0]
	b := second.waitFor(t, 1)[0]
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, a.ID, b.ID)
}

// --- sentinel ---

type sentinelFixture struct {
	s      *Sentinel
	market *fakeMarket
	news   *fakeNews
	gw     *fakeGateway
	exits  *fakeExits
	closer *fakeCloser
	core   *state.Core
	col    *collector
	clock  time.Time
}

func newSentinelFixture(t *testing.T) *sentinelFixture {
	t.Helper()
	settings := config.DefaultSettings()
	core := state.New(100_000, settings, zerolog.Nop())
	md := newFakeMarket()
	src := &fakeNews{articles: make(map[string][]news.Article)}
	gw := &fakeGateway{}
	exits := &fakeExits{assessment: &domain.ExitAssessment{
		Impact:         domain.NewsImpactNegative,
		Recommendation: domain.NewsActionMonitor,
	}}
	closer := &fakeCloser{core: core}
	dispatch := NewDispatcher(zerolog.Nop())
	col := &collector{}
	dispatch.Register(col.handler)

	f := &sentinelFixture{
		s:      NewSentinel(src, gw, md, core, closer, nil, exits, dispatch, settings, zerolog.Nop()),
		market: md,
		news:   src,
		gw:     gw,
		exits:  exits,
		closer: closer,
		core:   core,
		col:    col,
		clock:  time.Date(2026, 8, 18, 11, 0, 0, 0, time.UTC), // Tuesday
	}
	f.s.SetClock(func() time.Time { return f.clock })
	return f
}

func TestSentinelBreakevenSweepFridayAfternoon(t *testing.T) {
	f := newSentinelFixture(t)
	f.clock = time.Date(2026, 8, 21, 15, 0, 0, 0, time.UTC) // Friday 15:00

	openPosition(t, f.core, "WIN", domain.DirectionLong, 100, 10, 95)
	openPosition(t, f.core, "LOSE", domain.DirectionLong, 100, 10, 95)
	openPosition(t, f.core, "TIGHT", domain.DirectionLong, 100, 10, 102)
	f.core.UpdatePrices(map[string]float64{"WIN": 105, "LOSE": 98, "TIGHT": 105})

	f.s.Tick(context.Background())

	assert.InDelta(t, 100.1, f.core.Position("WIN").StopLoss, 1e-9)
	assert.InDelta(t, 95.0, f.core.Position("LOSE").StopLoss, 1e-9)   // not profitable
	assert.InDelta(t, 102.0, f.core.Position("TIGHT").StopLoss, 1e-9) // already tighter
}

func TestSentinelBreakevenSkippedOutsideWindow(t *testing.T) {
	f := newSentinelFixture(t)
	f.clock = time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC) // Friday morning

	openPosition(t, f.core, "WIN", domain.DirectionLong, 100, 10, 95)
	f.core.UpdatePrices(map[string]float64{"WIN": 105})

	f.s.Tick(context.Background())
	assert.InDelta(t, 95.0, f.core.Position("WIN").StopLoss, 1e-9)
}

func TestSentinelTrailingStopsTightenOnly(t *testing.T) {
	f := newSentinelFixture(t)

	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 95)
	openPosition(t, f.core, "SHRT", domain.DirectionShort, 100, 10, 105)
	f.core.UpdatePrices(map[string]float64{"AAPL": 110, "SHRT": 90})
	f.market.bars["AAPL"] = flatBars(40, 110)
	f.market.bars["SHRT"] = flatBars(40, 90)

	f.s.Tick(context.Background())

	// ATR is 2: long trails to 110 - 4, short to 90 + 4
	assert.InDelta(t, 106.0, f.core.Position("AAPL").StopLoss, 0.01)
	assert.InDelta(t, 94.0, f.core.Position("SHRT").StopLoss, 0.01)

	// Price retreats: the stop must not loosen
	f.core.UpdatePrices(map[string]float64{"AAPL": 104})
	f.s.Tick(context.Background())
	assert.InDelta(t, 106.0, f.core.Position("AAPL").StopLoss, 0.01)
}

func TestSentinelCriticalNewsClosesAfterConfirmedExit(t *testing.T) {
	f := newSentinelFixture(t)
	openPosition(t, f.core, "BADCO", domain.DirectionLong, 100, 10, 95)
	f.core.UpdatePrices(map[string]float64{"BADCO": 92})
	f.news.articles["BADCO"] = []news.Article{{Title: "BADCO CEO arrested for fraud", Source: "wire"}}
	f.gw.parsed = map[string]interface{}{
		"impact": "critical", "action": "EXIT_NOW",
		"confidence": 0.9, "summary": "existential",
	}
	f.exits.assessment = &domain.ExitAssessment{
		Impact:         domain.NewsImpactCritical,
		Recommendation: domain.NewsActionExitNow,
	}

	f.s.Tick(context.Background())

	assert.Equal(t, 1, f.exits.callCount())
	assert.Equal(t, []string{"BADCO"}, f.closer.closedSymbols())
	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.AlertKindNews, alerts[0].Kind)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, domain.NewsActionExitNow, alerts[0].News.Action)
}

func TestSentinelCriticalNewsHeldWhenAdjudicationDemurs(t *testing.T) {
	f := newSentinelFixture(t)
	openPosition(t, f.core, "BADCO", domain.DirectionLong, 100, 10, 95)
	f.core.UpdatePrices(map[string]float64{"BADCO": 92})
	f.news.articles["BADCO"] = []news.Article{{Title: "BADCO CEO arrested for fraud", Source: "wire"}}
	f.gw.parsed = map[string]interface{}{
		"impact": "critical", "action": "EXIT_NOW",
		"confidence": 0.9, "summary": "existential",
	}
	f.exits.assessment = &domain.ExitAssessment{
		Impact:         domain.NewsImpactNegative,
		Recommendation: domain.NewsActionConsiderExit,
	}

	f.s.Tick(context.Background())

	// Escalated but not confirmed: alert only, position survives
	assert.Equal(t, 1, f.exits.callCount())
	assert.Empty(t, f.closer.closedSymbols())
	assert.True(t, f.core.HasPosition("BADCO"))
	f.col.waitFor(t, 1)
}

func TestSentinelCriticalNewsHeldWhenAdjudicationFails(t *testing.T) {
	f := newSentinelFixture(t)
	openPosition(t, f.core, "BADCO", domain.DirectionLong, 100, 10, 95)
	f.core.UpdatePrices(map[string]float64{"BADCO": 92})
	f.news.articles["BADCO"] = []news.Article{{Title: "BADCO CEO arrested for fraud", Source: "wire"}}
	f.gw.parsed = map[string]interface{}{
		"impact": "critical", "action": "EXIT_NOW",
		"confidence": 0.9, "summary": "existential",
	}
	f.exits.err = errors.New("adjudicator unavailable")

	f.s.Tick(context.Background())

	assert.Equal(t, 1, f.exits.callCount())
	assert.Empty(t, f.closer.closedSymbols())
	assert.True(t, f.core.HasPosition("BADCO"))
}

func TestSentinelNegativeNewsAlertsWithoutClosing(t *testing.T) {
	f := newSentinelFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 95)
	f.core.UpdatePrices(map[string]float64{"AAPL": 99})
	f.news.articles["AAPL"] = []news.Article{{Title: "AAPL faces supplier delays", Source: "wire"}}
	f.gw.parsed = map[string]interface{}{
		"impact": "negative", "action": "MONITOR",
		"confidence": 0.6, "summary": "headwind",
	}

	f.s.Tick(context.Background())
	f.s.Tick(context.Background()) // same headline again

	assert.Empty(t, f.closer.closedSymbols())
	assert.Equal(t, 1, f.gw.callCount()) // dedup: classified once
	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, 1, f.col.count())
}

func TestSentinelIgnoresPositiveNews(t *testing.T) {
	f := newSentinelFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 95)
	f.core.UpdatePrices(map[string]float64{"AAPL": 103})
	f.news.articles["AAPL"] = []news.Article{{Title: "AAPL beats estimates", Source: "wire"}}
	f.gw.parsed = map[string]interface{}{
		"impact": "positive", "action": "HOLD",
		"confidence": 0.8, "summary": "good",
	}

	f.s.Tick(context.Background())

	assert.Equal(t, 1, f.gw.callCount())
	assert.Equal(t, 0, f.col.count())
}

// --- poison pill ---

type poisonFixture struct {
	pp     *PoisonPill
	market *fakeMarket
	news   *fakeNews
	gw     *fakeGateway
	core   *state.Core
	col    *collector
	clock  time.Time
}

func newPoisonFixture(t *testing.T) *poisonFixture {
	t.Helper()
	settings := config.DefaultSettings()
	core := state.New(100_000, settings, zerolog.Nop())
	md := newFakeMarket()
	src := &fakeNews{articles: make(map[string][]news.Article)}
	gw := &fakeGateway{}
	dispatch := NewDispatcher(zerolog.Nop())
	col := &collector{}
	dispatch.Register(col.handler)

	f := &poisonFixture{
		pp:     NewPoisonPill(src, gw, md, core, dispatch, settings, zerolog.Nop()),
		market: md,
		news:   src,
		gw:     gw,
		core:   core,
		col:    col,
		clock:  time.Date(2026, 8, 18, 22, 0, 0, 0, time.UTC),
	}
	f.pp.SetClock(func() time.Time { return f.clock })
	return f
}

func TestPoisonPillGatesOnOvernightAndSpacing(t *testing.T) {
	f := newPoisonFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 95)
	f.market.quotes["AAPL"] = &market.Quote{Symbol: "AAPL", Price: 100, PreviousClose: 100}

	// Midday: gate closed
	f.clock = time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	f.pp.Tick(context.Background())
	assert.Equal(t, 0, f.news.callCount())

	// Evening: scans
	f.clock = time.Date(2026, 8, 18, 22, 0, 0, 0, time.UTC)
	f.pp.Tick(context.Background())
	assert.Equal(t, 1, f.news.callCount())

	// One hour later: spacing suppresses
	f.clock = time.Date(2026, 8, 18, 23, 0, 0, 0, time.UTC)
	f.pp.Tick(context.Background())
	assert.Equal(t, 1, f.news.callCount())

	// Next pre-dawn window, spacing elapsed: scans again
	f.clock = time.Date(2026, 8, 19, 5, 0, 0, 0, time.UTC)
	f.pp.Tick(context.Background())
	assert.Equal(t, 2, f.news.callCount())
}

func TestPoisonPillFlagsKeywordEvent(t *testing.T) {
	f := newPoisonFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 95)
	f.market.quotes["AAPL"] = &market.Quote{Symbol: "AAPL", Price: 100, PreviousClose: 100}
	f.news.articles["AAPL"] = []news.Article{
		{Title: "AAPL in merger talks with rival", Source: "wire", PublishedAt: f.clock.Add(-time.Hour)},
		{Title: "Old earnings recap", Source: "wire", PublishedAt: f.clock.Add(-30 * time.Hour)},
	}
	f.gw.parsed = map[string]interface{}{"impact": "negative", "magnitude": "high", "action": "EXIT"}

	f.pp.Tick(context.Background())

	alerts := f.col.waitFor(t, 1)
	require.Equal(t, 1, f.col.count()) // stale article skipped
	a := alerts[0]
	assert.Equal(t, domain.AlertKindPoisonPill, a.Kind)
	assert.Equal(t, domain.SeverityCritical, a.Severity)
	assert.Equal(t, domain.EventMA, a.PoisonPill.EventType)
	assert.Equal(t, domain.ActionExit, a.PoisonPill.RecommendedAction)
	assert.True(t, a.PoisonPill.Critical())
}

func TestPoisonPillFlagsOvernightGap(t *testing.T) {
	f := newPoisonFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 95)
	f.market.quotes["AAPL"] = &market.Quote{Symbol: "AAPL", Price: 90, PreviousClose: 100}

	f.pp.Tick(context.Background())

	alerts := f.col.waitFor(t, 1)
	a := alerts[0]
	assert.Equal(t, domain.EventGapDown, a.PoisonPill.EventType)
	assert.Equal(t, domain.MagnitudeHigh, a.PoisonPill.Magnitude) // -10% gap
	assert.Equal(t, domain.ActionReduce, a.PoisonPill.RecommendedAction)
}

func TestPoisonPillGradingFailureFallsBackToReview(t *testing.T) {
	f := newPoisonFixture(t)
	openPosition(t, f.core, "AAPL", domain.DirectionLong, 100, 10, 95)
	f.market.quotes["AAPL"] = &market.Quote{Symbol: "AAPL", Price: 100, PreviousClose: 100}
	f.news.articles["AAPL"] = []news.Article{
		{Title: "SEC investigation into AAPL accounting", Source: "wire", PublishedAt: f.clock.Add(-time.Hour)},
	}
	f.gw.parsed = nil // every provider down

	f.pp.Tick(context.Background())

	alerts := f.col.waitFor(t, 1)
	assert.Equal(t, domain.EventSEC, alerts[0].PoisonPill.EventType)
	assert.Equal(t, domain.ActionReview, alerts[0].PoisonPill.RecommendedAction)
	assert.Equal(t, domain.ImpactUncertain, alerts[0].PoisonPill.Impact)
}

func TestClassifyEvent(t *testing.T) {
	cases := []struct {
		text  string
		event domain.PoisonPillEventType
		found bool
	}{
		{"FDA approval decision pending", domain.EventFDA, true},
		{"quarterly earnings beat expectations", domain.EventEarnings, true},
		{"company files for chapter 11", domain.EventBankruptcy, true},
		{"tender offer announced at premium", domain.EventTender, true},
		{"routine product refresh announced", "", false},
	}
	for _, tc := range cases {
		event, found := classifyEvent(tc.text)
		assert.Equal(t, tc.found, found, tc.text)
		if tc.found {
			assert.Equal(t, tc.event, event, tc.text)
		}
	}
}

// --- persistence ---

func TestPersistenceRoundTrip(t *testing.T) {
	settings := config.DefaultSettings()
	core := state.New(100_000, settings, zerolog.Nop())
	md := newFakeMarket()
	dispatch := NewDispatcher(zerolog.Nop())
	src := &fakeNews{articles: make(map[string][]news.Article)}
	gw := &fakeGateway{}

	w := NewWatchdog(md, core, &fakeCloser{}, dispatch, settings, zerolog.Nop())
	s := NewSentinel(src, gw, md, core, &fakeCloser{}, nil, &fakeExits{}, dispatch, settings, zerolog.Nop())
	pp := NewPoisonPill(src, gw, md, core, dispatch, settings, zerolog.Nop())

	at := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)
	w.ring("AAPL").push(at, 101.5, 5*time.Minute)
	w.ring("AAPL").push(at.Add(time.Minute), 102.0, 5*time.Minute)
	s.seen[headlineKey("AAPL", "Some headline")] = at
	pp.lastScan = at

	path := filepath.Join(t.TempDir(), "guardian_state.msgpack")
	require.NoError(t, NewPersistence(path, w, s, pp, zerolog.Nop()).Save())

	w2 := NewWatchdog(md, core, &fakeCloser{}, dispatch, settings, zerolog.Nop())
	s2 := NewSentinel(src, gw, md, core, &fakeCloser{}, nil, &fakeExits{}, dispatch, settings, zerolog.Nop())
	pp2 := NewPoisonPill(src, gw, md, core, dispatch, settings, zerolog.Nop())
	require.NoError(t, NewPersistence(path, w2, s2, pp2, zerolog.Nop()).Load())

	require.Len(t, w2.ring("AAPL").Samples, 2)
	assert.InDelta(t, 102.0, w2.ring("AAPL").Samples[1].Price, 1e-9)
	assert.Contains(t, s2.seen, headlineKey("AAPL", "Some headline"))
	assert.True(t, pp2.lastScan.Equal(at))
}

func TestPersistenceLoadMissingFileIsFresh(t *testing.T) {
	settings := config.DefaultSettings()
	core := state.New(100_000, settings, zerolog.Nop())
	md := newFakeMarket()
	dispatch := NewDispatcher(zerolog.Nop())
	src := &fakeNews{articles: make(map[string][]news.Article)}

	w := NewWatchdog(md, core, &fakeCloser{}, dispatch, settings, zerolog.Nop())
	s := NewSentinel(src, &fakeGateway{}, md, core, &fakeCloser{}, nil, &fakeExits{}, dispatch, settings, zerolog.Nop())
	pp := NewPoisonPill(src, &fakeGateway{}, md, core, dispatch, settings, zerolog.Nop())

	path := filepath.Join(t.TempDir(), "missing.msgpack")
	require.NoError(t, NewPersistence(path, w, s, pp, zerolog.Nop()).Load())
	assert.Empty(t, w.rings)
}
