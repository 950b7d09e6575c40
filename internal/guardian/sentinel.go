package guardian

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/ai"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/news"
	"github.com/aristath/vigil/internal/state"
	"github.com/aristath/vigil/pkg/formulas"
)

const (
	// seenRetention bounds the headline dedup window.
	seenRetention = 24 * time.Hour
	// breakevenOffset nudges the breakeven stop past the entry so a
	// touch still covers commissions.
	breakevenOffset = 0.001
	// trailingATRMultiplier sets the trailing stop distance.
	trailingATRMultiplier = 2.0
	// newsPerPosition caps headlines fetched per position per tick.
	newsPerPosition = 5
)

// SymbolNews is the slice of the news aggregator the sentinel needs.
type SymbolNews interface {
	SymbolNews(ctx context.Context, symbol string, max int) ([]news.Article, error)
}

// Completer is the slice of the AI gateway the sentinel needs.
type Completer interface {
	Complete(ctx context.Context, req ai.Request) ai.Response
}

// StopUpdater mirrors a tightened stop to the broker. Optional: brokers
// without stop amendment leave the local stop authoritative.
type StopUpdater interface {
	UpdateStop(ctx context.Context, symbol string, stop float64) error
}

// ExitAdjudicator escalates critical headlines to the expensive tier.
// The cheap classifier only flags; a market close needs this
// confirmation.
type ExitAdjudicator interface {
	AdjudicateExit(ctx context.Context, p domain.Position, headline, summary string) (*domain.ExitAssessment, error)
}

// Sentinel is the five-minute supervision loop: position news monitoring,
// the Friday breakeven sweep and ATR trailing stops.
type Sentinel struct {
	news     SymbolNews
	gateway  Completer
	market   market.Data
	state    *state.Core
	closer   PositionCloser
	stops    StopUpdater // may be nil
	exits    ExitAdjudicator
	dispatch *Dispatcher
	settings *config.Settings
	log      zerolog.Logger
	now      func() time.Time

	seen map[string]time.Time // headline key -> first seen
	atrs map[string]float64   // per-symbol ATR, computed once per holding
}

// NewSentinel wires the sentinel. stops may be nil.
func NewSentinel(src SymbolNews, gateway Completer, md market.Data, core *state.Core, closer PositionCloser, stops StopUpdater, exits ExitAdjudicator, dispatch *Dispatcher, settings *config.Settings, log zerolog.Logger) *Sentinel {
	return &Sentinel{
		news:     src,
		gateway:  gateway,
		market:   md,
		state:    core,
		closer:   closer,
		stops:    stops,
		exits:    exits,
		dispatch: dispatch,
		settings: settings,
		log:      log.With().Str("component", "sentinel").Logger(),
		now:      time.Now,
		seen:     make(map[string]time.Time),
		atrs:     make(map[string]float64),
	}
}

// SetClock overrides the wall clock, used by tests.
func (s *Sentinel) SetClock(now func() time.Time) { s.now = now }

// Run drives the tick loop until the context is cancelled.
func (s *Sentinel) Run(ctx context.Context) {
	interval := time.Duration(s.settings.Phase5.SentinelInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("Sentinel started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Sentinel stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one supervision pass.
func (s *Sentinel) Tick(ctx context.Context) {
	positions := s.state.OpenPositions()
	if len(positions) == 0 {
		return
	}

	s.purgeSeen()
	s.pruneATRs(positions)

	for _, p := range positions {
		s.scanPositionNews(ctx, p)
	}

	// Re-read: critical news may have closed positions above.
	positions = s.state.OpenPositions()
	s.breakevenSweep(ctx, positions)
	s.trailStops(ctx, positions)
}

// scanPositionNews classifies fresh headlines for one holding and acts
// on the critical ones.
func (s *Sentinel) scanPositionNews(ctx context.Context, p domain.Position) {
	articles, err := s.news.SymbolNews(ctx, p.Symbol, newsPerPosition)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("News fetch failed")
		return
	}

	for _, a := range articles {
		key := headlineKey(p.Symbol, a.Title)
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = s.now()

		alert, ok := s.classify(ctx, p, a)
		if !ok || alert.Impact == domain.NewsImpactPositive || alert.Impact == domain.NewsImpactNeutral {
			continue
		}

		severity := domain.SeverityWarning
		if alert.Impact == domain.NewsImpactCritical {
			severity = domain.SeverityCritical
		}
		s.dispatch.Emit(domain.Alert{
			Kind:     domain.AlertKindNews,
			Severity: severity,
			Symbol:   p.Symbol,
			Message:  a.Title,
			News:     alert,
		})

		if alert.Impact == domain.NewsImpactCritical {
			s.escalate(ctx, p, a, alert)
			return
		}
	}
}

// escalate hands a critical headline to the judge for an exit-oriented
// adjudication and closes the position only on a confirmed EXIT_NOW.
func (s *Sentinel) escalate(ctx context.Context, p domain.Position, a news.Article, alert *domain.NewsAlert) {
	assessment, err := s.exits.AdjudicateExit(ctx, p, a.Title, alert.Summary)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", p.Symbol).Msg("Exit adjudication unavailable, holding position")
		return
	}
	if assessment.Impact != domain.NewsImpactCritical || assessment.Recommendation != domain.NewsActionExitNow {
		s.log.Info().
			Str("symbol", p.Symbol).
			Str("recommendation", string(assessment.Recommendation)).
			Msg("Exit adjudication did not confirm close")
		return
	}

	price := p.CurrentPrice
	if price == 0 {
		price = p.EntryPrice
	}
	reason := "critical news: " + a.Title
	if err := s.closer.ClosePosition(ctx, p.Symbol, price, reason); err != nil {
		s.log.Error().Err(err).Str("symbol", p.Symbol).Msg("News-driven exit failed")
	}
}

// classify asks the cheap AI tier to grade one headline against the
// held position.
func (s *Sentinel) classify(ctx context.Context, p domain.Position, a news.Article) (*domain.NewsAlert, bool) {
	prompt := fmt.Sprintf(`You monitor an open %s position in %s (entry %.2f, current %.2f).
Grade this headline's impact on the position.

Headline: %s
Summary: %s
Source: %s

Respond with JSON only:
{"impact": "positive|neutral|negative|critical", "action": "HOLD|MONITOR|CONSIDER_EXIT|EXIT_NOW", "confidence": 0.0-1.0, "summary": "one sentence"}`,
		p.Direction, p.Symbol, p.EntryPrice, p.CurrentPrice, a.Title, a.Summary, a.Source)

	resp := s.gateway.Complete(ctx, ai.Request{
		Prompt:      prompt,
		Preferred:   ai.GeminiFlash,
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if !resp.Success || resp.ParsedJSON == nil {
		s.log.Warn().Str("symbol", p.Symbol).Str("error", resp.Error).Msg("Headline classification failed")
		return nil, false
	}

	alert := &domain.NewsAlert{
		Headline:   a.Title,
		Summary:    jsonString(resp.ParsedJSON, "summary"),
		Impact:     parseImpact(jsonString(resp.ParsedJSON, "impact")),
		Action:     parseAction(jsonString(resp.ParsedJSON, "action")),
		Confidence: jsonFloat(resp.ParsedJSON, "confidence"),
		Source:     a.Source,
	}
	return alert, true
}

// breakevenSweep moves stops of profitable positions to just past entry
// on Friday afternoons, so nothing winning turns into a weekend loser.
func (s *Sentinel) breakevenSweep(ctx context.Context, positions []domain.Position) {
	now := s.now()
	if now.Weekday() != time.Friday || now.Hour() < s.settings.Phase5.BreakevenHour {
		return
	}

	for _, p := range positions {
		if p.CurrentPrice == 0 {
			continue
		}
		var target float64
		if p.Direction == domain.DirectionShort {
			if p.CurrentPrice >= p.EntryPrice {
				continue // not profitable
			}
			target = p.EntryPrice * (1 - breakevenOffset)
		} else {
			if p.CurrentPrice <= p.EntryPrice {
				continue
			}
			target = p.EntryPrice * (1 + breakevenOffset)
		}
		s.tighten(ctx, p, target, "breakeven")
	}
}

// trailStops ratchets each stop behind the price by a fixed ATR
// distance. Stops only ever tighten.
func (s *Sentinel) trailStops(ctx context.Context, positions []domain.Position) {
	for _, p := range positions {
		if p.CurrentPrice == 0 {
			continue
		}
		atr, err := s.atr(ctx, p.Symbol)
		if err != nil {
			s.log.Debug().Err(err).Str("symbol", p.Symbol).Msg("ATR unavailable, skipping trail")
			continue
		}

		var target float64
		if p.Direction == domain.DirectionShort {
			target = p.CurrentPrice + trailingATRMultiplier*atr
		} else {
			target = p.CurrentPrice - trailingATRMultiplier*atr
		}
		s.tighten(ctx, p, target, "trailing")
	}
}

// tighten applies a new stop only when it is strictly tighter than the
// current one, mirroring it to the broker best-effort.
func (s *Sentinel) tighten(ctx context.Context, p domain.Position, target float64, kind string) {
	tighter := target > p.StopLoss
	if p.Direction == domain.DirectionShort {
		tighter = target < p.StopLoss
	}
	if !tighter {
		return
	}

	if err := s.state.UpdateStop(p.Symbol, target); err != nil {
		s.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Stop update failed")
		return
	}
	if s.stops != nil {
		if err := s.stops.UpdateStop(ctx, p.Symbol, target); err != nil {
			s.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Broker stop amendment failed, local stop authoritative")
		}
	}
	s.log.Info().
		Str("symbol", p.Symbol).
		Str("kind", kind).
		Float64("old_stop", p.StopLoss).
		Float64("new_stop", target).
		Msg("Stop tightened")
}

// atr computes and caches the daily ATR for a holding.
func (s *Sentinel) atr(ctx context.Context, symbol string) (float64, error) {
	if v, ok := s.atrs[symbol]; ok {
		return v, nil
	}
	bars, err := s.market.GetOHLCV(ctx, symbol, "3mo", "1d")
	if err != nil {
		return 0, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}
	atr := formulas.CalculateATR(bars.Highs, bars.Lows, bars.Closes, s.settings.Technical.ATRPeriod)
	if atr == nil {
		return 0, fmt.Errorf("insufficient bars for ATR on %s", symbol)
	}
	s.atrs[symbol] = *atr
	return *atr, nil
}

func (s *Sentinel) purgeSeen() {
	cutoff := s.now().Add(-seenRetention)
	for key, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, key)
		}
	}
}

func (s *Sentinel) pruneATRs(positions []domain.Position) {
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}
	for symbol := range s.atrs {
		if !held[symbol] {
			delete(s.atrs, symbol)
		}
	}
}

func headlineKey(symbol, title string) string {
	return symbol + "|" + strings.ToLower(strings.TrimSpace(title))
}

func parseImpact(v string) domain.NewsImpact {
	switch strings.ToLower(v) {
	case "positive":
		return domain.NewsImpactPositive
	case "negative":
		return domain.NewsImpactNegative
	case "critical":
		return domain.NewsImpactCritical
	default:
		return domain.NewsImpactNeutral
	}
}

func parseAction(v string) domain.NewsAction {
	switch strings.ToUpper(v) {
	case "MONITOR":
		return domain.NewsActionMonitor
	case "CONSIDER_EXIT":
		return domain.NewsActionConsiderExit
	case "EXIT_NOW":
		return domain.NewsActionExitNow
	default:
		return domain.NewsActionHold
	}
}

func jsonString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func jsonFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
