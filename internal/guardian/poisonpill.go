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
)

const (
	// Overnight window: after the post-market settles, before pre-market.
	overnightStartHour = 17
	overnightEndHour   = 8
	// scanSpacing keeps the scanner from burning the news quota on
	// every interval tick.
	scanSpacing = 6 * time.Hour
	// newsLookback bounds how old an overnight headline may be.
	newsLookback = 12 * time.Hour
	// overnightGapThreshold flags a pre-market gap as an event.
	overnightGapThreshold = 0.05
	// newsPerScan caps headlines fetched per position per scan.
	newsPerScan = 10
)

// eventKeywords maps headline keywords to event classes. First match wins,
// ordered from most to least specific.
var eventKeywords = []struct {
	event domain.PoisonPillEventType
	words []string
}{
	{domain.EventTender, []string{"tender offer", "oferta pública"}},
	{domain.EventMA, []string{"merger", "acquisition", "acquire", "buyout", "takeover", "fusão", "aquisição"}},
	{domain.EventBankruptcy, []string{"bankruptcy", "chapter 11", "insolvency", "falência"}},
	{domain.EventFDA, []string{"fda", "anvisa", "clinical trial", "drug approval"}},
	{domain.EventSEC, []string{"sec investigation", "sec charges", "subpoena", "fraud probe", "delisting"}},
	{domain.EventEarnings, []string{"earnings", "guidance", "outlook cut", "resultados", "balanço"}},
	{domain.EventContract, []string{"contract award", "contract loss", "major contract", "contrato"}},
	{domain.EventInsider, []string{"insider selling", "insider buying", "ceo resign", "cfo resign", "executive departure"}},
}

// PoisonPill is the overnight scanner: while the market is closed it
// sweeps held names for corporate and regulatory events that would gap
// the open, so the morning session starts with a verdict instead of a
// surprise.
type PoisonPill struct {
	news     SymbolNews
	gateway  Completer
	market   market.Data
	state    *state.Core
	dispatch *Dispatcher
	settings *config.Settings
	log      zerolog.Logger
	now      func() time.Time

	lastScan time.Time
}

// NewPoisonPill wires the scanner.
func NewPoisonPill(src SymbolNews, gateway Completer, md market.Data, core *state.Core, dispatch *Dispatcher, settings *config.Settings, log zerolog.Logger) *PoisonPill {
	return &PoisonPill{
		news:     src,
		gateway:  gateway,
		market:   md,
		state:    core,
		dispatch: dispatch,
		settings: settings,
		log:      log.With().Str("component", "poison_pill").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the wall clock, used by tests.
func (pp *PoisonPill) SetClock(now func() time.Time) { pp.now = now }

// Run drives the tick loop until the context is cancelled. The gate
// inside Tick decides whether a given tick actually scans.
func (pp *PoisonPill) Run(ctx context.Context) {
	interval := time.Duration(pp.settings.Phase5.PoisonPillInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pp.log.Info().Dur("interval", interval).Msg("Poison-pill scanner started")
	for {
		select {
		case <-ctx.Done():
			pp.log.Info().Msg("Poison-pill scanner stopped")
			return
		case <-ticker.C:
			pp.Tick(ctx)
		}
	}
}

// Tick runs one scan when the overnight gate opens.
func (pp *PoisonPill) Tick(ctx context.Context) {
	now := pp.now()
	if !pp.shouldScan(now) {
		return
	}
	positions := pp.state.OpenPositions()
	if len(positions) == 0 {
		return
	}
	pp.lastScan = now

	pp.log.Info().Int("positions", len(positions)).Msg("Overnight scan")
	for _, p := range positions {
		pp.scanPosition(ctx, p, now)
	}
}

// shouldScan opens the gate only overnight and at most once per spacing
// window.
func (pp *PoisonPill) shouldScan(now time.Time) bool {
	hour := now.Hour()
	if hour < overnightStartHour && hour >= overnightEndHour {
		return false
	}
	return now.Sub(pp.lastScan) >= scanSpacing
}

func (pp *PoisonPill) scanPosition(ctx context.Context, p domain.Position, now time.Time) {
	pp.checkOvernightGap(ctx, p, now)

	articles, err := pp.news.SymbolNews(ctx, p.Symbol, newsPerScan)
	if err != nil {
		pp.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Overnight news fetch failed")
		return
	}

	for _, a := range articles {
		if !a.PublishedAt.IsZero() && now.Sub(a.PublishedAt) > newsLookback {
			continue
		}
		eventType, ok := classifyEvent(a.Title + " " + a.Summary)
		if !ok {
			continue
		}
		event := pp.gradeEvent(ctx, p, a, eventType, now)
		pp.emit(p.Symbol, event)
	}
}

// checkOvernightGap flags a pre/post-market quote gapping hard against
// the previous close.
func (pp *PoisonPill) checkOvernightGap(ctx context.Context, p domain.Position, now time.Time) {
	q, err := pp.market.GetQuote(ctx, p.Symbol)
	if err != nil || q.PreviousClose == 0 {
		return
	}
	gap := (q.Price - q.PreviousClose) / q.PreviousClose
	if gap < overnightGapThreshold && gap > -overnightGapThreshold {
		return
	}

	eventType := domain.EventGapUp
	impact := domain.ImpactPositive
	action := domain.ActionReview
	if gap < 0 {
		eventType = domain.EventGapDown
		impact = domain.ImpactNegative
		action = domain.ActionReduce
	}
	if p.Direction == domain.DirectionShort {
		impact, action = invertForShort(impact, action)
	}

	magnitude := domain.MagnitudeMedium
	if gap >= 2*overnightGapThreshold || gap <= -2*overnightGapThreshold {
		magnitude = domain.MagnitudeHigh
	}

	pp.emit(p.Symbol, &domain.PoisonPillEvent{
		Symbol:            p.Symbol,
		EventType:         eventType,
		Headline:          fmt.Sprintf("%s gapping %.1f%% overnight", p.Symbol, gap*100),
		Impact:            impact,
		Magnitude:         magnitude,
		RecommendedAction: action,
		Source:            "quote",
		Timestamp:         now,
	})
}

// gradeEvent asks the cheap AI tier for magnitude, impact and action;
// classification failures fall back to a conservative REVIEW grade.
func (pp *PoisonPill) gradeEvent(ctx context.Context, p domain.Position, a news.Article, eventType domain.PoisonPillEventType, now time.Time) *domain.PoisonPillEvent {
	event := &domain.PoisonPillEvent{
		Symbol:            p.Symbol,
		EventType:         eventType,
		Headline:          a.Title,
		Impact:            domain.ImpactUncertain,
		Magnitude:         domain.MagnitudeMedium,
		RecommendedAction: domain.ActionReview,
		Source:            a.Source,
		Timestamp:         now,
	}

	prompt := fmt.Sprintf(`Overnight event scan. We hold a %s position in %s (entry %.2f).
Event class: %s

Headline: %s
Summary: %s

Respond with JSON only:
{"impact": "positive|negative|uncertain", "magnitude": "low|medium|high|extreme", "action": "HOLD|REVIEW|REDUCE|EXIT"}`,
		p.Direction, p.Symbol, p.EntryPrice, eventType, a.Title, a.Summary)

	resp := pp.gateway.Complete(ctx, ai.Request{
		Prompt:      prompt,
		Preferred:   ai.GeminiFlash,
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if !resp.Success || resp.ParsedJSON == nil {
		pp.log.Warn().Str("symbol", p.Symbol).Str("error", resp.Error).Msg("Event grading failed, using conservative grade")
		return event
	}

	event.Impact = parseEventImpact(jsonString(resp.ParsedJSON, "impact"))
	event.Magnitude = parseMagnitude(jsonString(resp.ParsedJSON, "magnitude"))
	event.RecommendedAction = parseRecommendedAction(jsonString(resp.ParsedJSON, "action"))
	return event
}

func (pp *PoisonPill) emit(symbol string, event *domain.PoisonPillEvent) {
	severity := domain.SeverityWarning
	switch event.Magnitude {
	case domain.MagnitudeHigh:
		severity = domain.SeverityCritical
	case domain.MagnitudeExtreme:
		severity = domain.SeverityEmergency
	case domain.MagnitudeLow:
		severity = domain.SeverityInfo
	}

	pp.dispatch.Emit(domain.Alert{
		Kind:       domain.AlertKindPoisonPill,
		Severity:   severity,
		Symbol:     symbol,
		Message:    fmt.Sprintf("[%s] %s", event.EventType, event.Headline),
		PoisonPill: event,
	})
}

// classifyEvent matches a headline against the keyword classes.
func classifyEvent(text string) (domain.PoisonPillEventType, bool) {
	lower := strings.ToLower(text)
	for _, class := range eventKeywords {
		for _, w := range class.words {
			if strings.Contains(lower, w) {
				return class.event, true
			}
		}
	}
	return "", false
}

// invertForShort flips a gap's grading when the held side benefits.
func invertForShort(impact domain.Impact, action domain.RecommendedAction) (domain.Impact, domain.RecommendedAction) {
	switch impact {
	case domain.ImpactPositive:
		return domain.ImpactNegative, domain.ActionReduce
	case domain.ImpactNegative:
		return domain.ImpactPositive, domain.ActionReview
	}
	return impact, action
}

func parseEventImpact(v string) domain.Impact {
	switch strings.ToLower(v) {
	case "positive":
		return domain.ImpactPositive
	case "negative":
		return domain.ImpactNegative
	default:
		return domain.ImpactUncertain
	}
}

func parseMagnitude(v string) domain.Magnitude {
	switch strings.ToLower(v) {
	case "low":
		return domain.MagnitudeLow
	case "high":
		return domain.MagnitudeHigh
	case "extreme":
		return domain.MagnitudeExtreme
	default:
		return domain.MagnitudeMedium
	}
}

func parseRecommendedAction(v string) domain.RecommendedAction {
	switch strings.ToUpper(v) {
	case "HOLD":
		return domain.ActionHold
	case "REDUCE":
		return domain.ActionReduce
	case "EXIT":
		return domain.ActionExit
	default:
		return domain.ActionReview
	}
}
