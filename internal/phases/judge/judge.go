// Package judge implements phase 3: the expensive, portfolio-aware
// adjudication of vault survivors into trade decisions.
package judge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/ai"
	"github.com/aristath/vigil/internal/analytics"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/grounding"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/phases/vault"
	"github.com/aristath/vigil/internal/state"
	"github.com/aristath/vigil/internal/store"
)

// cacheMaxAge bounds how old a cached verdict may be before the judge
// re-adjudicates.
const cacheMaxAge = 2 * time.Hour

// groundingFloor is the minimum grounding confidence below which the
// news is treated as unverified and the candidate rejected.
const groundingFloor = 0.3

// minRiskReward is the floor an approval must clear.
const minRiskReward = 2.0

// Completer is the slice of the AI gateway the judge needs.
type Completer interface {
	Complete(ctx context.Context, req ai.Request) ai.Response
}

// Judge adjudicates vault survivors.
type Judge struct {
	gateway   Completer
	market    market.Data
	state     *state.Core
	decisions *store.DecisionRepository
	audit     *store.AuditRepository
	grounding grounding.Verifier // optional
	settings  *config.Settings
	log       zerolog.Logger
}

// New wires the judge. verifier may be nil when no grounding service is
// configured.
func New(gateway Completer, md market.Data, core *state.Core, decisions *store.DecisionRepository, audit *store.AuditRepository, verifier grounding.Verifier, settings *config.Settings, log zerolog.Logger) *Judge {
	return &Judge{
		gateway:   gateway,
		market:    md,
		state:     core,
		decisions: decisions,
		audit:     audit,
		grounding: verifier,
		settings:  settings,
		log:       log.With().Str("component", "judge").Logger(),
	}
}

// Adjudicate runs the ordered pre-checks and, if none veto, the
// expensive AI call. It always returns a decision; errors surface only
// for storage failures.
func (j *Judge) Adjudicate(ctx context.Context, s vault.Survivor) *domain.TradeDecision {
	symbol := s.Symbol

	// 1. Correlation re-check: the portfolio may have changed since the
	// vault ran.
	if d := j.correlationRecheck(ctx, s); d != nil {
		return d
	}

	// 2. Portfolio-aware cache lookup.
	hash := j.PortfolioHash()
	if cached, err := j.decisions.CachedDecision(symbol, hash, cacheMaxAge); err == nil && cached != nil {
		j.log.Info().Str("symbol", symbol).Msg("Decision cache hit")
		j.auditEntry(cached, "Cache Hit", "")
		return cached
	}

	// 3. News grounding.
	newsText := s.News
	if j.grounding != nil && newsText != "" {
		result, err := j.grounding.Verify(ctx, symbol, newsText)
		switch {
		case err != nil:
			j.log.Warn().Err(err).Str("symbol", symbol).Msg("Grounding unavailable, proceeding unverified")
		case result.Confidence < groundingFloor:
			return j.finalize(j.reject(symbol, "news not verified"), hash, "Grounding Veto", "")
		case result.Verified && len(result.Sources) > 0:
			newsText += "\n\nVerified sources: " + strings.Join(result.Sources, "; ")
		}
	}

	prompt := j.buildPrompt(s, newsText)
	resp := j.gateway.Complete(ctx, ai.Request{
		Prompt:      prompt,
		Preferred:   ai.GeminiPro,
		Temperature: 0.2,
		MaxTokens:   2500,
	})
	if !resp.Success || resp.ParsedJSON == nil {
		return j.finalize(j.reject(symbol, "AI adjudication failed: "+resp.Error), hash, "AI Failure", prompt)
	}

	decision := j.parseVerdict(symbol, resp.ParsedJSON)
	return j.finalize(decision, hash, "AI Call", prompt)
}

// AdjudicateExit runs the exit-oriented adjudication of a critical
// headline against a held position: the expensive tier confirms or
// overrules the cheap classifier before a market close is submitted.
func (j *Judge) AdjudicateExit(ctx context.Context, p domain.Position, headline, summary string) (*domain.ExitAssessment, error) {
	prompt := fmt.Sprintf(`You are the final adjudicator for an autonomous equities engine.
An open %s position in %s (entry %.2f, current %.2f, stop %.2f) was flagged over this headline:

Headline: %s
Assessment so far: %s

Decide whether the position should be closed at market immediately. Weigh the
stop already in place against the risk of waiting for it to trigger.

Respond with ONLY a JSON object:
{"impact": "positive|neutral|negative|critical", "recommendation": "HOLD|MONITOR|CONSIDER_EXIT|EXIT_NOW", "justification": "<short>"}`,
		p.Direction, p.Symbol, p.EntryPrice, p.CurrentPrice, p.StopLoss, headline, summary)

	resp := j.gateway.Complete(ctx, ai.Request{
		Prompt:      prompt,
		Preferred:   ai.GeminiPro,
		Temperature: 0.2,
		MaxTokens:   500,
	})
	if !resp.Success || resp.ParsedJSON == nil {
		return nil, fmt.Errorf("exit adjudication for %s failed: %s", p.Symbol, resp.Error)
	}

	assessment := &domain.ExitAssessment{
		Impact:         parseImpactWord(jsonString(resp.ParsedJSON, "impact")),
		Recommendation: parseActionWord(jsonString(resp.ParsedJSON, "recommendation")),
		Justification:  jsonString(resp.ParsedJSON, "justification"),
	}

	if err := j.audit.Append(store.AuditEntry{
		Symbol:    p.Symbol,
		Origin:    "Exit Adjudication",
		Prompt:    prompt,
		Result:    string(assessment.Recommendation) + ": " + assessment.Justification,
		Direction: string(p.Direction),
		Timestamp: time.Now(),
	}); err != nil {
		j.log.Error().Err(err).Str("symbol", p.Symbol).Msg("Failed to append audit entry")
	}

	j.log.Info().
		Str("symbol", p.Symbol).
		Str("impact", string(assessment.Impact)).
		Str("recommendation", string(assessment.Recommendation)).
		Msg("Exit adjudication complete")
	return assessment, nil
}

// ValidateDecision is the post-adjudication gate before execution.
func (j *Judge) ValidateDecision(d *domain.TradeDecision) bool {
	if j.state.HasPosition(d.Symbol) {
		j.log.Info().Str("symbol", d.Symbol).Msg("Duplicate position, decision invalid")
		return false
	}
	if d.RiskReward < minRiskReward {
		j.log.Info().Str("symbol", d.Symbol).Float64("rr", d.RiskReward).Msg("Risk/reward below floor, decision invalid")
		return false
	}
	return true
}

// PortfolioHash derives the cache key component from the current
// portfolio composition: sorted open symbols joined by commas.
func (j *Judge) PortfolioHash() string {
	positions := j.state.OpenPositions()
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	sort.Strings(symbols)
	return strings.Join(symbols, ",")
}

func (j *Judge) correlationRecheck(ctx context.Context, s vault.Survivor) *domain.TradeDecision {
	portfolio := make(map[string][]float64)
	for _, p := range j.state.OpenPositions() {
		bars, err := j.market.GetOHLCV(ctx, p.Symbol, "3mo", "1d")
		if err != nil || bars.Len() == 0 {
			continue
		}
		portfolio[p.Symbol] = bars.Closes
	}

	allowed, violators := analytics.EnforceCorrelationLimit(s.Closes, portfolio, j.settings.Phase2.MaxCorrelation)
	if allowed {
		return nil
	}

	reason := fmt.Sprintf("correlated with open positions: %s", strings.Join(violators, ", "))
	j.log.Info().Str("symbol", s.Symbol).Strs("violators", violators).Msg("Correlation veto at adjudication")
	return j.finalize(j.reject(s.Symbol, reason), j.PortfolioHash(), "Correlation Veto", "")
}

// parseVerdict maps the model's JSON to a TradeDecision and applies the
// hard business-rule overrides. An approval that fails any rule is
// forced to REJEITAR with an explanatory alert.
func (j *Judge) parseVerdict(symbol string, m map[string]interface{}) *domain.TradeDecision {
	d := &domain.TradeDecision{
		Symbol:        symbol,
		Verdict:       parseVerdictWord(jsonString(m, "decision")),
		FinalScore:    jsonFloat(m, "score"),
		Direction:     parseDirection(jsonString(m, "direction")),
		Entry:         jsonFloat(m, "entry"),
		Stop:          jsonFloat(m, "stop"),
		TP1:           jsonFloat(m, "tp1"),
		TP2:           jsonFloat(m, "tp2"),
		RiskReward:    jsonFloat(m, "risk_reward"),
		SizeHint:      parseSizeHint(jsonString(m, "size_hint")),
		Justification: jsonString(m, "justification"),
		Alerts:        jsonStrings(m, "alerts"),
		ValidityHours: jsonFloat(m, "validity_hours"),
		Timestamp:     time.Now(),
	}
	if d.RiskReward == 0 {
		d.RiskReward = jsonFloat(m, "rr")
	}

	threshold := j.settings.AI.JudgeThreshold
	if d.Verdict == domain.VerdictApprove && d.FinalScore < threshold {
		j.override(d, fmt.Sprintf("Nota %.1f abaixo do threshold %.0f", d.FinalScore, threshold))
	}
	if d.Verdict == domain.VerdictApprove && d.RiskReward < minRiskReward {
		j.override(d, fmt.Sprintf("Risco/retorno %.2f abaixo do mínimo %.1f", d.RiskReward, minRiskReward))
	}
	if d.Verdict == domain.VerdictApprove {
		wrongSide := (d.Direction == domain.DirectionLong && d.Stop >= d.Entry) ||
			(d.Direction == domain.DirectionShort && d.Stop <= d.Entry)
		if wrongSide {
			j.override(d, fmt.Sprintf("Stop %.2f do lado errado da entrada %.2f para %s", d.Stop, d.Entry, d.Direction))
		}
	}

	return d
}

func (j *Judge) override(d *domain.TradeDecision, reason string) {
	j.log.Info().Str("symbol", d.Symbol).Str("reason", reason).Msg("Business rule override: forcing rejection")
	d.Verdict = domain.VerdictReject
	d.Alerts = append(d.Alerts, reason)
}

// finalize audits, caches and logs the decision before returning it.
func (j *Judge) finalize(d *domain.TradeDecision, portfolioHash, origin, prompt string) *domain.TradeDecision {
	j.auditEntry(d, origin, prompt)
	if err := j.decisions.CacheDecision(d, portfolioHash); err != nil {
		j.log.Error().Err(err).Str("symbol", d.Symbol).Msg("Failed to cache decision")
	}
	if err := j.decisions.LogDecision(d); err != nil {
		j.log.Error().Err(err).Str("symbol", d.Symbol).Msg("Failed to log decision")
	}
	return d
}

func (j *Judge) auditEntry(d *domain.TradeDecision, origin, prompt string) {
	if err := j.audit.Append(store.AuditEntry{
		Symbol:    d.Symbol,
		Origin:    origin,
		Prompt:    prompt,
		Result:    string(d.Verdict) + ": " + d.Justification,
		Score:     d.FinalScore,
		Direction: string(d.Direction),
		Timestamp: time.Now(),
	}); err != nil {
		j.log.Error().Err(err).Str("symbol", d.Symbol).Msg("Failed to append audit entry")
	}
}

func (j *Judge) reject(symbol, reason string) *domain.TradeDecision {
	return &domain.TradeDecision{
		Symbol:        symbol,
		Verdict:       domain.VerdictReject,
		Direction:     domain.DirectionNeutral,
		SizeHint:      domain.SizeNormal,
		Justification: reason,
		Timestamp:     time.Now(),
	}
}

func (j *Judge) buildPrompt(s vault.Survivor, newsText string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the final adjudicator for an autonomous equities engine. Decide whether to trade %s today.\n\n", s.Symbol)
	fmt.Fprintf(&b, "Screener: score=%.1f bias=%s summary=%q\n", s.Screener.Score, s.Screener.Bias, s.Screener.Summary)

	if ts := s.Technical; ts != nil {
		fmt.Fprintf(&b, "Technical: price=%.2f RSI=%.1f ATR=%.2f trend=%s supertrend_bullish=%t ema20=%.2f ema50=%.2f volume_ratio=%.2f support=%.2f resistance=%.2f\n",
			ts.Price, ts.RSI, ts.ATR, ts.Trend, ts.SuperTrendBullish, ts.EMA20, ts.EMA50, ts.VolumeRatio, ts.Support, ts.Resistance)
	}
	if m := s.Metrics; m != nil {
		fmt.Fprintf(&b, "Risk: beta=%.2f vol20d=%.1f%% vol60d=%.1f%% sharpe=%.2f max_dd=%.2f VaR95=%.2f%% CVaR95=%.2f%%\n",
			m.Beta, m.Vol20d, m.Vol60d, m.Sharpe, m.MaxDrawdown, m.VaR95, m.CVaR95)
	}
	fmt.Fprintf(&b, "Sizing multiplier from beta analysis: %.2f\n", s.BetaMultiplier)

	positions := j.state.OpenPositions()
	if len(positions) > 0 {
		b.WriteString("Open portfolio: ")
		for i, p := range positions {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s(%s)", p.Symbol, p.Direction)
		}
		b.WriteString(". The candidate cleared the pairwise correlation limit against all of them.\n")
	} else {
		b.WriteString("Open portfolio: empty.\n")
	}

	if newsText != "" {
		fmt.Fprintf(&b, "\nNews context:\n%s\n", newsText)
	}

	b.WriteString("\nRespond with ONLY a JSON object:\n")
	b.WriteString(`{"decision": "APROVAR|REJEITAR|AGUARDAR", "score": <0-10>, "direction": "LONG|SHORT|NEUTRO", ` +
		`"entry": <price>, "stop": <price>, "tp1": <price>, "tp2": <price>, "risk_reward": <ratio>, ` +
		`"size_hint": "NORMAL|REDUZIDO|MÍNIMO", "justification": "<short>", "alerts": ["<risk notes>"], "validity_hours": <hours>}`)

	return b.String()
}

func parseVerdictWord(s string) domain.Verdict {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APROVAR":
		return domain.VerdictApprove
	case "AGUARDAR":
		return domain.VerdictWait
	default:
		return domain.VerdictReject
	}
}

func parseDirection(s string) domain.Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG":
		return domain.DirectionLong
	case "SHORT":
		return domain.DirectionShort
	default:
		return domain.DirectionNeutral
	}
}

func parseImpactWord(s string) domain.NewsImpact {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func parseActionWord(s string) domain.NewsAction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
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

func parseSizeHint(s string) domain.SizeHint {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REDUZIDO":
		return domain.SizeReduced
	case "MÍNIMO", "MINIMO":
		return domain.SizeMinimum
	default:
		return domain.SizeNormal
	}
}

func jsonFloat(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func jsonString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func jsonStrings(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
