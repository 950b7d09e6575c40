// Package orchestrator owns the trading-day clock: it schedules the
// pre-market scan, the decision pipeline, entry-fill polling and the
// session rollover, and it short-circuits everything behind the kill
// switch and market-hours gates.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/analytics"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/execution"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/phases/screener"
	"github.com/aristath/vigil/internal/phases/vault"
	"github.com/aristath/vigil/internal/state"
)

// historyPeriod is the lookback fetched for technical snapshots.
const historyPeriod = "3mo"

// pendingPollSpec polls resting entry orders for fills.
const pendingPollSpec = "*/30 * * * * *"

// rolloverSpec runs the session rollover just after midnight.
const rolloverSpec = "0 5 0 * * *"

// stopDeadline bounds how long Stop waits for running jobs.
const stopDeadline = 15 * time.Second

// CandidateGenerator is the phase 0 surface.
type CandidateGenerator interface {
	GenerateDailyBuzz(ctx context.Context) []domain.Candidate
	ApplyFilters(ctx context.Context, candidates []domain.Candidate) []domain.Candidate
}

// CandidateScreener is the phase 1 surface.
type CandidateScreener interface {
	FilterDuplicates(inputs []screener.Input) []screener.Input
	ScreenBatch(ctx context.Context, inputs []screener.Input) []domain.ScreenerResult
}

// RiskVault is the phase 2 surface.
type RiskVault interface {
	Evaluate(ctx context.Context, candidates []vault.Candidate) []vault.Survivor
}

// Adjudicator is the phase 3 surface.
type Adjudicator interface {
	Adjudicate(ctx context.Context, s vault.Survivor) *domain.TradeDecision
	ValidateDecision(d *domain.TradeDecision) bool
}

// Trader is the phase 4 surface.
type Trader interface {
	Execute(ctx context.Context, plan execution.Plan) (*domain.PositionSize, error)
	CheckPendingEntries(ctx context.Context)
}

// DecisionCache is the slice of the decision store the rollover needs.
type DecisionCache interface {
	ClearOldCache(hours float64) (int64, error)
}

// Orchestrator wires the phases to the trading-day schedule.
type Orchestrator struct {
	buzz      CandidateGenerator
	screener  CandidateScreener
	vault     RiskVault
	judge     Adjudicator
	trader    Trader
	market    market.Data
	state     *state.Core
	decisions DecisionCache
	settings  *config.Settings
	log       zerolog.Logger
	now       func() time.Time

	cron       *cron.Cron
	candidates []domain.Candidate // pre-market survivors awaiting the pipeline
}

// New wires the orchestrator.
func New(gen CandidateGenerator, scr CandidateScreener, rv RiskVault, adj Adjudicator, tr Trader, md market.Data, core *state.Core, decisions DecisionCache, settings *config.Settings, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		buzz:      gen,
		screener:  scr,
		vault:     rv,
		judge:     adj,
		trader:    tr,
		market:    md,
		state:     core,
		decisions: decisions,
		settings:  settings,
		log:       log.With().Str("component", "orchestrator").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides the wall clock, used by tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Start registers the schedule and launches the cron loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.cron = cron.New(cron.WithSeconds())

	jobs := []struct {
		spec string
		name string
		fn   func()
	}{
		{weekdaySpec(o.settings.Schedule.PreMarket), "pre_market", func() { o.RunPreMarket(ctx) }},
		{weekdaySpec(o.settings.Schedule.Pipeline), "pipeline", func() { o.RunPipeline(ctx) }},
		{pendingPollSpec, "pending_entries", func() { o.pollPendingEntries(ctx) }},
		{rolloverSpec, "rollover", o.RunRollover},
	}
	for _, j := range jobs {
		if _, err := o.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", j.name, err)
		}
		o.log.Info().Str("job", j.name).Str("spec", j.spec).Msg("Job scheduled")
	}

	o.cron.Start()
	o.log.Info().Msg("Orchestrator started")
	return nil
}

// Stop halts the schedule, waiting up to the soft deadline for running
// jobs to drain.
func (o *Orchestrator) Stop() {
	if o.cron == nil {
		return
	}
	done := o.cron.Stop()
	select {
	case <-done.Done():
		o.log.Info().Msg("Orchestrator stopped")
	case <-time.After(stopDeadline):
		o.log.Warn().Msg("Orchestrator stop deadline exceeded, abandoning running jobs")
	}
}

// RunPreMarket runs phase 0 and parks the filtered candidates for the
// pipeline.
func (o *Orchestrator) RunPreMarket(ctx context.Context) {
	if o.state.KillSwitchActive() {
		o.log.Warn().Str("reason", o.state.KillReason()).Msg("Kill switch active, skipping pre-market scan")
		return
	}

	raw := o.buzz.GenerateDailyBuzz(ctx)
	o.candidates = o.buzz.ApplyFilters(ctx, raw)
	o.log.Info().
		Int("raw", len(raw)).
		Int("filtered", len(o.candidates)).
		Msg("Pre-market scan complete")
}

// RunPipeline drives phases 1 through 4 over the pre-market candidates.
func (o *Orchestrator) RunPipeline(ctx context.Context) {
	if o.state.KillSwitchActive() {
		o.log.Warn().Str("reason", o.state.KillReason()).Msg("Kill switch active, skipping pipeline")
		return
	}
	if !o.marketOpen() {
		o.log.Info().Msg("Market closed, skipping pipeline")
		return
	}
	if !o.state.CheckDrawdownLimits() {
		o.log.Warn().Msg("Drawdown limits reached, no new entries today")
		return
	}

	candidates := o.candidates
	if len(candidates) == 0 {
		o.log.Info().Msg("No pre-market candidates, rescanning")
		o.RunPreMarket(ctx)
		candidates = o.candidates
	}
	if len(candidates) == 0 {
		o.log.Info().Msg("Nothing to trade today")
		return
	}

	inputs, lookup := o.buildScreenerInputs(ctx, candidates)
	inputs = o.screener.FilterDuplicates(inputs)
	results := o.screener.ScreenBatch(ctx, inputs)

	vaultIn := o.toVaultCandidates(results, lookup)
	survivors := o.vault.Evaluate(ctx, vaultIn)

	entered := 0
	for _, s := range survivors {
		decision := o.judge.Adjudicate(ctx, s)
		if !decision.Approved() || !o.judge.ValidateDecision(decision) {
			continue
		}

		plan := o.buildPlan(decision, s, lookup[s.Symbol])
		size, err := o.trader.Execute(ctx, plan)
		if err != nil {
			o.log.Warn().Err(err).Str("symbol", s.Symbol).Msg("Execution refused")
			continue
		}
		entered++
		o.log.Info().
			Str("symbol", s.Symbol).
			Int("shares", size.Shares).
			Float64("value", size.PositionValue).
			Msg("Entry placed")

		if o.state.KillSwitchActive() {
			o.log.Warn().Msg("Kill switch tripped mid-pipeline, halting entries")
			break
		}
	}

	o.candidates = nil
	o.log.Info().
		Int("screened", len(results)).
		Int("survivors", len(survivors)).
		Int("entered", entered).
		Msg("Pipeline complete")
}

// RunRollover starts the new session: daily stats reset and cache
// expiry.
func (o *Orchestrator) RunRollover() {
	o.state.RollOverDay()
	if n, err := o.decisions.ClearOldCache(o.settings.AI.CacheExpiryHours); err != nil {
		o.log.Warn().Err(err).Msg("Cache cleanup failed")
	} else if n > 0 {
		o.log.Info().Int64("expired", n).Msg("Decision cache cleaned")
	}
	o.candidates = nil
	o.log.Info().Msg("Session rolled over")
}

// pipelineInput pairs a phase 0 candidate with its market context.
type pipelineInput struct {
	candidate domain.Candidate
	quote     *market.Quote
	technical *analytics.TechnicalSnapshot
}

// buildScreenerInputs fetches the quote and technical snapshot for each
// candidate. Candidates whose market data is unavailable are dropped.
func (o *Orchestrator) buildScreenerInputs(ctx context.Context, candidates []domain.Candidate) ([]screener.Input, map[string]pipelineInput) {
	lookup := make(map[string]pipelineInput, len(candidates))
	inputs := make([]screener.Input, 0, len(candidates))

	for _, c := range candidates {
		q, err := o.market.GetQuote(ctx, c.Symbol)
		if err != nil {
			o.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("Quote unavailable, dropping candidate")
			continue
		}

		bars, err := o.market.GetOHLCV(ctx, c.Symbol, historyPeriod, "1d")
		if err != nil {
			o.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("History unavailable, dropping candidate")
			continue
		}
		snapshot, err := analytics.BuildTechnicalSnapshot(bars, o.settings.Technical)
		if err != nil {
			o.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("Technical snapshot failed, dropping candidate")
			continue
		}

		lookup[c.Symbol] = pipelineInput{candidate: c, quote: q, technical: snapshot}
		inputs = append(inputs, screener.Input{
			Candidate: c,
			Quote:     q,
			Technical: snapshot,
			News:      c.News,
		})
	}
	return inputs, lookup
}

// toVaultCandidates converts passing screener results into vault input.
func (o *Orchestrator) toVaultCandidates(results []domain.ScreenerResult, lookup map[string]pipelineInput) []vault.Candidate {
	var out []vault.Candidate
	for _, r := range results {
		if !r.Passed {
			continue
		}
		in, ok := lookup[r.Symbol]
		if !ok {
			continue
		}
		out = append(out, vault.Candidate{
			Symbol:    r.Symbol,
			Screener:  r,
			Technical: in.technical,
			News:      in.candidate.News,
		})
	}
	return out
}

func (o *Orchestrator) buildPlan(d *domain.TradeDecision, s vault.Survivor, in pipelineInput) execution.Plan {
	plan := execution.Plan{
		Decision:       d,
		Tier:           domain.TierUnknown,
		BetaMultiplier: s.BetaMultiplier,
		Sector:         "Unknown",
	}
	if in.technical != nil {
		plan.ATR = in.technical.ATR
		plan.SwingLow = in.technical.Support
		plan.SwingHigh = in.technical.Resistance
	}
	if in.candidate.Tier != "" {
		plan.Tier = in.candidate.Tier
	}
	if in.quote != nil && in.quote.Sector != "" {
		plan.Sector = in.quote.Sector
	}
	return plan
}

func (o *Orchestrator) pollPendingEntries(ctx context.Context) {
	if !o.marketOpen() {
		return
	}
	o.trader.CheckPendingEntries(ctx)
}

// marketOpen reports whether now falls inside the regular session.
func (o *Orchestrator) marketOpen() bool {
	now := o.now()
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	open, err1 := clockOn(o.settings.Schedule.MarketOpen, now)
	close_, err2 := clockOn(o.settings.Schedule.MarketClose, now)
	if err1 != nil || err2 != nil {
		return false
	}
	return !now.Before(open) && now.Before(close_)
}

// weekdaySpec converts an HH:MM wall-clock trigger into a six-field
// cron spec firing Monday through Friday.
func weekdaySpec(hhmm string) string {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return "0 0 0 * * 1-5"
	}
	hh := strings.TrimLeft(parts[0], "0")
	mm := strings.TrimLeft(parts[1], "0")
	if hh == "" {
		hh = "0"
	}
	if mm == "" {
		mm = "0"
	}
	return fmt.Sprintf("0 %s %s * * 1-5", mm, hh)
}

func clockOn(hhmm string, day time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
