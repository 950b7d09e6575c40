// Package screener implements phase 1: cheap AI triage of the buzz
// factory's candidates.
package screener

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/ai"
	"github.com/aristath/vigil/internal/analytics"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/state"
)

// Completer is the slice of the AI gateway the screener needs.
type Completer interface {
	Complete(ctx context.Context, req ai.Request) ai.Response
}

// Input bundles everything the screener prompt needs for one candidate.
type Input struct {
	Candidate domain.Candidate
	Quote     *market.Quote
	Technical *analytics.TechnicalSnapshot
	News      string
}

// Screener triages candidates through the cheap AI provider.
type Screener struct {
	gateway  Completer
	state    *state.Core
	settings *config.Settings
	log      zerolog.Logger
}

// New wires the screener.
func New(gateway Completer, core *state.Core, settings *config.Settings, log zerolog.Logger) *Screener {
	return &Screener{
		gateway:  gateway,
		state:    core,
		settings: settings,
		log:      log.With().Str("component", "screener").Logger(),
	}
}

// FilterDuplicates drops any input whose symbol already has an open
// position.
func (s *Screener) FilterDuplicates(inputs []Input) []Input {
	out := make([]Input, 0, len(inputs))
	for _, in := range inputs {
		if s.state.HasPosition(in.Candidate.Symbol) {
			s.log.Debug().Str("symbol", in.Candidate.Symbol).Msg("Already holding, skipping")
			continue
		}
		out = append(out, in)
	}
	return out
}

// ScreenBatch runs the triage prompt for every input through a small
// worker pool and returns results ordered by score descending. An AI
// failure for one symbol yields a failed result, never an error for the
// batch.
func (s *Screener) ScreenBatch(ctx context.Context, inputs []Input) []domain.ScreenerResult {
	if len(inputs) == 0 {
		return nil
	}

	workers := s.settings.AI.ScreenerWorkers
	if workers <= 0 {
		workers = 1
	}

	results := make([]domain.ScreenerResult, len(inputs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.screenOne(ctx, inputs[i])
			}
		}()
	}
	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	s.log.Info().Int("screened", len(results)).Int("passed", passed).Msg("Screener batch complete")

	return results
}

func (s *Screener) screenOne(ctx context.Context, in Input) domain.ScreenerResult {
	symbol := in.Candidate.Symbol

	resp := s.gateway.Complete(ctx, ai.Request{
		Prompt:      s.buildPrompt(in),
		Preferred:   ai.GeminiFlash,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if !resp.Success || resp.ParsedJSON == nil {
		s.log.Warn().Str("symbol", symbol).Str("error", resp.Error).Msg("Screening failed")
		return failedResult(symbol, "screening failed: "+resp.Error)
	}

	result := domain.ScreenerResult{
		Symbol:     symbol,
		Score:      jsonFloat(resp.ParsedJSON, "score"),
		Summary:    jsonString(resp.ParsedJSON, "summary"),
		Bias:       parseBias(jsonString(resp.ParsedJSON, "bias")),
		Confidence: jsonFloat(resp.ParsedJSON, "confidence"),
		Timestamp:  time.Now(),
	}
	result.Passed = result.Score >= s.settings.AI.ScreenerThreshold

	s.log.Debug().
		Str("symbol", symbol).
		Float64("score", result.Score).
		Bool("passed", result.Passed).
		Msg("Candidate screened")

	return result
}

func (s *Screener) buildPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a fast equity triage analyst. Evaluate %s as a day/swing trade candidate.\n\n", in.Candidate.Symbol)
	fmt.Fprintf(&b, "Candidate surfaced by: %s (%s)\n", in.Candidate.Source, in.Candidate.Reason)

	if q := in.Quote; q != nil {
		fmt.Fprintf(&b, "\nMarket snapshot: price=%.2f change=%.2f%% volume=%.0f avg_volume=%.0f market_cap=%.0f sector=%s\n",
			q.Price, q.ChangePct, q.Volume, q.AvgVolume, q.MarketCap, q.Sector)
	}
	if ts := in.Technical; ts != nil {
		fmt.Fprintf(&b, "Technical snapshot: RSI=%.1f ATR=%.2f trend=%s supertrend_bullish=%t ema20=%.2f ema50=%.2f volume_ratio=%.2f support=%.2f resistance=%.2f\n",
			ts.RSI, ts.ATR, ts.Trend, ts.SuperTrendBullish, ts.EMA20, ts.EMA50, ts.VolumeRatio, ts.Support, ts.Resistance)
	}
	if in.News != "" {
		fmt.Fprintf(&b, "\nRecent news:\n%s\n", in.News)
	}

	b.WriteString("\nRespond with ONLY a JSON object:\n")
	b.WriteString(`{"score": <0-10>, "summary": "<one sentence>", "bias": "LONG|SHORT|NEUTRO", "confidence": <0-1>}`)

	return b.String()
}

func failedResult(symbol, reason string) domain.ScreenerResult {
	return domain.ScreenerResult{
		Symbol:    symbol,
		Score:     0,
		Summary:   reason,
		Bias:      domain.DirectionNeutral,
		Passed:    false,
		Timestamp: time.Now(),
	}
}

func parseBias(s string) domain.Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG":
		return domain.DirectionLong
	case "SHORT":
		return domain.DirectionShort
	default:
		return domain.DirectionNeutral
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
