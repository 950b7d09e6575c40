// Package vault implements phase 2: the quantitative veto layer that
// stands between the screener and any expensive AI adjudication.
package vault

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/analytics"
	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/state"
)

// historyPeriod is the lookback window fetched for every correlation
// and risk computation: roughly 60 trading days.
const historyPeriod = "3mo"

// estimatedPositionFraction approximates the capital a new position
// would consume when checking sector headroom before sizing has run.
const estimatedPositionFraction = 0.10

// Candidate is a screener survivor entering the vault.
type Candidate struct {
	Symbol    string
	Screener  domain.ScreenerResult
	Technical *analytics.TechnicalSnapshot
	News      string
}

// Survivor is a candidate that cleared every quantitative veto. It
// carries its risk metrics and price history forward so the judge does
// not refetch them.
type Survivor struct {
	Candidate
	Metrics        *domain.RiskMetrics
	BetaMultiplier float64
	Closes         []float64
}

// Vault runs the phase 2 vetoes.
type Vault struct {
	market   market.Data
	state    *state.Core
	settings *config.Settings
	log      zerolog.Logger
}

// New wires the vault.
func New(md market.Data, core *state.Core, settings *config.Settings, log zerolog.Logger) *Vault {
	return &Vault{
		market:   md,
		state:    core,
		settings: settings,
		log:      log.With().Str("component", "vault").Logger(),
	}
}

// Evaluate applies, in order per candidate: correlation veto against the
// open portfolio, beta-multiplier rejection, and sector-exposure veto.
// Rejections are logged and skipped, never fatal for the batch.
func (v *Vault) Evaluate(ctx context.Context, candidates []Candidate) []Survivor {
	if len(candidates) == 0 {
		return nil
	}

	benchmark := v.fetchCloses(ctx, v.settings.Phase2.Benchmark)
	portfolio := v.portfolioCloses(ctx)

	var out []Survivor
	for _, c := range candidates {
		closes := v.fetchCloses(ctx, c.Symbol)
		if len(closes) == 0 {
			v.log.Warn().Str("symbol", c.Symbol).Msg("No price history, rejecting")
			continue
		}

		allowed, violators := analytics.EnforceCorrelationLimit(closes, portfolio, v.settings.Phase2.MaxCorrelation)
		if !allowed {
			v.log.Info().
				Str("symbol", c.Symbol).
				Strs("violators", violators).
				Msg("Correlation veto")
			continue
		}

		metrics, err := analytics.ComputeRiskMetrics(c.Symbol, closes, benchmark)
		if err != nil {
			v.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("Risk metrics failed, rejecting")
			continue
		}

		volumeRatio := 0.0
		if c.Technical != nil {
			volumeRatio = c.Technical.VolumeRatio
		}
		multiplier := analytics.BetaMultiplier(metrics.Beta, volumeRatio,
			v.settings.Phase2.BetaNormal, v.settings.Phase2.BetaAggressive)
		if multiplier == 0 {
			v.log.Info().
				Str("symbol", c.Symbol).
				Float64("beta", metrics.Beta).
				Float64("volume_ratio", volumeRatio).
				Msg("Beta reject: high beta without elevated volume")
			continue
		}

		sector := v.sectorOf(ctx, c.Symbol)
		estimated := v.state.Capital() * estimatedPositionFraction
		if !v.state.CheckSectorExposure(sector, estimated) {
			v.log.Info().Str("symbol", c.Symbol).Str("sector", sector).Msg("Sector exposure veto")
			continue
		}

		out = append(out, Survivor{
			Candidate:      c,
			Metrics:        metrics,
			BetaMultiplier: multiplier,
			Closes:         closes,
		})
	}

	v.log.Info().Int("in", len(candidates)).Int("out", len(out)).Msg("Vault evaluation complete")
	return out
}

// portfolioCloses builds the symbol-to-close-series map for every open
// position, skipping any symbol whose history is unavailable.
func (v *Vault) portfolioCloses(ctx context.Context) map[string][]float64 {
	out := make(map[string][]float64)
	for _, p := range v.state.OpenPositions() {
		closes := v.fetchCloses(ctx, p.Symbol)
		if len(closes) == 0 {
			v.log.Warn().Str("symbol", p.Symbol).Msg("No history for open position, skipping in correlation check")
			continue
		}
		out[p.Symbol] = closes
	}
	return out
}

func (v *Vault) fetchCloses(ctx context.Context, symbol string) []float64 {
	if symbol == "" {
		return nil
	}
	bars, err := v.market.GetOHLCV(ctx, symbol, historyPeriod, "1d")
	if err != nil {
		v.log.Warn().Err(err).Str("symbol", symbol).Msg("OHLCV fetch failed")
		return nil
	}
	return bars.Closes
}

func (v *Vault) sectorOf(ctx context.Context, symbol string) string {
	q, err := v.market.GetQuote(ctx, symbol)
	if err != nil || q.Sector == "" {
		return "Unknown"
	}
	return q.Sector
}
