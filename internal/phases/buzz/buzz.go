// Package buzz implements phase 0: multi-source candidate generation
// and the hard eligibility filters applied before any AI spend.
package buzz

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/internal/news"
	"github.com/aristath/vigil/internal/universe"
)

const (
	watchlistBaseScore = 5.0
	catalystBaseScore  = 8.0
	headlineScanLimit  = 50
)

// Headlines is the slice of the news aggregator the catalyst scan needs.
type Headlines interface {
	MarketHeadlines(ctx context.Context, max int) ([]news.Article, error)
}

// Factory generates the daily candidate list.
type Factory struct {
	market   market.Data
	earnings market.EarningsCalendar
	news     Headlines
	universe *universe.Universe
	settings *config.Settings
	log      zerolog.Logger
	now      func() time.Time

	// ForceGaps disables the gap scanner's session-time gate, used for
	// replays and manual runs outside the normal windows.
	ForceGaps bool
}

// NewFactory wires the buzz factory.
func NewFactory(md market.Data, ec market.EarningsCalendar, headlines Headlines, u *universe.Universe, settings *config.Settings, log zerolog.Logger) *Factory {
	return &Factory{
		market:   md,
		earnings: ec,
		news:     headlines,
		universe: u,
		settings: settings,
		log:      log.With().Str("component", "buzz").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the wall clock, used by tests.
func (f *Factory) SetClock(now func() time.Time) { f.now = now }

// GenerateDailyBuzz aggregates candidates from all four sources, dedups
// by symbol with the earlier source winning, and returns the top
// max_candidates by buzz score.
func (f *Factory) GenerateDailyBuzz(ctx context.Context) []domain.Candidate {
	var all []domain.Candidate
	all = append(all, f.scanWatchlist(ctx)...)
	all = append(all, f.scanVolumeSpikes(ctx)...)
	all = append(all, f.scanGaps(ctx)...)
	all = append(all, f.scanNewsCatalysts(ctx)...)

	seen := make(map[string]bool, len(all))
	deduped := make([]domain.Candidate, 0, len(all))
	for _, c := range all {
		if seen[c.Symbol] {
			continue
		}
		seen[c.Symbol] = true
		deduped = append(deduped, c)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].BuzzScore > deduped[j].BuzzScore
	})

	if max := f.settings.Phase0.MaxCandidates; len(deduped) > max {
		deduped = deduped[:max]
	}

	f.log.Info().Int("candidates", len(deduped)).Msg("Daily buzz generated")
	return deduped
}

// ApplyFilters is the gate before phase 1. Order matters: the Friday
// block short-circuits everything, then each candidate must have market
// data, clear the market-cap floor, clear liquidity, and sit clear of
// an earnings date.
func (f *Factory) ApplyFilters(ctx context.Context, candidates []domain.Candidate) []domain.Candidate {
	if f.settings.Phase0.FridayBlock && f.now().Weekday() == time.Friday {
		f.log.Info().Msg("Friday block active, skipping pipeline")
		return nil
	}

	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		q, err := f.market.GetQuote(ctx, c.Symbol)
		if err != nil {
			f.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("No market data, dropping candidate")
			continue
		}

		c.MarketCap = q.MarketCap
		if q.MarketCap < f.settings.Tiers.Tier2.MinMarketCap {
			f.log.Debug().Str("symbol", c.Symbol).Float64("market_cap", q.MarketCap).Msg("Below market-cap floor")
			continue
		}
		if q.MarketCap >= f.settings.Tiers.Tier1.MinMarketCap {
			c.Tier = domain.TierLarge
		} else {
			c.Tier = domain.TierMid
		}

		liquid, err := f.market.CheckLiquidity(ctx, c.Symbol)
		if err != nil || !liquid {
			f.log.Debug().Str("symbol", c.Symbol).Msg("Failed liquidity check")
			continue
		}

		near, _ := f.earnings.EarningsWithin(ctx, c.Symbol, f.settings.Phase0.EarningsProximityDays)
		if near {
			f.log.Info().Str("symbol", c.Symbol).Msg("Earnings too close, dropping candidate")
			continue
		}

		out = append(out, c)
	}
	return out
}

func (f *Factory) scanWatchlist(ctx context.Context) []domain.Candidate {
	var out []domain.Candidate
	for _, symbol := range f.universe.Watchlist {
		q, err := f.market.GetQuote(ctx, symbol)
		if err != nil {
			f.log.Debug().Err(err).Str("symbol", symbol).Msg("Watchlist quote failed")
			continue
		}
		if q.MarketCap < f.settings.Tiers.Tier1.MinMarketCap {
			continue
		}
		out = append(out, domain.Candidate{
			Symbol:     symbol,
			Source:     domain.SourceWatchlist,
			BuzzScore:  watchlistBaseScore,
			Reason:     "tier 1 watchlist",
			DetectedAt: f.now(),
			Tier:       domain.TierLarge,
			MarketCap:  q.MarketCap,
		})
	}
	return out
}

func (f *Factory) scanVolumeSpikes(ctx context.Context) []domain.Candidate {
	cfg := f.settings.Phase0
	var out []domain.Candidate
	for _, symbol := range f.universe.ScanList {
		q, err := f.market.GetQuote(ctx, symbol)
		if err != nil || q.AvgVolume <= 0 {
			continue
		}

		ratio := q.Volume / q.AvgVolume
		dollarVolume := q.Volume * q.Price
		if ratio < cfg.VolumeSpikeMultiplier || dollarVolume < cfg.SpikeMinDollarVolume {
			continue
		}

		tier := domain.TierMid
		if q.MarketCap >= f.settings.Tiers.Tier1.MinMarketCap {
			tier = domain.TierLarge
		}
		out = append(out, domain.Candidate{
			Symbol:     symbol,
			Source:     domain.SourceVolumeSpike,
			BuzzScore:  7 + math.Min(ratio, 5),
			Reason:     "volume spike",
			DetectedAt: f.now(),
			Tier:       tier,
			MarketCap:  q.MarketCap,
		})
	}
	return out
}

func (f *Factory) scanGaps(ctx context.Context) []domain.Candidate {
	if !f.ForceGaps && !f.inGapWindow() {
		return nil
	}

	cfg := f.settings.Phase0
	var out []domain.Candidate
	for _, symbol := range f.universe.ScanList {
		q, err := f.market.GetQuote(ctx, symbol)
		if err != nil || q.PreviousClose <= 0 {
			continue
		}

		gap := (q.Price - q.PreviousClose) / q.PreviousClose
		if math.Abs(gap) < cfg.GapThreshold {
			continue
		}

		out = append(out, domain.Candidate{
			Symbol:     symbol,
			Source:     domain.SourceGap,
			BuzzScore:  8 + math.Min(math.Abs(gap)*10, 5),
			Reason:     "overnight gap",
			DetectedAt: f.now(),
			Tier:       domain.TierUnknown,
			MarketCap:  q.MarketCap,
		})
	}
	return out
}

// inGapWindow reports whether now falls in the pre-market window or the
// first 30 minutes after the open, the only sessions where an overnight
// gap reading is meaningful.
func (f *Factory) inGapWindow() bool {
	now := f.now()
	preMarket, err1 := parseClock(f.settings.Schedule.PreMarket, now)
	open, err2 := parseClock(f.settings.Schedule.MarketOpen, now)
	if err1 != nil || err2 != nil {
		return false
	}

	if !now.Before(preMarket) && now.Before(open) {
		return true
	}
	return !now.Before(open) && now.Before(open.Add(30*time.Minute))
}

func parseClock(hhmm string, day time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
