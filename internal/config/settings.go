package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Risk holds global risk limits.
type Risk struct {
	MaxPositions       int     `yaml:"max_positions"`
	RiskPerTrade       float64 `yaml:"risk_per_trade"`
	MaxDrawdownDaily   float64 `yaml:"max_drawdown_daily"`
	MaxDrawdownTotal   float64 `yaml:"max_drawdown_total"`
	MaxCorrelation     float64 `yaml:"max_correlation"`
	CapitalHistoryDays int     `yaml:"capital_history_days"`
}

// Phase0 tunes the buzz factory.
type Phase0 struct {
	VolumeSpikeMultiplier float64 `yaml:"volume_spike_multiplier"`
	SpikeMinDollarVolume  float64 `yaml:"spike_min_dollar_volume"`
	GapThreshold          float64 `yaml:"gap_threshold"`
	FridayBlock           bool    `yaml:"friday_block"`
	EarningsProximityDays int     `yaml:"earnings_proximity_days"`
	MaxCandidates         int     `yaml:"max_candidates"`
}

// Phase2 tunes the quantitative veto layer.
type Phase2 struct {
	WeeklyDDDefensive float64 `yaml:"weekly_dd_defensive"`
	DailyDDDefensive  float64 `yaml:"daily_dd_defensive"`
	SectorExposureMax float64 `yaml:"sector_exposure_max"`
	BetaNormal        float64 `yaml:"beta_normal"`
	BetaAggressive    float64 `yaml:"beta_aggressive"`
	MaxCorrelation    float64 `yaml:"max_correlation"`
	Benchmark         string  `yaml:"benchmark"`
}

// Phase5 tunes the guardian loops. Intervals and windows are in seconds.
type Phase5 struct {
	WatchdogInterval   int     `yaml:"watchdog_interval"`
	SentinelInterval   int     `yaml:"sentinel_interval"`
	PoisonPillInterval int     `yaml:"poison_pill_interval"`
	FlashCrashWindow   int     `yaml:"flash_crash_window"`
	PanicDrawdown      float64 `yaml:"panic_drawdown"`
	BreakevenHour      int     `yaml:"breakeven_hour"`
}

// Alerts tunes alert thresholds.
type Alerts struct {
	FlashCrashThreshold float64 `yaml:"flash_crash_threshold"`
}

// Technical tunes indicator periods.
type Technical struct {
	RSIPeriod            int     `yaml:"rsi_period"`
	ATRPeriod            int     `yaml:"atr_period"`
	SuperTrendPeriod     int     `yaml:"supertrend_period"`
	SuperTrendMultiplier float64 `yaml:"supertrend_multiplier"`
	ATRStopMultiplier    float64 `yaml:"atr_stop_multiplier"`
}

// TierConfig describes one market-cap tier.
type TierConfig struct {
	MinMarketCap       float64 `yaml:"min_market_cap"`
	PositionMultiplier float64 `yaml:"position_multiplier"`
}

// Tiers groups the market-cap tiers.
type Tiers struct {
	Tier1 TierConfig `yaml:"tier1_large_cap"`
	Tier2 TierConfig `yaml:"tier2_mid_cap"`
}

// Liquidity holds the minimum liquidity gates.
type Liquidity struct {
	MinAvgVolume    float64 `yaml:"min_avg_volume"`
	MinDollarVolume float64 `yaml:"min_dollar_volume"`
}

// AI tunes the AI layers.
type AI struct {
	ScreenerThreshold float64 `yaml:"screener_threshold"`
	JudgeThreshold    float64 `yaml:"judge_threshold"`
	CacheExpiryHours  float64 `yaml:"cache_expiry_hours"`
	ScreenerWorkers   int     `yaml:"screener_workers"`
}

// Schedule holds the trading-day wall clock.
type Schedule struct {
	MarketOpen  string `yaml:"market_open"`  // HH:MM
	MarketClose string `yaml:"market_close"` // HH:MM
	PreMarket   string `yaml:"pre_market"`   // phase 0 trigger
	Pipeline    string `yaml:"pipeline"`     // phases 1-4 trigger
}

// Broker selects the broker adapter.
type Broker struct {
	Provider string `yaml:"provider"` // paper_local, ...
}

// News tunes the news adapters.
type News struct {
	DailyQuota       int     `yaml:"daily_quota"`
	CacheExpiryHours float64 `yaml:"cache_expiry_hours"`
}

// Settings is the typed settings document.
type Settings struct {
	Risk      Risk      `yaml:"risk"`
	Phase0    Phase0    `yaml:"phase0"`
	Phase2    Phase2    `yaml:"phase2"`
	Phase5    Phase5    `yaml:"phase5"`
	Alerts    Alerts    `yaml:"alerts"`
	Technical Technical `yaml:"technical"`
	Tiers     Tiers     `yaml:"tiers"`
	Liquidity Liquidity `yaml:"liquidity"`
	AI        AI        `yaml:"ai"`
	Schedule  Schedule  `yaml:"schedule"`
	Broker    Broker    `yaml:"broker"`
	News      News      `yaml:"news"`
}

// DefaultSettings returns the settings document with every field defaulted.
func DefaultSettings() *Settings {
	return &Settings{
		Risk: Risk{
			MaxPositions:       5,
			RiskPerTrade:       0.01,
			MaxDrawdownDaily:   0.02,
			MaxDrawdownTotal:   0.06,
			MaxCorrelation:     0.7,
			CapitalHistoryDays: 30,
		},
		Phase0: Phase0{
			VolumeSpikeMultiplier: 2.0,
			SpikeMinDollarVolume:  15_000_000,
			GapThreshold:          0.03,
			FridayBlock:           true,
			EarningsProximityDays: 5,
			MaxCandidates:         25,
		},
		Phase2: Phase2{
			WeeklyDDDefensive: 0.05,
			DailyDDDefensive:  0.03,
			SectorExposureMax: 0.20,
			BetaNormal:        2.0,
			BetaAggressive:    3.0,
			MaxCorrelation:    0.75,
			Benchmark:         "SPY",
		},
		Phase5: Phase5{
			WatchdogInterval:   60,
			SentinelInterval:   300,
			PoisonPillInterval: 1800,
			FlashCrashWindow:   300,
			PanicDrawdown:      0.04,
			BreakevenHour:      14,
		},
		Alerts: Alerts{
			FlashCrashThreshold: 0.03,
		},
		Technical: Technical{
			RSIPeriod:            14,
			ATRPeriod:            14,
			SuperTrendPeriod:     10,
			SuperTrendMultiplier: 3.0,
			ATRStopMultiplier:    2.5,
		},
		Tiers: Tiers{
			Tier1: TierConfig{MinMarketCap: 4_000_000_000, PositionMultiplier: 1.0},
			Tier2: TierConfig{MinMarketCap: 800_000_000, PositionMultiplier: 0.75},
		},
		Liquidity: Liquidity{
			MinAvgVolume:    500_000,
			MinDollarVolume: 5_000_000,
		},
		AI: AI{
			ScreenerThreshold: 7,
			JudgeThreshold:    8,
			CacheExpiryHours:  4,
			ScreenerWorkers:   3,
		},
		Schedule: Schedule{
			MarketOpen:  "09:30",
			MarketClose: "16:00",
			PreMarket:   "08:00",
			Pipeline:    "10:30",
		},
		Broker: Broker{
			Provider: "paper_local",
		},
		News: News{
			DailyQuota:       95,
			CacheExpiryHours: 4,
		},
	}
}

// LoadSettings reads the YAML settings document from path. A missing file
// yields the defaults; present fields override them.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return s, nil
}

// applyDefaults backfills zero values left by a sparse YAML document.
func (s *Settings) applyDefaults() {
	d := DefaultSettings()
	if s.Risk.MaxPositions == 0 {
		s.Risk.MaxPositions = d.Risk.MaxPositions
	}
	if s.Risk.RiskPerTrade == 0 {
		s.Risk.RiskPerTrade = d.Risk.RiskPerTrade
	}
	if s.Risk.MaxDrawdownDaily == 0 {
		s.Risk.MaxDrawdownDaily = d.Risk.MaxDrawdownDaily
	}
	if s.Risk.MaxDrawdownTotal == 0 {
		s.Risk.MaxDrawdownTotal = d.Risk.MaxDrawdownTotal
	}
	if s.Risk.MaxCorrelation == 0 {
		s.Risk.MaxCorrelation = d.Risk.MaxCorrelation
	}
	if s.Risk.CapitalHistoryDays == 0 {
		s.Risk.CapitalHistoryDays = d.Risk.CapitalHistoryDays
	}
	if s.Phase0.VolumeSpikeMultiplier == 0 {
		s.Phase0.VolumeSpikeMultiplier = d.Phase0.VolumeSpikeMultiplier
	}
	if s.Phase0.SpikeMinDollarVolume == 0 {
		s.Phase0.SpikeMinDollarVolume = d.Phase0.SpikeMinDollarVolume
	}
	if s.Phase0.GapThreshold == 0 {
		s.Phase0.GapThreshold = d.Phase0.GapThreshold
	}
	if s.Phase0.EarningsProximityDays == 0 {
		s.Phase0.EarningsProximityDays = d.Phase0.EarningsProximityDays
	}
	if s.Phase0.MaxCandidates == 0 {
		s.Phase0.MaxCandidates = d.Phase0.MaxCandidates
	}
	if s.Phase2.WeeklyDDDefensive == 0 {
		s.Phase2.WeeklyDDDefensive = d.Phase2.WeeklyDDDefensive
	}
	if s.Phase2.DailyDDDefensive == 0 {
		s.Phase2.DailyDDDefensive = d.Phase2.DailyDDDefensive
	}
	if s.Phase2.SectorExposureMax == 0 {
		s.Phase2.SectorExposureMax = d.Phase2.SectorExposureMax
	}
	if s.Phase2.BetaNormal == 0 {
		s.Phase2.BetaNormal = d.Phase2.BetaNormal
	}
	if s.Phase2.BetaAggressive == 0 {
		s.Phase2.BetaAggressive = d.Phase2.BetaAggressive
	}
	if s.Phase2.MaxCorrelation == 0 {
		s.Phase2.MaxCorrelation = d.Phase2.MaxCorrelation
	}
	if s.Phase2.Benchmark == "" {
		s.Phase2.Benchmark = d.Phase2.Benchmark
	}
	if s.Phase5.WatchdogInterval == 0 {
		s.Phase5.WatchdogInterval = d.Phase5.WatchdogInterval
	}
	if s.Phase5.SentinelInterval == 0 {
		s.Phase5.SentinelInterval = d.Phase5.SentinelInterval
	}
	if s.Phase5.PoisonPillInterval == 0 {
		s.Phase5.PoisonPillInterval = d.Phase5.PoisonPillInterval
	}
	if s.Phase5.FlashCrashWindow == 0 {
		s.Phase5.FlashCrashWindow = d.Phase5.FlashCrashWindow
	}
	if s.Phase5.PanicDrawdown == 0 {
		s.Phase5.PanicDrawdown = d.Phase5.PanicDrawdown
	}
	if s.Phase5.BreakevenHour == 0 {
		s.Phase5.BreakevenHour = d.Phase5.BreakevenHour
	}
	if s.Alerts.FlashCrashThreshold == 0 {
		s.Alerts.FlashCrashThreshold = d.Alerts.FlashCrashThreshold
	}
	if s.Technical.RSIPeriod == 0 {
		s.Technical.RSIPeriod = d.Technical.RSIPeriod
	}
	if s.Technical.ATRPeriod == 0 {
		s.Technical.ATRPeriod = d.Technical.ATRPeriod
	}
	if s.Technical.SuperTrendPeriod == 0 {
		s.Technical.SuperTrendPeriod = d.Technical.SuperTrendPeriod
	}
	if s.Technical.SuperTrendMultiplier == 0 {
		s.Technical.SuperTrendMultiplier = d.Technical.SuperTrendMultiplier
	}
	if s.Technical.ATRStopMultiplier == 0 {
		s.Technical.ATRStopMultiplier = d.Technical.ATRStopMultiplier
	}
	if s.Tiers.Tier1.MinMarketCap == 0 {
		s.Tiers.Tier1 = d.Tiers.Tier1
	}
	if s.Tiers.Tier2.MinMarketCap == 0 {
		s.Tiers.Tier2 = d.Tiers.Tier2
	}
	if s.Liquidity.MinAvgVolume == 0 {
		s.Liquidity.MinAvgVolume = d.Liquidity.MinAvgVolume
	}
	if s.Liquidity.MinDollarVolume == 0 {
		s.Liquidity.MinDollarVolume = d.Liquidity.MinDollarVolume
	}
	if s.AI.ScreenerThreshold == 0 {
		s.AI.ScreenerThreshold = d.AI.ScreenerThreshold
	}
	if s.AI.JudgeThreshold == 0 {
		s.AI.JudgeThreshold = d.AI.JudgeThreshold
	}
	if s.AI.CacheExpiryHours == 0 {
		s.AI.CacheExpiryHours = d.AI.CacheExpiryHours
	}
	if s.AI.ScreenerWorkers == 0 {
		s.AI.ScreenerWorkers = d.AI.ScreenerWorkers
	}
	if s.Schedule.MarketOpen == "" {
		s.Schedule.MarketOpen = d.Schedule.MarketOpen
	}
	if s.Schedule.MarketClose == "" {
		s.Schedule.MarketClose = d.Schedule.MarketClose
	}
	if s.Schedule.PreMarket == "" {
		s.Schedule.PreMarket = d.Schedule.PreMarket
	}
	if s.Schedule.Pipeline == "" {
		s.Schedule.Pipeline = d.Schedule.Pipeline
	}
	if s.Broker.Provider == "" {
		s.Broker.Provider = d.Broker.Provider
	}
	if s.News.DailyQuota == 0 {
		s.News.DailyQuota = d.News.DailyQuota
	}
	if s.News.CacheExpiryHours == 0 {
		s.News.CacheExpiryHours = d.News.CacheExpiryHours
	}
}
