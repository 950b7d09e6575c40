// Package analytics turns raw OHLCV series into the technical and risk
// signals the decision pipeline consumes.
package analytics

import (
	"fmt"

	"github.com/aristath/vigil/internal/config"
	"github.com/aristath/vigil/internal/market"
	"github.com/aristath/vigil/pkg/formulas"
)

// Trend classifies price action relative to the moving averages.
type Trend string

const (
	TrendUp       Trend = "uptrend"
	TrendDown     Trend = "downtrend"
	TrendSideways Trend = "sideways"
)

// TechnicalSnapshot is the full indicator read for one symbol.
type TechnicalSnapshot struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	RSI               float64 `json:"rsi"`
	ATR               float64 `json:"atr"`
	SuperTrend        float64 `json:"supertrend"`
	SuperTrendBullish bool    `json:"supertrend_bullish"`
	EMA20             float64 `json:"ema_20"`
	EMA50             float64 `json:"ema_50"`
	VolumeRatio       float64 `json:"volume_ratio"`
	DollarVolume      float64 `json:"dollar_volume"`
	Support           float64 `json:"support"`
	Resistance        float64 `json:"resistance"`
	Trend             Trend   `json:"trend"`
}

// BuildTechnicalSnapshot computes the indicator set from a daily bar
// series. It needs enough history for the slowest indicator (EMA 50);
// shorter series return an error.
func BuildTechnicalSnapshot(bars *market.OHLCV, cfg config.Technical) (*TechnicalSnapshot, error) {
	if bars.Len() < 50 {
		return nil, fmt.Errorf("insufficient history for %s: %d bars", bars.Symbol, bars.Len())
	}

	price := bars.Closes[len(bars.Closes)-1]
	snap := &TechnicalSnapshot{
		Symbol: bars.Symbol,
		Price:  price,
	}

	if rsi := formulas.CalculateRSI(bars.Closes, cfg.RSIPeriod); rsi != nil {
		snap.RSI = *rsi
	}
	if atr := formulas.CalculateATR(bars.Highs, bars.Lows, bars.Closes, cfg.ATRPeriod); atr != nil {
		snap.ATR = *atr
	}
	if st := formulas.CalculateSuperTrend(bars.Highs, bars.Lows, bars.Closes, cfg.SuperTrendPeriod, cfg.SuperTrendMultiplier); st != nil {
		snap.SuperTrend = st.Value
		snap.SuperTrendBullish = st.Bullish
	}
	if ema := formulas.CalculateEMA(bars.Closes, 20); ema != nil {
		snap.EMA20 = *ema
	}
	if ema := formulas.CalculateEMA(bars.Closes, 50); ema != nil {
		snap.EMA50 = *ema
	}
	if vr := formulas.VolumeRatio(bars.Volumes, 20); vr != nil {
		snap.VolumeRatio = *vr
	}
	if len(bars.Volumes) > 0 {
		snap.DollarVolume = price * bars.Volumes[len(bars.Volumes)-1]
	}
	if pivots := formulas.CalculatePivotLevels(bars.Highs, bars.Lows, bars.Closes, 20); pivots != nil {
		snap.Support = pivots.Support
		snap.Resistance = pivots.Resistance
	}

	snap.Trend = classifyTrend(price, bars.Closes)

	return snap, nil
}

// classifyTrend compares the last close against SMA20 and SMA50:
// above both with the fast average leading is an uptrend, below both
// with the fast average trailing is a downtrend, anything else is
// sideways.
func classifyTrend(price float64, closes []float64) Trend {
	sma20 := formulas.CalculateSMA(closes, 20)
	sma50 := formulas.CalculateSMA(closes, 50)
	if sma20 == nil || sma50 == nil {
		return TrendSideways
	}

	switch {
	case price > *sma20 && *sma20 > *sma50:
		return TrendUp
	case price < *sma20 && *sma20 < *sma50:
		return TrendDown
	default:
		return TrendSideways
	}
}
