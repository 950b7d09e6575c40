package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateRSI calculates the Relative Strength Index
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
//
// Returns the current RSI value (0-100) or nil if insufficient data.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)

	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

// CalculateATR calculates the Average True Range over the given period.
// Returns the current ATR value or nil if insufficient data.
func CalculateATR(highs, lows, closes []float64, length int) *float64 {
	if len(closes) < length+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, length)

	if len(atr) > 0 && !isNaN(atr[len(atr)-1]) {
		result := atr[len(atr)-1]
		return &result
	}

	return nil
}

// CalculateEMA calculates the Exponential Moving Average.
// Returns the current EMA value or nil if insufficient data.
func CalculateEMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	ema := talib.Ema(closes, length)

	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	return nil
}

// CalculateSMA calculates the Simple Moving Average.
// Returns the current SMA value or nil if insufficient data.
func CalculateSMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)

	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}

// SuperTrendResult holds the current SuperTrend line and its direction.
type SuperTrendResult struct {
	Value   float64
	Bullish bool
}

// CalculateSuperTrend calculates the SuperTrend indicator.
//
// Bands:
//
//	basic upper = (high + low)/2 + mult × ATR
//	basic lower = (high + low)/2 - mult × ATR
//
// The final bands ratchet: the upper band only moves down while price closes
// below it, the lower band only moves up while price closes above it. The
// trend flips when the close crosses the active band.
func CalculateSuperTrend(highs, lows, closes []float64, length int, mult float64) *SuperTrendResult {
	n := len(closes)
	if n < length+1 || len(highs) != n || len(lows) != n {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, length)

	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)
	bullish := make([]bool, n)

	for i := length; i < n; i++ {
		mid := (highs[i] + lows[i]) / 2
		basicUpper := mid + mult*atr[i]
		basicLower := mid - mult*atr[i]

		if i == length {
			finalUpper[i] = basicUpper
			finalLower[i] = basicLower
			bullish[i] = closes[i] > mid
			continue
		}

		finalUpper[i] = basicUpper
		if basicUpper > finalUpper[i-1] && closes[i-1] <= finalUpper[i-1] {
			finalUpper[i] = finalUpper[i-1]
		}

		finalLower[i] = basicLower
		if basicLower < finalLower[i-1] && closes[i-1] >= finalLower[i-1] {
			finalLower[i] = finalLower[i-1]
		}

		if bullish[i-1] {
			bullish[i] = closes[i] >= finalLower[i]
		} else {
			bullish[i] = closes[i] > finalUpper[i]
		}
	}

	result := &SuperTrendResult{Bullish: bullish[n-1]}
	if result.Bullish {
		result.Value = finalLower[n-1]
	} else {
		result.Value = finalUpper[n-1]
	}
	return result
}

// VolumeRatio returns the last volume relative to the mean of the trailing
// window (the window excludes the last bar). Returns nil when the window is
// not covered.
func VolumeRatio(volumes []float64, window int) *float64 {
	if len(volumes) < window+1 {
		return nil
	}

	recent := volumes[len(volumes)-window-1 : len(volumes)-1]
	mean := Mean(recent)
	if mean == 0 {
		return nil
	}

	ratio := volumes[len(volumes)-1] / mean
	return &ratio
}

// PivotLevels holds classic floor-trader pivot support and resistance.
type PivotLevels struct {
	Pivot      float64
	Support    float64
	Resistance float64
}

// CalculatePivotLevels derives support and resistance from the trailing
// 20-bar high/low and the last close:
//
//	pivot      = (high20 + low20 + close)/3
//	support    = 2×pivot - high20
//	resistance = 2×pivot - low20
func CalculatePivotLevels(highs, lows, closes []float64, window int) *PivotLevels {
	n := len(closes)
	if n < window || len(highs) < window || len(lows) < window {
		return nil
	}

	high := highs[len(highs)-window]
	for _, h := range highs[len(highs)-window:] {
		if h > high {
			high = h
		}
	}
	low := lows[len(lows)-window]
	for _, l := range lows[len(lows)-window:] {
		if l < low {
			low = l
		}
	}

	pivot := (high + low + closes[n-1]) / 3
	return &PivotLevels{
		Pivot:      pivot,
		Support:    2*pivot - high,
		Resistance: 2*pivot - low,
	}
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
