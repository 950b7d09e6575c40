package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minBetaObservations is the minimum number of aligned return observations
// required before a computed beta is trusted over the 1.0 fallback.
const minBetaObservations = 20

// AnnualizedSharpe calculates the annualized Sharpe ratio from daily returns:
//
//	Sharpe = (mean(returns)×252 - riskFree) / (std(returns)×sqrt(252))
//
// Returns nil when the deviation is zero or data is insufficient.
func AnnualizedSharpe(returns []float64, riskFreeRate float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return nil
	}

	sharpe := (Mean(returns)*252 - riskFreeRate) / (stdDev * math.Sqrt(252))
	return &sharpe
}

// VaR95 calculates the 95% one-day Value at Risk from daily returns,
// expressed as a positive loss percentage. A 5th-percentile return that
// is itself positive means no loss at the 95% level, so VaR is 0.
func VaR95(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	v := math.Max(0, -stat.Quantile(0.05, stat.Empirical, sorted, nil)) * 100
	return &v
}

// CVaR95 calculates the 95% Conditional Value at Risk (expected shortfall):
// the mean loss over the returns at or below the 5th percentile, as a
// positive percentage. Always ≥ VaR95 on the same series.
func CVaR95(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	cutoff := stat.Quantile(0.05, stat.Empirical, sorted, nil)

	var tail []float64
	for _, r := range returns {
		if r <= cutoff {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return nil
	}

	cvar := math.Max(0, -Mean(tail)) * 100
	return &cvar
}

// Beta calculates the asset's beta against a benchmark:
//
//	beta = cov(asset, benchmark) / var(benchmark)
//
// Falls back to 1.0 when fewer than 20 aligned observations are available
// or the benchmark has zero variance.
func Beta(assetReturns, benchmarkReturns []float64) float64 {
	n := len(assetReturns)
	if len(benchmarkReturns) < n {
		n = len(benchmarkReturns)
	}
	if n < minBetaObservations {
		return 1.0
	}

	asset := assetReturns[len(assetReturns)-n:]
	bench := benchmarkReturns[len(benchmarkReturns)-n:]

	benchVar := Variance(bench)
	if benchVar == 0 {
		return 1.0
	}

	return Covariance(asset, bench) / benchVar
}

// KellyFraction calculates the capped half-Kelly position fraction:
//
//	k = winRate - (1-winRate)/(avgWin/|avgLoss|)
//
// capped at min(0.5×k, 0.25) and floored at 0.
func KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 || avgWin == 0 {
		return 0
	}

	payoff := avgWin / math.Abs(avgLoss)
	k := winRate - (1-winRate)/payoff
	if k <= 0 {
		return 0
	}

	half := 0.5 * k
	if half > 0.25 {
		return 0.25
	}
	return half
}

// VolatilityWindowPct returns the annualized volatility of the last `window`
// daily returns, expressed as a percentage.
func VolatilityWindowPct(returns []float64, window int) float64 {
	if len(returns) == 0 {
		return 0
	}
	if len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	return AnnualizedVolatility(returns) * 100
}
