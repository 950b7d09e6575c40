package analytics

import (
	"fmt"

	"github.com/aristath/vigil/internal/domain"
	"github.com/aristath/vigil/pkg/formulas"
)

// riskFreeRate is the annualized risk-free rate used by the Sharpe
// computation.
const riskFreeRate = 0.05

// ComputeRiskMetrics derives the quantitative risk profile from the
// candidate's close series and the benchmark's close series.
func ComputeRiskMetrics(symbol string, closes, benchmarkCloses []float64) (*domain.RiskMetrics, error) {
	returns := formulas.CalculateReturns(closes)
	if len(returns) < 2 {
		return nil, fmt.Errorf("insufficient price history for %s", symbol)
	}
	benchmarkReturns := formulas.CalculateReturns(benchmarkCloses)

	m := &domain.RiskMetrics{
		Symbol: symbol,
		Beta:   formulas.Beta(alignTails(returns, benchmarkReturns)),
		Vol20d: formulas.VolatilityWindowPct(returns, 20),
		Vol60d: formulas.VolatilityWindowPct(returns, 60),
	}

	if sharpe := formulas.AnnualizedSharpe(returns, riskFreeRate); sharpe != nil {
		m.Sharpe = *sharpe
	}
	if dd := formulas.CalculateMaxDrawdown(closes); dd != nil {
		m.MaxDrawdown = *dd
	}
	if v := formulas.VaR95(returns); v != nil {
		m.VaR95 = *v
	}
	if cv := formulas.CVaR95(returns); cv != nil {
		m.CVaR95 = *cv
	}

	return m, nil
}

// BetaMultiplier maps a candidate's beta and volume ratio to the
// position-size multiplier. High-beta names need elevated volume to
// trade at all: a multiplier of 0 is a rejection.
func BetaMultiplier(beta, volumeRatio, betaNormal, betaAggressive float64) float64 {
	switch {
	case beta < betaNormal:
		return 1.0
	case beta < betaAggressive:
		return 0.75
	case volumeRatio >= 2.0:
		return 0.5
	default:
		return 0.0
	}
}

// alignTails trims two return series to their common most-recent
// window so the pairwise statistics compare the same trading days.
func alignTails(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return a[len(a)-n:], b[len(b)-n:]
}
