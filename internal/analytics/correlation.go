package analytics

import (
	"math"
	"sort"

	"github.com/aristath/vigil/pkg/formulas"
)

// minCorrelationObs is the minimum number of aligned daily returns a
// pairwise correlation needs to be meaningful.
const minCorrelationObs = 20

// PairwiseCorrelation computes the Pearson correlation of two daily
// return series aligned on their most recent common window. Fewer than
// 20 aligned observations yields 0.
func PairwiseCorrelation(a, b []float64) float64 {
	x, y := alignTails(a, b)
	if len(x) < minCorrelationObs {
		return 0
	}
	return formulas.Correlation(x, y)
}

// EnforceCorrelationLimit checks a prospective position against every
// open position's price series. Any existing holding whose absolute
// return correlation with the candidate exceeds maxCorrelation is a
// violator, and a single violator rejects the candidate.
func EnforceCorrelationLimit(newPrices []float64, portfolioPrices map[string][]float64, maxCorrelation float64) (bool, []string) {
	newReturns := formulas.CalculateReturns(newPrices)

	var violators []string
	for symbol, prices := range portfolioPrices {
		corr := PairwiseCorrelation(newReturns, formulas.CalculateReturns(prices))
		if math.Abs(corr) > maxCorrelation {
			violators = append(violators, symbol)
		}
	}
	sort.Strings(violators)

	return len(violators) == 0, violators
}
