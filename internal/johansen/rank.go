package johansen

import "github.com/irfndi/celebrum-quant/internal/utils"

// SelectRank walks candidate ranks from n-1 down to 0 and returns the first rank
// whose trace statistic is below its critical value. When no rank qualifies it
// returns n, the full rank.
func SelectRank(result *Result, model DeterministicModel, level SignificanceLevel) (int, error) {
	if result == nil || result.Series() == 0 {
		return 0, utils.NewInvalidInputError("result has no eigenvalues")
	}
	n := result.Series()
	if len(result.TraceStatistics) != n {
		return 0, utils.NewInvalidInputErrorf("result has %d trace statistics for %d series", len(result.TraceStatistics), n)
	}
	if n > MaxTabulatedSeries {
		return 0, utils.NewUnsupportedErrorf("critical values are tabulated for 1-%d series, got %d", MaxTabulatedSeries, n)
	}
	for r := n - 1; r >= 0; r-- {
		cv, err := CriticalValue(model, n-r, level)
		if err != nil {
			return 0, err
		}
		if result.TraceStatistics[r] < cv {
			return r, nil
		}
	}
	return n, nil
}
