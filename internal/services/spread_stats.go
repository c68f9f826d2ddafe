package services

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/celebrum-quant/internal/models"
)

// minSpreadStd is the deviation below which a spread is treated as flat.
const minSpreadStd = 1e-12

// SpreadStats is the z-score of the latest spread against its trailing window.
type SpreadStats struct {
	ZScore float64 `json:"zscore"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Window int     `json:"window"`
}

// SpreadZScore scores the last value of history against the trailing window.
// With a full window the rolling mean and deviation come from the indicator
// pipeline; a shorter history is scored against all of it. A flat spread
// scores zero.
func SpreadZScore(history []float64, window int) SpreadStats {
	if len(history) < 2 || window < 2 {
		return SpreadStats{}
	}
	last := history[len(history)-1]

	var mean, std float64
	used := len(history)
	if len(history) >= window {
		tail := history[len(history)-window:]
		mean = lastValue(helper.ChanToSlice(trend.NewSmaWithPeriod[float64](window).Compute(helper.SliceToChan(tail))))
		std = lastValue(helper.ChanToSlice(volatility.NewMovingStdWithPeriod[float64](window).Compute(helper.SliceToChan(tail))))
		used = window
	} else {
		mean, std = stat.PopMeanStdDev(history, nil)
	}

	out := SpreadStats{Mean: mean, Std: std, Window: used}
	if std > minSpreadStd && !math.IsNaN(std) {
		out.ZScore = (last - mean) / std
	}
	return out
}

func lastValue(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// ClassifySignal maps a z-score onto a spread action. A rich spread (positive z)
// is sold, a cheap one bought, and one back inside the exit band is closed.
func ClassifySignal(zScore, entry, exit float64) models.SpreadSignal {
	switch {
	case math.IsNaN(zScore):
		return models.SignalNone
	case zScore >= entry:
		return models.SignalShortSpread
	case zScore <= -entry:
		return models.SignalLongSpread
	case math.Abs(zScore) <= exit:
		return models.SignalExit
	default:
		return models.SignalHold
	}
}
