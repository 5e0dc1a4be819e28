// Package formulas holds the small numeric helpers used by the pipeline.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// CalculateEMA calculates the Exponential Moving Average of closes.
//
//	EMA_today = (Price_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// Falls back to the simple mean when there are fewer than length samples.
// Returns nil for an empty series.
func CalculateEMA(closes []float64, length int) *float64 {
	if len(closes) == 0 || length <= 0 {
		return nil
	}

	if len(closes) < length || length == 1 {
		mean := stat.Mean(closes, nil)
		return &mean
	}

	ema := talib.Ema(closes, length)
	if len(ema) > 0 && !math.IsNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	mean := stat.Mean(closes[len(closes)-length:], nil)
	return &mean
}

// DistanceFromEMA returns (last - EMA) / EMA, positive above the average.
func DistanceFromEMA(closes []float64, length int) *float64 {
	ema := CalculateEMA(closes, length)
	if ema == nil || *ema == 0 {
		return nil
	}

	distance := (closes[len(closes)-1] - *ema) / *ema
	return &distance
}

// RelativeVolatility is the sample standard deviation of prices divided by base.
// Returns 0 for fewer than two samples or a zero base.
func RelativeVolatility(prices []float64, base float64) float64 {
	if len(prices) < 2 || base == 0 {
		return 0
	}
	return stat.StdDev(prices, nil) / math.Abs(base)
}
