package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateEMA(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, CalculateEMA(nil, 20))
	})

	t.Run("short series falls back to mean", func(t *testing.T) {
		ema := CalculateEMA([]float64{1, 2, 3}, 20)
		require.NotNil(t, ema)
		assert.InDelta(t, 2.0, *ema, 1e-12)
	})

	t.Run("flat series equals price", func(t *testing.T) {
		closes := make([]float64, 30)
		for i := range closes {
			closes[i] = 450
		}
		ema := CalculateEMA(closes, 10)
		require.NotNil(t, ema)
		assert.InDelta(t, 450.0, *ema, 1e-9)
	})

	t.Run("rising series lags price", func(t *testing.T) {
		closes := make([]float64, 30)
		for i := range closes {
			closes[i] = float64(100 + i)
		}
		ema := CalculateEMA(closes, 10)
		require.NotNil(t, ema)
		assert.Less(t, *ema, closes[len(closes)-1])
		assert.Greater(t, *ema, closes[0])
	})
}

func TestDistanceFromEMA(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	d := DistanceFromEMA(closes, 10)
	require.NotNil(t, d)
	assert.Greater(t, *d, 0.0)

	assert.Nil(t, DistanceFromEMA(nil, 10))
}

func TestRelativeVolatility(t *testing.T) {
	assert.Equal(t, 0.0, RelativeVolatility([]float64{100}, 100))
	assert.Equal(t, 0.0, RelativeVolatility([]float64{100, 101}, 0))
	assert.Equal(t, 0.0, RelativeVolatility([]float64{100, 100, 100}, 100))

	v := RelativeVolatility([]float64{99, 101}, 100)
	// sample stddev of {99, 101} is sqrt(2)
	assert.InDelta(t, 0.014142, v, 1e-6)
}
