package contact

import (
	"sync"

	"github.com/aristath/touchline/internal/domain"
	"github.com/aristath/touchline/pkg/formulas"
)

// atTrendBand is the relative EMA distance treated as sitting on the trend.
const atTrendBand = 0.0005

// TrendTracker keeps a rolling price window and classifies price against its EMA.
type TrendTracker struct {
	period int
	size   int

	mu     sync.Mutex
	prices []float64
}

// NewTrendTracker tracks the last 4*period prices.
func NewTrendTracker(period int) *TrendTracker {
	if period < 2 {
		period = 2
	}
	return &TrendTracker{period: period, size: period * 4}
}

// Observe appends a print and returns the current macro position.
func (t *TrendTracker) Observe(price float64) domain.MacroPosition {
	t.mu.Lock()
	t.prices = append(t.prices, price)
	if len(t.prices) > t.size {
		t.prices = t.prices[len(t.prices)-t.size:]
	}
	window := append([]float64(nil), t.prices...)
	t.mu.Unlock()

	return MacroPositionOf(window, t.period)
}

// MacroPositionOf classifies the last price of window against the EMA of the window.
// Fewer than period samples gives unknown.
func MacroPositionOf(window []float64, period int) domain.MacroPosition {
	if len(window) < period {
		return domain.MacroUnknown
	}
	d := formulas.DistanceFromEMA(window, period)
	if d == nil {
		return domain.MacroUnknown
	}
	switch {
	case *d > atTrendBand:
		return domain.MacroAboveTrend
	case *d < -atTrendBand:
		return domain.MacroBelowTrend
	default:
		return domain.MacroAtTrend
	}
}
