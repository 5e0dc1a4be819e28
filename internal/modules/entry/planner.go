// Package entry gates recognized patterns before they become positions.
package entry

import (
	"math"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

// Rejection reasons reported by ShouldEnter.
const (
	ReasonTooOld      = "Pattern too old"
	ReasonLowVolume   = "Volume too low"
	ReasonTooFar      = "Price too far from level"
	ReasonNoDirection = "No entry direction inferred"
)

const componentName = "smart_entry_planner"

// Config holds the gate thresholds.
type Config struct {
	TimingWindow time.Duration
	MinVolume    float64
	Slippage     float64
}

// DefaultConfig returns the stock gate.
func DefaultConfig() Config {
	return Config{
		TimingWindow: 2 * time.Minute,
		MinVolume:    25000,
		Slippage:     0.25,
	}
}

// Planner applies recency, volume, proximity and direction checks in order.
type Planner struct {
	cfg  Config
	sink domain.HealthSink
	log  zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(cfg Config, sink domain.HealthSink, log zerolog.Logger) *Planner {
	if sink == nil {
		sink = domain.NopHealthSink{}
	}
	return &Planner{
		cfg:  cfg,
		sink: sink,
		log:  log.With().Str("component", componentName).Logger(),
	}
}

// ShouldEnter returns an entry signal, or nil and the first failed check.
func (p *Planner) ShouldEnter(price, volume float64, now time.Time, pattern domain.Pattern) (*domain.EntrySignal, string) {
	ev := pattern.Event

	if age := now.Sub(ev.Timestamp); age > p.cfg.TimingWindow || age < -p.cfg.TimingWindow {
		return p.reject(ReasonTooOld, pattern)
	}
	if volume < p.cfg.MinVolume {
		return p.reject(ReasonLowVolume, pattern)
	}
	if math.Abs(price-ev.Level.Price) > p.cfg.Slippage {
		return p.reject(ReasonTooFar, pattern)
	}
	direction, ok := InferDirection(ev.Reaction, ev.Approach)
	if !ok {
		return p.reject(ReasonNoDirection, pattern)
	}

	p.sink.Ping(componentName)
	return &domain.EntrySignal{
		Symbol:    ev.Symbol,
		Direction: direction,
		Price:     price,
		Level:     ev.Level,
		Pattern:   pattern,
		Timestamp: now,
	}, ""
}

func (p *Planner) reject(reason string, pattern domain.Pattern) (*domain.EntrySignal, string) {
	p.sink.ReportError(componentName, reason)
	p.log.Debug().Str("pattern_id", pattern.ID).Str("reason", reason).Msg("Entry rejected")
	return nil, reason
}

// InferDirection maps reaction and approach to a trade direction.
// Hesitation and unknown approaches have no direction.
func InferDirection(reaction domain.Reaction, approach domain.Approach) (domain.Direction, bool) {
	switch {
	case reaction == domain.ReactionRejection && approach == domain.ApproachFromBelow:
		return domain.DirectionLong, true
	case reaction == domain.ReactionRejection && approach == domain.ApproachFromAbove:
		return domain.DirectionShort, true
	case reaction == domain.ReactionBreakthrough && approach == domain.ApproachFromAbove:
		return domain.DirectionShort, true
	case reaction == domain.ReactionBreakthrough && approach == domain.ApproachFromBelow:
		return domain.DirectionLong, true
	}
	return "", false
}
