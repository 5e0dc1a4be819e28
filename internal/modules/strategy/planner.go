// Package strategy turns an entry signal into a trade plan with fixed
// stop and target offsets and an optional option contract.
package strategy

import (
	"errors"
	"math"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNoDirection is returned for a plan request without long or short.
var ErrNoDirection = errors.New("trade direction is indeterminate")

// Config holds the fixed offsets.
type Config struct {
	TargetOffset float64
	StopFactor   float64 // stop distance = TargetOffset * StopFactor
}

// DefaultConfig returns target 1.2 and stop 0.72 away from entry.
func DefaultConfig() Config {
	return Config{TargetOffset: 1.2, StopFactor: 0.6}
}

// Planner builds trade plans.
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
		log:  log.With().Str("component", "strategy_engine").Logger(),
	}
}

// BuildPlan prices stop and target around entry and attaches the nearest
// out-of-the-money call (long) or put (short) from chain, if any.
func (p *Planner) BuildPlan(direction domain.Direction, entry float64, chain []domain.OptionContract) (*domain.TradePlan, error) {
	if !direction.Valid() {
		p.sink.ReportError("strategy_engine", "Indeterminate trade direction")
		return nil, ErrNoDirection
	}

	stopDistance := round2(p.cfg.TargetOffset * p.cfg.StopFactor)
	plan := &domain.TradePlan{
		Direction:  direction,
		EntryPrice: entry,
	}
	if direction == domain.DirectionLong {
		plan.TargetPrice = round2(entry + p.cfg.TargetOffset)
		plan.StopLoss = round2(entry - stopDistance)
	} else {
		plan.TargetPrice = round2(entry - p.cfg.TargetOffset)
		plan.StopLoss = round2(entry + stopDistance)
	}

	plan.Option = ChooseContract(chain, direction, entry)
	if plan.Option == nil && len(chain) > 0 {
		p.log.Debug().Float64("entry", entry).Int("chain", len(chain)).Msg("No out-of-the-money contract in chain")
	}

	p.sink.Ping("strategy_engine")
	return plan, nil
}

// ChooseContract picks the out-of-the-money contract whose strike is closest to
// underlying: calls above it for long, puts below it for short.
func ChooseContract(chain []domain.OptionContract, direction domain.Direction, underlying float64) *domain.OptionContract {
	var best *domain.OptionContract
	bestDist := math.Inf(1)
	for i := range chain {
		c := chain[i]
		switch {
		case direction == domain.DirectionLong && c.Type == domain.OptionCall && c.Strike > underlying:
		case direction == domain.DirectionShort && c.Type == domain.OptionPut && c.Strike < underlying:
		default:
			continue
		}
		if d := math.Abs(c.Strike - underlying); d < bestDist {
			bestDist = d
			best = &c
		}
	}
	return best
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
