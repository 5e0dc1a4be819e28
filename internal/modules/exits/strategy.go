// Package exits decides when open positions should be closed.
package exits

import (
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

// Rule inspects one open position at the current price.
type Rule interface {
	Name() string
	Check(pos domain.Position, price float64, pctChange float64) bool
}

// MaxLossRule exits once the signed move reaches -MaxLossPct. It is a fixed
// fractional stop measured from entry, not a trailing stop.
type MaxLossRule struct {
	MaxLossPct float64
}

// Name returns the exit reason.
func (MaxLossRule) Name() string { return domain.ExitReasonMaxLoss }

// Check reports whether the loss limit is hit.
func (r MaxLossRule) Check(_ domain.Position, _ float64, pctChange float64) bool {
	return pctChange <= -r.MaxLossPct
}

// LevelReactionRule is the slot for exiting on a reaction at a key level.
// It never fires; no level-reaction exit has been defined yet.
type LevelReactionRule struct{}

// Name returns the exit reason.
func (LevelReactionRule) Name() string { return domain.ExitReasonLevelReaction }

// Check always returns false.
func (LevelReactionRule) Check(domain.Position, float64, float64) bool { return false }

// Strategy evaluates rules in order; the first match wins per position.
type Strategy struct {
	rules []Rule
	sink  domain.HealthSink
	log   zerolog.Logger
}

// NewStrategy creates the default rule chain: max loss, then level reaction.
func NewStrategy(maxLossPct float64, sink domain.HealthSink, log zerolog.Logger) *Strategy {
	return NewStrategyWithRules([]Rule{MaxLossRule{MaxLossPct: maxLossPct}, LevelReactionRule{}}, sink, log)
}

// NewStrategyWithRules creates a strategy with a custom rule chain.
func NewStrategyWithRules(rules []Rule, sink domain.HealthSink, log zerolog.Logger) *Strategy {
	if sink == nil {
		sink = domain.NopHealthSink{}
	}
	return &Strategy{
		rules: rules,
		sink:  sink,
		log:   log.With().Str("component", "exit_strategy").Logger(),
	}
}

// Evaluate returns one exit signal per open position that should close.
// Closed positions and positions with an unknown side are skipped.
func (s *Strategy) Evaluate(positions []domain.Position, price float64, ts time.Time) []domain.ExitSignal {
	exits := []domain.ExitSignal{}
	for _, pos := range positions {
		if !pos.IsOpen() || !pos.Side.Valid() || pos.Entry <= 0 {
			continue
		}
		pct := pos.PctChange(price)
		for _, rule := range s.rules {
			if !rule.Check(pos, price, pct) {
				continue
			}
			exits = append(exits, domain.ExitSignal{
				PositionID: pos.ID,
				Price:      price,
				Reason:     rule.Name(),
				PnLPct:     pct,
				Timestamp:  ts,
			})
			s.log.Info().
				Str("position_id", pos.ID).
				Str("reason", rule.Name()).
				Float64("pnl_pct", pct).
				Msg("Exit triggered")
			break
		}
	}
	s.sink.Ping("exit_strategy")
	return exits
}
