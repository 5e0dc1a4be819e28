package exits

import (
	"testing"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 8, 1, 15, 0, 0, 0, time.UTC)

func position(id string, side domain.Direction, entry float64) domain.Position {
	return domain.Position{ID: id, Symbol: "SPY", Side: side, Qty: 1, Entry: entry, OpenedAt: now.Add(-time.Hour)}
}

func TestEvaluate_MaxLossBoundary(t *testing.T) {
	s := NewStrategy(0.30, nil, zerolog.Nop())

	exits := s.Evaluate([]domain.Position{position("a", domain.DirectionLong, 100)}, 69.9, now)
	require.Len(t, exits, 1)
	assert.Equal(t, "a", exits[0].PositionID)
	assert.Equal(t, domain.ExitReasonMaxLoss, exits[0].Reason)
	assert.InDelta(t, -0.301, exits[0].PnLPct, 1e-9)
	assert.Equal(t, 69.9, exits[0].Price)
	assert.Equal(t, now, exits[0].Timestamp)

	assert.Empty(t, s.Evaluate([]domain.Position{position("a", domain.DirectionLong, 100)}, 70.1, now))
}

func TestEvaluate_ShortLosesOnRise(t *testing.T) {
	s := NewStrategy(0.30, nil, zerolog.Nop())

	exits := s.Evaluate([]domain.Position{position("s", domain.DirectionShort, 100)}, 130.5, now)
	require.Len(t, exits, 1)
	assert.InDelta(t, -0.305, exits[0].PnLPct, 1e-9)

	assert.Empty(t, s.Evaluate([]domain.Position{position("s", domain.DirectionShort, 100)}, 60, now))
}

func TestEvaluate_SkipsClosedAndMalformed(t *testing.T) {
	s := NewStrategy(0.30, nil, zerolog.Nop())

	closed := position("c", domain.DirectionLong, 100)
	closedAt := now
	closed.ClosedAt = &closedAt
	noSide := position("x", "", 100)

	assert.Empty(t, s.Evaluate([]domain.Position{closed, noSide}, 1, now))
	assert.NotNil(t, s.Evaluate(nil, 1, now))
}

func TestLevelReactionRuleNeverFires(t *testing.T) {
	s := NewStrategyWithRules([]Rule{LevelReactionRule{}}, nil, zerolog.Nop())
	assert.Empty(t, s.Evaluate([]domain.Position{position("a", domain.DirectionLong, 100)}, 1, now))
}

type alwaysRule struct{ name string }

func (r alwaysRule) Name() string                                 { return r.name }
func (r alwaysRule) Check(domain.Position, float64, float64) bool { return true }

func TestEvaluate_FirstMatchingRuleWins(t *testing.T) {
	s := NewStrategyWithRules([]Rule{
		MaxLossRule{MaxLossPct: 0.3},
		alwaysRule{name: "first"},
		alwaysRule{name: "second"},
	}, nil, zerolog.Nop())

	exits := s.Evaluate([]domain.Position{position("a", domain.DirectionLong, 100)}, 100, now)
	require.Len(t, exits, 1)
	assert.Equal(t, "first", exits[0].Reason)
}
