package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternSignature_KeyRoundTrip(t *testing.T) {
	ev := ContactEvent{
		Level:    PriceLevel{Color: ColorBlue, Style: StyleSolid, Price: 450},
		Approach: ApproachFromBelow,
		Reaction: ReactionRejection,
		Macro:    MacroAboveTrend,
	}

	sig := SignatureOf(ev)
	assert.Equal(t, "solid|rejection|from_below|above_trend", sig.Key())

	parsed, err := ParseSignature(sig.Key())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	_, err = ParseSignature("solid|rejection")
	assert.Error(t, err)
}

func TestSignatureOf_DefaultsMacro(t *testing.T) {
	sig := SignatureOf(ContactEvent{Level: PriceLevel{Style: StyleDashed}, Reaction: ReactionNone, Approach: ApproachUnknown})
	assert.Equal(t, MacroUnknown, sig.Macro)
}

func TestPriceLevel_Validate(t *testing.T) {
	assert.NoError(t, PriceLevel{Color: ColorTeal, Style: StyleDashed, Price: 1}.Validate())
	assert.Error(t, PriceLevel{Color: "purple", Style: StyleSolid, Price: 1}.Validate())
	assert.Error(t, PriceLevel{Color: ColorTeal, Style: "dotted", Price: 1}.Validate())
	assert.Error(t, PriceLevel{Color: ColorTeal, Style: StyleSolid, Price: 0}.Validate())
}

func TestContactEvent_PatternName(t *testing.T) {
	ev := ContactEvent{
		Level:    PriceLevel{Color: ColorOrange, Style: StyleSolid, Price: 451.5},
		Reaction: ReactionBreakthrough,
	}
	assert.Equal(t, "Breakthrough at orange solid L451.50", ev.PatternName())
}

func TestPosition_PctChange(t *testing.T) {
	long := Position{Side: DirectionLong, Entry: 100}
	short := Position{Side: DirectionShort, Entry: 100}

	assert.InDelta(t, 0.1, long.PctChange(110), 1e-12)
	assert.InDelta(t, -0.1, short.PctChange(110), 1e-12)
	assert.InDelta(t, 0.0, long.PctChange(100), 1e-12)
	assert.InDelta(t, 0.0, short.PctChange(100), 1e-12)

	now := time.Now()
	closed := Position{ClosedAt: &now}
	assert.False(t, closed.IsOpen())
	assert.True(t, long.IsOpen())
}
