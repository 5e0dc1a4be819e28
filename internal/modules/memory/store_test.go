package memory

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/domain"
	testingpkg "github.com/aristath/touchline/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	db := testingpkg.NewTestDB(t, database.NameMemory)
	return NewStore(db.Conn(), zerolog.Nop())
}

func TestPatternMemory_UnknownIsNil(t *testing.T) {
	s := newStore(t)
	m, err := s.PatternMemory(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRecordPatternOutcome_Aggregates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPatternOutcome(ctx, "p1", "Rejection at blue solid L450.00", true, 0.8))
	require.NoError(t, s.RecordPatternOutcome(ctx, "p1", "Rejection at blue solid L450.00", false, 0.4))
	require.NoError(t, s.RecordPatternOutcome(ctx, "p1", "Rejection at blue solid L450.00", true, 0.6))

	m, err := s.PatternMemory(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 3, m.TimesSeen)
	assert.Equal(t, 2, m.TimesSuccessful)
	assert.InDelta(t, 0.6, m.AvgConfidence, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.WinRate(), 1e-9)
}

func TestTradeMemory_Filters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	trades := []TradeRecord{
		{TradeID: "a", PatternID: "p1", Symbol: "SPY", Direction: "long", EntryPrice: 100, ExitPrice: 101, PnL: 1, ClosedAt: time.Unix(100, 0)},
		{TradeID: "b", PatternID: "p2", Symbol: "SPY", Direction: "short", EntryPrice: 100, ExitPrice: 101, PnL: -1, ClosedAt: time.Unix(200, 0)},
		{TradeID: "c", PatternID: "p1", Symbol: "QQQ", Direction: "long", EntryPrice: 50, ExitPrice: 49, PnL: -1, ClosedAt: time.Unix(300, 0)},
	}
	for _, tr := range trades {
		require.NoError(t, s.RecordTrade(ctx, tr))
	}

	all, err := s.TradeMemory(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].TradeID)

	spy, err := s.TradeMemory(ctx, "SPY", "")
	require.NoError(t, err)
	assert.Len(t, spy, 2)

	spyP1, err := s.TradeMemory(ctx, "SPY", "p1")
	require.NoError(t, err)
	require.Len(t, spyP1, 1)
	assert.Equal(t, "a", spyP1[0].TradeID)
}

func TestFeedback_RecentIsNewestFirstAndLimited(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	clock := time.Unix(1000, 0)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	require.NoError(t, s.AddFeedback(ctx, "p1", DecisionReject, 0.7))
	require.NoError(t, s.AddFeedback(ctx, "p1", DecisionReviewFurther, 0.7))
	require.NoError(t, s.AddFeedback(ctx, "p2", DecisionAccept, 0.9))
	assert.Error(t, s.AddFeedback(ctx, "p2", "Maybe", 0.9))

	fb, err := s.RecentFeedback(ctx, 2)
	require.NoError(t, err)
	require.Len(t, fb, 2)
	assert.Equal(t, "p2", fb[0].PatternID)
	assert.Equal(t, DecisionReviewFurther, fb[1].Decision)
}

func TestReviewQueue(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	current, err := s.CurrentPattern(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	ev := domain.ContactEvent{
		Symbol:   "SPY",
		Level:    domain.PriceLevel{Color: domain.ColorBlue, Style: domain.StyleSolid, Price: 450},
		Reaction: domain.ReactionRejection,
	}
	first, err := s.QueuePattern(ctx, domain.Pattern{ID: "k1", Name: ev.PatternName(), Event: ev, Confidence: 0.85, Score: 0.7, DetectedAt: time.Unix(10, 0)})
	require.NoError(t, err)
	_, err = s.QueuePattern(ctx, domain.Pattern{ID: "k2", Name: "later", Event: ev, Confidence: 0.5, Score: 0.5, DetectedAt: time.Unix(20, 0)})
	require.NoError(t, err)

	current, err = s.CurrentPattern(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, first, current.ID)
	assert.Equal(t, "Rejection at blue solid L450.00", current.Name)
	assert.False(t, current.Reviewed)

	require.NoError(t, s.MarkDecision(ctx, first, DecisionReject))

	current, err = s.CurrentPattern(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "k2", current.PatternID)

	fb, err := s.RecentFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Equal(t, "k1", fb[0].PatternID)
	assert.Equal(t, DecisionReject, fb[0].Decision)
	assert.Equal(t, 0.7, fb[0].Confidence)

	err = s.MarkDecision(ctx, 9999, DecisionAccept)
	assert.ErrorIs(t, err, ErrPatternNotFound)
}
