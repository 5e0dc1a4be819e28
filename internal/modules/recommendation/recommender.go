// Package recommendation turns contact events into trade recommendations
// backed by historical pattern edge.
package recommendation

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DirectionSource answers which direction has historically worked for a signature.
type DirectionSource interface {
	BestDirection(ctx context.Context, sig domain.PatternSignature) (domain.Direction, bool)
}

// Recommender keeps only the most recent recommendation.
type Recommender struct {
	directions DirectionSource
	sink       domain.HealthSink
	now        func() time.Time
	log        zerolog.Logger

	mu     sync.RWMutex
	latest *domain.Recommendation
}

// NewRecommender creates a recommender.
func NewRecommender(directions DirectionSource, sink domain.HealthSink, log zerolog.Logger) *Recommender {
	if sink == nil {
		sink = domain.NopHealthSink{}
	}
	return &Recommender{
		directions: directions,
		sink:       sink,
		now:        time.Now,
		log:        log.With().Str("component", "trade_recommender").Logger(),
	}
}

// Recommend returns a recommendation for ev, or nil when no direction has a
// historical edge. A nil result leaves the cached latest value untouched.
func (r *Recommender) Recommend(ctx context.Context, ev domain.ContactEvent) *domain.Recommendation {
	sig := domain.SignatureOf(ev)
	direction, ok := r.directions.BestDirection(ctx, sig)
	if !ok {
		r.log.Debug().Str("pattern_key", sig.Key()).Msg("No historical edge, skipping")
		return nil
	}

	rec := &domain.Recommendation{
		ID:         uuid.New().String(),
		Symbol:     ev.Symbol,
		Direction:  direction,
		Signature:  sig,
		PatternKey: sig.Key(),
		CreatedAt:  r.now(),
	}

	r.mu.Lock()
	r.latest = rec
	r.mu.Unlock()

	r.sink.Ping("trade_recommender")
	r.log.Info().
		Str("symbol", rec.Symbol).
		Str("direction", string(rec.Direction)).
		Str("pattern_key", rec.PatternKey).
		Msg("Trade recommended")
	return rec
}

// Latest returns a copy of the most recent recommendation, or nil.
func (r *Recommender) Latest() *domain.Recommendation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return nil
	}
	rec := *r.latest
	return &rec
}
