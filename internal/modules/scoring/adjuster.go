// Package scoring turns a base pattern score into a final bounded confidence
// using pattern memory, operator feedback and resilience history.
package scoring

import (
	"context"

	"github.com/aristath/touchline/internal/modules/memory"
	"github.com/rs/zerolog"
)

// MemoryReader is the read side of the memory store used for scoring.
type MemoryReader interface {
	PatternMemory(ctx context.Context, id string) (*memory.PatternMemory, error)
	RecentFeedback(ctx context.Context, limit int) ([]memory.Feedback, error)
}

// AdjusterConfig holds the memory blend weights and feedback penalties.
type AdjusterConfig struct {
	MinSeen        int
	WinRateWeight  float64
	AvgConfWeight  float64
	RejectPenalty  float64
	ReviewPenalty  float64
	FeedbackWindow int
}

// DefaultAdjusterConfig returns the stock weights.
func DefaultAdjusterConfig() AdjusterConfig {
	return AdjusterConfig{
		MinSeen:        5,
		WinRateWeight:  0.4,
		AvgConfWeight:  0.2,
		RejectPenalty:  0.1,
		ReviewPenalty:  0.05,
		FeedbackWindow: 50,
	}
}

// Adjuster blends a base score with what memory says about the pattern.
type Adjuster struct {
	memory MemoryReader
	cfg    AdjusterConfig
	log    zerolog.Logger
}

// NewAdjuster creates an adjuster.
func NewAdjuster(mem MemoryReader, cfg AdjusterConfig, log zerolog.Logger) *Adjuster {
	return &Adjuster{
		memory: mem,
		cfg:    cfg,
		log:    log.With().Str("component", "confidence_adjuster").Logger(),
	}
}

// Score returns base adjusted by pattern memory and recent feedback, clamped to [0, 1].
//
// Memory counts only once the pattern has been seen MinSeen times. Each recent
// Reject for the pattern subtracts RejectPenalty and each Review Further
// subtracts ReviewPenalty. Unreadable memory or feedback contributes nothing.
func (a *Adjuster) Score(ctx context.Context, patternID string, base float64, ticker string) float64 {
	score := base

	mem, err := a.memory.PatternMemory(ctx, patternID)
	if err != nil {
		a.log.Warn().Err(err).Str("pattern_id", patternID).Msg("Pattern memory unavailable, scoring without history")
	} else if mem != nil && mem.TimesSeen >= a.cfg.MinSeen {
		score += (mem.WinRate() - 0.5) * a.cfg.WinRateWeight
		score += (mem.AvgConfidence - 0.5) * a.cfg.AvgConfWeight
	}

	feedback, err := a.memory.RecentFeedback(ctx, a.cfg.FeedbackWindow)
	if err != nil {
		a.log.Warn().Err(err).Str("pattern_id", patternID).Msg("Feedback unavailable, scoring without penalties")
	}
	for _, fb := range feedback {
		if fb.PatternID != patternID {
			continue
		}
		switch fb.Decision {
		case memory.DecisionReject:
			score -= a.cfg.RejectPenalty
		case memory.DecisionReviewFurther:
			score -= a.cfg.ReviewPenalty
		}
	}

	clamped := clamp01(score)
	a.log.Debug().
		Str("pattern_id", patternID).
		Str("ticker", ticker).
		Float64("base", base).
		Float64("score", clamped).
		Msg("Scored pattern")
	return clamped
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
