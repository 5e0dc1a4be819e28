package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

// ActivitySource reports when the ledger last opened or closed a position.
type ActivitySource interface {
	LastActivity(ctx context.Context) (*time.Time, error)
}

// SweepConfig bounds the sweep checks.
type SweepConfig struct {
	Symbol       string
	MinLevels    int
	TradeMaxIdle time.Duration
}

// Sweeper checks levels, price and trading activity and reports the result
// to the monitor under the data components.
type Sweeper struct {
	cfg      SweepConfig
	levels   domain.LevelSource
	prices   domain.PriceSource
	activity ActivitySource
	sink     domain.HealthSink
	now      func() time.Time
	log      zerolog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(cfg SweepConfig, levels domain.LevelSource, prices domain.PriceSource, activity ActivitySource, sink domain.HealthSink, log zerolog.Logger) *Sweeper {
	if cfg.MinLevels <= 0 {
		cfg.MinLevels = 3
	}
	if cfg.TradeMaxIdle <= 0 {
		cfg.TradeMaxIdle = 5 * time.Minute
	}
	return &Sweeper{
		cfg:      cfg,
		levels:   levels,
		prices:   prices,
		activity: activity,
		sink:     sink,
		now:      time.Now,
		log:      log.With().Str("component", "diagnostic_engine").Logger(),
	}
}

// Run executes one sweep. Only an unusable activity store fails the sweep.
func (s *Sweeper) Run(ctx context.Context) error {
	levels, err := s.levels.LoadLevels(ctx)
	switch {
	case err != nil:
		s.sink.ReportError("pattern_recognizer", fmt.Sprintf("Levels unavailable: %v", err))
	case len(levels) < s.cfg.MinLevels:
		s.sink.ReportError("pattern_recognizer", "Insufficient level data")
	default:
		s.sink.Ping("pattern_recognizer")
	}

	quote, err := s.prices.LatestQuote(ctx, s.cfg.Symbol)
	if err != nil || quote == nil || quote.Price <= 0 {
		s.sink.ReportError("data_provider", "Live price unavailable or invalid")
	} else {
		s.sink.Ping("data_provider")
	}

	last, err := s.activity.LastActivity(ctx)
	if err != nil {
		s.sink.ReportError("diagnostic_engine", fmt.Sprintf("Failure in diagnostics: %v", err))
		return fmt.Errorf("failed to read ledger activity: %w", err)
	}
	switch {
	case last == nil:
		s.sink.ReportError("portfolio_ledger", "No trades found")
	case s.now().Sub(*last) > s.cfg.TradeMaxIdle:
		s.sink.ReportError("portfolio_ledger", fmt.Sprintf("No recent trades in %s", s.cfg.TradeMaxIdle))
	default:
		s.sink.Ping("portfolio_ledger")
	}

	s.sink.Ping("diagnostic_engine")
	return nil
}
