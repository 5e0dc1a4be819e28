// Package contact classifies how price interacts with a user-drawn level.
package contact

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

// Config holds the touch bands and the heuristic confidence table.
type Config struct {
	ContactTolerance float64
	ReactionEpsilon  float64
	ConfluenceBand   float64

	HighVolume           float64
	MidVolume            float64
	HighVolumeConfidence float64
	MidVolumeConfidence  float64
	BaseConfidence       float64
	HesitationConfidence float64
	NoReactionConfidence float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		ContactTolerance:     0.05,
		ReactionEpsilon:      0.02,
		ConfluenceBand:       0.4,
		HighVolume:           100000,
		MidVolume:            50000,
		HighVolumeConfidence: 0.85,
		MidVolumeConfidence:  0.70,
		BaseConfidence:       0.50,
		HesitationConfidence: 0.40,
		NoReactionConfidence: 0.20,
	}
}

// Observation is one price print checked against one level.
type Observation struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
	Level     domain.PriceLevel
	Macro     domain.MacroPosition
	// AllLevels is the full sheet, used for the confluence flag.
	AllLevels []domain.PriceLevel
}

type levelHistory struct {
	lastPrice float64
	visits    int
	recent    []float64
}

const recentPrices = 10

// Evaluator keeps per-level visit history for the life of the process.
// Visit counters are not persisted and restart at zero.
type Evaluator struct {
	cfg  Config
	sink domain.HealthSink
	log  zerolog.Logger

	mu      sync.Mutex
	history map[string]*levelHistory
}

// NewEvaluator creates an evaluator. sink may be nil.
func NewEvaluator(cfg Config, sink domain.HealthSink, log zerolog.Logger) *Evaluator {
	if sink == nil {
		sink = domain.NopHealthSink{}
	}
	return &Evaluator{
		cfg:     cfg,
		sink:    sink,
		log:     log.With().Str("component", "contact_evaluator").Logger(),
		history: make(map[string]*levelHistory),
	}
}

// levelKey identifies a level by its exact value.
func levelKey(price float64) string {
	return strconv.FormatFloat(price, 'f', 4, 64)
}

// Touches reports whether price is within the contact tolerance of level.
func (e *Evaluator) Touches(price float64, level domain.PriceLevel) bool {
	return math.Abs(price-level.Price) <= e.cfg.ContactTolerance
}

// TouchedLevels filters levels to the ones price is touching, nearest first.
func (e *Evaluator) TouchedLevels(price float64, levels []domain.PriceLevel) []domain.PriceLevel {
	var touched []domain.PriceLevel
	for _, l := range levels {
		if e.Touches(price, l) {
			touched = append(touched, l)
		}
	}
	// Insertion sort, the slice is tiny
	for i := 1; i < len(touched); i++ {
		for j := i; j > 0 && math.Abs(price-touched[j].Price) < math.Abs(price-touched[j-1].Price); j-- {
			touched[j], touched[j-1] = touched[j-1], touched[j]
		}
	}
	return touched
}

// Evaluate classifies the interaction of obs.Price with obs.Level.
// Every call counts as a visit of that level value, touching or not.
func (e *Evaluator) Evaluate(obs Observation) domain.ContactEvent {
	key := levelKey(obs.Level.Price)

	e.mu.Lock()
	h, seen := e.history[key]
	if !seen {
		h = &levelHistory{}
		e.history[key] = h
	}

	approach := domain.ApproachUnknown
	if seen {
		switch {
		case obs.Price > h.lastPrice:
			approach = domain.ApproachFromBelow
		case obs.Price < h.lastPrice:
			approach = domain.ApproachFromAbove
		}
	}

	h.visits++
	order := h.visits
	h.lastPrice = obs.Price
	h.recent = append(h.recent, obs.Price)
	if len(h.recent) > recentPrices {
		h.recent = h.recent[len(h.recent)-recentPrices:]
	}
	recent := append([]float64(nil), h.recent...)
	e.mu.Unlock()

	reaction := e.classify(obs.Price, obs.Level.Price, approach, order)

	macro := obs.Macro
	if macro == "" {
		macro = domain.MacroUnknown
	}

	event := domain.ContactEvent{
		Symbol:       obs.Symbol,
		Level:        obs.Level,
		Price:        obs.Price,
		Approach:     approach,
		Reaction:     reaction,
		ContactOrder: order,
		Confidence:   e.confidence(reaction, obs.Volume),
		Volume:       obs.Volume,
		Confluent:    e.confluent(obs.Price, obs.Level, obs.AllLevels),
		Macro:        macro,
		Timestamp:    obs.Timestamp,
		Context: map[string]interface{}{
			"recent_prices": recent,
		},
	}

	e.sink.Ping("contact_evaluator")
	return event
}

func (e *Evaluator) classify(price, level float64, approach domain.Approach, order int) domain.Reaction {
	delta := price - level
	if math.Abs(delta) >= e.cfg.ReactionEpsilon {
		return domain.ReactionNone
	}

	switch {
	case order == 1:
		return domain.ReactionRejection
	case approach == domain.ApproachFromBelow && delta > 0:
		return domain.ReactionBreakthrough
	case approach == domain.ApproachFromAbove && delta < 0:
		return domain.ReactionBreakthrough
	default:
		return domain.ReactionHesitation
	}
}

func (e *Evaluator) confidence(reaction domain.Reaction, volume float64) float64 {
	switch reaction {
	case domain.ReactionRejection, domain.ReactionBreakthrough:
		switch {
		case volume >= e.cfg.HighVolume:
			return e.cfg.HighVolumeConfidence
		case volume >= e.cfg.MidVolume:
			return e.cfg.MidVolumeConfidence
		default:
			return e.cfg.BaseConfidence
		}
	case domain.ReactionHesitation:
		return e.cfg.HesitationConfidence
	default:
		return e.cfg.NoReactionConfidence
	}
}

// confluent reports whether a level of another color sits within the confluence band of price.
func (e *Evaluator) confluent(price float64, level domain.PriceLevel, all []domain.PriceLevel) bool {
	for _, other := range all {
		if other.Color == level.Color {
			continue
		}
		if math.Abs(other.Price-price) <= e.cfg.ConfluenceBand {
			return true
		}
	}
	return false
}

// Visits returns the visit counter for a level value.
func (e *Evaluator) Visits(levelPrice float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.history[levelKey(levelPrice)]; ok {
		return h.visits
	}
	return 0
}
