package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/aristath/touchline/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// FeatureCount is the length of the engineered feature vector.
const FeatureCount = 12

// FeatureContext is the market state around a contact.
type FeatureContext struct {
	VolumeNorm float64
	Levels     []domain.PriceLevel
}

// Features builds the vector:
// volume ratio, distance to nearest other level, minutes since the 09:30 open,
// contact order, solid flag, reaction code, from-above flag, confluence flag,
// then a blue/orange/black/teal one-hot.
func Features(ev domain.ContactEvent, fc FeatureContext) []float64 {
	volRatio := 1.0
	if fc.VolumeNorm > 0 {
		volRatio = round(ev.Volume/fc.VolumeNorm, 3)
	}

	minDist := 999999.0
	for _, l := range fc.Levels {
		if l.Price == ev.Level.Price && l.Color == ev.Level.Color {
			continue
		}
		if d := math.Abs(ev.Price - l.Price); d < minDist {
			minDist = d
		}
	}
	if minDist != 999999.0 {
		minDist = round(minDist, 2)
	}

	reactionCode := 0.0
	switch ev.Reaction {
	case domain.ReactionRejection:
		reactionCode = 1
	case domain.ReactionBreakthrough:
		reactionCode = 2
	}

	return []float64{
		volRatio,
		minDist,
		domain.MinutesSinceOpen(ev.Timestamp),
		float64(ev.ContactOrder),
		boolf(ev.Level.Style == domain.StyleSolid),
		reactionCode,
		boolf(ev.Approach == domain.ApproachFromAbove),
		boolf(ev.Confluent),
		boolf(ev.Level.Color == domain.ColorBlue),
		boolf(ev.Level.Color == domain.ColorOrange),
		boolf(ev.Level.Color == domain.ColorBlack),
		boolf(ev.Level.Color == domain.ColorTeal),
	}
}

// LinearModel is a logistic regression over the feature vector.
type LinearModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LoadLinearModel reads a model from a JSON file.
func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	if len(m.Weights) != FeatureCount {
		return nil, fmt.Errorf("model %s has %d weights, want %d", path, len(m.Weights), FeatureCount)
	}
	return &m, nil
}

// Predict returns the positive-class probability, or ok=false if the vector does not fit.
func (m *LinearModel) Predict(features []float64) (float64, bool) {
	if m == nil || len(features) != len(m.Weights) {
		return 0, false
	}
	for _, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
	}
	z := floats.Dot(m.Weights, features) + m.Bias
	return 1 / (1 + math.Exp(-z)), true
}

// BaseScorer produces the base score handed to the Adjuster: the model's
// prediction when one is loaded and accepts the vector, otherwise the
// evaluator's heuristic confidence.
type BaseScorer struct {
	model *LinearModel
}

// NewBaseScorer wraps an optional model.
func NewBaseScorer(model *LinearModel) *BaseScorer {
	return &BaseScorer{model: model}
}

// HasModel reports whether a model is loaded.
func (b *BaseScorer) HasModel() bool {
	return b != nil && b.model != nil
}

// Score returns the base score and where it came from ("model" or "heuristic").
func (b *BaseScorer) Score(ev domain.ContactEvent, fc FeatureContext) (float64, string) {
	if p, ok := b.model.Predict(Features(ev, fc)); ok {
		return p, "model"
	}
	return ev.Confidence, "heuristic"
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
