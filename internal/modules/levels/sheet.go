// Package levels stores the operator's level sheet for each trading day.
package levels

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aristath/touchline/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrInvalidLevel wraps every sheet validation failure.
var ErrInvalidLevel = errors.New("invalid level")

// Sheet is a submission of levels grouped by color and style, as the API
// accepts it and as the CLI reads it from YAML:
//
//	trading_day: "2025-08-01"
//	levels_by_color:
//	  blue:
//	    solid: [450.0, 452.5]
//	    dashed: [448.25]
type Sheet struct {
	TradingDay    string                          `json:"trading_day,omitempty" yaml:"trading_day,omitempty"`
	LevelsByColor map[string]map[string][]float64 `json:"levels_by_color" yaml:"levels_by_color"`
}

// ParseSheet decodes a YAML level sheet.
func ParseSheet(r io.Reader) (*Sheet, error) {
	var s Sheet
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse level sheet: %w", err)
	}
	return &s, nil
}

// Levels flattens the sheet. Index is the position within its color/style list.
// Output is ordered by color, then solid before dashed, then index.
func (s Sheet) Levels() ([]domain.PriceLevel, error) {
	colors := make([]string, 0, len(s.LevelsByColor))
	for c := range s.LevelsByColor {
		colors = append(colors, c)
	}
	sort.Strings(colors)

	var out []domain.PriceLevel
	for _, c := range colors {
		color := domain.Color(c)
		if !color.Valid() {
			return nil, fmt.Errorf("%w: unknown color %q", ErrInvalidLevel, c)
		}
		for style := range s.LevelsByColor[c] {
			if !domain.Style(style).Valid() {
				return nil, fmt.Errorf("%w: unknown style %q for %s", ErrInvalidLevel, style, c)
			}
		}
		for _, style := range []domain.Style{domain.StyleSolid, domain.StyleDashed} {
			for i, price := range s.LevelsByColor[c][string(style)] {
				l := domain.PriceLevel{Color: color, Style: style, Index: i, Price: price}
				if err := l.Validate(); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInvalidLevel, err)
				}
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// Grouped is the read shape of a level set: every color with both styles present.
type Grouped map[domain.Color]map[domain.Style][]float64

// Group buckets levels by color and style, preserving index order.
func Group(levels []domain.PriceLevel) Grouped {
	g := make(Grouped, len(domain.AllColors))
	for _, c := range domain.AllColors {
		g[c] = map[domain.Style][]float64{
			domain.StyleSolid:  {},
			domain.StyleDashed: {},
		}
	}
	sorted := append([]domain.PriceLevel(nil), levels...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for _, l := range sorted {
		if _, ok := g[l.Color]; !ok {
			continue
		}
		g[l.Color][l.Style] = append(g[l.Color][l.Style], l.Price)
	}
	return g
}
