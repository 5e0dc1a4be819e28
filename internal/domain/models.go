// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Color of a user-drawn level
type Color string

const (
	ColorBlue   Color = "blue"
	ColorOrange Color = "orange"
	ColorBlack  Color = "black"
	ColorTeal   Color = "teal"
)

// AllColors in display order
var AllColors = []Color{ColorBlue, ColorOrange, ColorBlack, ColorTeal}

// Valid reports whether c is a known color.
func (c Color) Valid() bool {
	switch c {
	case ColorBlue, ColorOrange, ColorBlack, ColorTeal:
		return true
	}
	return false
}

// Style is the line style of a level; it doubles as the level type in signatures.
type Style string

const (
	StyleSolid  Style = "solid"
	StyleDashed Style = "dashed"
)

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	return s == StyleSolid || s == StyleDashed
}

// Approach is the side price came from when it reached a level
type Approach string

const (
	ApproachFromAbove Approach = "from_above"
	ApproachFromBelow Approach = "from_below"
	ApproachUnknown   Approach = "unknown"
)

// Reaction is the classified outcome of a contact
type Reaction string

const (
	ReactionRejection    Reaction = "rejection"
	ReactionBreakthrough Reaction = "breakthrough"
	ReactionHesitation   Reaction = "hesitation"
	ReactionNone         Reaction = "none"
)

// Direction of a trade
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is long or short.
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// MacroPosition locates price relative to its trend
type MacroPosition string

const (
	MacroAboveTrend MacroPosition = "above_trend"
	MacroBelowTrend MacroPosition = "below_trend"
	MacroAtTrend    MacroPosition = "at_trend"
	MacroUnknown    MacroPosition = "unknown"
)

// PriceLevel is a horizontal support/resistance line submitted for a trading day
type PriceLevel struct {
	Color Color   `json:"color" msgpack:"color" yaml:"color"`
	Style Style   `json:"style" msgpack:"style" yaml:"style"`
	Index int     `json:"index" msgpack:"index" yaml:"index"`
	Price float64 `json:"price" msgpack:"price" yaml:"price"`
}

// Validate checks color, style and price.
func (l PriceLevel) Validate() error {
	if !l.Color.Valid() {
		return fmt.Errorf("invalid level color %q", l.Color)
	}
	if !l.Style.Valid() {
		return fmt.Errorf("invalid level style %q", l.Style)
	}
	if l.Price <= 0 {
		return fmt.Errorf("level price must be positive, got %f", l.Price)
	}
	return nil
}

// Label renders the level for pattern names, e.g. "blue solid L450.00".
func (l PriceLevel) Label() string {
	return fmt.Sprintf("%s %s L%.2f", l.Color, l.Style, l.Price)
}

// ContactEvent is one price/level proximity evaluation. Never mutated after creation.
type ContactEvent struct {
	Symbol       string                 `json:"symbol" msgpack:"symbol"`
	Level        PriceLevel             `json:"level" msgpack:"level"`
	Price        float64                `json:"price" msgpack:"price"`
	Approach     Approach               `json:"approach_direction" msgpack:"approach"`
	Reaction     Reaction               `json:"reaction" msgpack:"reaction"`
	ContactOrder int                    `json:"contact_order" msgpack:"contact_order"`
	Confidence   float64                `json:"confidence" msgpack:"confidence"`
	Volume       float64                `json:"volume" msgpack:"volume"`
	Confluent    bool                   `json:"confluent" msgpack:"confluent"`
	Macro        MacroPosition          `json:"macro_position" msgpack:"macro"`
	Timestamp    time.Time              `json:"timestamp" msgpack:"timestamp"`
	Context      map[string]interface{} `json:"context,omitempty" msgpack:"context,omitempty"`
}

// PatternName is the human-readable pattern, e.g. "Rejection at blue solid L450.00".
func (e ContactEvent) PatternName() string {
	r := string(e.Reaction)
	if r != "" {
		r = strings.ToUpper(r[:1]) + r[1:]
	}
	return fmt.Sprintf("%s at %s", r, e.Level.Label())
}

// PatternSignature is the canonical memory key of a contact
type PatternSignature struct {
	LevelType string        `json:"level_type"`
	Reaction  Reaction      `json:"reaction_type"`
	Approach  Approach      `json:"approach_direction"`
	Macro     MacroPosition `json:"macro_position"`
}

// SignatureOf derives the signature of a contact event.
func SignatureOf(e ContactEvent) PatternSignature {
	macro := e.Macro
	if macro == "" {
		macro = MacroUnknown
	}
	return PatternSignature{
		LevelType: string(e.Level.Style),
		Reaction:  e.Reaction,
		Approach:  e.Approach,
		Macro:     macro,
	}
}

// Key joins the four fields with "|".
func (s PatternSignature) Key() string {
	return strings.Join([]string{s.LevelType, string(s.Reaction), string(s.Approach), string(s.Macro)}, "|")
}

// ParseSignature is the inverse of Key.
func ParseSignature(key string) (PatternSignature, error) {
	parts := strings.Split(key, "|")
	if len(parts) != 4 {
		return PatternSignature{}, fmt.Errorf("invalid pattern key %q", key)
	}
	return PatternSignature{
		LevelType: parts[0],
		Reaction:  Reaction(parts[1]),
		Approach:  Approach(parts[2]),
		Macro:     MacroPosition(parts[3]),
	}, nil
}

// Quote is the latest trade observed for a symbol
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Position is a paper position. OPEN -> CLOSED, closed exactly once.
type Position struct {
	ID         string        `json:"id"`
	Symbol     string        `json:"symbol"`
	Side       Direction     `json:"side"`
	Qty        float64       `json:"qty"`
	Entry      float64       `json:"entry"`
	Stop       float64       `json:"stop"`
	Target     float64       `json:"target"`
	ExitPrice  *float64      `json:"exit_price,omitempty"`
	PnL        *float64      `json:"pnl,omitempty"`
	OpenedAt   time.Time     `json:"opened_at"`
	ClosedAt   *time.Time    `json:"closed_at,omitempty"`
	PatternKey string        `json:"pattern_key,omitempty"`
	PatternID  string        `json:"pattern_id,omitempty"`
	Confidence float64       `json:"confidence"`
	Contact    *ContactEvent `json:"contact,omitempty"`
}

// IsOpen reports whether the position has not been closed.
func (p Position) IsOpen() bool {
	return p.ClosedAt == nil
}

// PctChange is the signed percent move in the position's favour at price.
func (p Position) PctChange(price float64) float64 {
	if p.Entry == 0 {
		return 0
	}
	if p.Side == DirectionShort {
		return (p.Entry - price) / p.Entry
	}
	return (price - p.Entry) / p.Entry
}

// LedgerAction is the audit action
type LedgerAction string

const (
	LedgerOpen  LedgerAction = "OPEN"
	LedgerClose LedgerAction = "CLOSE"
)

// LedgerEntry is an append-only audit row
type LedgerEntry struct {
	ID        int64        `json:"id"`
	TradeID   string       `json:"trade_id"`
	Action    LedgerAction `json:"action"`
	Price     float64      `json:"price"`
	Qty       float64      `json:"qty"`
	CashAfter string       `json:"cash_after"`
	Timestamp time.Time    `json:"timestamp"`
}

// Recommendation is a direction backed by historical edge
type Recommendation struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Direction  Direction        `json:"direction"`
	Signature  PatternSignature `json:"pattern_signature"`
	PatternKey string           `json:"pattern_key"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Pattern is a recognized contact with a non-none reaction
type Pattern struct {
	ID         string       `json:"pattern_id"`
	Name       string       `json:"name"`
	Event      ContactEvent `json:"event"`
	Confidence float64      `json:"confidence"`
	Score      float64      `json:"score"`
	DetectedAt time.Time    `json:"detected_at"`
}

// EntrySignal is a pattern that passed the entry gate
type EntrySignal struct {
	Symbol    string     `json:"symbol"`
	Direction Direction  `json:"direction"`
	Price     float64    `json:"price"`
	Level     PriceLevel `json:"level"`
	Pattern   Pattern    `json:"pattern"`
	Timestamp time.Time  `json:"timestamp"`
}

// Exit reasons
const (
	ExitReasonMaxLoss       = "max_loss_triggered"
	ExitReasonLevelReaction = "level_reaction"
)

// ExitSignal asks the ledger to close a position
type ExitSignal struct {
	PositionID string    `json:"position_id"`
	Price      float64   `json:"price"`
	Reason     string    `json:"reason"`
	PnLPct     float64   `json:"pnl_pct"`
	Timestamp  time.Time `json:"timestamp"`
}

// OptionType is call or put
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// OptionContract is one listed contract of a chain
type OptionContract struct {
	Ticker     string     `json:"ticker"`
	Underlying string     `json:"underlying_ticker"`
	Type       OptionType `json:"contract_type"`
	Strike     float64    `json:"strike_price"`
	Expiration string     `json:"expiration_date"`
}

// TradePlan is the shape handed to the ledger and the API
type TradePlan struct {
	Direction   Direction       `json:"direction"`
	EntryPrice  float64         `json:"entry_price"`
	StopLoss    float64         `json:"stop_loss"`
	TargetPrice float64         `json:"target_price"`
	Option      *OptionContract `json:"option,omitempty"`
}
