// Package engine runs the polling loop that turns live prices into contacts,
// scored patterns, paper trades and outcome feedback.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/aristath/touchline/internal/events"
	"github.com/aristath/touchline/internal/modules/contact"
	"github.com/aristath/touchline/internal/modules/entry"
	"github.com/aristath/touchline/internal/modules/evolution"
	"github.com/aristath/touchline/internal/modules/exits"
	"github.com/aristath/touchline/internal/modules/memory"
	"github.com/aristath/touchline/internal/modules/portfolio"
	"github.com/aristath/touchline/internal/modules/recommendation"
	"github.com/aristath/touchline/internal/modules/scoring"
	"github.com/aristath/touchline/internal/modules/strategy"
	"github.com/aristath/touchline/pkg/formulas"
	"github.com/rs/zerolog"
)

const componentName = "engine"

// VolumeNormSource supplies the per-minute volume the feature vector is normalized by.
type VolumeNormSource interface {
	VolumeNorm(ctx context.Context, symbol string) float64
}

// Config controls the loop.
type Config struct {
	Symbol       string
	PollInterval time.Duration
	PositionQty  float64
	PriceWindow  int // samples kept per open position for the volatility measure

	// AllowNoEdge lets a pattern without a recommended direction still enter,
	// in the direction implied by its reaction.
	AllowNoEdge bool
}

// Deps are the collaborators of one engine. Chains and VolumeNorm are optional.
type Deps struct {
	Prices     domain.PriceSource
	Levels     domain.LevelSource
	Chains     domain.OptionChainSource
	VolumeNorm VolumeNormSource

	Evaluator   *contact.Evaluator
	Trend       *contact.TrendTracker
	Contacts    *contact.Repository
	Scorer      *scoring.BaseScorer
	Adjuster    *scoring.Adjuster
	Resilience  *scoring.ResilienceStore
	Memory      *memory.Store
	Tracker     *evolution.Tracker
	Recommender *recommendation.Recommender
	Entry       *entry.Planner
	Strategy    *strategy.Planner
	Exits       *exits.Strategy
	Ledger      *portfolio.Ledger

	Events *events.Manager
	Sink   domain.HealthSink
}

// TickResult summarizes one iteration, mostly for tests and the status API.
type TickResult struct {
	Quote     *domain.Quote
	Contacts  int
	Pattern   *domain.Pattern
	Rejection string
	Opened    string
	Closed    []string
}

// Engine owns the per-process loop state.
type Engine struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu        sync.Mutex
	windows   map[string][]float64
	priceDown bool
	last      *TickResult
	lastTick  time.Time
}

// New creates an engine.
func New(cfg Config, deps Deps, log zerolog.Logger) *Engine {
	if deps.Sink == nil {
		deps.Sink = domain.NopHealthSink{}
	}
	if cfg.PriceWindow <= 0 {
		cfg.PriceWindow = 600
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		log:     log.With().Str("component", componentName).Str("symbol", cfg.Symbol).Logger(),
		windows: make(map[string][]float64),
	}
}

// Run ticks every PollInterval until ctx is cancelled. A failing tick is logged
// and never stops the loop.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info().
		Dur("poll_interval", e.cfg.PollInterval).
		Bool("base_model", e.deps.Scorer.HasModel()).
		Bool("require_edge", !e.cfg.AllowNoEdge).
		Msg("Engine started")
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("Engine stopped")
			return
		case now := <-ticker.C:
			if _, err := e.SafeTick(ctx, now); err != nil {
				e.log.Error().Err(err).Msg("Tick failed")
			}
		}
	}
}

// SafeTick runs Tick and converts a panic into an error.
func (e *Engine) SafeTick(ctx context.Context, now time.Time) (res *TickResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tick panicked: %v", p)
			e.log.Error().Str("stack", string(debug.Stack())).Msg("Recovered from tick panic")
			e.deps.Sink.ReportError(componentName, err.Error())
		}
	}()
	return e.Tick(ctx, now)
}

// Tick runs one pass of the pipeline at now.
func (e *Engine) Tick(ctx context.Context, now time.Time) (*TickResult, error) {
	res := &TickResult{}
	defer e.remember(res, now)

	quote, err := e.deps.Prices.LatestQuote(ctx, e.cfg.Symbol)
	if err != nil || quote == nil || quote.Price <= 0 {
		e.priceUnavailable(err)
		return res, nil
	}
	e.priceAvailable()
	res.Quote = quote

	macro := e.deps.Trend.Observe(quote.Price)

	levels, err := e.deps.Levels.LoadLevels(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Levels unavailable, skipping contact detection")
		levels = nil
	}

	var pattern *domain.Pattern
	for _, level := range e.deps.Evaluator.TouchedLevels(quote.Price, levels) {
		ev := e.deps.Evaluator.Evaluate(contact.Observation{
			Symbol:    e.cfg.Symbol,
			Price:     quote.Price,
			Volume:    quote.Volume,
			Timestamp: now,
			Level:     level,
			Macro:     macro,
			AllLevels: levels,
		})
		res.Contacts++
		if err := e.deps.Contacts.Log(ev); err != nil {
			e.log.Warn().Err(err).Msg("Failed to log contact")
		}
		e.emit(events.ContactDetected, map[string]interface{}{
			"level":    ev.Level.Label(),
			"price":    ev.Price,
			"reaction": string(ev.Reaction),
			"order":    ev.ContactOrder,
		})
		if pattern == nil && ev.Reaction != domain.ReactionNone {
			pattern = e.recognize(ctx, ev, levels, now)
		}
	}
	res.Pattern = pattern

	if pattern != nil {
		res.Rejection, res.Opened = e.enter(ctx, quote, pattern, now)
	}

	res.Closed = e.manageExits(ctx, quote.Price, now)
	e.deps.Sink.Ping(componentName)
	return res, nil
}

// recognize scores a contact with a reaction and queues it for review.
func (e *Engine) recognize(ctx context.Context, ev domain.ContactEvent, levels []domain.PriceLevel, now time.Time) *domain.Pattern {
	fc := scoring.FeatureContext{Levels: levels}
	if e.deps.VolumeNorm != nil {
		fc.VolumeNorm = e.deps.VolumeNorm.VolumeNorm(ctx, e.cfg.Symbol)
	}
	base, source := e.deps.Scorer.Score(ev, fc)

	id := domain.SignatureOf(ev).Key()
	pattern := &domain.Pattern{
		ID:         id,
		Name:       ev.PatternName(),
		Event:      ev,
		Confidence: ev.Confidence,
		Score:      e.deps.Adjuster.Score(ctx, id, base, e.cfg.Symbol),
		DetectedAt: now,
	}

	if _, err := e.deps.Memory.QueuePattern(ctx, *pattern); err != nil {
		e.log.Warn().Err(err).Str("pattern_id", id).Msg("Failed to queue pattern")
		e.deps.Sink.ReportError("pattern_memory", err.Error())
	}
	e.deps.Sink.Ping("pattern_recognizer")

	e.log.Info().
		Str("pattern", pattern.Name).
		Str("pattern_id", id).
		Float64("base", base).
		Str("base_source", source).
		Float64("score", pattern.Score).
		Msg("Pattern recognized")
	e.emit(events.PatternRecognized, map[string]interface{}{
		"pattern_id": id,
		"name":       pattern.Name,
		"score":      pattern.Score,
	})
	return pattern
}

// ReasonNoEdge rejects a pattern whose signature has no recommended direction.
const ReasonNoEdge = "no_edge"

// enter gates the pattern and opens a paper position. It returns the gate
// rejection reason or the new position id.
func (e *Engine) enter(ctx context.Context, quote *domain.Quote, pattern *domain.Pattern, now time.Time) (string, string) {
	rec := e.deps.Recommender.Recommend(ctx, pattern.Event)
	if rec != nil {
		e.emit(events.TradeRecommended, map[string]interface{}{
			"id":          rec.ID,
			"direction":   string(rec.Direction),
			"pattern_key": rec.PatternKey,
		})
	} else if !e.cfg.AllowNoEdge {
		e.log.Debug().Str("pattern_id", pattern.ID).Msg("No historical edge, skipping")
		e.emit(events.EntryRejected, map[string]interface{}{"pattern_id": pattern.ID, "reason": ReasonNoEdge})
		return ReasonNoEdge, ""
	} else {
		e.log.Debug().Str("pattern_id", pattern.ID).Msg("No historical edge, entering on reaction")
	}

	signal, reason := e.deps.Entry.ShouldEnter(quote.Price, quote.Volume, now, *pattern)
	if signal == nil {
		e.emit(events.EntryRejected, map[string]interface{}{"pattern_id": pattern.ID, "reason": reason})
		return reason, ""
	}

	open, err := e.deps.Ledger.OpenPositions(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Open positions unavailable, not entering")
		return "", ""
	}
	for _, p := range open {
		if p.Symbol == e.cfg.Symbol {
			e.log.Debug().Str("position_id", p.ID).Msg("Position already open, not entering")
			return "", ""
		}
	}

	direction := signal.Direction
	if rec != nil {
		direction = rec.Direction
	}

	var chain []domain.OptionContract
	if e.deps.Chains != nil {
		chain, err = e.deps.Chains.GetOptionChain(ctx, e.cfg.Symbol, domain.TradingDay(now))
		if err != nil {
			e.log.Debug().Err(err).Msg("Option chain unavailable, planning without contract")
		}
	}

	plan, err := e.deps.Strategy.BuildPlan(direction, signal.Price, chain)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to build trade plan")
		return "", ""
	}

	ev := pattern.Event
	id, err := e.deps.Ledger.Open(ctx, domain.Position{
		Symbol:     e.cfg.Symbol,
		Side:       plan.Direction,
		Qty:        e.cfg.PositionQty,
		Entry:      plan.EntryPrice,
		Stop:       plan.StopLoss,
		Target:     plan.TargetPrice,
		OpenedAt:   now,
		PatternKey: pattern.ID,
		PatternID:  pattern.ID,
		Confidence: pattern.Score,
		Contact:    &ev,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to open position")
		return "", ""
	}

	e.mu.Lock()
	e.windows[id] = []float64{quote.Price}
	e.mu.Unlock()

	fields := map[string]interface{}{
		"position_id": id,
		"direction":   string(plan.Direction),
		"entry":       plan.EntryPrice,
		"stop":        plan.StopLoss,
		"target":      plan.TargetPrice,
	}
	if plan.Option != nil {
		fields["option"] = plan.Option.Ticker
	}
	e.emit(events.PositionOpened, fields)
	return "", id
}

// manageExits evaluates every open position and feeds closed ones back into memory.
func (e *Engine) manageExits(ctx context.Context, price float64, now time.Time) []string {
	open, err := e.deps.Ledger.OpenPositions(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Open positions unavailable, skipping exits")
		return nil
	}

	e.trackPrices(open, price)

	var closed []string
	for _, sig := range e.deps.Exits.Evaluate(open, price, now) {
		pos, err := e.deps.Ledger.ClosePosition(ctx, sig.PositionID, sig.Price)
		if err != nil {
			e.log.Warn().Err(err).Str("position_id", sig.PositionID).Msg("Failed to close position")
			continue
		}
		closed = append(closed, pos.ID)
		e.emit(events.PositionClosed, map[string]interface{}{
			"position_id": pos.ID,
			"reason":      sig.Reason,
			"exit":        sig.Price,
			"pnl":         *pos.PnL,
		})
		e.feedback(ctx, *pos, now)
	}
	return closed
}

// trackPrices appends price to the window of each open position and drops
// windows of positions that are no longer open.
func (e *Engine) trackPrices(open []domain.Position, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := make(map[string]bool, len(open))
	for _, p := range open {
		live[p.ID] = true
		w := append(e.windows[p.ID], price)
		if len(w) > e.cfg.PriceWindow {
			w = w[len(w)-e.cfg.PriceWindow:]
		}
		e.windows[p.ID] = w
	}
	for id := range e.windows {
		if !live[id] {
			delete(e.windows, id)
		}
	}
}

func (e *Engine) takeWindow(id string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.windows[id]
	delete(e.windows, id)
	return w
}

// feedback records a closed trade's outcome everywhere the pipeline learns from.
// Break-even counts as a loss.
func (e *Engine) feedback(ctx context.Context, pos domain.Position, now time.Time) {
	pnl := 0.0
	if pos.PnL != nil {
		pnl = *pos.PnL
	}
	exit := 0.0
	if pos.ExitPrice != nil {
		exit = *pos.ExitPrice
	}
	success := pnl > 0

	sig, err := signatureOf(pos)
	if err != nil {
		e.log.Warn().Err(err).Str("position_id", pos.ID).Msg("Position has no pattern, skipping feedback")
		return
	}

	if err := e.deps.Tracker.RecordResult(ctx, sig, pos.Side, success); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record evolution result")
	}

	name := pos.PatternID
	if pos.Contact != nil {
		name = pos.Contact.PatternName()
	}
	if err := e.deps.Memory.RecordPatternOutcome(ctx, pos.PatternID, name, success, pos.Confidence); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record pattern outcome")
		e.deps.Sink.ReportError("pattern_memory", err.Error())
	} else {
		e.deps.Sink.Ping("pattern_memory")
	}

	closedAt := now
	if pos.ClosedAt != nil {
		closedAt = *pos.ClosedAt
	}
	if err := e.deps.Memory.RecordTrade(ctx, memory.TradeRecord{
		TradeID:    pos.ID,
		PatternID:  pos.PatternID,
		Symbol:     pos.Symbol,
		Direction:  string(pos.Side),
		EntryPrice: pos.Entry,
		ExitPrice:  exit,
		PnL:        pnl,
		Confidence: pos.Confidence,
		ClosedAt:   closedAt,
	}); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record trade history")
	}

	window := e.takeWindow(pos.ID)
	volatility := formulas.RelativeVolatility(window, pos.Entry)
	duration := closedAt.Sub(pos.OpenedAt).Minutes()
	if err := e.deps.Resilience.Record(ctx, pos.PatternID, scoring.OutcomeOf(pnl), volatility, duration); err != nil {
		e.log.Warn().Err(err).Msg("Failed to record resilience")
	}

	e.emit(events.FeedbackRecorded, map[string]interface{}{
		"position_id": pos.ID,
		"pattern_key": sig.Key(),
		"direction":   string(pos.Side),
		"success":     success,
	})
}

// ClosePosition closes an open position at price outside the exit rules, as
// the API does, and feeds the outcome back like any other close.
func (e *Engine) ClosePosition(ctx context.Context, id string, price float64) (*domain.Position, error) {
	pos, err := e.deps.Ledger.ClosePosition(ctx, id, price)
	if err != nil {
		return nil, err
	}
	e.emit(events.PositionClosed, map[string]interface{}{
		"position_id": pos.ID,
		"reason":      "manual",
		"exit":        price,
	})
	e.feedback(ctx, *pos, time.Now())
	return pos, nil
}

func signatureOf(pos domain.Position) (domain.PatternSignature, error) {
	if pos.Contact != nil {
		return domain.SignatureOf(*pos.Contact), nil
	}
	return domain.ParseSignature(pos.PatternKey)
}

func (e *Engine) priceUnavailable(err error) {
	e.mu.Lock()
	wasDown := e.priceDown
	e.priceDown = true
	e.mu.Unlock()

	e.log.Debug().Err(err).Msg("Price unavailable, skipping tick")
	if !wasDown {
		data := map[string]interface{}{"symbol": e.cfg.Symbol}
		if err != nil {
			data["error"] = err.Error()
		}
		e.emit(events.PriceUnavailable, data)
	}
}

func (e *Engine) priceAvailable() {
	e.mu.Lock()
	e.priceDown = false
	e.mu.Unlock()
}

func (e *Engine) remember(res *TickResult, now time.Time) {
	e.mu.Lock()
	e.last = res
	e.lastTick = now
	e.mu.Unlock()
}

// LastTick returns the result and time of the most recent tick.
func (e *Engine) LastTick() (*TickResult, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.lastTick
}

func (e *Engine) emit(t events.EventType, data map[string]interface{}) {
	if e.deps.Events == nil {
		return
	}
	e.deps.Events.Emit(t, componentName, data)
}
