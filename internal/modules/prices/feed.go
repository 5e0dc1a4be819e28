// Package prices composes the quote providers into a single fail-soft price source.
package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/touchline/internal/clientdata"
	"github.com/aristath/touchline/internal/clients/polygon"
	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

const (
	componentName     = "price_feed"
	reasonUnavailable = "Live price unavailable"
	reasonStale       = "Serving last known good price"

	// Regular session length, used to turn a daily volume into a per-minute norm.
	sessionMinutes = 390
)

// RESTSource is the request/response market data provider.
type RESTSource interface {
	LastTrade(ctx context.Context, symbol string) (*domain.Quote, error)
	MinuteVolume(ctx context.Context, symbol string, day time.Time) (float64, error)
	PreviousDay(ctx context.Context, symbol string) (*polygon.Aggregate, error)
	OptionContracts(ctx context.Context, underlying, expiration string) ([]domain.OptionContract, error)
}

// StreamSource serves pushed trades.
type StreamSource interface {
	Latest(symbol string, maxAge time.Duration) (*domain.Quote, bool)
}

// QuoteSource is a single-call quote provider used as fallback.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// Config bounds provider calls and cached data.
type Config struct {
	Timeout       time.Duration // per provider call
	StaleAfter    time.Duration // max age of a last-known-good quote
	StreamMaxAge  time.Duration // streamed trades older than this fall through to REST
	VolumeRefresh time.Duration // how long a minute-bar volume is reused
}

// DefaultConfig returns the stock feed settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Second,
		StaleAfter:    30 * time.Second,
		StreamMaxAge:  5 * time.Second,
		VolumeRefresh: 30 * time.Second,
	}
}

// Option configures a Feed.
type Option func(*Feed)

// WithREST sets the primary REST provider.
func WithREST(r RESTSource) Option { return func(f *Feed) { f.rest = r } }

// WithStream sets the websocket trade cache consulted before REST.
func WithStream(s StreamSource) Option { return func(f *Feed) { f.stream = s } }

// WithFallback sets the last provider tried before the cache.
func WithFallback(q QuoteSource) Option { return func(f *Feed) { f.fallback = q } }

// WithCache sets the provider data cache.
func WithCache(c *clientdata.Repository) Option { return func(f *Feed) { f.cache = c } }

type volumeSample struct {
	volume float64
	at     time.Time
}

// Feed implements domain.PriceSource and domain.OptionChainSource.
type Feed struct {
	rest     RESTSource
	stream   StreamSource
	fallback QuoteSource
	cache    *clientdata.Repository

	cfg  Config
	sink domain.HealthSink
	log  zerolog.Logger
	now  func() time.Time

	mu      sync.Mutex
	volumes map[string]volumeSample
}

// NewFeed creates a feed. Providers are optional; with none configured every
// quote comes from the cache or is unavailable.
func NewFeed(cfg Config, sink domain.HealthSink, log zerolog.Logger, opts ...Option) *Feed {
	if sink == nil {
		sink = domain.NopHealthSink{}
	}
	f := &Feed{
		cfg:     cfg,
		sink:    sink,
		log:     log.With().Str("component", componentName).Logger(),
		now:     time.Now,
		volumes: make(map[string]volumeSample),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LatestQuote tries stream, REST and fallback in order, then the last-known-good
// quote. Returns nil, nil when nothing usable is available.
func (f *Feed) LatestQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = strings.ToUpper(symbol)

	q, err := f.live(ctx, symbol)
	if q != nil {
		f.remember(symbol, q)
		f.sink.Ping(componentName)
		return q, nil
	}

	if cached := f.lastKnownGood(symbol); cached != nil {
		f.log.Warn().Err(err).Str("symbol", symbol).Time("quoted_at", cached.Timestamp).Msg(reasonStale)
		f.sink.ReportError(componentName, reasonStale)
		return cached, nil
	}

	f.log.Warn().Err(err).Str("symbol", symbol).Msg(reasonUnavailable)
	f.sink.ReportError(componentName, reasonUnavailable)
	return nil, nil
}

func (f *Feed) live(ctx context.Context, symbol string) (*domain.Quote, error) {
	if f.stream != nil {
		if q, ok := f.stream.Latest(symbol, f.cfg.StreamMaxAge); ok && validQuote(q) {
			return f.withMinuteVolume(ctx, symbol, q), nil
		}
	}

	var errs []error
	if f.rest != nil {
		callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		q, err := f.rest.LastTrade(callCtx, symbol)
		cancel()
		if err == nil && validQuote(q) {
			return f.withMinuteVolume(ctx, symbol, q), nil
		}
		errs = append(errs, fmt.Errorf("rest: %w", errOrInvalid(err)))
	}

	if f.fallback != nil {
		q, err := f.fallback.Quote(ctx, symbol)
		if err == nil && validQuote(q) {
			return q, nil
		}
		errs = append(errs, fmt.Errorf("fallback: %w", errOrInvalid(err)))
	}

	if len(errs) == 0 {
		return nil, errors.New("no price provider configured")
	}
	return nil, errors.Join(errs...)
}

// withMinuteVolume replaces the trade size with the latest one-minute bar volume.
// The bar is refetched at most once per VolumeRefresh.
func (f *Feed) withMinuteVolume(ctx context.Context, symbol string, q *domain.Quote) *domain.Quote {
	out := *q
	if f.rest == nil {
		return &out
	}

	now := f.now()
	f.mu.Lock()
	sample, ok := f.volumes[symbol]
	f.mu.Unlock()
	if ok && now.Sub(sample.at) < f.cfg.VolumeRefresh {
		out.Volume = sample.volume
		return &out
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	v, err := f.rest.MinuteVolume(callCtx, symbol, now)
	if err != nil {
		f.log.Debug().Err(err).Str("symbol", symbol).Msg("Minute volume unavailable, keeping trade size")
		if ok {
			out.Volume = sample.volume
		}
		return &out
	}

	f.mu.Lock()
	f.volumes[symbol] = volumeSample{volume: v, at: now}
	f.mu.Unlock()
	out.Volume = v
	return &out
}

func (f *Feed) remember(symbol string, q *domain.Quote) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Store(clientdata.TableQuotes, symbol, q, clientdata.TTLQuote); err != nil {
		f.log.Debug().Err(err).Msg("Failed to cache quote")
	}
}

func (f *Feed) lastKnownGood(symbol string) *domain.Quote {
	if f.cache == nil {
		return nil
	}
	raw, age, err := f.cache.GetWithAge(clientdata.TableQuotes, symbol)
	if err != nil || raw == nil {
		return nil
	}
	if age > f.cfg.StaleAfter {
		return nil
	}
	var q domain.Quote
	if err := json.Unmarshal(raw, &q); err != nil || !validQuote(&q) {
		return nil
	}
	return &q
}

// VolumeNorm is the previous session's average volume per minute, 0 when unknown.
func (f *Feed) VolumeNorm(ctx context.Context, symbol string) float64 {
	symbol = strings.ToUpper(symbol)

	if f.cache != nil {
		if raw, err := f.cache.GetIfFresh(clientdata.TablePrevDayAggs, symbol); err == nil && raw != nil {
			var agg polygon.Aggregate
			if err := json.Unmarshal(raw, &agg); err == nil {
				return agg.Volume / sessionMinutes
			}
		}
	}
	if f.rest == nil {
		return 0
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	agg, err := f.rest.PreviousDay(callCtx, symbol)
	if err != nil {
		f.log.Debug().Err(err).Str("symbol", symbol).Msg("Previous-day aggregate unavailable")
		return 0
	}
	if f.cache != nil {
		if err := f.cache.Store(clientdata.TablePrevDayAggs, symbol, agg, clientdata.TTLPrevDayAgg); err != nil {
			f.log.Debug().Err(err).Msg("Failed to cache previous-day aggregate")
		}
	}
	return agg.Volume / sessionMinutes
}

// GetOptionChain lists contracts for underlying expiring on expiration, cached per hour.
func (f *Feed) GetOptionChain(ctx context.Context, underlying, expiration string) ([]domain.OptionContract, error) {
	underlying = strings.ToUpper(underlying)
	key := underlying + "|" + expiration

	if f.cache != nil {
		if raw, err := f.cache.GetIfFresh(clientdata.TableOptionChains, key); err == nil && raw != nil {
			var chain []domain.OptionContract
			if err := json.Unmarshal(raw, &chain); err == nil {
				return chain, nil
			}
		}
	}
	if f.rest == nil {
		return nil, errors.New("no option chain provider configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	chain, err := f.rest.OptionContracts(callCtx, underlying, expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to load option chain for %s: %w", key, err)
	}
	if f.cache != nil && len(chain) > 0 {
		if err := f.cache.Store(clientdata.TableOptionChains, key, chain, clientdata.TTLOptionChain); err != nil {
			f.log.Debug().Err(err).Msg("Failed to cache option chain")
		}
	}
	return chain, nil
}

func validQuote(q *domain.Quote) bool {
	return q != nil && q.Price > 0
}

func errOrInvalid(err error) error {
	if err != nil {
		return err
	}
	return errors.New("invalid quote")
}
