// Package yahoo is the last-resort quote provider backed by Yahoo Finance.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/touchline/internal/domain"
	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/rs/zerolog"
)

type fetchFunc func(symbol string) (*finance.Quote, error)

// Client fetches regular-market quotes. Calls are bounded by the client timeout
// because the underlying library takes no context.
type Client struct {
	timeout time.Duration
	fetch   fetchFunc
	log     zerolog.Logger
}

// NewClient creates a Yahoo Finance client.
func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		timeout: timeout,
		fetch:   quote.Get,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

type result struct {
	q   *finance.Quote
	err error
}

// Quote returns the regular-market price and volume of symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		q, err := c.fetch(symbol)
		done <- result{q: q, err: err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("yahoo quote for %s: %w", symbol, ctx.Err())
	case r = <-done:
	}

	if r.err != nil {
		return nil, fmt.Errorf("failed to get yahoo quote for %s: %w", symbol, r.err)
	}
	if r.q == nil || r.q.RegularMarketPrice <= 0 {
		return nil, fmt.Errorf("yahoo returned no price for %s", symbol)
	}

	ts := time.Now()
	if r.q.RegularMarketTime > 0 {
		ts = time.Unix(int64(r.q.RegularMarketTime), 0)
	}

	c.log.Debug().Str("symbol", symbol).Float64("price", r.q.RegularMarketPrice).Msg("Fetched yahoo quote")

	return &domain.Quote{
		Symbol:    symbol,
		Price:     r.q.RegularMarketPrice,
		Volume:    float64(r.q.RegularMarketVolume),
		Timestamp: ts,
		Source:    "yahoo",
	}, nil
}
