// Package polygon is a client for the Polygon.io stocks and options APIs.
package polygon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client calls the Polygon REST API. Every request is bounded by the client timeout.
type Client struct {
	http   *resty.Client
	apiKey string
	log    zerolog.Logger
}

// NewClient creates a REST client.
func NewClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{
		http:   client,
		apiKey: apiKey,
		log:    log.With().Str("client", "polygon").Logger(),
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type lastTradeResponse struct {
	Status  string `json:"status"`
	Results struct {
		Ticker    string  `json:"T"`
		Price     float64 `json:"p"`
		Size      float64 `json:"s"`
		Timestamp int64   `json:"t"` // SIP nanoseconds
	} `json:"results"`
}

// Aggregate is one OHLCV bar.
type Aggregate struct {
	Ticker    string  `json:"T"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	Timestamp int64   `json:"t"` // milliseconds
}

type aggsResponse struct {
	Status       string      `json:"status"`
	ResultsCount int         `json:"resultsCount"`
	Results      []Aggregate `json:"results"`
}

type contractsResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Ticker         string  `json:"ticker"`
		Underlying     string  `json:"underlying_ticker"`
		ContractType   string  `json:"contract_type"`
		StrikePrice    float64 `json:"strike_price"`
		ExpirationDate string  `json:"expiration_date"`
	} `json:"results"`
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("polygon API key not configured")
	}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", c.apiKey).
		SetResult(out)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("polygon request %s failed: %w", path, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("polygon request %s returned status %d", path, resp.StatusCode())
	}
	return nil
}

// LastTrade returns the most recent trade for symbol.
func (c *Client) LastTrade(ctx context.Context, symbol string) (*domain.Quote, error) {
	var body lastTradeResponse
	if err := c.get(ctx, "/v2/last/trade/"+symbol, nil, &body); err != nil {
		return nil, err
	}
	if body.Results.Price <= 0 {
		return nil, fmt.Errorf("polygon returned no trade for %s", symbol)
	}

	ts := time.Now()
	if body.Results.Timestamp > 0 {
		ts = time.Unix(0, body.Results.Timestamp)
	}
	return &domain.Quote{
		Symbol:    symbol,
		Price:     body.Results.Price,
		Volume:    body.Results.Size,
		Timestamp: ts,
		Source:    "polygon",
	}, nil
}

// MinuteVolume returns the volume of the latest one-minute bar of day.
func (c *Client) MinuteVolume(ctx context.Context, symbol string, day time.Time) (float64, error) {
	date := domain.TradingDay(day)
	var body aggsResponse
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/minute/%s/%s", symbol, date, date)
	params := map[string]string{"adjusted": "true", "sort": "desc", "limit": "1"}
	if err := c.get(ctx, path, params, &body); err != nil {
		return 0, err
	}
	if len(body.Results) == 0 {
		return 0, fmt.Errorf("polygon returned no minute bars for %s on %s", symbol, date)
	}
	return body.Results[0].Volume, nil
}

// PreviousDay returns the previous session's daily bar.
func (c *Client) PreviousDay(ctx context.Context, symbol string) (*Aggregate, error) {
	var body aggsResponse
	if err := c.get(ctx, "/v2/aggs/ticker/"+symbol+"/prev", map[string]string{"adjusted": "true"}, &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("polygon returned no previous-day bar for %s", symbol)
	}
	agg := body.Results[0]
	return &agg, nil
}

// OptionContracts lists the contracts of underlying expiring on expiration (YYYY-MM-DD).
func (c *Client) OptionContracts(ctx context.Context, underlying, expiration string) ([]domain.OptionContract, error) {
	var body contractsResponse
	params := map[string]string{
		"underlying_ticker": underlying,
		"expiration_date":   expiration,
		"limit":             "250",
	}
	if err := c.get(ctx, "/v3/reference/options/contracts", params, &body); err != nil {
		return nil, err
	}

	chain := make([]domain.OptionContract, 0, len(body.Results))
	for _, r := range body.Results {
		chain = append(chain, domain.OptionContract{
			Ticker:     r.Ticker,
			Underlying: r.Underlying,
			Type:       domain.OptionType(r.ContractType),
			Strike:     r.StrikePrice,
			Expiration: r.ExpirationDate,
		})
	}
	return chain, nil
}

// BuildOptionSymbol renders an OCC ticker, e.g. "O:SPY250801C00450000".
func BuildOptionSymbol(underlying string, expiration time.Time, optionType domain.OptionType, strike float64) string {
	cp := "C"
	if optionType == domain.OptionPut {
		cp = "P"
	}
	return fmt.Sprintf("O:%s%s%s%08d", strings.ToUpper(underlying), expiration.Format("060102"), cp, int64(strike*1000+0.5))
}
