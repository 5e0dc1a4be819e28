package domain

import (
	"context"
	"time"
)

// PriceSource supplies the latest quote for a symbol.
// A nil quote with nil error means the price is unavailable right now.
type PriceSource interface {
	LatestQuote(ctx context.Context, symbol string) (*Quote, error)
}

// LevelSource supplies the active level sheet.
type LevelSource interface {
	LoadLevels(ctx context.Context) ([]PriceLevel, error)
}

// OptionChainSource lists contracts for an underlying and expiration (YYYY-MM-DD).
type OptionChainSource interface {
	GetOptionChain(ctx context.Context, underlying, expiration string) ([]OptionContract, error)
}

// HealthSink receives liveness pings and failure reasons from components.
type HealthSink interface {
	Ping(component string)
	ReportError(component, reason string)
}

// NopHealthSink discards everything.
type NopHealthSink struct{}

func (NopHealthSink) Ping(string)                {}
func (NopHealthSink) ReportError(string, string) {}

// Clock abstracts time.Now for components with time windows.
type Clock func() time.Time
