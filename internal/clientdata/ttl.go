package clientdata

import "time"

// TTL constants, added to now when storing to compute expires_at.
const (
	// A quote is fresh for one engine tick or two; older ones only serve as last known good.
	TTLQuote = 2 * time.Second

	// Previous-day aggregates change once per session.
	TTLPrevDayAgg = 12 * time.Hour

	// Listed contracts for an expiration rarely change intraday.
	TTLOptionChain = time.Hour
)
