package domain

import (
	"time"
	_ "time/tzdata"
)

// MarketLocation is the exchange time zone used for trading days and session clocks.
var MarketLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}()

// TradingDay formats t as the exchange-local date, e.g. "2025-08-01".
func TradingDay(t time.Time) string {
	return t.In(MarketLocation).Format("2006-01-02")
}

// MinutesSinceOpen is the number of minutes since 09:30 exchange time, 0 before the open.
func MinutesSinceOpen(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	local := t.In(MarketLocation)
	m := (local.Hour()-9)*60 + (local.Minute() - 30)
	if m < 0 {
		return 0
	}
	return float64(m)
}
