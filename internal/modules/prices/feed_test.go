package prices

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/aristath/touchline/internal/clientdata"
	"github.com/aristath/touchline/internal/clients/polygon"
	"github.com/aristath/touchline/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cacheSchema = `
CREATE TABLE quotes (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL, stored_at INTEGER NOT NULL);
CREATE TABLE prev_day_aggs (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL, stored_at INTEGER NOT NULL);
CREATE TABLE option_chains (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL, stored_at INTEGER NOT NULL);
`

func setupCache(t *testing.T) (*sql.DB, *clientdata.Repository) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(cacheSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, clientdata.NewRepository(db)
}

type fakeREST struct {
	trade       *domain.Quote
	tradeErr    error
	volume      float64
	volumeErr   error
	volumeCalls int
	prev        *polygon.Aggregate
	prevCalls   int
	chain       []domain.OptionContract
	chainCalls  int
}

func (f *fakeREST) LastTrade(ctx context.Context, symbol string) (*domain.Quote, error) {
	if f.tradeErr != nil {
		return nil, f.tradeErr
	}
	q := *f.trade
	return &q, nil
}

func (f *fakeREST) MinuteVolume(ctx context.Context, symbol string, day time.Time) (float64, error) {
	f.volumeCalls++
	return f.volume, f.volumeErr
}

func (f *fakeREST) PreviousDay(ctx context.Context, symbol string) (*polygon.Aggregate, error) {
	f.prevCalls++
	if f.prev == nil {
		return nil, errors.New("no bar")
	}
	return f.prev, nil
}

func (f *fakeREST) OptionContracts(ctx context.Context, underlying, expiration string) ([]domain.OptionContract, error) {
	f.chainCalls++
	return f.chain, nil
}

type fakeStream struct {
	q  *domain.Quote
	ok bool
}

func (s fakeStream) Latest(string, time.Duration) (*domain.Quote, bool) { return s.q, s.ok }

type fakeFallback struct {
	q   *domain.Quote
	err error
}

func (f fakeFallback) Quote(context.Context, string) (*domain.Quote, error) { return f.q, f.err }

type recordingSink struct {
	pings  []string
	errors []string
}

func (r *recordingSink) Ping(c string)             { r.pings = append(r.pings, c) }
func (r *recordingSink) ReportError(c, why string) { r.errors = append(r.errors, why) }

func quote(price, volume float64, source string) *domain.Quote {
	return &domain.Quote{Symbol: "SPY", Price: price, Volume: volume, Timestamp: time.Now(), Source: source}
}

func TestFeed_PrefersStream(t *testing.T) {
	rest := &fakeREST{trade: quote(449, 10, "polygon"), volume: 60000}
	sink := &recordingSink{}
	feed := NewFeed(DefaultConfig(), sink, zerolog.Nop(),
		WithStream(fakeStream{q: quote(450, 5, "polygon_stream"), ok: true}),
		WithREST(rest),
	)

	q, err := feed.LatestQuote(context.Background(), "spy")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 450.0, q.Price)
	assert.Equal(t, 60000.0, q.Volume, "volume comes from the minute bar")
	assert.Equal(t, []string{componentName}, sink.pings)
}

func TestFeed_FallsThroughToREST(t *testing.T) {
	rest := &fakeREST{trade: quote(449, 10, "polygon"), volume: 30000}
	feed := NewFeed(DefaultConfig(), nil, zerolog.Nop(),
		WithStream(fakeStream{ok: false}),
		WithREST(rest),
	)

	q, err := feed.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 449.0, q.Price)
	assert.Equal(t, "polygon", q.Source)
}

func TestFeed_FallsThroughToFallback(t *testing.T) {
	rest := &fakeREST{tradeErr: errors.New("timeout")}
	feed := NewFeed(DefaultConfig(), nil, zerolog.Nop(),
		WithREST(rest),
		WithFallback(fakeFallback{q: quote(448.5, 1200000, "yahoo")}),
	)

	q, err := feed.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 448.5, q.Price)
	assert.Equal(t, 1200000.0, q.Volume)
}

func TestFeed_LastKnownGood(t *testing.T) {
	_, cache := setupCache(t)
	rest := &fakeREST{trade: quote(450.25, 10, "polygon"), volume: 50000}
	sink := &recordingSink{}
	feed := NewFeed(DefaultConfig(), sink, zerolog.Nop(), WithREST(rest), WithCache(cache))

	_, err := feed.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)

	rest.tradeErr = errors.New("provider down")
	q, err := feed.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 450.25, q.Price)
	assert.Equal(t, []string{reasonStale}, sink.errors)
}

func TestFeed_StaleCacheIsUnavailable(t *testing.T) {
	db, cache := setupCache(t)
	storedAt := time.Now().Add(-time.Minute).UnixMilli()
	_, err := db.Exec(`INSERT INTO quotes (key, data, expires_at, stored_at) VALUES (?, ?, ?, ?)`,
		"SPY", `{"symbol":"SPY","price":450}`, storedAt+2000, storedAt)
	require.NoError(t, err)

	sink := &recordingSink{}
	feed := NewFeed(DefaultConfig(), sink, zerolog.Nop(),
		WithREST(&fakeREST{tradeErr: errors.New("down")}),
		WithFallback(fakeFallback{err: errors.New("down too")}),
		WithCache(cache),
	)

	q, err := feed.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Equal(t, []string{reasonUnavailable}, sink.errors)
}

func TestFeed_NoProviders(t *testing.T) {
	feed := NewFeed(DefaultConfig(), nil, zerolog.Nop())
	q, err := feed.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestFeed_MinuteVolumeIsReused(t *testing.T) {
	rest := &fakeREST{trade: quote(450, 10, "polygon"), volume: 70000}
	feed := NewFeed(DefaultConfig(), nil, zerolog.Nop(), WithREST(rest))
	now := time.Date(2025, 8, 1, 15, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := feed.LatestQuote(context.Background(), "SPY")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, rest.volumeCalls)

	now = now.Add(31 * time.Second)
	rest.volume = 20000
	q, err := feed.LatestQuote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 2, rest.volumeCalls)
	assert.Equal(t, 20000.0, q.Volume)
}

func TestFeed_VolumeNormCached(t *testing.T) {
	_, cache := setupCache(t)
	rest := &fakeREST{prev: &polygon.Aggregate{Ticker: "SPY", Volume: 39000000}}
	feed := NewFeed(DefaultConfig(), nil, zerolog.Nop(), WithREST(rest), WithCache(cache))

	assert.Equal(t, 100000.0, feed.VolumeNorm(context.Background(), "SPY"))
	assert.Equal(t, 100000.0, feed.VolumeNorm(context.Background(), "SPY"))
	assert.Equal(t, 1, rest.prevCalls)

	empty := NewFeed(DefaultConfig(), nil, zerolog.Nop())
	assert.Equal(t, 0.0, empty.VolumeNorm(context.Background(), "SPY"))
}

func TestFeed_OptionChainCached(t *testing.T) {
	_, cache := setupCache(t)
	rest := &fakeREST{chain: []domain.OptionContract{
		{Ticker: "O:SPY250801C00451000", Type: domain.OptionCall, Strike: 451, Expiration: "2025-08-01"},
	}}
	feed := NewFeed(DefaultConfig(), nil, zerolog.Nop(), WithREST(rest), WithCache(cache))

	chain, err := feed.GetOptionChain(context.Background(), "spy", "2025-08-01")
	require.NoError(t, err)
	require.Len(t, chain, 1)

	chain, err = feed.GetOptionChain(context.Background(), "SPY", "2025-08-01")
	require.NoError(t, err)
	assert.Equal(t, 451.0, chain[0].Strike)
	assert.Equal(t, 1, rest.chainCalls)

	_, err = NewFeed(DefaultConfig(), nil, zerolog.Nop()).GetOptionChain(context.Background(), "SPY", "2025-08-01")
	assert.Error(t, err)
}
