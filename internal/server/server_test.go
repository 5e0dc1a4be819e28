package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/touchline/internal/domain"
	"github.com/aristath/touchline/internal/engine"
	"github.com/aristath/touchline/internal/events"
	"github.com/aristath/touchline/internal/modules/diagnostics"
	"github.com/aristath/touchline/internal/modules/evolution"
	"github.com/aristath/touchline/internal/modules/memory"
	"github.com/aristath/touchline/internal/modules/portfolio"
	"github.com/aristath/touchline/internal/modules/scoring"
	"github.com/aristath/touchline/internal/scheduler"
)

type fakeLevels struct {
	day      string
	levels   []domain.PriceLevel
	replaced []domain.PriceLevel
}

func (f *fakeLevels) Replace(_ context.Context, day string, levels []domain.PriceLevel) error {
	f.day = day
	f.replaced = levels
	return nil
}

func (f *fakeLevels) Latest(context.Context) (string, []domain.PriceLevel, error) {
	return f.day, f.levels, nil
}

type fakePrices struct{ quote *domain.Quote }

func (f fakePrices) LatestQuote(context.Context, string) (*domain.Quote, error) { return f.quote, nil }

type fakeRecs struct{ rec *domain.Recommendation }

func (f fakeRecs) Latest() *domain.Recommendation { return f.rec }

type fakePortfolio struct{}

func (fakePortfolio) Summary(context.Context, int) (*portfolio.Summary, error) {
	return &portfolio.Summary{Balance: "10000.00", RealizedPnL: "0.00"}, nil
}

type fakeCloser struct {
	gotID    string
	gotPrice float64
}

func (f *fakeCloser) ClosePosition(_ context.Context, id string, price float64) (*domain.Position, error) {
	if id != "open-1" {
		return nil, portfolio.ErrPositionNotOpen
	}
	f.gotID, f.gotPrice = id, price
	return &domain.Position{ID: id, ExitPrice: &price}, nil
}

type fakeReview struct {
	current *memory.QueuedPattern
	decided map[int64]memory.Decision
}

func (f *fakeReview) CurrentPattern(context.Context) (*memory.QueuedPattern, error) {
	return f.current, nil
}

func (f *fakeReview) MarkDecision(_ context.Context, id int64, d memory.Decision) error {
	if f.current == nil || f.current.ID != id {
		return memory.ErrPatternNotFound
	}
	if f.decided == nil {
		f.decided = make(map[int64]memory.Decision)
	}
	f.decided[id] = d
	return nil
}

type fakeEvolution struct{}

func (fakeEvolution) Records(_ context.Context, sig domain.PatternSignature) ([]evolution.Record, error) {
	return []evolution.Record{{PatternKey: sig.Key(), Direction: domain.DirectionLong, Wins: 3, Losses: 1}}, nil
}

func (fakeEvolution) BestDirection(context.Context, domain.PatternSignature) (domain.Direction, bool) {
	return domain.DirectionLong, true
}

type fakeResilience struct {
	recorded []string
}

func (f *fakeResilience) Record(_ context.Context, id string, _ scoring.Outcome, _, _ float64) error {
	f.recorded = append(f.recorded, id)
	return nil
}

func (f *fakeResilience) Score(_ context.Context, id string) (float64, error) {
	if len(f.recorded) == 0 {
		return 0, nil
	}
	return 0.25, nil
}

type fakeTicks struct{}

func (fakeTicks) LastTick() (*engine.TickResult, time.Time) {
	return &engine.TickResult{Contacts: 2, Opened: "p-1"}, time.Date(2025, 8, 1, 14, 0, 0, 0, time.UTC)
}

type countingJob struct{ runs int }

func (j *countingJob) Name() string { return "diagnostics_sweep" }
func (j *countingJob) Run() error   { j.runs++; return nil }

type failingJob struct{}

func (failingJob) Name() string { return "cloud_backup" }
func (failingJob) Run() error   { return errors.New("bucket unreachable") }

type fixture struct {
	srv        *Server
	levels     *fakeLevels
	closer     *fakeCloser
	review     *fakeReview
	resilience *fakeResilience
	monitor    *diagnostics.Monitor
	events     *events.Manager
	job        *countingJob
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	em := events.NewManager(log)
	monitor := diagnostics.NewMonitor(em, log)

	sched := scheduler.New(log)
	job := &countingJob{}
	require.NoError(t, sched.AddJob("0 */5 * * * *", job))
	require.NoError(t, sched.AddJob("0 30 2 * * *", failingJob{}))

	f := &fixture{
		levels: &fakeLevels{
			day: "2025-08-01",
			levels: []domain.PriceLevel{
				{Color: domain.ColorBlue, Style: domain.StyleSolid, Index: 0, Price: 450},
				{Color: domain.ColorOrange, Style: domain.StyleDashed, Index: 0, Price: 452.5},
			},
		},
		closer: &fakeCloser{},
		review: &fakeReview{current: &memory.QueuedPattern{
			ID: 7, PatternID: "blue_solid|rejection|from_above|above_trend", Name: "Rejection at blue solid L450.00",
		}},
		resilience: &fakeResilience{},
		monitor:    monitor,
		events:     em,
		job:        job,
	}
	f.srv = New(Config{
		Log:     log,
		DevMode: true,
		Symbol:  "SPY",
		Version: "test",

		Levels:          f.levels,
		Prices:          fakePrices{quote: &domain.Quote{Symbol: "SPY", Price: 450.12, Source: "polygon"}},
		Recommendations: fakeRecs{},
		Portfolio:       fakePortfolio{},
		Closer:          f.closer,
		Review:          f.review,
		Evolution:       fakeEvolution{},
		Resilience:      f.resilience,
		Monitor:         monitor,
		Ticks:           fakeTicks{},
		Events:          em,
		Scheduler:       sched,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return w.Code, out
}

func data(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	require.Contains(t, resp, "metadata")
	d, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "data is not an object: %v", resp["data"])
	return d
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, resp := f.do(t, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "test", resp["version"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.monitor.ReportError("price_feed", "Live price unavailable")

	code, resp := f.do(t, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	d := data(t, resp)
	assert.Equal(t, "SPY", d["symbol"])
	assert.Equal(t, false, d["healthy"])
	assert.Equal(t, []interface{}{"price_feed"}, d["unhealthy"])
	assert.Contains(t, d, "host")

	tick := d["last_tick"].(map[string]interface{})
	assert.Equal(t, float64(2), tick["contacts"])
	assert.Equal(t, "p-1", tick["opened"])
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	f.monitor.ReportError("trade_recommender", "boom")

	code, resp := f.do(t, "POST", "/api/ping", `{"component":"trade_recommender"}`)
	require.Equal(t, http.StatusOK, code)
	status := data(t, resp)["status"].(map[string]interface{})
	assert.Equal(t, true, status["active"])
	assert.NotContains(t, status, "error")

	code, _ = f.do(t, "POST", "/api/ping", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLevels(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "GET", "/api/levels", "")
	require.Equal(t, http.StatusOK, code)
	d := data(t, resp)
	assert.Equal(t, "2025-08-01", d["trading_day"])
	assert.Equal(t, float64(2), d["count"])
	byColor := d["levels_by_color"].(map[string]interface{})
	assert.Equal(t, []interface{}{450.0}, byColor["blue"].(map[string]interface{})["solid"])
	assert.Equal(t, []interface{}{}, byColor["black"].(map[string]interface{})["dashed"])

	code, resp = f.do(t, "POST", "/api/levels",
		`{"trading_day":"2025-08-04","levels_by_color":{"teal":{"solid":[451.25,449.75]}}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), data(t, resp)["count"])
	assert.Equal(t, "2025-08-04", f.levels.day)
	require.Len(t, f.levels.replaced, 2)
	assert.Equal(t, 1, f.levels.replaced[1].Index)

	recent := f.events.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, events.LevelsUpdated, recent[0].Type)
}

func TestPostLevels_Invalid(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, "POST", "/api/levels", `{"levels_by_color":{"purple":{"solid":[450]}}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, "POST", "/api/levels", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Nil(t, f.levels.replaced)
}

func TestPrice(t *testing.T) {
	f := newFixture(t)
	code, resp := f.do(t, "GET", "/api/price", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 450.12, data(t, resp)["price"])
}

func TestPrice_Unavailable(t *testing.T) {
	srv := New(Config{Log: zerolog.Nop(), DevMode: true, Symbol: "SPY", Prices: fakePrices{}})
	req := httptest.NewRequest("GET", "/api/price", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLatestRecommendation_None(t *testing.T) {
	f := newFixture(t)
	code, resp := f.do(t, "GET", "/api/recommendations/latest", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "No recommendation yet", resp["error"])
}

func TestPortfolio(t *testing.T) {
	f := newFixture(t)
	code, resp := f.do(t, "GET", "/api/portfolio", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10000.00", data(t, resp)["balance"])

	code, _ = f.do(t, "GET", "/api/portfolio?closed_limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestClosePosition(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "POST", "/api/portfolio/close/open-1", `{"price":451.5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "open-1", data(t, resp)["id"])
	assert.Equal(t, 451.5, f.closer.gotPrice)

	// Without a price the live quote is used.
	code, _ = f.do(t, "POST", "/api/portfolio/close/open-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 450.12, f.closer.gotPrice)

	code, _ = f.do(t, "POST", "/api/portfolio/close/closed-9", `{"price":451.5}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, "POST", "/api/portfolio/close/open-1", `{"price":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPatternReview(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "GET", "/api/patterns/current", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(7), data(t, resp)["id"])

	code, _ = f.do(t, "POST", "/api/patterns/decision", `{"id":7,"decision":"Review Further"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, memory.DecisionReviewFurther, f.review.decided[7])

	code, _ = f.do(t, "POST", "/api/patterns/decision", `{"id":7,"decision":"Maybe"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, "POST", "/api/patterns/decision", `{"id":99,"decision":"Accept"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPatternReview_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	f.review.current = nil
	code, _ := f.do(t, "GET", "/api/patterns/current", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEvolution(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "GET", "/api/evolution?key=blue_solid|rejection|from_above|above_trend", "")
	require.Equal(t, http.StatusOK, code)
	d := data(t, resp)
	assert.Equal(t, "long", d["best_direction"])
	require.Len(t, d["records"], 1)

	code, _ = f.do(t, "GET", "/api/evolution?key=bad", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestResilience(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "GET", "/api/resilience/p-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), data(t, resp)["score"])

	code, resp = f.do(t, "POST", "/api/resilience",
		`{"pattern_id":"p-1","outcome":"win","volatility":0.002,"duration_minutes":30}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 0.25, data(t, resp)["score"])
	assert.Equal(t, []string{"p-1"}, f.resilience.recorded)

	code, _ = f.do(t, "POST", "/api/resilience", `{"pattern_id":"p-1","outcome":"draw"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, "POST", "/api/resilience", `{"outcome":"loss"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestJobs(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, "GET", "/api/jobs", "")
	require.Equal(t, http.StatusOK, code)
	jobs := resp["data"].([]interface{})
	require.Len(t, jobs, 2)
	assert.Equal(t, "cloud_backup", jobs[0].(map[string]interface{})["name"])

	code, _ = f.do(t, "POST", "/api/jobs/diagnostics_sweep", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, f.job.runs)

	code, resp = f.do(t, "POST", "/api/jobs/cloud_backup", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "bucket unreachable", resp["error"])

	code, _ = f.do(t, "POST", "/api/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	f.events.Emit(events.ContactDetected, "engine", map[string]interface{}{"price": 450.0})

	code, resp := f.do(t, "GET", "/api/events?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	list := resp["data"].([]interface{})
	require.NotEmpty(t, list)
	assert.Equal(t, "CONTACT_DETECTED", list[0].(map[string]interface{})["type"])
}

func TestUnconfiguredServicesAnswer503(t *testing.T) {
	srv := New(Config{Log: zerolog.Nop(), DevMode: true})
	for _, path := range []string{"/api/levels", "/api/portfolio", "/api/patterns/current", "/api/jobs", "/api/resilience/x"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
