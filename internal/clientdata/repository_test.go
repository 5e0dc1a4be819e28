package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE quotes (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL, stored_at INTEGER NOT NULL);
CREATE TABLE prev_day_aggs (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL, stored_at INTEGER NOT NULL);
CREATE TABLE option_chains (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL, stored_at INTEGER NOT NULL);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRepo(t *testing.T) (*Repository, *clock) {
	c := &clock{t: time.Date(2025, 8, 1, 14, 0, 0, 0, time.UTC)}
	repo := NewRepository(setupTestDB(t))
	repo.now = c.now
	return repo, c
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo, c := newRepo(t)

	require.NoError(t, repo.Store(TableQuotes, "SPY", map[string]float64{"price": 450.5}, TTLQuote))

	data, err := repo.GetIfFresh(TableQuotes, "SPY")
	require.NoError(t, err)
	require.NotNil(t, data)

	var parsed map[string]float64
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, 450.5, parsed["price"])

	c.t = c.t.Add(TTLQuote + time.Millisecond)
	data, err = repo.GetIfFresh(TableQuotes, "SPY")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestGetWithAge_ServesStaleData(t *testing.T) {
	repo, c := newRepo(t)

	require.NoError(t, repo.Store(TableQuotes, "SPY", 450.5, TTLQuote))
	c.t = c.t.Add(20 * time.Second)

	data, age, err := repo.GetWithAge(TableQuotes, "SPY")
	require.NoError(t, err)
	assert.JSONEq(t, "450.5", string(data))
	assert.Equal(t, 20*time.Second, age)

	data, age, err = repo.GetWithAge(TableQuotes, "QQQ")
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Zero(t, age)
}

func TestStore_ReplacesExisting(t *testing.T) {
	repo, _ := newRepo(t)

	require.NoError(t, repo.Store(TableOptionChains, "SPY|2025-08-01", []string{"a"}, TTLOptionChain))
	require.NoError(t, repo.Store(TableOptionChains, "SPY|2025-08-01", []string{"b"}, TTLOptionChain))

	data, err := repo.GetIfFresh(TableOptionChains, "SPY|2025-08-01")
	require.NoError(t, err)
	assert.JSONEq(t, `["b"]`, string(data))
}

func TestInvalidTable(t *testing.T) {
	repo, _ := newRepo(t)

	assert.Error(t, repo.Store("quotes; DROP TABLE quotes", "k", 1, time.Minute))
	_, err := repo.GetIfFresh("nope", "k")
	assert.Error(t, err)
	_, _, err = repo.GetWithAge("nope", "k")
	assert.Error(t, err)
	_, err = repo.DeleteExpired("nope")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	repo, _ := newRepo(t)

	require.NoError(t, repo.Store(TablePrevDayAggs, "SPY", 1, TTLPrevDayAgg))
	require.NoError(t, repo.Delete(TablePrevDayAggs, "SPY"))

	data, _, err := repo.GetWithAge(TablePrevDayAggs, "SPY")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestDeleteAllExpired(t *testing.T) {
	repo, c := newRepo(t)

	require.NoError(t, repo.Store(TableQuotes, "SPY", 1, time.Second))
	require.NoError(t, repo.Store(TablePrevDayAggs, "SPY", 1, TTLPrevDayAgg))
	require.NoError(t, repo.Store(TableOptionChains, "SPY", 1, time.Second))

	c.t = c.t.Add(time.Minute)
	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[TableQuotes])
	assert.Equal(t, int64(0), results[TablePrevDayAggs])
	assert.Equal(t, int64(1), results[TableOptionChains])
}
