package clientdata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRows(t *testing.T, repo *Repository, table string) int {
	t.Helper()
	var count int
	require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&count))
	return count
}

func TestCleanupJobName(t *testing.T) {
	repo, _ := newRepo(t)
	assert.Equal(t, "client_data_cleanup", NewCleanupJob(repo, 30*time.Second, zerolog.Nop()).Name())
}

func TestCleanupJobRun(t *testing.T) {
	repo, c := newRepo(t)
	job := NewCleanupJob(repo, 30*time.Second, zerolog.Nop())

	require.NoError(t, repo.Store(TableQuotes, "SPY", 1, TTLQuote))
	require.NoError(t, repo.Store(TablePrevDayAggs, "SPY", 1, time.Second))
	require.NoError(t, repo.Store(TablePrevDayAggs, "QQQ", 1, TTLPrevDayAgg))
	require.NoError(t, repo.Store(TableOptionChains, "SPY|2025-08-01", 1, time.Second))

	// Quote expired 8s ago but is still a usable last known good.
	c.t = c.t.Add(10 * time.Second)
	require.NoError(t, job.Run())

	assert.Equal(t, 1, countRows(t, repo, TableQuotes))
	assert.Equal(t, 1, countRows(t, repo, TablePrevDayAggs))
	assert.Equal(t, 0, countRows(t, repo, TableOptionChains))

	_, age, err := repo.GetWithAge(TableQuotes, "SPY")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, age)

	c.t = c.t.Add(time.Minute)
	require.NoError(t, job.Run())
	assert.Equal(t, 0, countRows(t, repo, TableQuotes))
	assert.Equal(t, 1, countRows(t, repo, TablePrevDayAggs))
}

func TestCleanupJobRun_NoGrace(t *testing.T) {
	repo, c := newRepo(t)
	job := NewCleanupJob(repo, -time.Second, zerolog.Nop())

	require.NoError(t, repo.Store(TableQuotes, "SPY", 1, TTLQuote))
	require.NoError(t, repo.Store(TableQuotes, "QQQ", 1, time.Hour))
	c.t = c.t.Add(time.Minute)

	require.NoError(t, job.Run())
	assert.Equal(t, 1, countRows(t, repo, TableQuotes))
}
