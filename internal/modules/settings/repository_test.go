package settings

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepository_GetMissingReturnsNil(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	value, err := repo.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestRepository_SetOverwrites(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Set(KeySymbol, "SPY"))
	require.NoError(t, repo.Set(KeySymbol, "QQQ"))

	value, err := repo.Get(KeySymbol)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "QQQ", *value)

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_GetFloat(t *testing.T) {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	v, err := repo.GetFloat(KeyMaxLossPct, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, v)

	require.NoError(t, repo.Set(KeyMaxLossPct, "0.25"))
	v, err = repo.GetFloat(KeyMaxLossPct, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	require.NoError(t, repo.Set(KeyMaxLossPct, "not-a-number"))
	v, err = repo.GetFloat(KeyMaxLossPct, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, v)
}
