package levels

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/aristath/touchline/internal/domain"
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
		CREATE TABLE price_levels (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trading_day TEXT NOT NULL,
			color TEXT NOT NULL,
			style TEXT NOT NULL,
			level_index INTEGER NOT NULL,
			price REAL NOT NULL,
			submitted_at INTEGER NOT NULL,
			UNIQUE (trading_day, color, style, level_index)
		)
	`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

const sheetYAML = `
trading_day: "2025-08-01"
levels_by_color:
  blue:
    solid: [450.0, 452.5]
    dashed: [448.25]
  teal:
    solid: [455]
`

func TestParseSheet(t *testing.T) {
	sheet, err := ParseSheet(strings.NewReader(sheetYAML))
	require.NoError(t, err)
	assert.Equal(t, "2025-08-01", sheet.TradingDay)

	levels, err := sheet.Levels()
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{
		{Color: domain.ColorBlue, Style: domain.StyleSolid, Index: 0, Price: 450},
		{Color: domain.ColorBlue, Style: domain.StyleSolid, Index: 1, Price: 452.5},
		{Color: domain.ColorBlue, Style: domain.StyleDashed, Index: 0, Price: 448.25},
		{Color: domain.ColorTeal, Style: domain.StyleSolid, Index: 0, Price: 455},
	}, levels)
}

func TestSheetLevels_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		sheet Sheet
	}{
		{"unknown color", Sheet{LevelsByColor: map[string]map[string][]float64{"red": {"solid": {1}}}}},
		{"unknown style", Sheet{LevelsByColor: map[string]map[string][]float64{"blue": {"dotted": {1}}}}},
		{"non-positive price", Sheet{LevelsByColor: map[string]map[string][]float64{"blue": {"solid": {0}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sheet.Levels()
			assert.ErrorIs(t, err, ErrInvalidLevel)
		})
	}
}

func TestGroup_HasEveryColor(t *testing.T) {
	g := Group([]domain.PriceLevel{
		{Color: domain.ColorOrange, Style: domain.StyleDashed, Index: 1, Price: 2},
		{Color: domain.ColorOrange, Style: domain.StyleDashed, Index: 0, Price: 1},
	})

	assert.Len(t, g, 4)
	assert.Equal(t, []float64{1, 2}, g[domain.ColorOrange][domain.StyleDashed])
	assert.Empty(t, g[domain.ColorBlack][domain.StyleSolid])
}

func TestRepository_ReplaceIsWholesale(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	require.NoError(t, repo.Replace(ctx, "2025-08-01", []domain.PriceLevel{
		{Color: domain.ColorBlue, Style: domain.StyleSolid, Index: 0, Price: 450},
		{Color: domain.ColorBlack, Style: domain.StyleDashed, Index: 0, Price: 440},
	}))
	require.NoError(t, repo.Replace(ctx, "2025-08-01", []domain.PriceLevel{
		{Color: domain.ColorTeal, Style: domain.StyleSolid, Index: 0, Price: 451},
	}))

	levels, err := repo.ForDay(ctx, "2025-08-01")
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, domain.ColorTeal, levels[0].Color)
}

func TestRepository_LoadLevelsUsesLatestDay(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	empty, err := repo.LoadLevels(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.Replace(ctx, "2025-07-31", []domain.PriceLevel{
		{Color: domain.ColorBlue, Style: domain.StyleSolid, Price: 440},
	}))
	require.NoError(t, repo.Replace(ctx, "2025-08-01", []domain.PriceLevel{
		{Color: domain.ColorOrange, Style: domain.StyleSolid, Price: 450},
		{Color: domain.ColorBlue, Style: domain.StyleDashed, Price: 449},
	}))

	day, levels, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-01", day)
	require.Len(t, levels, 2)
	assert.Equal(t, domain.ColorBlue, levels[0].Color)
}

func TestRepository_ReplaceDefaultsToToday(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())
	fixed := time.Date(2025, 8, 1, 15, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	require.NoError(t, repo.Replace(ctx, "", []domain.PriceLevel{
		{Color: domain.ColorBlue, Style: domain.StyleSolid, Price: 450},
	}))
	day, _, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-01", day)
}

func TestRepository_ReplaceRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(setupTestDB(t), zerolog.Nop())

	assert.ErrorIs(t, repo.Replace(ctx, "yesterday", nil), ErrInvalidLevel)
	assert.ErrorIs(t, repo.Replace(ctx, "2025-08-01", []domain.PriceLevel{{Color: "red", Style: domain.StyleSolid, Price: 1}}), ErrInvalidLevel)
}
