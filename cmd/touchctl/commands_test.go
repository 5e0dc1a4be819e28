package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/touchline/internal/config"
	"github.com/aristath/touchline/internal/di"
	"github.com/aristath/touchline/internal/domain"
	"github.com/aristath/touchline/internal/modules/evolution"
)

const sheetYAML = `trading_day: "2025-08-01"
levels_by_color:
  blue:
    solid: [450.0, 452.5]
    dashed: [448.25]
  orange:
    solid: [455.0]
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TOUCHLINE_DATA_DIR", dir)
	return dir
}

func writeSheet(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sheet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sheetYAML), 0644))
	return path
}

func TestLevelsImportAndShow(t *testing.T) {
	dir := setupDataDir(t)
	sheet := writeSheet(t, dir)

	out, err := run(t, "levels", "import", sheet)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 4 levels")
	assert.Contains(t, out, "2025-08-01")

	out, err = run(t, "levels", "show")
	require.NoError(t, err)

	var shown struct {
		TradingDay    string                          `json:"trading_day"`
		LevelsByColor map[string]map[string][]float64 `json:"levels_by_color"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "2025-08-01", shown.TradingDay)
	assert.Equal(t, []float64{450.0, 452.5}, shown.LevelsByColor["blue"]["solid"])
	assert.Equal(t, []float64{448.25}, shown.LevelsByColor["blue"]["dashed"])
	assert.Equal(t, []float64{455.0}, shown.LevelsByColor["orange"]["solid"])
}

func TestLevelsImport_DayOverride(t *testing.T) {
	dir := setupDataDir(t)
	sheet := writeSheet(t, dir)

	out, err := run(t, "levels", "import", "--day", "2025-08-04", sheet)
	require.NoError(t, err)
	assert.Contains(t, out, "2025-08-04")
}

func TestLevelsImport_InvalidSheet(t *testing.T) {
	dir := setupDataDir(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("levels_by_color:\n  purple:\n    solid: [1.0]\n"), 0644))

	_, err := run(t, "levels", "import", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purple")
}

func TestLevelsShow_Empty(t *testing.T) {
	setupDataDir(t)

	out, err := run(t, "levels", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No levels stored")
}

func TestLevelsNear(t *testing.T) {
	dir := setupDataDir(t)
	sheet := writeSheet(t, dir)
	_, err := run(t, "levels", "import", sheet)
	require.NoError(t, err)

	out, err := run(t, "levels", "near", "450.1")
	require.NoError(t, err)
	assert.Contains(t, out, "450.00")
	assert.NotContains(t, out, "452.50")
	assert.NotContains(t, out, "448.25")

	_, err = run(t, "levels", "near", "abc")
	assert.Error(t, err)
}

func TestEvolutionBest(t *testing.T) {
	setupDataDir(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	c, err := di.InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)

	sig := domain.PatternSignature{
		LevelType: "solid",
		Reaction:  domain.ReactionRejection,
		Approach:  domain.ApproachFromAbove,
		Macro:     domain.MacroUnknown,
	}
	tracker := evolution.NewTracker(c.MemoryDB.Conn(), evolution.DefaultConfig(), zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, tracker.RecordResult(ctx, sig, domain.DirectionLong, true))
	}
	require.NoError(t, tracker.RecordResult(ctx, sig, domain.DirectionShort, false))
	c.Close()

	out, err := run(t, "evolution", "best",
		"--level-type", "solid", "--reaction", "rejection", "--approach", "from_above")
	require.NoError(t, err)
	assert.Contains(t, out, sig.Key())
	assert.Contains(t, out, "Best direction: long")

	out, err = run(t, "evolution", "best",
		"--level-type", "dashed", "--reaction", "breakthrough", "--approach", "from_below")
	require.NoError(t, err)
	assert.Contains(t, out, "Best direction: none")
}

func TestEvolutionBest_RequiresFlags(t *testing.T) {
	setupDataDir(t)

	_, err := run(t, "evolution", "best", "--level-type", "solid")
	assert.Error(t, err)
}

func TestPortfolioShow(t *testing.T) {
	setupDataDir(t)
	t.Setenv("STARTING_CASH", "2500")

	out, err := run(t, "portfolio", "show")
	require.NoError(t, err)

	var summary struct {
		Balance     string `json:"balance"`
		RealizedPnL string `json:"realized_pnl"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "2500.00", summary.Balance)
	assert.Equal(t, "0.00", summary.RealizedPnL)
}
