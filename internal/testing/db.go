// Package testing provides testing utilities and helpers for the touchline project.
package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/touchline/internal/database"
)

// NewTestDB creates a migrated SQLite database in a temporary directory.
// name selects the embedded schema ("memory", "ledger", "config", "cache");
// unknown names give an empty database. The database is closed on test cleanup.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileStandard
	switch name {
	case database.NameLedger:
		profile = database.ProfileLedger
	case database.NameCache:
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// TempPath returns a path inside a fresh temporary directory that does not exist yet.
func TempPath(t *testing.T, filename string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), filename)
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("temp path %s already exists", path)
	}
	return path
}
