package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/touchline/internal/config"
	"github.com/aristath/touchline/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the four databases and applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	databases := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		{database.NameMemory, database.ProfileStandard, &container.MemoryDB},
		{database.NameLedger, database.ProfileLedger, &container.LedgerDB},
		{database.NameConfig, database.ProfileStandard, &container.ConfigDB},
		{database.NameCache, database.ProfileCache, &container.CacheDB},
	}

	for _, d := range databases {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, d.name+".db"),
			Profile: d.profile,
			Name:    d.name,
		})
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", d.name, err)
		}
		*d.target = db

		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", d.name, err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("All databases initialized and schemas applied")
	return container, nil
}
