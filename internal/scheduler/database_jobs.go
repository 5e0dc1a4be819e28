package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/rs/zerolog"
)

// walFrameThreshold is the WAL size, in frames, above which a TRUNCATE checkpoint runs.
const walFrameThreshold = 1000

// WALCheckpointJob checkpoints every database and truncates WAL files that grew large.
type WALCheckpointJob struct {
	dbs []*database.DB
	log zerolog.Logger
}

// NewWALCheckpointJob creates a checkpoint job. Nil databases are skipped.
func NewWALCheckpointJob(dbs []*database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		dbs: dbs,
		log: log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checks each WAL with a passive checkpoint and truncates the large ones.
func (j *WALCheckpointJob) Run() error {
	checked := 0
	for _, db := range j.dbs {
		if db == nil {
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		if err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
			continue
		}

		if frames > walFrameThreshold {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Msg("WAL file is large, truncating")
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL truncate failed")
			}
		} else {
			j.log.Debug().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Msg("WAL checkpoint status OK")
		}
		checked++
	}

	j.log.Info().Int("checked", checked).Msg("WAL checkpoint completed")
	return nil
}

// IntegrityJob runs SQLite's integrity check over every database.
type IntegrityJob struct {
	dbs     []*database.DB
	timeout time.Duration
	log     zerolog.Logger
}

// NewIntegrityJob creates an integrity job. Nil databases are skipped.
func NewIntegrityJob(dbs []*database.DB, log zerolog.Logger) *IntegrityJob {
	return &IntegrityJob{
		dbs:     dbs,
		timeout: time.Minute,
		log:     log.With().Str("job", "database_integrity").Logger(),
	}
}

// Name returns the job name
func (j *IntegrityJob) Name() string {
	return "database_integrity"
}

// Run fails on the first corrupted database. Corruption cannot be repaired
// automatically, it only stops the job from reporting success.
func (j *IntegrityJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	for _, db := range j.dbs {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed integrity check: %w", db.Name(), err)
		}
		j.log.Debug().Str("database", db.Name()).Msg("Database integrity OK")
	}

	j.log.Info().Msg("All databases passed integrity check")
	return nil
}
