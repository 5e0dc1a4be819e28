package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/clientdata"
	"github.com/aristath/touchline/internal/config"
	"github.com/aristath/touchline/internal/reliability"
	"github.com/aristath/touchline/internal/scheduler"
	"github.com/rs/zerolog"
)

// Job schedules, cron with seconds.
const (
	scheduleSweep           = "0 * * * * *"
	scheduleWALCheckpoint   = "0 */15 * * * *"
	scheduleCacheCleanup    = "30 */10 * * * *"
	scheduleIntegrity       = "0 0 4 * * *"
	scheduleResiliencePurge = "0 0 3 * * *"
	scheduleMaintenance     = "0 0 5 * * *"
)

// RegisterJobs creates the scheduler and registers every maintenance job.
// The backup job is only added when a bucket is configured.
func RegisterJobs(ctx context.Context, c *Container, cfg *config.Config, version string, log zerolog.Logger) error {
	if c == nil {
		return fmt.Errorf("container cannot be nil")
	}

	c.Scheduler = scheduler.New(log)
	dbs := c.Databases()

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{scheduleSweep, scheduler.NewSweepJob(c.Sweeper, 10*time.Second)},
		{scheduleWALCheckpoint, scheduler.NewWALCheckpointJob(dbs, log)},
		{scheduleCacheCleanup, clientdata.NewCleanupJob(c.ClientDataRepo, cfg.PriceStaleAfter, log)},
		{scheduleIntegrity, scheduler.NewIntegrityJob(dbs, log)},
		{scheduleResiliencePurge, scheduler.NewResiliencePurgeJob(c.Resilience, cfg.Tuning.ResilienceRetention, log)},
		{scheduleMaintenance, reliability.NewMaintenanceJob(reliability.MaintenanceConfig{DataDir: cfg.DataDir}, dbs, c.Monitor, log)},
	}

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		c.BackupService = reliability.NewBackupService(store, dbs, c.EventManager, version, log)
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Backup.Schedule, reliability.NewBackupJob(c.BackupService, cfg.Backup.RetentionDays, log)})
	} else {
		log.Info().Msg("BACKUP_BUCKET not set, cloud backups disabled")
	}

	for _, j := range jobs {
		if err := c.Scheduler.AddJob(j.schedule, j.job); err != nil {
			return err
		}
	}
	return nil
}
