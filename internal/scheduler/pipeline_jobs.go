package scheduler

import (
	"context"
	"time"

	"github.com/aristath/touchline/internal/modules/diagnostics"
	"github.com/aristath/touchline/internal/modules/scoring"
	"github.com/rs/zerolog"
)

// SweepJob runs the diagnostics sweep.
type SweepJob struct {
	sweeper *diagnostics.Sweeper
	timeout time.Duration
}

// NewSweepJob wraps a sweeper. Each run is bounded by timeout.
func NewSweepJob(sweeper *diagnostics.Sweeper, timeout time.Duration) *SweepJob {
	return &SweepJob{sweeper: sweeper, timeout: timeout}
}

// Name returns the job name
func (j *SweepJob) Name() string {
	return "diagnostics_sweep"
}

// Run executes one sweep.
func (j *SweepJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.sweeper.Run(ctx)
}

// ResiliencePurgeJob deletes resilience records past their retention.
type ResiliencePurgeJob struct {
	store     *scoring.ResilienceStore
	retention time.Duration
	log       zerolog.Logger
}

// NewResiliencePurgeJob creates a purge job.
func NewResiliencePurgeJob(store *scoring.ResilienceStore, retention time.Duration, log zerolog.Logger) *ResiliencePurgeJob {
	return &ResiliencePurgeJob{
		store:     store,
		retention: retention,
		log:       log.With().Str("job", "resilience_purge").Logger(),
	}
}

// Name returns the job name
func (j *ResiliencePurgeJob) Name() string {
	return "resilience_purge"
}

// Run purges old records.
func (j *ResiliencePurgeJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.store.Purge(ctx, j.retention)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info().Int64("deleted", n).Dur("retention", j.retention).Msg("Purged resilience records")
	}
	return nil
}
