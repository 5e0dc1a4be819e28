package clientdata

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob prunes cache.db. Aggregates and option chains go as soon as they
// expire; quotes are kept for quoteGrace past expiry so the price feed can
// still serve them as last known good.
type CleanupJob struct {
	repo       *Repository
	quoteGrace time.Duration
	log        zerolog.Logger
}

// NewCleanupJob creates the cache pruning job. quoteGrace is usually the
// feed's stale-after window.
func NewCleanupJob(repo *Repository, quoteGrace time.Duration, log zerolog.Logger) *CleanupJob {
	if quoteGrace < 0 {
		quoteGrace = 0
	}
	return &CleanupJob{
		repo:       repo,
		quoteGrace: quoteGrace,
		log:        log.With().Str("job", "client_data_cleanup").Logger(),
	}
}

// Run prunes every cache table and logs what went.
func (j *CleanupJob) Run() error {
	now := j.repo.now()

	quotes, err := j.repo.DeleteExpiredBefore(TableQuotes, now.Add(-j.quoteGrace))
	if err != nil {
		return fmt.Errorf("failed to prune quotes: %w", err)
	}
	aggs, err := j.repo.DeleteExpiredBefore(TablePrevDayAggs, now)
	if err != nil {
		return fmt.Errorf("failed to prune previous-day aggregates: %w", err)
	}
	chains, err := j.repo.DeleteExpiredBefore(TableOptionChains, now)
	if err != nil {
		return fmt.Errorf("failed to prune option chains: %w", err)
	}

	if quotes+aggs+chains == 0 {
		return nil
	}
	j.log.Info().
		Int64("quotes", quotes).
		Int64("prev_day_aggs", aggs).
		Int64("option_chains", chains).
		Msg("Pruned market data cache")
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "client_data_cleanup"
}
