package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// MaintenanceConfig sets the thresholds of the daily maintenance job.
type MaintenanceConfig struct {
	DataDir         string
	MinFreePercent  float64 // Below this the job reports a disk error
	VacuumFreeRatio float64 // Freelist share of pages that triggers VACUUM
}

// MaintenanceJob checks free disk space and compacts fragmented databases.
type MaintenanceJob struct {
	cfg       MaintenanceConfig
	dbs       []*database.DB
	sink      domain.HealthSink
	diskUsage func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewMaintenanceJob creates the maintenance job. sink may be nil.
func NewMaintenanceJob(cfg MaintenanceConfig, dbs []*database.DB, sink domain.HealthSink, log zerolog.Logger) *MaintenanceJob {
	if cfg.MinFreePercent <= 0 {
		cfg.MinFreePercent = 10
	}
	if cfg.VacuumFreeRatio <= 0 {
		cfg.VacuumFreeRatio = 0.2
	}
	if sink == nil {
		sink = domain.NopHealthSink{}
	}
	return &MaintenanceJob{
		cfg:       cfg,
		dbs:       dbs,
		sink:      sink,
		diskUsage: disk.Usage,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run checks disk space, then vacuums databases whose freelist is large.
func (j *MaintenanceJob) Run() error {
	if err := j.checkDisk(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, db := range j.dbs {
		if db == nil {
			continue
		}
		if err := j.vacuumIfFragmented(ctx, db); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Vacuum failed")
		}
	}
	return nil
}

func (j *MaintenanceJob) checkDisk() error {
	usage, err := j.diskUsage(j.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %w", j.cfg.DataDir, err)
	}

	freePct := 100 - usage.UsedPercent
	j.log.Debug().
		Float64("free_percent", freePct).
		Uint64("free_bytes", usage.Free).
		Msg("Disk usage checked")

	if freePct < j.cfg.MinFreePercent {
		j.sink.ReportError("engine", fmt.Sprintf("Low disk space: %.1f%% free", freePct))
		return fmt.Errorf("low disk space on %s: %.1f%% free", j.cfg.DataDir, freePct)
	}
	return nil
}

func (j *MaintenanceJob) vacuumIfFragmented(ctx context.Context, db *database.DB) error {
	stats, err := db.GetStats()
	if err != nil {
		return err
	}
	if stats.PageCount == 0 {
		return nil
	}
	ratio := float64(stats.FreelistCount) / float64(stats.PageCount)
	if ratio < j.cfg.VacuumFreeRatio {
		return nil
	}

	before := stats.SizeBytes
	if _, err := db.Conn().ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum %s: %w", db.Name(), err)
	}
	after := before
	if s, err := db.GetStats(); err == nil {
		after = s.SizeBytes
	}
	j.log.Info().
		Str("database", db.Name()).
		Float64("freelist_ratio", ratio).
		Int64("size_before", before).
		Int64("size_after", after).
		Msg("Database vacuumed")
	return nil
}
