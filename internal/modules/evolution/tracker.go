// Package evolution keeps win/loss counters per pattern signature and direction
// and turns them into a recommended direction.
package evolution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultWeight is the confidence weight of an unseen (signature, direction).
const DefaultWeight = 0.5

// marginEpsilon keeps a margin of exactly Margin on the losing side despite float error.
const marginEpsilon = 1e-9

// Record is one row of pattern_evolution.
type Record struct {
	PatternKey       string           `json:"pattern_key"`
	Direction        domain.Direction `json:"direction"`
	Wins             int              `json:"wins"`
	Losses           int              `json:"losses"`
	ConfidenceWeight float64          `json:"confidence_weight"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// WinRate is wins/(wins+losses), 0 when empty.
func (r Record) WinRate() float64 {
	total := r.Wins + r.Losses
	if total == 0 {
		return 0
	}
	return float64(r.Wins) / float64(total)
}

// Config holds the best-direction thresholds.
type Config struct {
	// Margin a candidate must beat the running best by.
	Margin float64
	// MinWinRate the winner needs before it is returned.
	MinWinRate float64
}

// DefaultConfig returns margin 0.1 and a 0.55 floor.
func DefaultConfig() Config {
	return Config{Margin: 0.1, MinWinRate: 0.55}
}

// Tracker is backed by the pattern_evolution table in memory.db.
type Tracker struct {
	db    *sql.DB
	cfg   Config
	retry database.RetryPolicy
	now   func() time.Time
	log   zerolog.Logger
}

// NewTracker creates a tracker.
func NewTracker(db *sql.DB, cfg Config, log zerolog.Logger) *Tracker {
	return &Tracker{
		db:    db,
		cfg:   cfg,
		retry: database.DefaultRetryPolicy,
		now:   time.Now,
		log:   log.With().Str("repo", "pattern_evolution").Logger(),
	}
}

// RecordResult adds one win or loss for (sig, direction) and recomputes the weight.
// The upsert is a single statement, so concurrent writers never lose an update.
func (t *Tracker) RecordResult(ctx context.Context, sig domain.PatternSignature, direction domain.Direction, success bool) error {
	if !direction.Valid() {
		return fmt.Errorf("invalid direction %q", direction)
	}

	wins, losses := 0, 1
	if success {
		wins, losses = 1, 0
	}
	key := sig.Key()

	err := database.WithRetry(ctx, t.retry, func() error {
		_, err := t.db.ExecContext(ctx, `
			INSERT INTO pattern_evolution (pattern_key, direction, wins, losses, confidence_weight, last_updated)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(pattern_key, direction) DO UPDATE SET
				wins = wins + excluded.wins,
				losses = losses + excluded.losses,
				confidence_weight = CAST(wins + excluded.wins AS REAL) /
					(wins + excluded.wins + losses + excluded.losses),
				last_updated = excluded.last_updated
		`, key, string(direction), wins, losses, float64(wins), t.now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record result for %s/%s: %w", key, direction, err)
	}

	t.log.Debug().
		Str("pattern_key", key).
		Str("direction", string(direction)).
		Bool("success", success).
		Msg("Recorded pattern result")
	return nil
}

// Records returns all rows for a signature ordered by direction name.
func (t *Tracker) Records(ctx context.Context, sig domain.PatternSignature) ([]Record, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT pattern_key, direction, wins, losses, confidence_weight, last_updated
		FROM pattern_evolution
		WHERE pattern_key = ?
		ORDER BY direction ASC
	`, sig.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern evolution: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			direction string
			updated   int64
		)
		if err := rows.Scan(&rec.PatternKey, &direction, &rec.Wins, &rec.Losses, &rec.ConfidenceWeight, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan pattern evolution: %w", err)
		}
		rec.Direction = domain.Direction(direction)
		rec.LastUpdated = time.Unix(updated, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ConfidenceWeight returns the stored weight, DefaultWeight when unseen or unreadable.
func (t *Tracker) ConfidenceWeight(ctx context.Context, sig domain.PatternSignature, direction domain.Direction) float64 {
	var weight float64
	err := t.db.QueryRowContext(ctx, `
		SELECT confidence_weight FROM pattern_evolution WHERE pattern_key = ? AND direction = ?
	`, sig.Key(), string(direction)).Scan(&weight)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultWeight
	}
	if err != nil {
		t.log.Warn().Err(err).Str("pattern_key", sig.Key()).Msg("Failed to read confidence weight")
		return DefaultWeight
	}
	return weight
}

// BestDirection scans the directions recorded for sig in name order, keeping a
// running best that a candidate replaces only when its win rate is higher by
// more than the margin. The winner is returned only if its win rate reaches
// MinWinRate. Unseen or unreadable history gives ok=false.
func (t *Tracker) BestDirection(ctx context.Context, sig domain.PatternSignature) (domain.Direction, bool) {
	records, err := t.Records(ctx, sig)
	if err != nil {
		t.log.Warn().Err(err).Str("pattern_key", sig.Key()).Msg("Pattern history unavailable")
		return "", false
	}
	return pickBest(records, t.cfg)
}

func pickBest(records []Record, cfg Config) (domain.Direction, bool) {
	var (
		best     domain.Direction
		bestRate float64
	)
	for _, rec := range records {
		if rec.Wins+rec.Losses == 0 {
			continue
		}
		rate := rec.WinRate()
		if rate > bestRate && rate-bestRate > cfg.Margin+marginEpsilon {
			best = rec.Direction
			bestRate = rate
		}
	}

	if best == "" || bestRate < cfg.MinWinRate-marginEpsilon {
		return "", false
	}
	return best, true
}
