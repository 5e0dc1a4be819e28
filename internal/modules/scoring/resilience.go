package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/rs/zerolog"
)

// Outcome of a closed trade for resilience purposes.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// OutcomeOf maps a realized PnL to an outcome. Break-even is a loss.
func OutcomeOf(pnl float64) Outcome {
	if pnl > 0 {
		return OutcomeWin
	}
	return OutcomeLoss
}

// ResilienceRecord is one row of pattern_resilience.
type ResilienceRecord struct {
	PatternID       string    `json:"pattern_id"`
	Outcome         Outcome   `json:"outcome"`
	Volatility      float64   `json:"volatility_score"`
	DurationMinutes float64   `json:"duration_minutes"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// ResilienceStore measures how well a pattern holds up under volatility.
type ResilienceStore struct {
	db     *sql.DB
	window int
	retry  database.RetryPolicy
	now    func() time.Time
	log    zerolog.Logger
}

// NewResilienceStore scores over the last window records of a pattern.
func NewResilienceStore(db *sql.DB, window int, log zerolog.Logger) *ResilienceStore {
	if window <= 0 {
		window = 10
	}
	return &ResilienceStore{
		db:     db,
		window: window,
		retry:  database.DefaultRetryPolicy,
		now:    time.Now,
		log:    log.With().Str("repo", "pattern_resilience").Logger(),
	}
}

// Record appends one observation.
func (s *ResilienceStore) Record(ctx context.Context, patternID string, outcome Outcome, volatility, durationMinutes float64) error {
	if outcome != OutcomeWin && outcome != OutcomeLoss {
		return fmt.Errorf("invalid outcome %q", outcome)
	}
	err := database.WithRetry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pattern_resilience (pattern_id, outcome, volatility, duration_minutes, recorded_at)
			VALUES (?, ?, ?, ?, ?)
		`, patternID, string(outcome), volatility, durationMinutes, s.now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record resilience for %s: %w", patternID, err)
	}
	return nil
}

// Score is the duration-weighted mean of signed volatility over the newest
// records, rounded to three decimals. Weight is max(1, duration/15); wins
// count positive, losses negative. No history scores 0.
func (s *ResilienceStore) Score(ctx context.Context, patternID string) (float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, volatility, duration_minutes
		FROM pattern_resilience
		WHERE pattern_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, patternID, s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to query resilience for %s: %w", patternID, err)
	}
	defer rows.Close()

	var score, weightTotal float64
	for rows.Next() {
		var (
			outcome            string
			volatility, minute float64
		)
		if err := rows.Scan(&outcome, &volatility, &minute); err != nil {
			return 0, fmt.Errorf("failed to scan resilience: %w", err)
		}
		weight := math.Max(1, minute/15)
		sign := -1.0
		if Outcome(outcome) == OutcomeWin {
			sign = 1
		}
		score += sign * volatility * weight
		weightTotal += weight
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if weightTotal == 0 {
		return 0, nil
	}
	return math.Round(score/weightTotal*1000) / 1000, nil
}

// Purge deletes records older than maxAge and returns how many went.
func (s *ResilienceStore) Purge(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM pattern_resilience WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge resilience: %w", err)
	}
	return res.RowsAffected()
}

// All returns every record, newest first.
func (s *ResilienceStore) All(ctx context.Context) ([]ResilienceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_id, outcome, volatility, duration_minutes, recorded_at
		FROM pattern_resilience ORDER BY recorded_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resilience: %w", err)
	}
	defer rows.Close()

	var out []ResilienceRecord
	for rows.Next() {
		var (
			rec        ResilienceRecord
			outcome    string
			recordedAt int64
		)
		if err := rows.Scan(&rec.PatternID, &outcome, &rec.Volatility, &rec.DurationMinutes, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resilience: %w", err)
		}
		rec.Outcome = Outcome(outcome)
		rec.RecordedAt = time.Unix(recordedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
