// Package memory holds what the pipeline remembers about each pattern:
// aggregate outcomes, closed trades, operator feedback and the review queue.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/rs/zerolog"
)

// PatternMemory is one row of patterns_memory.
type PatternMemory struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TimesSeen       int       `json:"times_seen"`
	TimesSuccessful int       `json:"times_successful"`
	AvgConfidence   float64   `json:"avg_confidence"`
	LastSeen        time.Time `json:"last_seen"`
}

// WinRate is times_successful/times_seen, 0 when unseen.
func (m PatternMemory) WinRate() float64 {
	if m.TimesSeen == 0 {
		return 0
	}
	return float64(m.TimesSuccessful) / float64(m.TimesSeen)
}

// TradeRecord is one closed trade remembered against its pattern.
type TradeRecord struct {
	TradeID    string    `json:"trade_id"`
	PatternID  string    `json:"pattern_id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Confidence float64   `json:"confidence"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Store reads and writes memory.db.
type Store struct {
	db    *sql.DB
	retry database.RetryPolicy
	now   func() time.Time
	log   zerolog.Logger
}

// NewStore creates a memory store.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:    db,
		retry: database.DefaultRetryPolicy,
		now:   time.Now,
		log:   log.With().Str("repo", "memory").Logger(),
	}
}

// PatternMemory returns the aggregate for id, or nil if never recorded.
func (s *Store) PatternMemory(ctx context.Context, id string) (*PatternMemory, error) {
	var (
		m        PatternMemory
		lastSeen int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, times_seen, times_successful, avg_confidence, last_seen
		FROM patterns_memory WHERE id = ?
	`, id).Scan(&m.ID, &m.Name, &m.TimesSeen, &m.TimesSuccessful, &m.AvgConfidence, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern memory %s: %w", id, err)
	}
	m.LastSeen = time.Unix(lastSeen, 0).UTC()
	return &m, nil
}

// RecordPatternOutcome adds one observation to the aggregate for id.
// avg_confidence is the running mean of the confidences recorded with each observation.
func (s *Store) RecordPatternOutcome(ctx context.Context, id, name string, success bool, confidence float64) error {
	successful := 0
	if success {
		successful = 1
	}

	err := database.WithRetry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO patterns_memory (id, name, times_seen, times_successful, avg_confidence, last_seen)
			VALUES (?, ?, 1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				avg_confidence = (avg_confidence * times_seen + excluded.avg_confidence) / (times_seen + 1),
				times_seen = times_seen + 1,
				times_successful = times_successful + excluded.times_successful,
				last_seen = excluded.last_seen
		`, id, name, successful, confidence, s.now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record outcome for pattern %s: %w", id, err)
	}
	return nil
}

// RecordTrade appends a closed trade.
func (s *Store) RecordTrade(ctx context.Context, tr TradeRecord) error {
	closedAt := tr.ClosedAt
	if closedAt.IsZero() {
		closedAt = s.now()
	}

	err := database.WithRetry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO trades_history (trade_id, pattern_id, symbol, direction, entry_price, exit_price, pnl, confidence, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, tr.TradeID, tr.PatternID, tr.Symbol, tr.Direction, tr.EntryPrice, tr.ExitPrice, tr.PnL, tr.Confidence, closedAt.Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record trade %s: %w", tr.TradeID, err)
	}
	return nil
}

// TradeMemory lists remembered trades, optionally filtered by symbol and pattern.
// Empty filters match everything.
func (s *Store) TradeMemory(ctx context.Context, symbol, patternID string) ([]TradeRecord, error) {
	query := `SELECT trade_id, pattern_id, symbol, direction, entry_price, exit_price, pnl, confidence, closed_at
		FROM trades_history WHERE 1=1`
	var args []interface{}
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}
	if patternID != "" {
		query += " AND pattern_id = ?"
		args = append(args, patternID)
	}
	query += " ORDER BY closed_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade memory: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var (
			tr       TradeRecord
			closedAt int64
		)
		if err := rows.Scan(&tr.TradeID, &tr.PatternID, &tr.Symbol, &tr.Direction, &tr.EntryPrice,
			&tr.ExitPrice, &tr.PnL, &tr.Confidence, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade memory: %w", err)
		}
		tr.ClosedAt = time.Unix(closedAt, 0).UTC()
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}
