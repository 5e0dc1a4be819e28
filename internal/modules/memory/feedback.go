package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/domain"
)

// Decision is an operator verdict on a discovered pattern.
type Decision string

const (
	DecisionAccept        Decision = "Accept"
	DecisionReject        Decision = "Reject"
	DecisionReviewFurther Decision = "Review Further"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAccept, DecisionReject, DecisionReviewFurther:
		return true
	}
	return false
}

// ErrPatternNotFound is returned when deciding on an unknown queue entry.
var ErrPatternNotFound = errors.New("pattern not found")

// Feedback is one row of pattern_feedback.
type Feedback struct {
	PatternID  string    `json:"pattern_id"`
	Decision   Decision  `json:"decision"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// QueuedPattern is a discovered pattern awaiting or past review.
type QueuedPattern struct {
	ID         int64     `json:"id"`
	PatternID  string    `json:"pattern_id"`
	Name       string    `json:"name"`
	Symbol     string    `json:"symbol"`
	LevelPrice float64   `json:"level_price"`
	Confidence float64   `json:"confidence"`
	Score      float64   `json:"score"`
	Reviewed   bool      `json:"reviewed"`
	Decision   *Decision `json:"decision,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// AddFeedback appends a feedback row.
func (s *Store) AddFeedback(ctx context.Context, patternID string, decision Decision, confidence float64) error {
	if !decision.Valid() {
		return fmt.Errorf("invalid decision %q", decision)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_feedback (pattern_id, decision, confidence, created_at) VALUES (?, ?, ?, ?)
	`, patternID, string(decision), confidence, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to add feedback for %s: %w", patternID, err)
	}
	return nil
}

// RecentFeedback returns the newest limit feedback rows across all patterns.
func (s *Store) RecentFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_id, decision, COALESCE(confidence, 0), created_at
		FROM pattern_feedback
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var (
			fb        Feedback
			decision  string
			createdAt int64
		)
		if err := rows.Scan(&fb.PatternID, &decision, &fb.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		fb.Decision = Decision(decision)
		fb.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, fb)
	}
	return out, rows.Err()
}

// QueuePattern adds a recognized pattern to the review queue.
func (s *Store) QueuePattern(ctx context.Context, p domain.Pattern) (int64, error) {
	detectedAt := p.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = s.now()
	}

	var id int64
	err := database.WithRetry(ctx, s.retry, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO patterns (pattern_id, name, symbol, level_price, confidence, score, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.Name, p.Event.Symbol, p.Event.Level.Price, p.Confidence, p.Score, detectedAt.Unix())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to queue pattern %s: %w", p.ID, err)
	}
	return id, nil
}

// CurrentPattern returns the oldest unreviewed pattern, or nil when the queue is empty.
func (s *Store) CurrentPattern(ctx context.Context) (*QueuedPattern, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pattern_id, name, symbol, level_price, confidence, score, reviewed, decision, detected_at
		FROM patterns
		WHERE reviewed = 0
		ORDER BY detected_at ASC, id ASC
		LIMIT 1
	`)
	p, err := scanQueued(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current pattern: %w", err)
	}
	return p, nil
}

// MarkDecision closes a queue entry and appends the matching feedback row atomically.
func (s *Store) MarkDecision(ctx context.Context, queueID int64, decision Decision) error {
	if !decision.Valid() {
		return fmt.Errorf("invalid decision %q", decision)
	}

	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		var (
			patternID  string
			confidence float64
		)
		err := tx.QueryRowContext(ctx, `SELECT pattern_id, score FROM patterns WHERE id = ?`, queueID).
			Scan(&patternID, &confidence)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPatternNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE patterns SET reviewed = 1, decision = ? WHERE id = ?`,
			string(decision), queueID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pattern_feedback (pattern_id, decision, confidence, created_at) VALUES (?, ?, ?, ?)
		`, patternID, string(decision), confidence, s.now().Unix())
		return err
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueued(row rowScanner) (*QueuedPattern, error) {
	var (
		p          QueuedPattern
		reviewed   int
		decision   sql.NullString
		detectedAt int64
	)
	if err := row.Scan(&p.ID, &p.PatternID, &p.Name, &p.Symbol, &p.LevelPrice, &p.Confidence,
		&p.Score, &reviewed, &decision, &detectedAt); err != nil {
		return nil, err
	}
	p.Reviewed = reviewed == 1
	if decision.Valid {
		d := Decision(decision.String)
		p.Decision = &d
	}
	p.DetectedAt = time.Unix(detectedAt, 0).UTC()
	return &p, nil
}
