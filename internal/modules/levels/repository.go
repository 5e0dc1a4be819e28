package levels

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
)

// Repository persists levels in config.db.
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a level repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repo", "price_levels").Logger(),
	}
}

// Replace swaps the whole level set of a trading day. An empty day means today.
func (r *Repository) Replace(ctx context.Context, day string, levels []domain.PriceLevel) error {
	if day == "" {
		day = domain.TradingDay(r.now())
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("%w: trading day %q", ErrInvalidLevel, day)
	}
	for _, l := range levels {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidLevel, err)
		}
	}

	submittedAt := r.now().Unix()
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM price_levels WHERE trading_day = ?`, day); err != nil {
			return fmt.Errorf("failed to clear levels: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO price_levels (trading_day, color, style, level_index, price, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare level insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range levels {
			if _, err := stmt.ExecContext(ctx, day, string(l.Color), string(l.Style), l.Index, l.Price, submittedAt); err != nil {
				return fmt.Errorf("failed to insert level %s: %w", l.Label(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("trading_day", day).Int("count", len(levels)).Msg("Levels replaced")
	return nil
}

// Latest returns the most recent trading day and its levels. No levels gives ("", nil, nil).
func (r *Repository) Latest(ctx context.Context) (string, []domain.PriceLevel, error) {
	var day sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(trading_day) FROM price_levels`).Scan(&day); err != nil {
		return "", nil, fmt.Errorf("failed to find latest trading day: %w", err)
	}
	if !day.Valid {
		return "", nil, nil
	}
	levels, err := r.ForDay(ctx, day.String)
	return day.String, levels, err
}

// ForDay returns the levels of one trading day ordered by color, style and index.
func (r *Repository) ForDay(ctx context.Context, day string) ([]domain.PriceLevel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT color, style, level_index, price
		FROM price_levels
		WHERE trading_day = ?
		ORDER BY color, style DESC, level_index
	`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels: %w", err)
	}
	defer rows.Close()

	var levels []domain.PriceLevel
	for rows.Next() {
		var (
			l            domain.PriceLevel
			color, style string
		)
		if err := rows.Scan(&color, &style, &l.Index, &l.Price); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		l.Color = domain.Color(color)
		l.Style = domain.Style(style)
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// LoadLevels returns the latest submitted level set.
func (r *Repository) LoadLevels(ctx context.Context) ([]domain.PriceLevel, error) {
	_, levels, err := r.Latest(ctx)
	return levels, err
}
