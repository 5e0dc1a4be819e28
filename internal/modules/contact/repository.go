package contact

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const contactColumns = `symbol, price, level_price, level_color, level_style, approach, reaction,
	contact_order, confidence, volume, confluent, context, observed_at`

// Repository appends evaluated contacts to memory.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a contact log repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "contact_events").Logger(),
	}
}

// Log appends one contact event.
func (r *Repository) Log(ev domain.ContactEvent) error {
	var ctx []byte
	if len(ev.Context) > 0 {
		encoded, err := msgpack.Marshal(ev.Context)
		if err != nil {
			return fmt.Errorf("failed to encode contact context: %w", err)
		}
		ctx = encoded
	}

	confluent := 0
	if ev.Confluent {
		confluent = 1
	}

	_, err := r.db.Exec(`INSERT INTO contact_events (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Symbol, ev.Price, ev.Level.Price, string(ev.Level.Color), string(ev.Level.Style),
		string(ev.Approach), string(ev.Reaction), ev.ContactOrder, ev.Confidence, ev.Volume,
		confluent, ctx, ev.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log contact event: %w", err)
	}
	return nil
}

// Recent returns the newest contact events first.
func (r *Repository) Recent(limit int) ([]domain.ContactEvent, error) {
	rows, err := r.db.Query(`SELECT `+contactColumns+` FROM contact_events
		ORDER BY observed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact events: %w", err)
	}
	defer rows.Close()

	var events []domain.ContactEvent
	for rows.Next() {
		var (
			ev                           domain.ContactEvent
			color, style, approach, reac string
			confluent                    int
			ctx                          []byte
			observedAt                   int64
		)
		if err := rows.Scan(&ev.Symbol, &ev.Price, &ev.Level.Price, &color, &style, &approach, &reac,
			&ev.ContactOrder, &ev.Confidence, &ev.Volume, &confluent, &ctx, &observedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact event: %w", err)
		}
		ev.Level.Color = domain.Color(color)
		ev.Level.Style = domain.Style(style)
		ev.Approach = domain.Approach(approach)
		ev.Reaction = domain.Reaction(reac)
		ev.Confluent = confluent == 1
		ev.Timestamp = time.Unix(observedAt, 0).UTC()
		if len(ctx) > 0 {
			if err := msgpack.Unmarshal(ctx, &ev.Context); err != nil {
				r.log.Warn().Err(err).Msg("Dropping undecodable contact context")
			}
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
