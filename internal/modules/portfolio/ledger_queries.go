package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/touchline/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

const selectPositions = `
	SELECT id, symbol, side, qty, entry, stop, target, exit_price, pnl,
		pattern_key, pattern_id, confidence, contact, opened_at, closed_at
	FROM positions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition returns (nil, nil) on sql.ErrNoRows.
func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		pos                   domain.Position
		side                  string
		exitPrice, pnl, conf  sql.NullFloat64
		patternKey, patternID sql.NullString
		contact               []byte
		openedAt              int64
		closedAt              sql.NullInt64
	)
	err := row.Scan(&pos.ID, &pos.Symbol, &side, &pos.Qty, &pos.Entry, &pos.Stop, &pos.Target,
		&exitPrice, &pnl, &patternKey, &patternID, &conf, &contact, &openedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}

	pos.Side = domain.Direction(side)
	pos.PatternKey = patternKey.String
	pos.PatternID = patternID.String
	pos.Confidence = conf.Float64
	pos.OpenedAt = time.Unix(openedAt, 0).UTC()
	if exitPrice.Valid {
		v := exitPrice.Float64
		pos.ExitPrice = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		pos.PnL = &v
	}
	if closedAt.Valid {
		t := time.Unix(closedAt.Int64, 0).UTC()
		pos.ClosedAt = &t
	}
	if len(contact) > 0 {
		var ev domain.ContactEvent
		if err := msgpack.Unmarshal(contact, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode contact of %s: %w", pos.ID, err)
		}
		pos.Contact = &ev
	}
	return &pos, nil
}

func (l *Ledger) queryPositions(ctx context.Context, where string, args ...interface{}) ([]domain.Position, error) {
	rows, err := l.db.QueryContext(ctx, selectPositions+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := []domain.Position{}
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	return positions, rows.Err()
}

// OpenPositions reads the open set from the store, oldest first.
func (l *Ledger) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	return l.queryPositions(ctx, `WHERE status = 'open' ORDER BY opened_at ASC, rowid ASC`)
}

// ClosedPositions returns closed history, most recently closed first.
func (l *Ledger) ClosedPositions(ctx context.Context, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.queryPositions(ctx, `WHERE status = 'closed' ORDER BY closed_at DESC, rowid DESC LIMIT ?`, limit)
}

// Get returns a position by id, or nil.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.Position, error) {
	return scanPosition(l.db.QueryRowContext(ctx, selectPositions+` WHERE id = ?`, id))
}

// Balance returns the current cash balance.
func (l *Ledger) Balance(ctx context.Context) (decimal.Decimal, error) {
	var raw string
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM cash_balance WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return l.startingCash, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// Entries returns the audit trail, oldest first. An empty tradeID returns all rows.
func (l *Ledger) Entries(ctx context.Context, tradeID string) ([]domain.LedgerEntry, error) {
	query := `SELECT id, trade_id, action, price, qty, cash_after, created_at FROM ledger_entries`
	var args []interface{}
	if tradeID != "" {
		query += ` WHERE trade_id = ?`
		args = append(args, tradeID)
	}
	query += ` ORDER BY id ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var (
			e         domain.LedgerEntry
			action    string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.TradeID, &action, &e.Price, &e.Qty, &e.CashAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Action = domain.LedgerAction(action)
		e.Timestamp = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastActivity is the time of the most recent open or close, or nil on an empty ledger.
func (l *Ledger) LastActivity(ctx context.Context) (*time.Time, error) {
	var ts sql.NullInt64
	if err := l.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM ledger_entries`).Scan(&ts); err != nil {
		return nil, fmt.Errorf("failed to read last ledger activity: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := time.Unix(ts.Int64, 0).UTC()
	return &t, nil
}

// Summary is the portfolio view served to the API and CLI.
type Summary struct {
	Balance       string            `json:"balance"`
	OpenPositions []domain.Position `json:"open_positions"`
	Closed        []domain.Position `json:"closed_positions"`
	RealizedPnL   string            `json:"realized_pnl"`
}

// Summary collects balance, open positions and recent closed history.
func (l *Ledger) Summary(ctx context.Context, closedLimit int) (*Summary, error) {
	balance, err := l.Balance(ctx)
	if err != nil {
		return nil, err
	}
	open, err := l.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := l.ClosedPositions(ctx, closedLimit)
	if err != nil {
		return nil, err
	}

	realized := decimal.Zero
	for _, p := range closed {
		if p.PnL != nil {
			realized = realized.Add(decimal.NewFromFloat(*p.PnL))
		}
	}
	return &Summary{
		Balance:       balance.StringFixed(2),
		OpenPositions: open,
		Closed:        closed,
		RealizedPnL:   realized.StringFixed(2),
	}, nil
}
