package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/touchline/internal/database"
	"github.com/aristath/touchline/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrInsufficientBalance rejects a long that costs more than the cash on hand.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPositionNotOpen is returned when closing an unknown or already closed position.
	ErrPositionNotOpen = errors.New("position is not open")
	// ErrInvalidPosition is returned for a position without side, quantity or entry.
	ErrInvalidPosition = errors.New("invalid position")
)

// Ledger is the paper portfolio persisted in ledger.db.
// Cash is kept as a decimal string; shorts are not collateralized.
type Ledger struct {
	db           *sql.DB
	startingCash decimal.Decimal
	retry        database.RetryPolicy
	sink         domain.HealthSink
	now          func() time.Time
	log          zerolog.Logger

	// serializes balance read-modify-write within the process
	mu sync.Mutex
}

// NewLedger creates a ledger that starts with startingCash on a fresh database.
func NewLedger(db *sql.DB, startingCash float64, sink domain.HealthSink, log zerolog.Logger) *Ledger {
	if sink == nil {
		sink = domain.NopHealthSink{}
	}
	return &Ledger{
		db:           db,
		startingCash: decimal.NewFromFloat(startingCash),
		retry:        database.DefaultRetryPolicy,
		sink:         sink,
		now:          time.Now,
		log:          log.With().Str("component", "portfolio_ledger").Logger(),
	}
}

// Init seeds the cash balance once. Existing balances are left alone.
func (l *Ledger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO cash_balance (id, balance, updated_at) VALUES (1, ?, ?)
	`, l.startingCash.String(), l.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to seed cash balance: %w", err)
	}
	return nil
}

// Open records a new position and returns its id. Longs debit entry*qty and
// fail with ErrInsufficientBalance when cash does not cover it; shorts debit nothing.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) (string, error) {
	if !pos.Side.Valid() || pos.Qty <= 0 || pos.Entry <= 0 {
		return "", fmt.Errorf("%w: side=%q qty=%f entry=%f", ErrInvalidPosition, pos.Side, pos.Qty, pos.Entry)
	}
	if pos.ID == "" {
		pos.ID = uuid.New().String()
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = l.now()
	}

	var contact []byte
	if pos.Contact != nil {
		var err error
		if contact, err = msgpack.Marshal(pos.Contact); err != nil {
			return "", fmt.Errorf("failed to encode contact: %w", err)
		}
	}

	cost := decimal.Zero
	if pos.Side == domain.DirectionLong {
		cost = decimal.NewFromFloat(pos.Entry).Mul(decimal.NewFromFloat(pos.Qty))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := database.WithRetry(ctx, l.retry, func() error {
		return database.WithTransaction(l.db, func(tx *sql.Tx) error {
			balance, err := readBalance(tx)
			if err != nil {
				return err
			}
			if balance.LessThan(cost) {
				return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, cost.StringFixed(2), balance.StringFixed(2))
			}
			after := balance.Sub(cost)

			if _, err := tx.Exec(`
				INSERT INTO positions
					(id, symbol, side, qty, entry, stop, target, status, pattern_key, pattern_id, confidence, contact, opened_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, 'open', ?, ?, ?, ?, ?)
			`, pos.ID, pos.Symbol, string(pos.Side), pos.Qty, pos.Entry, pos.Stop, pos.Target,
				pos.PatternKey, pos.PatternID, pos.Confidence, contact, pos.OpenedAt.Unix()); err != nil {
				return fmt.Errorf("failed to insert position: %w", err)
			}
			if err := writeBalance(tx, after, pos.OpenedAt); err != nil {
				return err
			}
			return appendEntry(tx, pos.ID, domain.LedgerOpen, pos.Entry, pos.Qty, after, pos.OpenedAt)
		})
	})
	if err != nil {
		l.sink.ReportError("portfolio_ledger", err.Error())
		return "", fmt.Errorf("failed to open position: %w", err)
	}

	l.sink.Ping("portfolio_ledger")
	l.log.Info().
		Str("position_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.Entry).
		Float64("qty", pos.Qty).
		Msg("Position opened")
	return pos.ID, nil
}

// ClosePosition closes an open position at exitPrice and returns it in its
// closed state. Longs credit exit*qty, shorts credit their realized PnL.
// Unknown or already closed ids fail with ErrPositionNotOpen and change nothing.
func (l *Ledger) ClosePosition(ctx context.Context, id string, exitPrice float64) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closed *domain.Position
	err := database.WithRetry(ctx, l.retry, func() error {
		return database.WithTransaction(l.db, func(tx *sql.Tx) error {
			pos, err := scanPosition(tx.QueryRow(selectPositions+` WHERE id = ? AND status = 'open'`, id))
			if err != nil {
				return err
			}
			if pos == nil {
				return ErrPositionNotOpen
			}

			closedAt := l.now()
			pnl := RealizedPnL(*pos, exitPrice)

			res, err := tx.Exec(`
				UPDATE positions SET status = 'closed', exit_price = ?, pnl = ?, closed_at = ?
				WHERE id = ? AND status = 'open'
			`, exitPrice, pnl.InexactFloat64(), closedAt.Unix(), id)
			if err != nil {
				return fmt.Errorf("failed to close position: %w", err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return ErrPositionNotOpen
			}

			credit := pnl
			if pos.Side == domain.DirectionLong {
				credit = decimal.NewFromFloat(exitPrice).Mul(decimal.NewFromFloat(pos.Qty))
			}
			balance, err := readBalance(tx)
			if err != nil {
				return err
			}
			after := balance.Add(credit)
			if err := writeBalance(tx, after, closedAt); err != nil {
				return err
			}
			if err := appendEntry(tx, id, domain.LedgerClose, exitPrice, pos.Qty, after, closedAt); err != nil {
				return err
			}

			pnlFloat := pnl.InexactFloat64()
			pos.ExitPrice = &exitPrice
			pos.PnL = &pnlFloat
			pos.ClosedAt = &closedAt
			closed = pos
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, ErrPositionNotOpen) {
			l.sink.ReportError("portfolio_ledger", err.Error())
		}
		return nil, err
	}

	l.sink.Ping("portfolio_ledger")
	l.log.Info().
		Str("position_id", id).
		Float64("exit_price", exitPrice).
		Float64("pnl", *closed.PnL).
		Msg("Position closed")
	return closed, nil
}

// Close is ClosePosition reduced to success or failure.
func (l *Ledger) Close(ctx context.Context, id string, exitPrice float64) bool {
	if _, err := l.ClosePosition(ctx, id, exitPrice); err != nil {
		l.log.Warn().Err(err).Str("position_id", id).Msg("Close failed")
		return false
	}
	return true
}

// RealizedPnL is the signed profit of closing pos at exitPrice.
func RealizedPnL(pos domain.Position, exitPrice float64) decimal.Decimal {
	diff := decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(pos.Entry))
	if pos.Side == domain.DirectionShort {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(pos.Qty))
}

// PnLPct is the signed return of a closed position, 0 while it is open.
func PnLPct(pos domain.Position) float64 {
	if pos.ExitPrice == nil {
		return 0
	}
	return pos.PctChange(*pos.ExitPrice)
}

func readBalance(tx *sql.Tx) (decimal.Decimal, error) {
	var raw string
	if err := tx.QueryRow(`SELECT balance FROM cash_balance WHERE id = 1`).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, fmt.Errorf("cash balance not initialized")
		}
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance %q: %w", raw, err)
	}
	return balance, nil
}

func writeBalance(tx *sql.Tx, balance decimal.Decimal, at time.Time) error {
	if _, err := tx.Exec(`UPDATE cash_balance SET balance = ?, updated_at = ? WHERE id = 1`, balance.String(), at.Unix()); err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return nil
}

func appendEntry(tx *sql.Tx, tradeID string, action domain.LedgerAction, price, qty float64, cashAfter decimal.Decimal, at time.Time) error {
	if _, err := tx.Exec(`
		INSERT INTO ledger_entries (trade_id, action, price, qty, cash_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tradeID, string(action), price, qty, cashAfter.String(), at.Unix()); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}
