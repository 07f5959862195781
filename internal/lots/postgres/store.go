// Package postgres implements the lot store against the application's
// existing lots table. The table is owned by the web application; this
// adapter only reads and mutates rows, it never manages schema.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/lots"
	"github.com/peerfolio/valuation/internal/symbols"
)

const defaultTimeout = 5 * time.Second

// Store is the sqlx-backed lots.Store.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore wraps an open database handle. timeout bounds every query; zero
// takes the default.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// lotRow mirrors the lots table columns this adapter touches.
type lotRow struct {
	ID            uuid.UUID       `db:"id"`
	Symbol        string          `db:"symbol"`
	Quantity      float64         `db:"quantity"`
	PurchasePrice decimal.Decimal `db:"purchase_price"`
	PurchaseDate  time.Time       `db:"purchase_date"`
}

func (r lotRow) toLot() lots.Lot {
	return lots.Lot{
		ID:            r.ID,
		Symbol:        symbols.Normalize(r.Symbol),
		Quantity:      r.Quantity,
		PurchasePrice: r.PurchasePrice,
		PurchaseDate:  dates.At(r.PurchaseDate),
	}
}

// ListLots implements lots.Store.
func (s *Store) ListLots(ctx context.Context, userID uuid.UUID) ([]lots.Lot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []lotRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, symbol, quantity, purchase_price, purchase_date
		FROM lots
		WHERE user_id = $1
		ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lots for %s: %w", userID, err)
	}

	out := make([]lots.Lot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toLot())
	}
	return out, nil
}

// AddLot implements lots.Store. A buy of an already-held symbol merges into
// the existing row at the weighted-average purchase price inside one
// transaction, so two concurrent buys of the same symbol cannot each open a
// row.
func (s *Store) AddLot(ctx context.Context, userID uuid.UUID, buy lots.NewLot) (lots.Lot, error) {
	if err := buy.Validate(); err != nil {
		return lots.Lot{}, err
	}
	sym := symbols.Normalize(buy.Symbol)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return lots.Lot{}, fmt.Errorf("begin add lot: %w", err)
	}
	defer tx.Rollback()

	var row lotRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, symbol, quantity, purchase_price, purchase_date
		FROM lots
		WHERE user_id = $1 AND symbol = $2
		FOR UPDATE`, userID, sym)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		inserted, err := s.insertLot(ctx, tx, userID, sym, buy)
		if err != nil {
			return lots.Lot{}, err
		}
		if err := tx.Commit(); err != nil {
			return lots.Lot{}, fmt.Errorf("commit add lot: %w", err)
		}
		return inserted, nil
	case err != nil:
		return lots.Lot{}, fmt.Errorf("lookup lot %s for %s: %w", sym, userID, err)
	}

	merged := lots.Merge(row.toLot(), buy)
	_, err = tx.ExecContext(ctx, `
		UPDATE lots
		SET quantity = $1, purchase_price = $2, purchase_date = $3
		WHERE id = $4`,
		merged.Quantity, merged.PurchasePrice, merged.PurchaseDate.Time(), merged.ID)
	if err != nil {
		return lots.Lot{}, fmt.Errorf("merge lot %s for %s: %w", sym, userID, err)
	}
	if err := tx.Commit(); err != nil {
		return lots.Lot{}, fmt.Errorf("commit merge lot: %w", err)
	}
	return merged, nil
}

func (s *Store) insertLot(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, sym string, buy lots.NewLot) (lots.Lot, error) {
	l := lots.Lot{
		ID:            uuid.New(),
		Symbol:        sym,
		Quantity:      buy.Quantity,
		PurchasePrice: buy.PurchasePrice,
		PurchaseDate:  buy.PurchaseDate,
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lots (id, user_id, symbol, quantity, purchase_price, purchase_date)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, userID, l.Symbol, l.Quantity, l.PurchasePrice, l.PurchaseDate.Time())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return lots.Lot{}, fmt.Errorf("lot %s for %s already exists: %w", sym, userID, err)
		}
		return lots.Lot{}, fmt.Errorf("insert lot %s for %s: %w", sym, userID, err)
	}
	return l, nil
}

// UpdateLot implements lots.Store.
func (s *Store) UpdateLot(ctx context.Context, userID, lotID uuid.UUID, quantity float64, price decimal.Decimal) (lots.Lot, error) {
	if quantity <= 0 {
		return lots.Lot{}, fmt.Errorf("lot quantity must be positive, got %v", quantity)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return lots.Lot{}, fmt.Errorf("lot purchase price must be positive, got %s", price)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row lotRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE lots
		SET quantity = $1, purchase_price = $2
		WHERE id = $3 AND user_id = $4
		RETURNING id, symbol, quantity, purchase_price, purchase_date`,
		quantity, price, lotID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return lots.Lot{}, lots.ErrLotNotFound
	}
	if err != nil {
		return lots.Lot{}, fmt.Errorf("update lot %s for %s: %w", lotID, userID, err)
	}
	return row.toLot(), nil
}

// DeleteLot implements lots.Store.
func (s *Store) DeleteLot(ctx context.Context, userID, lotID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM lots
		WHERE id = $1 AND user_id = $2`, lotID, userID)
	if err != nil {
		return fmt.Errorf("delete lot %s for %s: %w", lotID, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lot %s for %s: %w", lotID, userID, err)
	}
	if n == 0 {
		return lots.ErrLotNotFound
	}
	return nil
}

// ListUserIDs implements lots.Store. Feeds the leaderboard, which values
// every user with at least one position.
func (s *Store) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT user_id
		FROM lots
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list lot holders: %w", err)
	}
	return ids, nil
}
