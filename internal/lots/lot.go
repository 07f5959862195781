// Package lots holds the portfolio lot domain model. A user's holdings are a
// flat list of lots; buying more of an already-held symbol merges into the
// existing lot at the weighted-average purchase price rather than opening a
// second lot.
package lots

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/symbols"
)

// ErrLotNotFound reports a lookup for a lot id the user does not hold.
var ErrLotNotFound = errors.New("lot not found")

// Lot is a position in a single symbol.
type Lot struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Symbol        string          `db:"symbol" json:"symbol"`
	Quantity      float64         `db:"quantity" json:"quantity"`
	PurchasePrice decimal.Decimal `db:"purchase_price" json:"purchasePrice"`
	PurchaseDate  dates.Date      `db:"purchase_date" json:"purchaseDate"`
}

// NewLot carries the fields of a buy before it is persisted.
type NewLot struct {
	Symbol        string
	Quantity      float64
	PurchasePrice decimal.Decimal
	PurchaseDate  dates.Date
}

// Validate rejects buys the engine cannot value.
func (n NewLot) Validate() error {
	if symbols.Normalize(n.Symbol) == "" {
		return fmt.Errorf("lot symbol is required")
	}
	if n.Quantity <= 0 {
		return fmt.Errorf("lot quantity must be positive, got %v", n.Quantity)
	}
	if n.PurchasePrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("lot purchase price must be positive, got %s", n.PurchasePrice)
	}
	if n.PurchaseDate.IsZero() {
		return fmt.Errorf("lot purchase date is required")
	}
	return nil
}

// CostBasis is quantity times purchase price.
func (l Lot) CostBasis() decimal.Decimal {
	return decimal.NewFromFloat(l.Quantity).Mul(l.PurchasePrice)
}

// WeightedAverage merges two buys of the same symbol: the combined quantity
// and the quantity-weighted average purchase price
// (q1*p1 + q2*p2) / (q1 + q2).
func WeightedAverage(q1 float64, p1 decimal.Decimal, q2 float64, p2 decimal.Decimal) (float64, decimal.Decimal) {
	total := q1 + q2
	if total == 0 {
		return 0, decimal.Zero
	}
	d1 := decimal.NewFromFloat(q1)
	d2 := decimal.NewFromFloat(q2)
	blended := d1.Mul(p1).Add(d2.Mul(p2)).Div(d1.Add(d2))
	return total, blended
}

// Merge folds a new buy into an existing lot of the same symbol. The
// purchase date of the merged lot is the more recent of the two, so the
// recent-purchase valuation rule keys off the latest buy.
func Merge(existing Lot, buy NewLot) Lot {
	qty, avg := WeightedAverage(existing.Quantity, existing.PurchasePrice, buy.Quantity, buy.PurchasePrice)
	merged := existing
	merged.Quantity = qty
	merged.PurchasePrice = avg
	if buy.PurchaseDate.After(existing.PurchaseDate) {
		merged.PurchaseDate = buy.PurchaseDate
	}
	return merged
}

// Symbols collects the raw symbol of every lot, repeats included. Callers
// pass the result through symbols.SortedSet for key building.
func Symbols(ls []Lot) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.Symbol)
	}
	return out
}

// TotalCostBasis sums the cost basis across a holdings list.
func TotalCostBasis(ls []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range ls {
		total = total.Add(l.CostBasis())
	}
	return total
}

// Store is the persistence contract the valuation engine depends on. The
// engine only ever lists; mutations exist for the ops surface and must be
// followed by a user cache invalidation.
type Store interface {
	// ListLots returns every lot the user holds, symbol-normalized.
	ListLots(ctx context.Context, userID uuid.UUID) ([]Lot, error)
	// AddLot records a buy, merging into an existing lot of the same
	// symbol at the weighted-average purchase price.
	AddLot(ctx context.Context, userID uuid.UUID, buy NewLot) (Lot, error)
	// UpdateLot replaces quantity and purchase price of one lot.
	UpdateLot(ctx context.Context, userID, lotID uuid.UUID, quantity float64, price decimal.Decimal) (Lot, error)
	// DeleteLot removes one lot. ErrLotNotFound when the user does not
	// hold it.
	DeleteLot(ctx context.Context, userID, lotID uuid.UUID) error
	// ListUserIDs returns every user with at least one lot.
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
}
