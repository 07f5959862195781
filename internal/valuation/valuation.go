// Package valuation computes portfolio values and performance series on top
// of the cache store, the lot store and the market adapter. Every remote
// failure degrades to the lot's purchase price; callers never see a partial
// error, only a fully populated result.
package valuation

import (
	"time"

	"github.com/google/uuid"

	"github.com/peerfolio/valuation/internal/dates"
)

// ValuationResult is a portfolio's total value as of one calendar day.
type ValuationResult struct {
	Date       dates.Date `json:"date"`
	TotalValue float64    `json:"totalValue"`
}

// PerformanceSeries is the chart payload for one user and lookback window.
// Points are ascending by date, without duplicates, and end at today.
type PerformanceSeries struct {
	UserID       uuid.UUID         `json:"userId"`
	LookbackDays int               `json:"lookbackDays"`
	Points       []ValuationResult `json:"points"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

// priceSheet is the artifact cached under a valuation key: each symbol's
// resolved close for the day, or null when the lookup was attempted and
// failed so later reads fall back without re-fetching. Keyed off the symbol
// set alone, the sheet is shareable between users whose quantities differ.
type priceSheet map[string]*float64
