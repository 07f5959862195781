package cache

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/peerfolio/valuation/internal/dates"
)

// Key builders for the engine's cache keyspace. Every cached artifact lives
// under one of these prefixes so pattern invalidation stays predictable.

// CurrentPriceKey caches a live quote for one symbol.
func CurrentPriceKey(symbol string) string {
	return "price:current:" + symbol
}

// HistoricalPriceKey caches one symbol's close for one day.
func HistoricalPriceKey(symbol string, day dates.Date) string {
	return fmt.Sprintf("price:hist:%s:%s", symbol, day)
}

// ValuationKey caches the resolved closes for a symbol set on one day. The
// set portion is the canonical sorted form (symbols.SetKey), so any two
// holdings lists with the same symbols share the entry.
func ValuationKey(day dates.Date, symbolSet string) string {
	return fmt.Sprintf("valuation:%s:%s", day, symbolSet)
}

// ValuationSetPattern matches ValuationKey entries for one symbol set across
// all dates.
func ValuationSetPattern(symbolSet string) string {
	return "valuation:*:" + symbolSet
}

// SeriesKey caches a user's performance series for one lookback window.
func SeriesKey(userID uuid.UUID, lookbackDays int) string {
	return fmt.Sprintf("perfseries:%s:%d", userID, lookbackDays)
}

// SeriesGeneratedAtKey carries the build timestamp that governs staleness,
// stored beside the series itself.
func SeriesGeneratedAtKey(userID uuid.UUID, lookbackDays int) string {
	return SeriesKey(userID, lookbackDays) + ":generatedAt"
}

// UserSeriesPattern matches every series artifact of one user, generatedAt
// markers included.
func UserSeriesPattern(userID uuid.UUID) string {
	return fmt.Sprintf("perfseries:%s:*", userID)
}
