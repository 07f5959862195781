package valuation

import "time"

// Cache lifetimes. Past closes never change, so their entries live long;
// anything involving today moves with the market and stays short.
const (
	// TTLValuationPast covers valuation and close entries for days
	// strictly before today.
	TTLValuationPast = 30 * 24 * time.Hour

	// TTLValuationToday covers entries computed for the current day,
	// whose closes are still provisional.
	TTLValuationToday = time.Hour

	// TTLSeries covers performance series built by unforced reads.
	TTLSeries = 12 * time.Hour

	// TTLSeriesForced covers series built under forceRefresh, fresh only
	// as of the moment they were forced.
	TTLSeriesForced = time.Hour

	// TTLEmptySeries covers the empty-portfolio short circuit.
	TTLEmptySeries = 10 * time.Minute

	// TTLCurrentPrice covers live quotes used by leaderboard batches.
	TTLCurrentPrice = 10 * time.Minute

	// SeriesStaleAfter is the generatedAt horizon past which a cached
	// series is rebuilt instead of served.
	SeriesStaleAfter = 6 * time.Hour
)

// seriesStepDays is the spacing between performance points walking back
// from today.
const seriesStepDays = 7
