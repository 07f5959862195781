package valuation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerfolio/valuation/internal/cache"
	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/lots"
	"github.com/peerfolio/valuation/internal/market"
	"github.com/peerfolio/valuation/internal/symbols"
	"github.com/peerfolio/valuation/internal/telemetry/metrics"
)

// Calculator values a set of lots as of a calendar day. Results for a given
// day and symbol set are memoized in the cache store; individual closes are
// memoized per symbol so overlapping portfolios reuse each other's lookups.
type Calculator struct {
	cache   cache.Store
	source  market.Source
	metrics *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time
}

// NewCalculator wires the calculator. The metrics registry may be nil.
func NewCalculator(store cache.Store, source market.Source, reg *metrics.Registry) *Calculator {
	return &Calculator{
		cache:   store,
		source:  source,
		metrics: reg,
		log:     log.With().Str("component", "valuation").Logger(),
		now:     time.Now,
	}
}

// PortfolioValue computes the total value of the lots as of the given day.
//
// Rules, in order:
//   - a day in the future values every lot at its purchase price and
//     touches no cache and no provider;
//   - a lot purchased on or after the target day is valued at its purchase
//     price without a lookup, forced or not;
//   - otherwise the day's cached sheet answers, then the per-symbol close
//     cache, then the provider, then the purchase-price fallback.
//
// forceRefresh bypasses the cached sheet only when the target day is today;
// past days are immutable and always served from cache when present.
//
// The only error returned is the context's; provider and cache failures
// degrade into the result instead.
func (c *Calculator) PortfolioValue(ctx context.Context, ls []lots.Lot, on dates.Date, forceRefresh bool) (ValuationResult, error) {
	today := dates.At(c.now())

	if on.After(today) {
		return ValuationResult{Date: on, TotalValue: purchaseValue(ls)}, nil
	}
	if len(ls) == 0 {
		return ValuationResult{Date: on, TotalValue: 0}, nil
	}

	setKey := symbols.SetKey(lots.Symbols(ls))
	key := cache.ValuationKey(on, setKey)

	sheet := priceSheet{}
	readCache := !forceRefresh || on.Before(today)
	if readCache {
		ok, err := cache.GetJSON(ctx, c.cache, key, &sheet)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Str("key", key).Msg("valuation cache read failed, recomputing")
			sheet = priceSheet{}
			c.recordMiss("valuation")
		case ok:
			c.recordHit("valuation")
		default:
			c.recordMiss("valuation")
		}
	}

	total := 0.0
	dirty := false
	for _, l := range ls {
		total += l.Quantity * c.lotPrice(ctx, l, on, today, sheet, readCache, &dirty)
	}

	if err := ctx.Err(); err != nil {
		return ValuationResult{Date: on, TotalValue: total}, err
	}

	if dirty {
		ttl := TTLValuationPast
		if on.Equal(today) {
			ttl = TTLValuationToday
		}
		if err := cache.SetJSON(ctx, c.cache, key, sheet, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("valuation cache write failed")
		}
	}

	return ValuationResult{Date: on, TotalValue: total}, nil
}

// lotPrice resolves the per-unit price for one lot, recording fresh closes
// and remembered failures into the sheet. useCaches is false under a forced
// today refresh, where every price must come from the provider.
func (c *Calculator) lotPrice(ctx context.Context, l lots.Lot, on, today dates.Date, sheet priceSheet, useCaches bool, dirty *bool) float64 {
	// A buy within a day of the target is priced at cost: there is no
	// close between purchase and target to look up.
	if on.DaysSince(l.PurchaseDate) < 1 {
		return l.PurchasePrice.InexactFloat64()
	}

	sym := symbols.Normalize(l.Symbol)
	if p, attempted := sheet[sym]; attempted {
		if p != nil {
			return *p
		}
		// Earlier attempt failed; the sheet remembers so repeated
		// valuations stay off the provider.
		c.recordFallback("remembered")
		return l.PurchasePrice.InexactFloat64()
	}

	if useCaches {
		if price, ok := c.cachedClose(ctx, sym, on); ok {
			sheet[sym] = &price
			*dirty = true
			return price
		}
	}

	cl, err := c.source.HistoricalClose(ctx, sym, on)
	if err != nil {
		reason := failureReason(err)
		c.log.Warn().Err(err).
			Str("symbol", sym).
			Stringer("day", on).
			Str("reason", reason).
			Msg("price lookup failed, using purchase price")
		c.recordFallback(reason)
		sheet[sym] = nil
		*dirty = true
		return l.PurchasePrice.InexactFloat64()
	}

	price := cl.Price
	sheet[sym] = &price
	*dirty = true
	c.storeClose(ctx, sym, on, today, cl)
	return price
}

// cachedClose consults the per-symbol close cache.
func (c *Calculator) cachedClose(ctx context.Context, sym string, on dates.Date) (float64, bool) {
	var cl market.Close
	ok, err := cache.GetJSON(ctx, c.cache, cache.HistoricalPriceKey(sym, on), &cl)
	if err != nil {
		c.log.Debug().Err(err).Str("symbol", sym).Msg("close cache read failed")
		c.recordMiss("price_hist")
		return 0, false
	}
	if !ok {
		c.recordMiss("price_hist")
		return 0, false
	}
	c.recordHit("price_hist")
	return cl.Price, true
}

func (c *Calculator) storeClose(ctx context.Context, sym string, on, today dates.Date, cl market.Close) {
	ttl := TTLValuationPast
	if on.Equal(today) {
		ttl = TTLValuationToday
	}
	if err := cache.SetJSON(ctx, c.cache, cache.HistoricalPriceKey(sym, on), cl, ttl); err != nil {
		c.log.Debug().Err(err).Str("symbol", sym).Msg("close cache write failed")
	}
}

func purchaseValue(ls []lots.Lot) float64 {
	total := 0.0
	for _, l := range ls {
		total += l.Quantity * l.PurchasePrice.InexactFloat64()
	}
	return total
}

func failureReason(err error) string {
	var me *market.Error
	if errors.As(err, &me) {
		return me.Kind.String()
	}
	return market.KindUnavailable.String()
}

func (c *Calculator) recordHit(layer string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(layer)
	}
}

func (c *Calculator) recordMiss(layer string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(layer)
	}
}

func (c *Calculator) recordFallback(reason string) {
	if c.metrics != nil {
		c.metrics.RecordFallback(reason)
	}
}
