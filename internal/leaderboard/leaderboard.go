// Package leaderboard ranks users by portfolio gain. It consumes the same
// valuation and cache contracts as the chart path: current prices go through
// the price:current read-through, historical baselines come from the
// calculator, and every lookup failure degrades to the purchase price.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerfolio/valuation/internal/cache"
	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/lots"
	"github.com/peerfolio/valuation/internal/market"
	"github.com/peerfolio/valuation/internal/telemetry/metrics"
	"github.com/peerfolio/valuation/internal/valuation"
)

// Metric selects the gain horizon the board is ranked by.
type Metric string

const (
	// MetricTotal ranks by gain over cost basis.
	MetricTotal Metric = "total"
	// MetricDaily ranks by gain since yesterday's close.
	MetricDaily Metric = "daily"
	// MetricWeekly ranks by gain since seven days ago.
	MetricWeekly Metric = "weekly"
)

// ParseMetric reads a metric name, defaulting empty input to total gain.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricTotal, MetricDaily, MetricWeekly:
		return Metric(s), nil
	case "":
		return MetricTotal, nil
	default:
		return "", fmt.Errorf("unknown leaderboard metric %q", s)
	}
}

// Entry is one user's row. All gain figures are computed for every entry
// regardless of the ranking metric, so callers render the full row.
type Entry struct {
	Rank              int       `json:"rank"`
	UserID            uuid.UUID `json:"userId"`
	CurrentValue      float64   `json:"currentValue"`
	CostBasis         float64   `json:"costBasis"`
	TotalGain         float64   `json:"totalGain"`
	TotalGainPercent  float64   `json:"totalGainPercent"`
	DailyGain         float64   `json:"dailyGain"`
	DailyGainPercent  float64   `json:"dailyGainPercent"`
	WeeklyGain        float64   `json:"weeklyGain"`
	WeeklyGainPercent float64   `json:"weeklyGainPercent"`
}

// Aggregator builds the board by running the valuation pipeline per user.
type Aggregator struct {
	store   lots.Store
	cache   cache.Store
	source  market.Source
	calc    *valuation.Calculator
	metrics *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time
}

// NewAggregator wires the aggregator. The metrics registry may be nil.
func NewAggregator(store lots.Store, cacheStore cache.Store, source market.Source, calc *valuation.Calculator, reg *metrics.Registry) *Aggregator {
	return &Aggregator{
		store:   store,
		cache:   cacheStore,
		source:  source,
		calc:    calc,
		metrics: reg,
		log:     log.With().Str("component", "leaderboard").Logger(),
		now:     time.Now,
	}
}

// Build ranks every user holding at least one lot, descending by the chosen
// metric's absolute gain. Ties break on user id so repeated builds order
// identically.
func (a *Aggregator) Build(ctx context.Context, metric Metric) ([]Entry, error) {
	if a.metrics != nil {
		timer := a.metrics.StartTimer("leaderboard")
		defer timer.Stop()
	}

	userIDs, err := a.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard users: %w", err)
	}

	entries := make([]Entry, 0, len(userIDs))
	for _, userID := range userIDs {
		entry, err := a.buildEntry(ctx, userID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		gi, gj := entries[i].gain(metric), entries[j].gain(metric)
		if gi != gj {
			return gi > gj
		}
		return entries[i].UserID.String() < entries[j].UserID.String()
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (e Entry) gain(metric Metric) float64 {
	switch metric {
	case MetricDaily:
		return e.DailyGain
	case MetricWeekly:
		return e.WeeklyGain
	default:
		return e.TotalGain
	}
}

func (a *Aggregator) buildEntry(ctx context.Context, userID uuid.UUID) (Entry, error) {
	ls, err := a.store.ListLots(ctx, userID)
	if err != nil {
		return Entry{}, fmt.Errorf("list lots for %s: %w", userID, err)
	}

	today := dates.At(a.now())
	current := a.currentValue(ctx, ls)

	dayAgo, err := a.calc.PortfolioValue(ctx, ls, today.Add(-1), false)
	if err != nil {
		return Entry{}, fmt.Errorf("value %s a day ago: %w", userID, err)
	}
	weekAgo, err := a.calc.PortfolioValue(ctx, ls, today.Add(-7), false)
	if err != nil {
		return Entry{}, fmt.Errorf("value %s a week ago: %w", userID, err)
	}

	basis := lots.TotalCostBasis(ls).InexactFloat64()
	e := Entry{
		UserID:       userID,
		CurrentValue: current,
		CostBasis:    basis,
	}
	e.TotalGain, e.TotalGainPercent = gainOver(current, basis)
	e.DailyGain, e.DailyGainPercent = gainOver(current, dayAgo.TotalValue)
	e.WeeklyGain, e.WeeklyGainPercent = gainOver(current, weekAgo.TotalValue)
	return e, nil
}

func gainOver(current, base float64) (gain, percent float64) {
	gain = current - base
	if base != 0 {
		percent = gain / base * 100
	}
	return gain, percent
}

// currentValue sums the live worth of the holdings, pricing each symbol at
// most once through the price:current read-through.
func (a *Aggregator) currentValue(ctx context.Context, ls []lots.Lot) float64 {
	priced := make(map[string]float64, len(ls))
	total := 0.0
	for _, l := range ls {
		price, ok := priced[l.Symbol]
		if !ok {
			price, ok = a.currentPrice(ctx, l.Symbol)
			if !ok {
				a.recordFallback()
				total += l.Quantity * l.PurchasePrice.InexactFloat64()
				continue
			}
			priced[l.Symbol] = price
		}
		total += l.Quantity * price
	}
	return total
}

func (a *Aggregator) currentPrice(ctx context.Context, sym string) (float64, bool) {
	key := cache.CurrentPriceKey(sym)

	var q market.Quote
	ok, err := cache.GetJSON(ctx, a.cache, key, &q)
	switch {
	case err != nil:
		a.log.Debug().Err(err).Str("symbol", sym).Msg("current price cache read failed")
		a.recordMiss()
	case ok:
		a.recordHit()
		return q.Price, true
	default:
		a.recordMiss()
	}

	q, err = a.source.Current(ctx, sym)
	if err != nil {
		a.log.Warn().Err(err).Str("symbol", sym).Msg("live quote failed, using purchase price")
		return 0, false
	}

	if err := cache.SetJSON(ctx, a.cache, key, q, valuation.TTLCurrentPrice); err != nil {
		a.log.Debug().Err(err).Str("symbol", sym).Msg("current price cache write failed")
	}
	return q.Price, true
}

func (a *Aggregator) recordHit() {
	if a.metrics != nil {
		a.metrics.RecordCacheHit("price_current")
	}
}

func (a *Aggregator) recordMiss() {
	if a.metrics != nil {
		a.metrics.RecordCacheMiss("price_current")
	}
}

func (a *Aggregator) recordFallback() {
	if a.metrics != nil {
		a.metrics.RecordFallback("current_quote")
	}
}
