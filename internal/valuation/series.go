package valuation

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
)

// Build modes, exposed as the metrics label and in debug logs.
const (
	modeForcedFull     = "forced_full"
	modeStaleRebuild   = "stale_rebuild"
	modePartialRefresh = "partial_refresh"
	modeCacheHit       = "cache_hit"
	modeEmpty          = "empty"
)

// SeriesBuilder assembles performance series, reusing cached series when
// they are fresh and the caller did not force a rebuild.
type SeriesBuilder struct {
	cache cache.Store
	calc  *Calculator
	log   zerolog.Logger
	now   func() time.Time
}

// NewSeriesBuilder wires the builder around a calculator.
func NewSeriesBuilder(store cache.Store, calc *Calculator) *SeriesBuilder {
	return &SeriesBuilder{
		cache: store,
		calc:  calc,
		log:   log.With().Str("component", "perfseries").Logger(),
		now:   time.Now,
	}
}

// Build returns the user's performance series over the lookback window.
//
// forceRefresh rebuilds every point and bypasses the cached series;
// refreshToday reuses a fresh cached series but recomputes today's point.
// Without either flag a fresh cached series is returned as-is, and a stale
// or missing one is rebuilt.
func (b *SeriesBuilder) Build(ctx context.Context, userID uuid.UUID, ls []lots.Lot, lookbackDays int, forceRefresh, refreshToday bool) (PerformanceSeries, error) {
	if lookbackDays <= 0 {
		return PerformanceSeries{}, fmt.Errorf("lookback days must be positive, got %d", lookbackDays)
	}

	today := dates.At(b.now())
	seriesKey := cache.SeriesKey(userID, lookbackDays)
	genKey := cache.SeriesGeneratedAtKey(userID, lookbackDays)

	if len(ls) == 0 {
		return b.emptySeries(ctx, userID, lookbackDays, forceRefresh, seriesKey, genKey)
	}

	if forceRefresh {
		return b.rebuild(ctx, userID, ls, lookbackDays, today, true, seriesKey, genKey)
	}

	cached, generatedAt, ok := b.readCached(ctx, seriesKey, genKey)
	if !ok || b.stale(generatedAt) || !endsAt(cached, today) {
		return b.rebuild(ctx, userID, ls, lookbackDays, today, false, seriesKey, genKey)
	}

	if refreshToday {
		return b.partialRefresh(ctx, cached, ls, today, seriesKey, genKey)
	}

	b.record(modeCacheHit)
	return cached, nil
}

func (b *SeriesBuilder) emptySeries(ctx context.Context, userID uuid.UUID, lookbackDays int, forceRefresh bool, seriesKey, genKey string) (PerformanceSeries, error) {
	if !forceRefresh {
		if cached, _, ok := b.readCached(ctx, seriesKey, genKey); ok && len(cached.Points) == 0 {
			b.record(modeCacheHit)
			return cached, nil
		}
	}

	s := PerformanceSeries{
		UserID:       userID,
		LookbackDays: lookbackDays,
		Points:       []ValuationResult{},
		GeneratedAt:  b.now().UTC(),
	}
	b.writeCached(ctx, s, TTLEmptySeries, seriesKey, genKey)
	b.record(modeEmpty)
	return s, nil
}

func (b *SeriesBuilder) rebuild(ctx context.Context, userID uuid.UUID, ls []lots.Lot, lookbackDays int, today dates.Date, forced bool, seriesKey, genKey string) (PerformanceSeries, error) {
	days := seriesDates(today, lookbackDays)
	points := make([]ValuationResult, 0, len(days))
	for _, day := range days {
		res, err := b.calc.PortfolioValue(ctx, ls, day, forced && day.Equal(today))
		if err != nil {
			return PerformanceSeries{}, fmt.Errorf("value portfolio at %s: %w", day, err)
		}
		points = append(points, res)
	}

	s := PerformanceSeries{
		UserID:       userID,
		LookbackDays: lookbackDays,
		Points:       points,
		GeneratedAt:  b.now().UTC(),
	}

	ttl := TTLSeries
	mode := modeStaleRebuild
	if forced {
		ttl = TTLSeriesForced
		mode = modeForcedFull
	}
	b.writeCached(ctx, s, ttl, seriesKey, genKey)
	b.record(mode)
	b.log.Debug().
		Str("user", userID.String()).
		Int("lookback_days", lookbackDays).
		Int("points", len(points)).
		Str("mode", mode).
		Msg("series rebuilt")
	return s, nil
}

// partialRefresh recomputes today's point against live prices and splices
// it into the cached series, leaving history untouched.
func (b *SeriesBuilder) partialRefresh(ctx context.Context, cached PerformanceSeries, ls []lots.Lot, today dates.Date, seriesKey, genKey string) (PerformanceSeries, error) {
	res, err := b.calc.PortfolioValue(ctx, ls, today, true)
	if err != nil {
		return PerformanceSeries{}, fmt.Errorf("refresh today's point: %w", err)
	}

	s := cached
	s.Points = append([]ValuationResult(nil), cached.Points...)
	s.Points[len(s.Points)-1] = res
	s.GeneratedAt = b.now().UTC()

	b.writeCached(ctx, s, TTLSeries, seriesKey, genKey)
	b.record(modePartialRefresh)
	return s, nil
}

func (b *SeriesBuilder) readCached(ctx context.Context, seriesKey, genKey string) (PerformanceSeries, time.Time, bool) {
	var s PerformanceSeries
	ok, err := cache.GetJSON(ctx, b.cache, seriesKey, &s)
	if err != nil {
		b.log.Warn().Err(err).Str("key", seriesKey).Msg("series cache read failed, rebuilding")
		return PerformanceSeries{}, time.Time{}, false
	}
	if !ok {
		return PerformanceSeries{}, time.Time{}, false
	}

	var generatedAt time.Time
	ok, err = cache.GetJSON(ctx, b.cache, genKey, &generatedAt)
	if err != nil || !ok {
		// Without the marker the age is unknowable; rebuild.
		return PerformanceSeries{}, time.Time{}, false
	}
	return s, generatedAt, true
}

func (b *SeriesBuilder) writeCached(ctx context.Context, s PerformanceSeries, ttl time.Duration, seriesKey, genKey string) {
	if err := cache.SetJSON(ctx, b.cache, seriesKey, s, ttl); err != nil {
		b.log.Warn().Err(err).Str("key", seriesKey).Msg("series cache write failed")
		return
	}
	if err := cache.SetJSON(ctx, b.cache, genKey, s.GeneratedAt, ttl); err != nil {
		b.log.Warn().Err(err).Str("key", genKey).Msg("series marker write failed")
	}
}

func (b *SeriesBuilder) stale(generatedAt time.Time) bool {
	return b.now().Sub(generatedAt) > SeriesStaleAfter
}

// endsAt reports whether the cached series still terminates at today. A
// series built before midnight fails this after the rollover and must be
// rebuilt so the newest point is always today's.
func endsAt(s PerformanceSeries, today dates.Date) bool {
	if len(s.Points) == 0 {
		return false
	}
	return s.Points[len(s.Points)-1].Date.Equal(today)
}

// seriesDates walks back from today in seven-day steps across the lookback
// window. Steps landing on weekends shift to the preceding Friday; today is
// kept as-is. Ascending, deduplicated.
func seriesDates(today dates.Date, lookbackDays int) []dates.Date {
	out := []dates.Date{today}
	for offset := seriesStepDays; offset <= lookbackDays; offset += seriesStepDays {
		out = append(out, today.Add(-offset).PrecedingBusinessDay())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	dedup := out[:1]
	for _, d := range out[1:] {
		if !d.Equal(dedup[len(dedup)-1]) {
			dedup = append(dedup, d)
		}
	}
	return dedup
}

func (b *SeriesBuilder) record(mode string) {
	if b.calc.metrics != nil {
		b.calc.metrics.RecordSeriesBuild(mode)
	}
}
