package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerfolio/valuation/internal/cache"
	"github.com/peerfolio/valuation/internal/lots"
)

func newTestBuilder(store cache.Store, src *stubSource, today string) (*SeriesBuilder, *Calculator) {
	calc := NewCalculator(store, src, nil)
	calc.now = clockAt(today)
	b := NewSeriesBuilder(store, calc)
	b.now = clockAt(today)
	return b, calc
}

// scriptCloses registers a close for AAPL on every series day.
func scriptCloses(src *stubSource, today string, lookbackDays int, price float64) {
	for _, d := range seriesDates(day(today), lookbackDays) {
		src.setClose("AAPL", d, price)
	}
}

func TestSeriesDatesWeekdayToday(t *testing.T) {
	// 2024-02-07 is a Wednesday; every 7-day step lands on a Wednesday.
	got := seriesDates(day("2024-02-07"), 30)
	want := []string{"2024-01-10", "2024-01-17", "2024-01-24", "2024-01-31", "2024-02-07"}
	require.Len(t, got, len(want))
	for i, d := range got {
		assert.Equal(t, want[i], d.String())
	}
}

func TestSeriesDatesWeekendStepsShift(t *testing.T) {
	// 2024-02-03 is a Saturday: steps land on Saturdays and shift to the
	// preceding Friday, while today itself stays.
	got := seriesDates(day("2024-02-03"), 14)
	want := []string{"2024-01-19", "2024-01-26", "2024-02-03"}
	require.Len(t, got, len(want))
	for i, d := range got {
		assert.Equal(t, want[i], d.String())
	}
	assert.False(t, got[0].IsWeekend())
	assert.False(t, got[1].IsWeekend())
}

func TestSeriesDatesOrderedNoDuplicates(t *testing.T) {
	for _, today := range []string{"2024-02-03", "2024-02-04", "2024-02-05", "2024-02-07"} {
		for _, lookback := range []int{7, 14, 30, 90, 365} {
			got := seriesDates(day(today), lookback)
			require.NotEmpty(t, got)
			assert.Equal(t, today, got[len(got)-1].String(), "newest point must be today")
			for i := 1; i < len(got); i++ {
				assert.True(t, got[i-1].Before(got[i]),
					"series for %s/%d must ascend without duplicates", today, lookback)
			}
		}
	}
}

func TestSeriesShortLookback(t *testing.T) {
	got := seriesDates(day("2024-02-07"), 6)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-02-07", got[0].String())
}

func TestBuildCachesAndHits(t *testing.T) {
	mem := memStore(t)
	src := newStubSource()
	scriptCloses(src, testToday, 30, 171.2)
	b, _ := newTestBuilder(mem, src, testToday)
	uid := uuid.New()
	ls := []lots.Lot{aaplLot(10, "150", "2023-12-01")}
	ctx := context.Background()

	first, err := b.Build(ctx, uid, ls, 30, false, false)
	require.NoError(t, err)
	require.Len(t, first.Points, 5)
	callsAfterBuild := src.histCallCount()
	require.Positive(t, callsAfterBuild)

	second, err := b.Build(ctx, uid, ls, 30, false, false)
	require.NoError(t, err)
	assert.Equal(t, callsAfterBuild, src.histCallCount(), "fresh cached series must be served as-is")
	assert.Equal(t, first.GeneratedAt.Unix(), second.GeneratedAt.Unix())
	assert.Equal(t, first.Points, second.Points)
}

func TestBuildSeriesTTLByMode(t *testing.T) {
	inner := memStore(t)
	rec := newRecordingStore(inner)
	src := newStubSource()
	scriptCloses(src, testToday, 14, 171.2)
	b, _ := newTestBuilder(rec, src, testToday)
	uid := uuid.New()
	ls := []lots.Lot{aaplLot(1, "150", "2023-12-01")}
	ctx := context.Background()

	_, err := b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)
	ttl, ok := rec.ttlOf(cache.SeriesKey(uid, 14))
	require.True(t, ok)
	assert.Equal(t, TTLSeries, ttl)

	_, err = b.Build(ctx, uid, ls, 14, true, false)
	require.NoError(t, err)
	ttl, _ = rec.ttlOf(cache.SeriesKey(uid, 14))
	assert.Equal(t, TTLSeriesForced, ttl, "forced series live only an hour")
}

func TestForcedFullRecomputes(t *testing.T) {
	mem := memStore(t)
	src := newStubSource()
	scriptCloses(src, testToday, 14, 171.2)
	b, _ := newTestBuilder(mem, src, testToday)
	uid := uuid.New()
	ls := []lots.Lot{aaplLot(1, "150", "2023-12-01")}
	ctx := context.Background()

	_, err := b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)
	before := src.histCallCount()

	_, err = b.Build(ctx, uid, ls, 14, true, false)
	require.NoError(t, err)
	assert.Greater(t, src.histCallCount(), before, "forced build must recompute despite the cached series")
}

func TestStaleSeriesRebuilds(t *testing.T) {
	mem := memStore(t)
	src := newStubSource()
	scriptCloses(src, testToday, 14, 171.2)
	b, _ := newTestBuilder(mem, src, testToday)
	uid := uuid.New()
	ls := []lots.Lot{aaplLot(1, "150", "2023-12-01")}
	ctx := context.Background()

	first, err := b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)

	// Age the marker past the staleness horizon.
	agedOut := first.GeneratedAt.Add(-SeriesStaleAfter - time.Hour)
	require.NoError(t, cache.SetJSON(ctx, mem, cache.SeriesGeneratedAtKey(uid, 14), agedOut, TTLSeries))

	second, err := b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)
	assert.True(t, second.GeneratedAt.After(agedOut), "stale series must be rebuilt")

	var cached PerformanceSeries
	ok, err := cache.GetJSON(ctx, mem, cache.SeriesKey(uid, 14), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.GeneratedAt.Unix(), cached.GeneratedAt.Unix())
}

func TestMissingMarkerRebuilds(t *testing.T) {
	inner := memStore(t)
	rec := newRecordingStore(inner)
	src := newStubSource()
	scriptCloses(src, testToday, 14, 171.2)
	b, _ := newTestBuilder(rec, src, testToday)
	uid := uuid.New()
	ls := []lots.Lot{aaplLot(1, "150", "2023-12-01")}
	ctx := context.Background()

	_, err := b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)
	require.Equal(t, 1, rec.setCount(cache.SeriesKey(uid, 14)))
	require.NoError(t, rec.Delete(ctx, cache.SeriesGeneratedAtKey(uid, 14)))

	_, err = b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.setCount(cache.SeriesKey(uid, 14)), "unknown age must trigger a rebuild")
}

func TestPartialRefreshReplacesOnlyToday(t *testing.T) {
	mem := memStore(t)
	src := newStubSource()
	scriptCloses(src, testToday, 14, 100.0)
	b, _ := newTestBuilder(mem, src, testToday)
	uid := uuid.New()
	ls := []lots.Lot{aaplLot(1, "150", "2023-12-01")}
	ctx := context.Background()

	first, err := b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)
	require.Len(t, first.Points, 3)

	// The market moved since the series was built.
	src.setClose("AAPL", day(testToday), 120.0)
	before := src.histCallCount()

	refreshed, err := b.Build(ctx, uid, ls, 14, false, true)
	require.NoError(t, err)
	assert.Equal(t, before+1, src.histCallCount(), "partial refresh refetches today only")

	require.Len(t, refreshed.Points, 3)
	assert.Equal(t, first.Points[0], refreshed.Points[0])
	assert.Equal(t, first.Points[1], refreshed.Points[1])
	assert.InDelta(t, 120.0, refreshed.Points[2].TotalValue, 1e-9)
	assert.True(t, refreshed.GeneratedAt.After(first.GeneratedAt) || refreshed.GeneratedAt.Equal(first.GeneratedAt))
}

func TestMidnightRolloverRebuilds(t *testing.T) {
	mem := memStore(t)
	src := newStubSource()
	scriptCloses(src, testToday, 14, 171.2)
	b, _ := newTestBuilder(mem, src, testToday)
	uid := uuid.New()
	ls := []lots.Lot{aaplLot(1, "150", "2023-12-01")}
	ctx := context.Background()

	_, err := b.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)

	// Same cache entries, next calendar day, still within the staleness
	// horizon because the marker is recent.
	nextDay := day(testToday).Add(1).String()
	require.NoError(t, cache.SetJSON(ctx, mem, cache.SeriesGeneratedAtKey(uid, 14),
		clockAt(nextDay)().Add(-time.Hour), TTLSeries))
	scriptCloses(src, nextDay, 14, 171.2)
	b2, _ := newTestBuilder(mem, src, nextDay)

	rolled, err := b2.Build(ctx, uid, ls, 14, false, false)
	require.NoError(t, err)
	assert.Equal(t, nextDay, rolled.Points[len(rolled.Points)-1].Date.String(),
		"the newest point must follow the calendar")
}

func TestEmptyLotsShortCircuit(t *testing.T) {
	inner := memStore(t)
	rec := newRecordingStore(inner)
	src := newStubSource()
	b, _ := newTestBuilder(rec, src, testToday)
	uid := uuid.New()
	ctx := context.Background()

	s, err := b.Build(ctx, uid, nil, 30, false, false)
	require.NoError(t, err)
	assert.NotNil(t, s.Points)
	assert.Empty(t, s.Points)
	assert.Zero(t, src.histCallCount())

	ttl, ok := rec.ttlOf(cache.SeriesKey(uid, 30))
	require.True(t, ok)
	assert.Equal(t, TTLEmptySeries, ttl)

	again, err := b.Build(ctx, uid, nil, 30, false, false)
	require.NoError(t, err)
	assert.Equal(t, s.GeneratedAt.Unix(), again.GeneratedAt.Unix(), "empty series is served from cache")
}

func TestInvalidLookback(t *testing.T) {
	mem := memStore(t)
	b, _ := newTestBuilder(mem, newStubSource(), testToday)

	_, err := b.Build(context.Background(), uuid.New(), nil, 0, false, false)
	require.Error(t, err)
	_, err = b.Build(context.Background(), uuid.New(), nil, -7, false, false)
	require.Error(t, err)
}
