package cache

import (
	"path"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerfolio/valuation/internal/dates"
)

func TestKeyLayout(t *testing.T) {
	day := dates.New(2024, time.February, 1)
	uid := uuid.MustParse("3f1c8a52-1fd3-4e6e-9d70-6f9f6f3f0a11")

	assert.Equal(t, "price:current:AAPL", CurrentPriceKey("AAPL"))
	assert.Equal(t, "price:hist:CRYPTO:BTC:2024-02-01", HistoricalPriceKey("CRYPTO:BTC", day))
	assert.Equal(t, "valuation:2024-02-01:AAPL,MSFT", ValuationKey(day, "AAPL,MSFT"))
	assert.Equal(t, "perfseries:3f1c8a52-1fd3-4e6e-9d70-6f9f6f3f0a11:30", SeriesKey(uid, 30))
	assert.Equal(t, "perfseries:3f1c8a52-1fd3-4e6e-9d70-6f9f6f3f0a11:30:generatedAt", SeriesGeneratedAtKey(uid, 30))
}

func TestPatternsMatchTheirKeys(t *testing.T) {
	day := dates.New(2024, time.February, 1)
	uid := uuid.New()

	seriesPattern := UserSeriesPattern(uid)
	for _, key := range []string{
		SeriesKey(uid, 30),
		SeriesKey(uid, 90),
		SeriesGeneratedAtKey(uid, 30),
	} {
		ok, err := path.Match(seriesPattern, key)
		require.NoError(t, err)
		assert.True(t, ok, "pattern %s must match %s", seriesPattern, key)
	}

	ok, err := path.Match(seriesPattern, SeriesKey(uuid.New(), 30))
	require.NoError(t, err)
	assert.False(t, ok, "pattern must not match another user's series")

	setPattern := ValuationSetPattern("AAPL,MSFT")
	ok, err = path.Match(setPattern, ValuationKey(day, "AAPL,MSFT"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = path.Match(setPattern, ValuationKey(day, "AAPL"))
	require.NoError(t, err)
	assert.False(t, ok)
}
