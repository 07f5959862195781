package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "price:current:AAPL", []byte("171.2"), time.Minute))

	val, ok, err := m.Get(ctx, "price:current:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("171.2"), val)

	_, ok, err = m.Get(ctx, "price:current:MSFT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryExpiryBehavesAsMiss(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 20*time.Millisecond))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must read as a miss")
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Delete(ctx, "k"))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Delete(ctx, "missing"))
}

func TestMemoryDeleteMatching(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	keys := []string{
		"perfseries:u1:30",
		"perfseries:u1:30:generatedAt",
		"perfseries:u1:90",
		"perfseries:u2:30",
		"valuation:2024-02-01:AAPL",
	}
	for _, k := range keys {
		require.NoError(t, m.Set(ctx, k, []byte("x"), time.Minute))
	}

	removed, err := m.DeleteMatching(ctx, "perfseries:u1:*")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, ok, _ := m.Get(ctx, "perfseries:u2:30")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "valuation:2024-02-01:AAPL")
	assert.True(t, ok)
	_, ok, _ = m.Get(ctx, "perfseries:u1:90")
	assert.False(t, ok)
}

func TestMemoryDeleteMatchingBadPattern(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	require.NoError(t, m.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, err := m.DeleteMatching(context.Background(), "[")
	assert.Error(t, err)
}

func TestMemorySetCopiesValue(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, m.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'X'

	val, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("original"), val)
}

func TestMemoryStats(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	m.Get(ctx, "k")
	m.Get(ctx, "k")
	m.Get(ctx, "absent")

	entries, hits, misses := m.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestJSONHelpers(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	type point struct {
		Date  string  `json:"date"`
		Value float64 `json:"value"`
	}

	in := point{Date: "2024-02-01", Value: 1712}
	require.NoError(t, SetJSON(ctx, m, "k", in, time.Minute))

	var out point
	ok, err := GetJSON(ctx, m, "k", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)

	var missing point
	ok, err = GetJSON(ctx, m, "absent", &missing)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "corrupt", []byte("{not json"), time.Minute))
	ok, err = GetJSON(ctx, m, "corrupt", &out)
	assert.False(t, ok)
	assert.Error(t, err)
}
