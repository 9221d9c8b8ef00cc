package cache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/internal/realtime"
	"github.com/wonny/cyclebot/pkg/logger"
)

func newTestCache(now time.Time) *PriceCache {
	c := NewPriceCache(time.Minute, logger.NewNop())
	c.now = func() time.Time { return now }
	return c
}

func tick(symbol, price string, at time.Time, src realtime.PriceSource) realtime.PriceTick {
	return realtime.PriceTick{
		Symbol:    symbol,
		Price:     decimal.RequireFromString(price),
		Timestamp: at,
		Source:    string(src),
	}
}

func TestPriceCache_Update(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		first    realtime.PriceTick
		second   realtime.PriceTick
		accepted bool
		want     string
	}{
		{
			name:     "newer tick replaces",
			first:    tick("ABCUSDT", "1.0", now.Add(-10*time.Second), realtime.SourceBinanceStream),
			second:   tick("ABCUSDT", "1.1", now, realtime.SourceBinanceREST),
			accepted: true,
			want:     "1.1",
		},
		{
			name:     "older tick rejected",
			first:    tick("ABCUSDT", "1.0", now, realtime.SourceBinanceREST),
			second:   tick("ABCUSDT", "0.9", now.Add(-time.Second), realtime.SourceBinanceStream),
			accepted: false,
			want:     "1.0",
		},
		{
			name:     "same timestamp from higher priority source",
			first:    tick("ABCUSDT", "1.0", now, realtime.SourceBinanceREST),
			second:   tick("ABCUSDT", "1.2", now, realtime.SourceBinanceStream),
			accepted: true,
			want:     "1.2",
		},
		{
			name:     "same timestamp from lower priority source",
			first:    tick("ABCUSDT", "1.0", now, realtime.SourceBinanceStream),
			second:   tick("ABCUSDT", "1.2", now, realtime.SourceBinanceREST),
			accepted: false,
			want:     "1.0",
		},
		{
			name:     "non-positive price rejected",
			first:    tick("ABCUSDT", "1.0", now.Add(-time.Second), realtime.SourceBinanceStream),
			second:   tick("ABCUSDT", "0", now, realtime.SourceBinanceStream),
			accepted: false,
			want:     "1.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(now)
			require.True(t, c.Update(tt.first))
			assert.Equal(t, tt.accepted, c.Update(tt.second))

			got, ok := c.Get("ABCUSDT")
			require.True(t, ok)
			assert.True(t, got.Price.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got.Price, tt.want)
		})
	}
}

func TestPriceCache_FreshAndStale(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCache(now)

	c.Update(tick("NEWUSDT", "2.5", now.Add(-30*time.Second), realtime.SourceBinanceStream))
	c.Update(tick("OLDUSDT", "0.5", now.Add(-5*time.Minute), realtime.SourceBinanceREST))

	price, ok := c.Fresh("NEWUSDT")
	require.True(t, ok)
	assert.Equal(t, "2.5", price.String())

	_, ok = c.Fresh("OLDUSDT")
	assert.False(t, ok)

	old, ok := c.Get("OLDUSDT")
	require.True(t, ok)
	assert.True(t, old.IsStale)

	_, ok = c.Fresh("MISSINGUSDT")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, CacheStats{TotalCount: 2, FreshCount: 1, StaleCount: 1, StreamCount: 1, RESTCount: 1}, stats)

	assert.Equal(t, 1, c.CleanStale())
	assert.Equal(t, 1, c.Len())

	many := c.GetMany([]string{"NEWUSDT", "OLDUSDT"})
	assert.Len(t, many, 1)
	assert.Contains(t, many, "NEWUSDT")
}

func TestPriceCache_UpdateBatchAndDelete(t *testing.T) {
	now := time.Now()
	c := newTestCache(now)

	accepted := c.UpdateBatch([]realtime.PriceTick{
		tick("AAAUSDT", "1", now, realtime.SourceBinanceStream),
		tick("BBBUSDT", "2", now, realtime.SourceBinanceStream),
		tick("", "3", now, realtime.SourceBinanceStream),
	})
	assert.Equal(t, 2, accepted)

	c.Delete("AAAUSDT")
	_, ok := c.Get("AAAUSDT")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}
