package cache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/realtime"
	"github.com/wonny/cyclebot/pkg/logger"
)

// PriceCache is an in-memory cache for real-time prices
// ⭐ SSOT: 실시간 가격 캐싱은 이 구조체에서만
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]realtime.PriceTick
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger
}

// NewPriceCache creates a new price cache
func NewPriceCache(ttl time.Duration, log *logger.Logger) *PriceCache {
	return &PriceCache{
		prices: make(map[string]realtime.PriceTick),
		ttl:    ttl,
		now:    time.Now,
		logger: log,
	}
}

// TTL returns the freshness window
func (c *PriceCache) TTL() time.Duration {
	return c.ttl
}

// Update stores a tick.
// Only accepts newer data, or same-timestamp data from a higher priority source.
func (c *PriceCache) Update(tick realtime.PriceTick) bool {
	if tick.Symbol == "" || !tick.Price.IsPositive() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.prices[tick.Symbol]; exists {
		if tick.Timestamp.Before(existing.Timestamp) {
			return false
		}
		if tick.Timestamp.Equal(existing.Timestamp) {
			newSource := realtime.PriceSource(tick.Source)
			oldSource := realtime.PriceSource(existing.Source)
			if newSource.Priority() <= oldSource.Priority() {
				return false
			}
		}
	}

	tick.IsStale = c.now().Sub(tick.Timestamp) > c.ttl
	c.prices[tick.Symbol] = tick
	return true
}

// UpdateBatch stores a batch of ticks and returns how many were accepted
func (c *PriceCache) UpdateBatch(ticks []realtime.PriceTick) int {
	accepted := 0
	for _, tick := range ticks {
		if c.Update(tick) {
			accepted++
		}
	}
	return accepted
}

// Get retrieves a copy of the cached tick, with IsStale evaluated now
func (c *PriceCache) Get(symbol string) (realtime.PriceTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tick, exists := c.prices[symbol]
	if !exists {
		return realtime.PriceTick{}, false
	}
	tick.IsStale = c.now().Sub(tick.Timestamp) > c.ttl
	return tick, true
}

// Fresh returns the cached price only when it is within the TTL
func (c *PriceCache) Fresh(symbol string) (decimal.Decimal, bool) {
	tick, ok := c.Get(symbol)
	if !ok || tick.IsStale {
		return decimal.Zero, false
	}
	return tick.Price, true
}

// GetMany retrieves multiple prices from cache
func (c *PriceCache) GetMany(symbols []string) map[string]realtime.PriceTick {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := make(map[string]realtime.PriceTick, len(symbols))
	for _, symbol := range symbols {
		if tick, exists := c.prices[symbol]; exists {
			tick.IsStale = now.Sub(tick.Timestamp) > c.ttl
			result[symbol] = tick
		}
	}
	return result
}

// Delete removes price from cache
func (c *PriceCache) Delete(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.prices, symbol)
}

// Len returns the number of prices in cache
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.prices)
}

// CleanStale removes stale prices from cache
func (c *PriceCache) CleanStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for symbol, tick := range c.prices {
		if now.Sub(tick.Timestamp) > c.ttl {
			delete(c.prices, symbol)
			count++
		}
	}

	if count > 0 {
		c.logger.WithField("count", count).Info("Cleaned stale prices from cache")
	}
	return count
}

// Stats returns cache statistics
func (c *PriceCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{TotalCount: len(c.prices)}

	now := c.now()
	for _, tick := range c.prices {
		if now.Sub(tick.Timestamp) > c.ttl {
			stats.StaleCount++
		}

		switch realtime.PriceSource(tick.Source) {
		case realtime.SourceBinanceStream:
			stats.StreamCount++
		case realtime.SourceBinanceREST:
			stats.RESTCount++
		}
	}
	stats.FreshCount = stats.TotalCount - stats.StaleCount

	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	TotalCount  int `json:"total_count"`
	FreshCount  int `json:"fresh_count"`
	StaleCount  int `json:"stale_count"`
	StreamCount int `json:"stream_count"`
	RESTCount   int `json:"rest_count"`
}
