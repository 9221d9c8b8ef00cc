package feed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/realtime"
	"github.com/wonny/cyclebot/internal/realtime/cache"
	"github.com/wonny/cyclebot/pkg/logger"
)

// RESTPricer fetches a last-trade price over REST
type RESTPricer interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceFeed serves live prices: stream-fed cache first, REST when stale or missing
// ⭐ SSOT: 실시간 가격 조회는 이 매니저에서만
type PriceFeed struct {
	cache  *cache.PriceCache
	stream *StreamClient // nil = REST only
	rest   RESTPricer
	logger *logger.Logger

	cacheHits     atomic.Int64
	restFallbacks atomic.Int64
	restFailures  atomic.Int64
}

// NewPriceFeed creates a price feed. stream may be nil.
func NewPriceFeed(priceCache *cache.PriceCache, stream *StreamClient, rest RESTPricer, log *logger.Logger) *PriceFeed {
	return &PriceFeed{
		cache:  priceCache,
		stream: stream,
		rest:   rest,
		logger: log.WithField("component", "price_feed"),
	}
}

// Start starts the stream. A stream that cannot connect leaves the feed on REST only.
func (m *PriceFeed) Start(ctx context.Context) error {
	if m.stream == nil {
		m.logger.Info("Price stream disabled, using REST prices only")
		return nil
	}

	if err := m.stream.Start(ctx); err != nil {
		m.logger.WithError(err).Warn("Price stream unavailable, falling back to REST")
	}
	return nil
}

// Stop stops the stream
func (m *PriceFeed) Stop() {
	if m.stream != nil {
		m.stream.Stop()
	}
}

// Price returns the freshest known price for symbol
func (m *PriceFeed) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := m.cache.Fresh(symbol); ok {
		m.cacheHits.Add(1)
		return price, nil
	}

	if m.rest == nil {
		return decimal.Zero, fmt.Errorf("no fresh price for %s", symbol)
	}

	m.restFallbacks.Add(1)
	price, err := m.rest.Price(ctx, symbol)
	if err != nil {
		m.restFailures.Add(1)
		return decimal.Zero, fmt.Errorf("rest price %s: %w", symbol, err)
	}

	m.cache.Update(realtime.PriceTick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
		Source:    string(realtime.SourceBinanceREST),
	})

	return price, nil
}

// CleanStale evicts stale cache entries
func (m *PriceFeed) CleanStale() int {
	return m.cache.CleanStale()
}

// Stats returns statistics for the feed
func (m *PriceFeed) Stats() FeedStats {
	cacheStats := m.cache.Stats()

	stats := FeedStats{
		CacheTotal:    cacheStats.TotalCount,
		CacheFresh:    cacheStats.FreshCount,
		CacheStale:    cacheStats.StaleCount,
		CacheHits:     m.cacheHits.Load(),
		RESTFallbacks: m.restFallbacks.Load(),
		RESTFailures:  m.restFailures.Load(),
	}

	if m.stream != nil {
		stats.StreamEnabled = true
		stats.StreamConnected = m.stream.Connected()
		stats.StreamMessages = m.stream.Messages()
		if last := m.stream.LastMessageAt(); !last.IsZero() {
			stats.StreamLastMessage = &last
		}
	}

	return stats
}

// FeedStats represents statistics for the price feed
type FeedStats struct {
	StreamEnabled     bool       `json:"stream_enabled"`
	StreamConnected   bool       `json:"stream_connected"`
	StreamMessages    int64      `json:"stream_messages"`
	StreamLastMessage *time.Time `json:"stream_last_message,omitempty"`
	CacheTotal        int        `json:"cache_total"`
	CacheFresh        int        `json:"cache_fresh"`
	CacheStale        int        `json:"cache_stale"`
	CacheHits         int64      `json:"cache_hits"`
	RESTFallbacks     int64      `json:"rest_fallbacks"`
	RESTFailures      int64      `json:"rest_failures"`
}
