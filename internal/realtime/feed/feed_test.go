package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/internal/realtime"
	"github.com/wonny/cyclebot/internal/realtime/cache"
	"github.com/wonny/cyclebot/pkg/logger"
)

func miniTickerFrame(symbol, close, open string) string {
	return fmt.Sprintf(`{"e":"24hrMiniTicker","E":%d,"s":"%s","c":"%s","o":"%s","h":"0","l":"0","v":"100","q":"2500000"}`,
		time.Now().UnixMilli(), symbol, close, open)
}

// streamServer sends one frame per connection, then closes when closeAfter is set
func streamServer(t *testing.T, frames []string, closeAfter bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := int(conns.Add(1)) - 1
		if n < len(frames) {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frames[n]))
		}
		if closeAfter {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamClient_UpdatesCache(t *testing.T) {
	frame := "[" + miniTickerFrame("ABCUSDT", "0.55", "0.50") + "," +
		miniTickerFrame("ABCBTC", "0.00001", "0.00001") + "," +
		miniTickerFrame("BADUSDT", "oops", "1") + "]"
	srv, _ := streamServer(t, []string{frame}, false)

	priceCache := cache.NewPriceCache(time.Minute, logger.NewNop())
	client := NewStreamClient(wsURL(srv), "USDT", priceCache, logger.NewNop())
	require.NoError(t, client.Start(context.Background()))
	defer client.Stop()

	require.Eventually(t, func() bool { return priceCache.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	tick, ok := priceCache.Get("ABCUSDT")
	require.True(t, ok)
	assert.Equal(t, "0.55", tick.Price.String())
	assert.InDelta(t, 10.0, tick.ChangePct, 1e-9)
	assert.InDelta(t, 2_500_000.0, tick.QuoteVolume, 1e-9)
	assert.Equal(t, string(realtime.SourceBinanceStream), tick.Source)
	assert.True(t, client.Connected())
	assert.Equal(t, int64(1), client.Messages())
	assert.False(t, client.LastMessageAt().IsZero())
}

func TestStreamClient_Reconnects(t *testing.T) {
	srv, conns := streamServer(t, []string{
		"[" + miniTickerFrame("ABCUSDT", "1.00", "1.00") + "]",
		miniTickerFrame("XYZUSDT", "2.00", "1.00"),
	}, true)

	priceCache := cache.NewPriceCache(time.Minute, logger.NewNop())
	client := NewStreamClient(wsURL(srv), "USDT", priceCache, logger.NewNop())
	client.baseDelay = 10 * time.Millisecond
	client.maxDelay = 20 * time.Millisecond
	require.NoError(t, client.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, ok := priceCache.Get("XYZUSDT")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))

	client.Stop()
	client.Stop()
}

func TestStreamClient_StartFails(t *testing.T) {
	priceCache := cache.NewPriceCache(time.Minute, logger.NewNop())
	client := NewStreamClient("ws://127.0.0.1:1/ws", "USDT", priceCache, logger.NewNop())

	err := client.Start(context.Background())
	require.Error(t, err)
	client.Stop()
}

func TestStreamClient_HandleMessage(t *testing.T) {
	priceCache := cache.NewPriceCache(time.Minute, logger.NewNop())
	client := NewStreamClient("ws://unused", "", priceCache, logger.NewNop())

	require.NoError(t, client.handleMessage([]byte(miniTickerFrame("abcbtc", "0.1", "0"))))
	tick, ok := priceCache.Get("ABCBTC")
	require.True(t, ok)
	assert.Zero(t, tick.ChangePct)

	assert.Error(t, client.handleMessage([]byte(`not json`)))
}

type stubREST struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  int
}

func (s *stubREST) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	p, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol")
	}
	return p, nil
}

func TestPriceFeed_CacheThenREST(t *testing.T) {
	priceCache := cache.NewPriceCache(time.Minute, logger.NewNop())
	rest := &stubREST{prices: map[string]decimal.Decimal{"RESTUSDT": decimal.RequireFromString("3.5")}}
	pf := NewPriceFeed(priceCache, nil, rest, logger.NewNop())
	require.NoError(t, pf.Start(context.Background()))
	defer pf.Stop()

	priceCache.Update(realtime.PriceTick{
		Symbol:    "LIVEUSDT",
		Price:     decimal.RequireFromString("1.25"),
		Timestamp: time.Now(),
		Source:    string(realtime.SourceBinanceStream),
	})

	price, err := pf.Price(context.Background(), "LIVEUSDT")
	require.NoError(t, err)
	assert.Equal(t, "1.25", price.String())
	assert.Equal(t, 0, rest.calls)

	price, err = pf.Price(context.Background(), "RESTUSDT")
	require.NoError(t, err)
	assert.Equal(t, "3.5", price.String())

	// REST result is cached for the next lookup
	_, err = pf.Price(context.Background(), "RESTUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, rest.calls)

	_, err = pf.Price(context.Background(), "NONEUSDT")
	assert.Error(t, err)

	stats := pf.Stats()
	assert.False(t, stats.StreamEnabled)
	assert.Equal(t, int64(2), stats.CacheHits)
	assert.Equal(t, int64(2), stats.RESTFallbacks)
	assert.Equal(t, int64(1), stats.RESTFailures)
	assert.Equal(t, 2, stats.CacheTotal)
}

func TestPriceFeed_StaleCacheUsesREST(t *testing.T) {
	priceCache := cache.NewPriceCache(time.Minute, logger.NewNop())
	rest := &stubREST{prices: map[string]decimal.Decimal{"ABCUSDT": decimal.RequireFromString("2")}}
	pf := NewPriceFeed(priceCache, nil, rest, logger.NewNop())

	priceCache.Update(realtime.PriceTick{
		Symbol:    "ABCUSDT",
		Price:     decimal.RequireFromString("1"),
		Timestamp: time.Now().Add(-10 * time.Minute),
		Source:    string(realtime.SourceBinanceStream),
	})

	price, err := pf.Price(context.Background(), "ABCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "2", price.String())
	assert.Equal(t, 1, rest.calls)
}

func TestPriceFeed_NoRESTNoCache(t *testing.T) {
	pf := NewPriceFeed(cache.NewPriceCache(time.Minute, logger.NewNop()), nil, nil, logger.NewNop())
	_, err := pf.Price(context.Background(), "ABCUSDT")
	assert.Error(t, err)
}

func TestPriceFeed_StreamDownFallsBack(t *testing.T) {
	priceCache := cache.NewPriceCache(time.Minute, logger.NewNop())
	stream := NewStreamClient("ws://127.0.0.1:1/ws", "USDT", priceCache, logger.NewNop())
	pf := NewPriceFeed(priceCache, stream, &stubREST{prices: map[string]decimal.Decimal{}}, logger.NewNop())

	assert.NoError(t, pf.Start(context.Background()))
	stats := pf.Stats()
	assert.True(t, stats.StreamEnabled)
	assert.False(t, stats.StreamConnected)
	pf.Stop()
}
