package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/realtime"
	"github.com/wonny/cyclebot/internal/realtime/cache"
	"github.com/wonny/cyclebot/pkg/logger"
)

const (
	// Reconnect settings
	reconnectDelay    = 5 * time.Second
	maxReconnectDelay = 5 * time.Minute

	// Ping/Pong settings
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// StreamClient consumes the Binance all-market miniTicker stream into the price cache
// ⭐ SSOT: Binance WebSocket 연결은 이 클라이언트에서만
type StreamClient struct {
	url        string
	quoteAsset string
	logger     *logger.Logger
	cache      *cache.PriceCache
	dialer     *websocket.Dialer

	conn   *websocket.Conn
	connMu sync.RWMutex

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	reconnecting bool
	reconnectMu  sync.Mutex
	baseDelay    time.Duration
	maxDelay     time.Duration

	messages    atomic.Int64
	lastMessage atomic.Int64 // unix millis
}

// NewStreamClient creates a stream client. quoteAsset filters symbols ("" keeps all).
func NewStreamClient(url, quoteAsset string, priceCache *cache.PriceCache, log *logger.Logger) *StreamClient {
	return &StreamClient{
		url:        url,
		quoteAsset: strings.ToUpper(quoteAsset),
		logger:     log.WithField("component", "price_stream"),
		cache:      priceCache,
		dialer:     websocket.DefaultDialer,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseDelay:  reconnectDelay,
		maxDelay:   maxReconnectDelay,
	}
}

// Start dials the stream and starts the read and ping loops
func (c *StreamClient) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("price stream already started")
	}

	c.logger.WithField("url", c.url).Info("Starting price stream")

	if err := c.connect(ctx); err != nil {
		c.started.Store(false)
		return fmt.Errorf("initial connection failed: %w", err)
	}

	go c.readLoop(ctx)
	go c.pingLoop(ctx)

	return nil
}

// Stop closes the connection and waits for the read loop. Safe to call more than once.
func (c *StreamClient) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping price stream")
		close(c.stopCh)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()

		if c.started.Load() {
			<-c.doneCh
		}
	})
}

// Connected reports whether a live connection is held
func (c *StreamClient) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Messages returns the number of stream frames processed
func (c *StreamClient) Messages() int64 {
	return c.messages.Load()
}

// LastMessageAt returns when the last frame arrived (zero if none)
func (c *StreamClient) LastMessageAt() time.Time {
	ms := c.lastMessage.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (c *StreamClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.conn = conn
	c.logger.Info("Connected to price stream")
	return nil
}

func (c *StreamClient) readLoop(ctx context.Context) {
	defer close(c.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			c.handleDisconnect(ctx)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.stopping() {
				return
			}
			c.logger.WithError(err).Warn("Failed to read message")
			c.dropConn(conn)
			c.handleDisconnect(ctx)
			continue
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.handleMessage(message); err != nil {
			c.logger.WithError(err).Debug("Failed to handle message")
		}
	}
}

func (c *StreamClient) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *StreamClient) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// handleMessage accepts either the array stream or a single miniTicker frame
func (c *StreamClient) handleMessage(message []byte) error {
	var batch []miniTicker
	if err := json.Unmarshal(message, &batch); err != nil {
		var single miniTicker
		if err2 := json.Unmarshal(message, &single); err2 != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		batch = []miniTicker{single}
	}

	c.messages.Add(1)
	c.lastMessage.Store(time.Now().UnixMilli())

	ticks := make([]realtime.PriceTick, 0, len(batch))
	for i := range batch {
		tick, ok := c.convertToPriceTick(&batch[i])
		if !ok {
			continue
		}
		ticks = append(ticks, tick)
	}

	accepted := c.cache.UpdateBatch(ticks)
	c.logger.WithFields(map[string]interface{}{
		"received": len(batch),
		"accepted": accepted,
	}).Debug("Updated prices from stream")

	return nil
}

func (c *StreamClient) handleDisconnect(ctx context.Context) {
	c.reconnectMu.Lock()
	if c.reconnecting {
		c.reconnectMu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMu.Unlock()

	defer func() {
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
	}()

	c.logger.Warn("Price stream disconnected, attempting to reconnect")

	delay := c.baseDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}

		if err := c.connect(ctx); err != nil {
			c.logger.WithError(err).WithField("delay", delay).Error("Reconnect failed, retrying")

			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			continue
		}

		c.logger.Info("Reconnected to price stream")
		return
	}
}

func (c *StreamClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				c.logger.WithError(err).Warn("Failed to send ping")
			}
		}
	}
}

func (c *StreamClient) convertToPriceTick(msg *miniTicker) (realtime.PriceTick, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(msg.Symbol))
	if symbol == "" {
		return realtime.PriceTick{}, false
	}
	if c.quoteAsset != "" && !strings.HasSuffix(symbol, c.quoteAsset) {
		return realtime.PriceTick{}, false
	}

	price, err := decimal.NewFromString(msg.Close)
	if err != nil || !price.IsPositive() {
		return realtime.PriceTick{}, false
	}

	tick := realtime.PriceTick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
		Source:    string(realtime.SourceBinanceStream),
	}
	if msg.EventTime > 0 {
		tick.Timestamp = time.UnixMilli(msg.EventTime)
	}

	if open, err := decimal.NewFromString(msg.Open); err == nil && open.IsPositive() {
		tick.Open = open
		tick.ChangePct, _ = price.Sub(open).Div(open).Mul(decimal.NewFromInt(100)).Float64()
	}
	if qv, err := strconv.ParseFloat(msg.QuoteVolume, 64); err == nil {
		tick.QuoteVolume = qv
	}

	return tick, true
}

// miniTicker is one entry of the !miniTicker@arr stream
type miniTicker struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	BaseVolume  string `json:"v"`
	QuoteVolume string `json:"q"`
}
