package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/logger"
	"github.com/wonny/cyclebot/pkg/redis"
)

// Client wraps the Binance spot REST API
// ⭐ SSOT: Binance API 호출은 이 클라이언트에서만
type Client struct {
	api          *gobinance.Client
	limiter      *redis.RateLimiter // nil = no shared limit
	logger       *logger.Logger
	quoteAsset   string
	feedTimeout  time.Duration
	orderTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another REST host (tests, mirrors)
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.api.BaseURL = strings.TrimRight(url, "/")
	}
}

// WithRateLimiter shares the REST weight budget through redis
func WithRateLimiter(limiter *redis.RateLimiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// NewClient creates a new Binance client
func NewClient(cfg config.BinanceConfig, log *logger.Logger, opts ...Option) *Client {
	if cfg.Testnet {
		gobinance.UseTestnet = true
	}

	c := &Client{
		api:          gobinance.NewClient(cfg.APIKey, cfg.SecretKey),
		logger:       log.WithField("component", "binance"),
		quoteAsset:   strings.ToUpper(cfg.QuoteAsset),
		feedTimeout:  cfg.FeedTimeout,
		orderTimeout: cfg.OrderTimeout,
	}
	if c.quoteAsset == "" {
		c.quoteAsset = "USDT"
	}
	if c.feedTimeout <= 0 {
		c.feedTimeout = 15 * time.Second
	}
	if c.orderTimeout <= 0 {
		c.orderTimeout = 10 * time.Second
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuoteAsset returns the quote currency symbols are priced in
func (c *Client) QuoteAsset() string {
	return c.quoteAsset
}

// wait blocks on the shared rate limit when one is configured
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// baseAsset strips the quote asset from a symbol (ABCUSDT -> ABC)
func (c *Client) baseAsset(symbol string) (string, error) {
	symbol = strings.ToUpper(symbol)
	if !strings.HasSuffix(symbol, c.quoteAsset) || len(symbol) == len(c.quoteAsset) {
		return "", fmt.Errorf("symbol %s is not quoted in %s", symbol, c.quoteAsset)
	}
	return strings.TrimSuffix(symbol, c.quoteAsset), nil
}
