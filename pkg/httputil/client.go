package httputil

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/logger"
	"github.com/wonny/cyclebot/pkg/redis"
)

// Client is an HTTP client wrapper with retry logic and logging
// ⭐ SSOT: 모든 HTTP 요청은 이 클라이언트를 통해서만 수행
type Client struct {
	rc          *resty.Client
	logger      *logger.Logger
	retryConfig RetryConfig
	rateLimiter *redis.RateLimiter
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Enabled      bool
}

// StatusError is returned when the server answers with a non-2xx status
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// New creates a new HTTP client from config
// ⭐ SSOT: resty 인스턴스는 여기서만 생성
func New(cfg *config.Config, log *logger.Logger) *Client {
	c := &Client{
		rc:     resty.New().SetTimeout(30 * time.Second),
		logger: log,
	}
	c.rc.SetHeader("User-Agent", "cyclebot/1.0")
	c.rc.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil || r == nil {
			return true
		}
		return IsRetryableError(r.StatusCode())
	})
	c.rc.OnBeforeRequest(c.beforeRequest)
	c.rc.OnAfterResponse(c.afterResponse)
	c.rc.OnError(func(req *resty.Request, err error) {
		c.logger.WithFields(map[string]interface{}{
			"method": req.Method,
			"url":    req.URL,
			"error":  err.Error(),
		}).Error("HTTP request failed")
	})

	return c.applyRetry(RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Enabled:      true,
	})
}

// NewWithTimeout creates a client with custom timeout
func NewWithTimeout(cfg *config.Config, log *logger.Logger, timeout time.Duration) *Client {
	client := New(cfg, log)
	client.rc.SetTimeout(timeout)
	return client
}

// WithRetry configures retry behavior
func (c *Client) WithRetry(maxRetries int, initialDelay time.Duration) *Client {
	rc := c.retryConfig
	rc.MaxRetries = maxRetries
	rc.InitialDelay = initialDelay
	rc.Enabled = true
	return c.applyRetry(rc)
}

// DisableRetry disables automatic retry
func (c *Client) DisableRetry() *Client {
	rc := c.retryConfig
	rc.Enabled = false
	return c.applyRetry(rc)
}

// WithRateLimiter makes every request wait for a slot in the limiter's budget
func (c *Client) WithRateLimiter(limiter *redis.RateLimiter) *Client {
	c.rateLimiter = limiter
	return c
}

// WithHeader sets a header sent on every request
func (c *Client) WithHeader(key, value string) *Client {
	c.rc.SetHeader(key, value)
	return c
}

// Timeout returns the per-request timeout
func (c *Client) Timeout() time.Duration {
	return c.rc.GetClient().Timeout
}

// GetJSON performs a GET request and decodes a JSON body into out
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(out).
		Get(url)
	return checkResponse(http.MethodGet, url, resp, err)
}

// PostJSON performs a POST request with a JSON body and decodes the JSON answer into out
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}, out interface{}) error {
	req := c.rc.R().
		SetContext(ctx).
		SetBody(body)
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Post(url)
	return checkResponse(http.MethodPost, url, resp, err)
}

func (c *Client) applyRetry(rc RetryConfig) *Client {
	c.retryConfig = rc
	if !rc.Enabled {
		c.rc.SetRetryCount(0)
		return c
	}
	c.rc.
		SetRetryCount(rc.MaxRetries).
		SetRetryWaitTime(rc.InitialDelay).
		SetRetryMaxWaitTime(rc.MaxDelay)
	return c
}

func (c *Client) beforeRequest(_ *resty.Client, req *resty.Request) error {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": req.Method,
		"url":    req.URL,
	}).Debug("HTTP request started")
	return nil
}

func (c *Client) afterResponse(_ *resty.Client, resp *resty.Response) error {
	c.logger.WithFields(map[string]interface{}{
		"method":      resp.Request.Method,
		"url":         resp.Request.URL,
		"status_code": resp.StatusCode(),
		"duration":    resp.Time(),
		"attempt":     resp.Request.Attempt,
	}).Debug("HTTP request completed")
	return nil
}

func checkResponse(method, url string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 256 {
			body = body[:256]
		}
		return &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode(), Body: body}
	}
	return nil
}

// IsRetryableError checks if a status code should be retried
func IsRetryableError(statusCode int) bool {
	// Retry on 5xx server errors and 429 Too Many Requests
	return statusCode >= 500 || statusCode == 429
}
