package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/logger"
	"github.com/wonny/cyclebot/pkg/redis"
)

func newTestClient() *Client {
	return New(&config.Config{Env: "development"}, logger.NewNop())
}

func TestNew(t *testing.T) {
	client := newTestClient()
	require.NotNil(t, client)
	assert.Equal(t, 3, client.retryConfig.MaxRetries)
	assert.True(t, client.retryConfig.Enabled)
	assert.Equal(t, 30*time.Second, client.Timeout())
}

func TestNewWithTimeout(t *testing.T) {
	client := NewWithTimeout(&config.Config{}, logger.NewNop(), 5*time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout())
}

func TestWithRetryAndDisable(t *testing.T) {
	client := newTestClient().WithRetry(5, 2*time.Second)
	assert.Equal(t, 5, client.retryConfig.MaxRetries)
	assert.Equal(t, 2*time.Second, client.retryConfig.InitialDelay)

	client.DisableRetry()
	assert.False(t, client.retryConfig.Enabled)
}

func TestPostJSON_DecodesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ABCUSDT", body["symbol"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"recommended":true,"rationale":"ok"}`))
	}))
	defer server.Close()

	var out struct {
		Recommended bool   `json:"recommended"`
		Rationale   string `json:"rationale"`
	}
	err := newTestClient().DisableRetry().PostJSON(context.Background(), server.URL, map[string]string{"symbol": "ABCUSDT"}, &out)
	require.NoError(t, err)
	assert.True(t, out.Recommended)
	assert.Equal(t, "ok", out.Rationale)
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	var out map[string]bool
	err := newTestClient().WithRetry(2, 10*time.Millisecond).GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)
	assert.True(t, out["ok"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad symbol`))
	}))
	defer server.Close()

	var out map[string]interface{}
	err := newTestClient().DisableRetry().GetJSON(context.Background(), server.URL, &out)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "bad symbol")
}

func TestRateLimiterDisabledRedisAllows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	rc, err := redis.New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)

	client := newTestClient().DisableRetry().WithRateLimiter(redis.NewRateLimiter(rc, "test", redis.AdvisoryBudget(1)))
	var out map[string]interface{}
	require.NoError(t, client.GetJSON(context.Background(), server.URL, &out))
	require.NoError(t, client.GetJSON(context.Background(), server.URL, &out))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.code), "status %d", tt.code)
	}
}
