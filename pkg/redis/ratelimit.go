package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Budget is a named request allowance shared by every engine process
type Budget struct {
	Name   string        // "advisory", "binance"
	Limit  int           // requests per window
	Window time.Duration
}

// AdvisoryBudget limits the HTTP advisory sources to perMinute calls
func AdvisoryBudget(perMinute int) Budget {
	return Budget{Name: "advisory", Limit: perMinute, Window: time.Minute}
}

// BinanceWeightBudget: REST weight 여유분 (보수적)
var BinanceWeightBudget = Budget{Name: "binance", Limit: 20, Window: time.Second}

const (
	minRetryDelay = 10 * time.Millisecond
	maxRetryDelay = time.Second
)

// reserveScript takes a slot in a sliding window sorted set.
// Returns {1, 0} when admitted, {0, ms until the oldest entry expires} otherwise.
var reserveScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window_ms)

	if redis.call('ZCARD', key) < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms)
		return {1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {0, tonumber(oldest[2]) + window_ms - now}
`)

// RateLimiter enforces one Budget across processes through redis.
// With redis disabled every request is admitted.
// ⭐ SSOT: 레이트 리밋은 여기서만
type RateLimiter struct {
	client *Client
	key    string
	budget Budget
	now    func() time.Time
}

// NewRateLimiter creates a limiter for budget under prefix
func NewRateLimiter(client *Client, prefix string, budget Budget) *RateLimiter {
	return &RateLimiter{
		client: client,
		key:    fmt.Sprintf("%s:ratelimit:%s", prefix, budget.Name),
		budget: budget,
		now:    time.Now,
	}
}

// Budget returns the allowance this limiter enforces
func (r *RateLimiter) Budget() Budget { return r.budget }

// Reserve tries to take a slot. When refused, retryAfter says when one frees up.
func (r *RateLimiter) Reserve(ctx context.Context) (ok bool, retryAfter time.Duration, err error) {
	if !r.client.Enabled() || r.budget.Limit <= 0 {
		return true, 0, nil
	}

	now := r.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	result, err := reserveScript.Run(ctx, r.client.Redis(), []string{r.key},
		now,
		r.budget.Window.Milliseconds(),
		r.budget.Limit,
		member,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", r.budget.Name, err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected reply %v", r.budget.Name, result)
	}

	if result[0] == 1 {
		return true, 0, nil
	}
	return false, retryDelay(result[1]), nil
}

// Wait blocks until a slot is taken or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, retryAfter, err := r.Reserve(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// retryDelay clamps the script's hint to a sane polling range
func retryDelay(ms int64) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d < minRetryDelay {
		return minRetryDelay
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}
