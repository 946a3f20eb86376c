package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paydesk/internal/config"
)

const keyCheckoutUser = "checkout:user:%s"

// CheckoutLimiter throttles checkout session creation per user.
type CheckoutLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewCheckoutLimiter returns nil when rate limiting is disabled.
func NewCheckoutLimiter(cfg config.Config, client *redis.Client) (*CheckoutLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.CheckoutRatePerMinute <= 0 || limitCfg.CheckoutBurst <= 0 {
		return nil, errors.New("checkout rate limit must be positive")
	}
	return &CheckoutLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.CheckoutRatePerMinute / 60,
		burst:  limitCfg.CheckoutBurst,
	}, nil
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CheckoutLimiter) Allow(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCheckoutUser, strings.TrimSpace(userID)), l.rate, l.burst)
}
