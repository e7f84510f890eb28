package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/util"
)

const ratePrefix = "rate:"

// RateLimitCache counts SMS attempts per mobile within a rolling window. The
// counter only ever increases inside a window; it resets through key expiry.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

func (c *RateLimitCache) IncrementCounter(ctx context.Context, mobile string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := ratePrefix + mobile
	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment rate counter",
			zap.String("mobile", util.MaskMobile(mobile)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	util.Debug("Rate counter incremented",
		zap.String("mobile", util.MaskMobile(mobile)),
		zap.Int64("count", count))
	return int(count), nil
}

func (c *RateLimitCache) GetCounter(ctx context.Context, mobile string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	countStr, err := c.client.Get(ctx, ratePrefix+mobile)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get rate counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid rate counter format: %w", err)
	}
	return count, nil
}
