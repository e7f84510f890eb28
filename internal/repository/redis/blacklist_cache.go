package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/util"
)

const blacklistKey = "blacklist"

// BlacklistCache mirrors the durable blacklist table as a set. The table is
// authoritative; Reload rebuilds the set from it wholesale.
type BlacklistCache struct {
	client *client.RedisClient
}

func NewBlacklistCache(client *client.RedisClient) *BlacklistCache {
	return &BlacklistCache{client: client}
}

func (c *BlacklistCache) IsBlacklisted(ctx context.Context, mobile string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	member, err := c.client.SIsMember(ctx, blacklistKey, mobile)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return member, nil
}

// Reload replaces the set with the given members in one transaction.
func (c *BlacklistCache) Reload(ctx context.Context, mobiles []string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, blacklistKey)
	if len(mobiles) > 0 {
		members := make([]interface{}, len(mobiles))
		for i, m := range mobiles {
			members[i] = m
		}
		pipe.SAdd(ctx, blacklistKey, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to reload blacklist set", zap.Error(err))
		return fmt.Errorf("failed to reload blacklist set: %w", err)
	}

	util.Info("Blacklist set reloaded", zap.Int("mobiles", len(mobiles)))
	return nil
}
