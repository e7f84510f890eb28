package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// consumeVerificationScript checks the stored token, deletes the flag, and
// enqueues the sync item as one step. Returns 0 when the flag is missing,
// -1 on token mismatch, 1 on success. Either all effects apply or none do,
// which is what makes the flag one-time use.
const consumeVerificationScript = `
local data = redis.call('GET', KEYS[1])
if not data then return 0 end
local flag = cjson.decode(data)
if flag['token'] ~= ARGV[1] then return -1 end
redis.call('DEL', KEYS[1])
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`

// VerificationCache stores verified:{mobile} flags in the fast store.
type VerificationCache struct {
	client *client.RedisClient
}

func NewVerificationCache(client *client.RedisClient) *VerificationCache {
	return &VerificationCache{client: client}
}

func (c *VerificationCache) GetVerification(ctx context.Context, mobile string) (*model.VerificationFlag, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, verifiedPrefix+mobile)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, model.ErrVerificationNotFound
		}
		return nil, fmt.Errorf("failed to get verification flag: %w", err)
	}

	var flag model.VerificationFlag
	if err := json.Unmarshal([]byte(data), &flag); err != nil {
		return nil, fmt.Errorf("failed to decode verification flag: %w", err)
	}
	return &flag, nil
}

func (c *VerificationCache) ConsumeVerification(ctx context.Context, mobile, token string, item *model.SyncItem) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode sync item: %w", err)
	}

	keys := []string{verifiedPrefix + mobile, syncQueueKey}
	res, err := c.client.Eval(ctx, consumeVerificationScript, keys, token, string(payload))
	if err != nil {
		util.Error("Failed to consume verification flag",
			zap.String("mobile", util.MaskMobile(mobile)),
			zap.Error(err))
		return fmt.Errorf("failed to consume verification flag: %w", err)
	}

	switch res.(int64) {
	case 1:
		util.Debug("Verification flag consumed",
			zap.String("mobile", util.MaskMobile(mobile)))
		return nil
	case -1:
		return model.ErrTokenMismatch
	default:
		return model.ErrVerificationNotFound
	}
}
