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

const (
	challengePrefix       = "challenge:"
	challengeMobilePrefix = "challenge_mobile:"
	verifiedPrefix        = "verified:"
)

// putChallengeScript atomically replaces any live challenge for the mobile
// and installs the new one under both keys. Returns 1 when an old challenge
// was evicted.
const putChallengeScript = `
local old = redis.call('GET', KEYS[2])
if old then
  redis.call('DEL', 'challenge:' .. old)
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'EX', ARGV[2])
if old then return 1 else return 0 end
`

// consumeChallengeScript deletes the challenge pair and creates the
// verification flag in one indivisible step. A crash can never leave the
// number half verified or the token replayable.
const consumeChallengeScript = `
local data = redis.call('GET', KEYS[1])
if not data then return 0 end
redis.call('DEL', KEYS[1])
redis.call('DEL', KEYS[2])
redis.call('SET', KEYS[3], ARGV[1], 'EX', ARGV[2])
return 1
`

// ChallengeCache stores outstanding challenges in the fast store.
type ChallengeCache struct {
	client *client.RedisClient
}

func NewChallengeCache(client *client.RedisClient) *ChallengeCache {
	return &ChallengeCache{client: client}
}

func (c *ChallengeCache) PutChallenge(ctx context.Context, ch *model.Challenge, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(ch)
	if err != nil {
		return false, fmt.Errorf("failed to encode challenge: %w", err)
	}

	keys := []string{challengePrefix + ch.Token, challengeMobilePrefix + ch.Mobile}
	res, err := c.client.Eval(ctx, putChallengeScript, keys,
		string(data), int(ttl.Seconds()), ch.Token)
	if err != nil {
		util.Error("Failed to store challenge",
			zap.String("mobile", util.MaskMobile(ch.Mobile)),
			zap.Error(err))
		return false, fmt.Errorf("failed to store challenge: %w", err)
	}

	replaced := res.(int64) == 1
	util.Debug("Challenge stored",
		zap.String("mobile", util.MaskMobile(ch.Mobile)),
		zap.String("token", util.MaskToken(ch.Token)),
		zap.Bool("replaced", replaced),
		zap.Duration("ttl", ttl))
	return replaced, nil
}

func (c *ChallengeCache) GetChallenge(ctx context.Context, token string) (*model.Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, challengePrefix+token)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, model.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	var ch model.Challenge
	if err := json.Unmarshal([]byte(data), &ch); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &ch, nil
}

func (c *ChallengeCache) ConsumeChallenge(ctx context.Context, token, mobile string, verifiedTTL time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	flag := model.VerificationFlag{
		Mobile:     mobile,
		Token:      token,
		VerifiedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(&flag)
	if err != nil {
		return fmt.Errorf("failed to encode verification flag: %w", err)
	}

	keys := []string{
		challengePrefix + token,
		challengeMobilePrefix + mobile,
		verifiedPrefix + mobile,
	}
	res, err := c.client.Eval(ctx, consumeChallengeScript, keys,
		string(data), int(verifiedTTL.Seconds()))
	if err != nil {
		util.Error("Failed to consume challenge",
			zap.String("token", util.MaskToken(token)),
			zap.Error(err))
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	if res.(int64) != 1 {
		return model.ErrChallengeNotFound
	}

	util.Debug("Challenge consumed",
		zap.String("mobile", util.MaskMobile(mobile)),
		zap.String("token", util.MaskToken(token)))
	return nil
}
