package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// statePatterns are the key families that carry live verification state. The
// queues are not dumped: they survive in Redis or are re-fed by the durable
// pending rows on recovery.
var statePatterns = []string{
	challengePrefix + "*",
	challengeMobilePrefix + "*",
	verifiedPrefix + "*",
}

// StateDump snapshots and restores verification state around a fast-store
// outage.
type StateDump struct {
	client *client.RedisClient
}

func NewStateDump(client *client.RedisClient) *StateDump {
	return &StateDump{client: client}
}

// DumpState reads every live challenge and verification key. The store may
// already be failing, so each key is dumped independently: one bad key adds
// an error to the result, it never aborts the scan.
func (s *StateDump) DumpState(ctx context.Context) ([]*model.PowerDownRecord, []error) {
	var records []*model.PowerDownRecord
	var failures []error

	for _, pattern := range statePatterns {
		scanCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		keys, err := s.client.ScanAll(scanCtx, pattern, 500)
		cancel()
		if err != nil {
			failures = append(failures, fmt.Errorf("scan %s: %w", pattern, err))
			continue
		}

		for _, key := range keys {
			record, err := s.dumpKey(ctx, key)
			if err != nil {
				failures = append(failures, fmt.Errorf("dump %s: %w", key, err))
				continue
			}
			if record != nil {
				records = append(records, record)
			}
		}
	}

	util.Info("Fast-store state dumped",
		zap.Int("records", len(records)),
		zap.Int("failures", len(failures)))
	return records, failures
}

func (s *StateDump) dumpKey(ctx context.Context, key string) (*model.PowerDownRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	value, err := s.client.Get(ctx, key)
	if err != nil {
		// Expired between scan and read; nothing to preserve.
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	ttl, err := s.client.TTL(ctx, key)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, nil
	}

	return &model.PowerDownRecord{
		KeyName:     key,
		KeyType:     "string",
		Value:       value,
		OriginalTTL: int64(ttl.Seconds()),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// RestoreState writes records back with their remaining TTLs. Entries whose
// TTL ran out during the outage are skipped.
func (s *StateDump) RestoreState(ctx context.Context, records []*model.PowerDownRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pipe := s.client.Pipeline()
	restored := 0
	for _, record := range records {
		if record.OriginalTTL <= 0 {
			continue
		}
		pipe.Set(ctx, record.KeyName, record.Value, time.Duration(record.OriginalTTL)*time.Second)
		restored++
	}
	if restored == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to restore fast-store state: %w", err)
	}

	util.Info("Fast-store state restored", zap.Int("keys", restored))
	return nil
}
