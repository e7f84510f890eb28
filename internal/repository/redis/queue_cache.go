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
	syncQueueKey   = "sync_queue"
	retryQueueKey  = "retry_queue"
	auditBufferKey = "audit_buffer"
)

// QueueCache provides the hot-path sync queue, its retry companion, and the
// cold-path audit buffer. All three are Redis lists: LPUSH head, RPOP tail.
type QueueCache struct {
	client *client.RedisClient
}

func NewQueueCache(client *client.RedisClient) *QueueCache {
	return &QueueCache{client: client}
}

func (c *QueueCache) PushSync(ctx context.Context, item *model.SyncItem) error {
	return c.pushItem(ctx, syncQueueKey, item)
}

func (c *QueueCache) PushRetry(ctx context.Context, item *model.SyncItem) error {
	return c.pushItem(ctx, retryQueueKey, item)
}

func (c *QueueCache) pushItem(ctx context.Context, key string, item *model.SyncItem) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode sync item: %w", err)
	}
	if err := c.client.LPush(ctx, key, data); err != nil {
		util.Error("Failed to push sync item",
			zap.String("queue", key),
			zap.Error(err))
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

func (c *QueueCache) PopSync(ctx context.Context) (*model.SyncItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := c.client.RPop(ctx, syncQueueKey)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, model.ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to pop sync queue: %w", err)
	}

	var item model.SyncItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, fmt.Errorf("failed to decode sync item: %w", err)
	}
	return &item, nil
}

// DrainPending empties both the sync queue and the retry queue, oldest
// first. Used by the administrative recovery trigger.
func (c *QueueCache) DrainPending(ctx context.Context) ([]*model.SyncItem, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var items []*model.SyncItem
	for _, key := range []string{retryQueueKey, syncQueueKey} {
		for {
			data, err := c.client.RPop(ctx, key)
			if err != nil {
				if errors.Is(err, client.ErrKeyNotFound) {
					break
				}
				return items, fmt.Errorf("failed to drain %s: %w", key, err)
			}
			var item model.SyncItem
			if err := json.Unmarshal([]byte(data), &item); err != nil {
				util.Warn("Dropping undecodable sync item",
					zap.String("queue", key),
					zap.Error(err))
				continue
			}
			items = append(items, &item)
		}
	}
	return items, nil
}

// Requeue pushes items back onto the sync queue preserving their order.
func (c *QueueCache) Requeue(ctx context.Context, items []*model.SyncItem) error {
	for i := len(items) - 1; i >= 0; i-- {
		if err := c.PushSync(ctx, items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *QueueCache) PushAudit(ctx context.Context, event *model.AuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	if err := c.client.LPush(ctx, auditBufferKey, data); err != nil {
		return fmt.Errorf("failed to push audit event: %w", err)
	}
	return nil
}

// FlushAudit atomically removes and returns up to max of the oldest buffered
// events, in chronological order.
func (c *QueueCache) FlushAudit(ctx context.Context, max int) ([]*model.AuditEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, auditBufferKey, int64(-max), -1)
	pipe.LTrim(ctx, auditBufferKey, 0, int64(-(max + 1)))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush audit buffer: %w", err)
	}

	raw := rangeCmd.Val()
	events := make([]*model.AuditEvent, 0, len(raw))
	// LRANGE returns newest-first within the tail slice; reverse to
	// chronological order.
	for i := len(raw) - 1; i >= 0; i-- {
		var event model.AuditEvent
		if err := json.Unmarshal([]byte(raw[i]), &event); err != nil {
			util.Warn("Dropping undecodable audit event", zap.Error(err))
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// RequeueAudit returns unflushed events to the tail of the buffer so the
// next tick picks them up first.
func (c *QueueCache) RequeueAudit(ctx context.Context, events []*model.AuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	// Oldest must end up at the tail; RPUSH newest first so the last push,
	// the oldest event, lands tailmost.
	for i := len(events) - 1; i >= 0; i-- {
		data, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
		pipe.RPush(ctx, auditBufferKey, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to requeue audit events: %w", err)
	}
	return nil
}
