package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/config"
	"sms-bridge/internal/model"
	"sms-bridge/internal/service"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
)

// SyncWorker drips collected credentials from the sync queue to the external
// backend, one item per request. A failed delivery goes to the retry queue;
// nothing is dropped and nothing is retried inline.
type SyncWorker struct {
	queues   model.QueueCache
	settings *settings.Store
	auditor  *service.Auditor
	client   *http.Client
	interval time.Duration
}

func NewSyncWorker(cfg *config.Config, queues model.QueueCache,
	store *settings.Store, auditor *service.Auditor) *SyncWorker {

	return &SyncWorker{
		queues:   queues,
		settings: store,
		auditor:  auditor,
		client:   &http.Client{Timeout: cfg.Workers.SyncTimeout},
		interval: cfg.Workers.SyncInterval,
	}
}

// Run drains the queue on every tick until the context is canceled.
func (w *SyncWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	util.Info("Sync worker started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			util.Info("Sync worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain pops and delivers items until the queue is empty or an
// infrastructure error stops the loop. Also called once during shutdown.
func (w *SyncWorker) Drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		item, err := w.queues.PopSync(ctx)
		if err != nil {
			if !errors.Is(err, model.ErrQueueEmpty) {
				util.Error("Failed to pop sync queue", zap.Error(err))
			}
			return
		}

		if err := w.deliver(ctx, item); err != nil {
			util.Warn("Sync delivery failed; item queued for retry",
				zap.String("mobile", util.MaskMobile(item.Mobile)),
				zap.Error(err))
			if pushErr := w.queues.PushRetry(ctx, item); pushErr != nil {
				util.Error("Failed to push retry item; putting it back on the sync queue",
					zap.String("mobile", util.MaskMobile(item.Mobile)),
					zap.Error(pushErr))
				if backErr := w.queues.PushSync(ctx, item); backErr != nil {
					util.Error("Sync item lost after double queue failure",
						zap.String("mobile", util.MaskMobile(item.Mobile)),
						zap.Error(backErr))
				}
			}
			w.auditor.Emit(ctx, model.EventSyncFailed, map[string]interface{}{
				"mobile": util.MaskMobile(item.Mobile),
				"error":  err.Error(),
			})
			return
		}

		w.auditor.Emit(ctx, model.EventSyncOK, map[string]interface{}{
			"mobile": util.MaskMobile(item.Mobile),
		})
	}
}

func (w *SyncWorker) deliver(ctx context.Context, item *model.SyncItem) error {
	snap := w.settings.Current()
	if snap.SyncURL == "" {
		return fmt.Errorf("sync URL not configured")
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode sync item: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, snap.SyncURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sync endpoint returned %d", resp.StatusCode)
	}
	return nil
}
