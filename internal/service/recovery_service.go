package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
)

// RecoveryService flushes every pending sync item to the external backend as
// one signed batch. Used by operators when the steady drip of the sync worker
// is not enough, typically after a backend outage.
type RecoveryService struct {
	hasher   *hashing.Hasher
	settings *settings.Store
	queues   model.QueueCache
	auditor  *Auditor
	client   *http.Client
}

func NewRecoveryService(hasher *hashing.Hasher, store *settings.Store,
	queues model.QueueCache, auditor *Auditor) *RecoveryService {

	return &RecoveryService{
		hasher:   hasher,
		settings: store,
		queues:   queues,
		auditor:  auditor,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type recoveryBatch struct {
	Items  []*model.SyncItem `json:"items"`
	Count  int               `json:"count"`
	SentAt time.Time         `json:"sent_at"`
}

// TriggerRecovery drains the retry and sync queues and posts the batch to
// the recovery URL with an HMAC signature header. On any failure every item
// goes back on the sync queue and ErrSyncBackendUnavailable is returned.
func (s *RecoveryService) TriggerRecovery(ctx context.Context) (int, error) {
	items, err := s.queues.DrainPending(ctx)
	if err != nil {
		// Partial drains are requeued before reporting the fault.
		if len(items) > 0 {
			if requeueErr := s.queues.Requeue(ctx, items); requeueErr != nil {
				util.Error("Failed to requeue after partial drain",
					zap.Int("items", len(items)),
					zap.Error(requeueErr))
			}
		}
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	if err := s.postBatch(ctx, items); err != nil {
		if requeueErr := s.queues.Requeue(ctx, items); requeueErr != nil {
			util.Error("Failed to requeue recovery batch",
				zap.Int("items", len(items)),
				zap.Error(requeueErr))
		}
		s.auditor.Emit(ctx, model.EventSyncFailed, map[string]interface{}{
			"mode":  "recovery",
			"items": len(items),
			"error": err.Error(),
		})
		return 0, fmt.Errorf("%w: %v", ErrSyncBackendUnavailable, err)
	}

	s.auditor.Emit(ctx, model.EventRecoveryTriggered, map[string]interface{}{
		"items": len(items),
	})
	util.Info("Recovery batch delivered", zap.Int("items", len(items)))
	return len(items), nil
}

func (s *RecoveryService) postBatch(ctx context.Context, items []*model.SyncItem) error {
	snap := s.settings.Current()

	payload, err := json.Marshal(&recoveryBatch{
		Items:  items,
		Count:  len(items),
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode recovery batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, snap.RecoveryURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build recovery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", s.hasher.Sign(payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("recovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("recovery endpoint returned %d", resp.StatusCode)
	}
	return nil
}
