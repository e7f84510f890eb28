package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/config"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// AuditWorker flushes the cold-path buffer in batches: credentials collected
// on the hot path become durable backup rows, everything is archived in the
// audit store, and each batch is mirrored to Kafka best-effort.
type AuditWorker struct {
	queues    model.QueueCache
	auditLog  model.AuditLogStore
	backups   model.BackupCredentialStore
	hasher    *hashing.Hasher
	producer  *client.KafkaProducer
	interval  time.Duration
	batchSize int
}

func NewAuditWorker(cfg *config.Config, queues model.QueueCache,
	auditLog model.AuditLogStore, backups model.BackupCredentialStore,
	hasher *hashing.Hasher, producer *client.KafkaProducer) *AuditWorker {

	return &AuditWorker{
		queues:    queues,
		auditLog:  auditLog,
		backups:   backups,
		hasher:    hasher,
		producer:  producer,
		interval:  cfg.Workers.AuditInterval,
		batchSize: cfg.Workers.AuditBatchSize,
	}
}

func (w *AuditWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	util.Info("Audit worker started",
		zap.Duration("interval", w.interval),
		zap.Int("batch_size", w.batchSize))
	for {
		select {
		case <-ctx.Done():
			util.Info("Audit worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush drains one batch from the buffer. Credential events whose durable
// backup fails go back on the buffer untouched; on archive failure the rest
// of the batch follows. Delivery is at-least-once and the durable writes are
// idempotent upserts.
func (w *AuditWorker) Flush(ctx context.Context) {
	events, err := w.queues.FlushAudit(ctx, w.batchSize)
	if err != nil {
		util.Error("Failed to flush audit buffer", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	archive := make([]*model.AuditEvent, 0, len(events))
	var deferred []*model.AuditEvent
	for _, event := range events {
		if event.Event == model.EventPINCollected {
			if err := w.backupCredential(ctx, event); err != nil {
				util.Error("Failed to store backup credential; requeueing event",
					zap.Error(err))
				deferred = append(deferred, event)
				continue
			}
		}
		archive = append(archive, event)
	}
	if len(deferred) > 0 {
		if err := w.queues.RequeueAudit(ctx, deferred); err != nil {
			util.Error("Credential events lost after requeue failure",
				zap.Int("events", len(deferred)),
				zap.Error(err))
		}
	}
	if len(archive) == 0 {
		return
	}

	if w.auditLog != nil {
		if err := w.auditLog.InsertBatch(ctx, archive); err != nil {
			util.Error("Failed to archive audit batch; requeueing",
				zap.Int("events", len(archive)),
				zap.Error(err))
			if requeueErr := w.queues.RequeueAudit(ctx, archive); requeueErr != nil {
				util.Error("Audit batch lost after requeue failure",
					zap.Int("events", len(archive)),
					zap.Error(requeueErr))
			}
			return
		}
	}

	w.mirrorToKafka(ctx, archive)
	util.Debug("Audit batch processed", zap.Int("events", len(archive)))
}

// backupCredential hashes the collected PIN and upserts the durable backup
// row, then strips the plaintext from the event before it is archived. On
// failure the event is left intact so the next tick can retry the upsert.
func (w *AuditWorker) backupCredential(ctx context.Context, event *model.AuditEvent) error {
	mobile, _ := event.Details["mobile"].(string)
	token, _ := event.Details["token"].(string)
	pin, _ := event.Details["pin"].(string)

	if mobile == "" || pin == "" {
		// Nothing to back up and a retry will not help; archive masked.
		util.Warn("Credential event missing fields; skipping backup")
		scrubCredential(event, mobile, token)
		return nil
	}

	pinHash, err := w.hasher.HashPIN(pin)
	if err != nil {
		return err
	}

	if err := w.backups.Upsert(ctx, &model.BackupCredential{
		Mobile:  mobile,
		PINHash: pinHash,
		Token:   token,
	}); err != nil {
		return err
	}

	scrubCredential(event, mobile, token)
	return nil
}

func scrubCredential(event *model.AuditEvent, mobile, token string) {
	delete(event.Details, "pin")
	event.Details["mobile"] = util.MaskMobile(mobile)
	event.Details["token"] = util.MaskToken(token)
}

func (w *AuditWorker) mirrorToKafka(ctx context.Context, events []*model.AuditEvent) {
	if w.producer == nil {
		return
	}
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := w.producer.ProduceMessage(ctx, []byte(event.Event), value); err != nil {
			util.Warn("Failed to mirror audit event to Kafka",
				zap.String("event", event.Event),
				zap.Error(err))
			return
		}
	}
}
