package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/config"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
)

type fakeAuditLog struct {
	batches [][]*model.AuditEvent
	err     error
}

func (f *fakeAuditLog) InsertBatch(_ context.Context, events []*model.AuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

type fakeBackups struct {
	rows []*model.BackupCredential
	err  error
}

func (f *fakeBackups) Upsert(_ context.Context, cred *model.BackupCredential) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, cred)
	return nil
}

func newAuditFixture(auditLog *fakeAuditLog) (*AuditWorker, *fakeQueues, *fakeBackups) {
	cfg := &config.Config{
		Bridge: config.BridgeConfig{HMACSecret: "test-secret"},
		Workers: config.WorkersConfig{
			AuditInterval:  time.Minute,
			AuditBatchSize: 100,
		},
	}
	queues := &fakeQueues{}
	backups := &fakeBackups{}
	worker := NewAuditWorker(cfg, queues, auditLog, backups, hashing.NewHasher(cfg), nil)
	return worker, queues, backups
}

func TestAuditWorkerArchivesBatch(t *testing.T) {
	auditLog := &fakeAuditLog{}
	worker, queues, _ := newAuditFixture(auditLog)

	queues.PushAudit(context.Background(), &model.AuditEvent{Event: model.EventHashGen, Details: map[string]interface{}{}})
	queues.PushAudit(context.Background(), &model.AuditEvent{Event: model.EventSMSVerified, Details: map[string]interface{}{}})

	worker.Flush(context.Background())

	require.Len(t, auditLog.batches, 1)
	assert.Len(t, auditLog.batches[0], 2)
	assert.Empty(t, queues.audit)
}

func TestAuditWorkerBacksUpCredentials(t *testing.T) {
	auditLog := &fakeAuditLog{}
	worker, queues, backups := newAuditFixture(auditLog)

	queues.PushAudit(context.Background(), &model.AuditEvent{
		Event: model.EventPINCollected,
		Details: map[string]interface{}{
			"mobile": "+919876543210",
			"token":  "ABCD2345",
			"pin":    "482910",
		},
	})

	worker.Flush(context.Background())

	// Durable backup row with the PIN hashed, never plaintext.
	require.Len(t, backups.rows, 1)
	assert.Equal(t, "+919876543210", backups.rows[0].Mobile)
	assert.Equal(t, "ABCD2345", backups.rows[0].Token)
	assert.Contains(t, backups.rows[0].PINHash, "$argon2id$")
	assert.NotContains(t, backups.rows[0].PINHash, "482910")

	// The archived event no longer carries the PIN, and identifiers are
	// masked.
	require.Len(t, auditLog.batches, 1)
	archived := auditLog.batches[0][0]
	assert.NotContains(t, archived.Details, "pin")
	assert.Equal(t, "...3210", archived.Details["mobile"])
	assert.Equal(t, "ABCD...", archived.Details["token"])
}

func TestAuditWorkerRetriesFailedCredentialBackup(t *testing.T) {
	auditLog := &fakeAuditLog{}
	worker, queues, backups := newAuditFixture(auditLog)
	backups.err = errors.New("postgres unavailable")

	queues.PushAudit(context.Background(), &model.AuditEvent{
		Event: model.EventPINCollected,
		Details: map[string]interface{}{
			"mobile": "+919876543210",
			"token":  "ABCD2345",
			"pin":    "482910",
		},
	})
	queues.PushAudit(context.Background(), &model.AuditEvent{Event: model.EventHashGen, Details: map[string]interface{}{}})

	worker.Flush(context.Background())

	// The credential event goes back on the buffer intact so the upsert can
	// be retried; it is not archived without a durable backup row.
	require.Len(t, queues.audit, 1)
	assert.Equal(t, model.EventPINCollected, queues.audit[0].Event)
	assert.Equal(t, "482910", queues.audit[0].Details["pin"])
	assert.Equal(t, "+919876543210", queues.audit[0].Details["mobile"])
	assert.Empty(t, backups.rows)

	// The rest of the batch is still archived.
	require.Len(t, auditLog.batches, 1)
	require.Len(t, auditLog.batches[0], 1)
	assert.Equal(t, model.EventHashGen, auditLog.batches[0][0].Event)

	// Once the store recovers, the retried flush backs up and archives it.
	backups.err = nil
	worker.Flush(context.Background())
	require.Len(t, backups.rows, 1)
	assert.Empty(t, queues.audit)
}

func TestAuditWorkerRequeuesOnArchiveFailure(t *testing.T) {
	auditLog := &fakeAuditLog{err: errors.New("clickhouse unavailable")}
	worker, queues, _ := newAuditFixture(auditLog)

	queues.PushAudit(context.Background(), &model.AuditEvent{Event: model.EventHashGen, Details: map[string]interface{}{}})

	worker.Flush(context.Background())

	// Nothing lost: the batch is back on the buffer for the next tick.
	require.Len(t, queues.audit, 1)
}

func TestAuditWorkerWithoutArchive(t *testing.T) {
	worker, queues, _ := newAuditFixture(nil)
	// nil store means ClickHouse is disabled; flushing drains the buffer.
	worker.auditLog = nil

	queues.PushAudit(context.Background(), &model.AuditEvent{Event: model.EventHashGen, Details: map[string]interface{}{}})
	worker.Flush(context.Background())

	assert.Empty(t, queues.audit)
}
