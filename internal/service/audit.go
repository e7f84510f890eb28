package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// Auditor buffers audit events on the cold path. Emission is best-effort: a
// full or unreachable buffer must never fail the request that produced the
// event.
type Auditor struct {
	queues model.QueueCache
}

func NewAuditor(queues model.QueueCache) *Auditor {
	return &Auditor{queues: queues}
}

func (a *Auditor) Emit(ctx context.Context, event string, details map[string]interface{}) {
	err := a.queues.PushAudit(ctx, &model.AuditEvent{
		Event:     event,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		util.Warn("Failed to buffer audit event",
			zap.String("event", event),
			zap.Error(err))
	}
}
