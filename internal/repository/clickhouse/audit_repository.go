package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

const insertQuery = `INSERT INTO sms_bridge_logs (event, details, timestamp)`

// AuditRepository archives audit events append-only. Rows are never updated
// or deleted; retention is handled by the table's TTL.
type AuditRepository struct {
	ch *client.ClickHouseClient
}

func NewAuditRepository(ch *client.ClickHouseClient) *AuditRepository {
	return &AuditRepository{ch: ch}
}

// EnsureSchema creates the audit table when missing.
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err := r.ch.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sms_bridge_logs (
			event     LowCardinality(String),
			details   String,
			timestamp DateTime64(3, 'UTC')
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (event, timestamp)
		TTL toDateTime(timestamp) + INTERVAL 180 DAY
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure audit table: %w", err)
	}
	return nil
}

func (r *AuditRepository) InsertBatch(ctx context.Context, events []*model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows := make([][]interface{}, 0, len(events))
	for _, event := range events {
		details, err := json.Marshal(event.Details)
		if err != nil {
			util.Warn("Dropping audit event with unencodable details",
				zap.String("event", event.Event),
				zap.Error(err))
			continue
		}
		rows = append(rows, []interface{}{event.Event, string(details), event.Timestamp})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := r.ch.BatchInsert(ctx, insertQuery, rows); err != nil {
		return fmt.Errorf("failed to insert audit batch: %w", err)
	}

	util.Debug("Audit batch archived", zap.Int("events", len(rows)))
	return nil
}
