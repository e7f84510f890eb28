package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// PowerDownRepository persists fast-store snapshots taken when the fast store
// goes down. Rows are written once per outage and deleted after replay.
type PowerDownRepository struct {
	pg *client.PostgresClient
}

func NewPowerDownRepository(pg *client.PostgresClient) *PowerDownRepository {
	return &PowerDownRepository{pg: pg}
}

// SaveRecords upserts the snapshot. Upsert rather than insert: a flapping
// fast store can trigger two dumps before a recovery clears the table.
func (r *PowerDownRepository) SaveRecords(ctx context.Context, records []*model.PowerDownRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := r.pg.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, record := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO power_down_store (key_name, key_type, value, original_ttl_seconds)
			 VALUES ($1, $2, to_jsonb($3::text), $4)
			 ON CONFLICT (key_name) DO UPDATE SET
			 	key_type = EXCLUDED.key_type,
			 	value = EXCLUDED.value,
			 	original_ttl_seconds = EXCLUDED.original_ttl_seconds,
			 	created_at = NOW()`,
			record.KeyName, record.KeyType, record.Value, record.OriginalTTL)
		if err != nil {
			return fmt.Errorf("failed to save snapshot record %s: %w", record.KeyName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	util.Info("Fast-store snapshot persisted", zap.Int("records", len(records)))
	return nil
}

func (r *PowerDownRepository) LoadRecords(ctx context.Context) ([]*model.PowerDownRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := r.pg.Pool.Query(ctx,
		`SELECT key_name, key_type, value #>> '{}', original_ttl_seconds, created_at
		 FROM power_down_store ORDER BY key_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot records: %w", err)
	}
	defer rows.Close()

	var records []*model.PowerDownRecord
	for rows.Next() {
		record := &model.PowerDownRecord{}
		if err := rows.Scan(&record.KeyName, &record.KeyType, &record.Value,
			&record.OriginalTTL, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}
	return records, nil
}

func (r *PowerDownRepository) DeleteAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tag, err := r.pg.Pool.Exec(ctx, `DELETE FROM power_down_store`)
	if err != nil {
		return fmt.Errorf("failed to clear snapshot table: %w", err)
	}

	util.Info("Fast-store snapshot cleared", zap.Int64("rows", tag.RowsAffected()))
	return nil
}
