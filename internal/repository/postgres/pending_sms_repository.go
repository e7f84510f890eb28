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

// PendingSMSRepository captures inbound SMS while the fast store is down.
// Rows are replayed through the validation pipeline on recovery, then
// deleted.
type PendingSMSRepository struct {
	pg *client.PostgresClient
}

func NewPendingSMSRepository(pg *client.PostgresClient) *PendingSMSRepository {
	return &PendingSMSRepository{pg: pg}
}

func (r *PendingSMSRepository) Append(ctx context.Context, sms *model.PendingSMS) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.pg.Pool.Exec(ctx,
		`INSERT INTO pending_sms (message_id, mobile, body, received_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id) DO NOTHING`,
		sms.MessageID, sms.Mobile, sms.Body, sms.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to append pending SMS: %w", err)
	}

	util.Info("Inbound SMS captured for replay",
		zap.String("message_id", sms.MessageID),
		zap.String("mobile", util.MaskMobile(sms.Mobile)))
	return nil
}

func (r *PendingSMSRepository) LoadAll(ctx context.Context) ([]*model.PendingSMS, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := r.pg.Pool.Query(ctx,
		`SELECT message_id, mobile, body, received_at
		 FROM pending_sms ORDER BY received_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending SMS: %w", err)
	}
	defer rows.Close()

	var pending []*model.PendingSMS
	for rows.Next() {
		sms := &model.PendingSMS{}
		if err := rows.Scan(&sms.MessageID, &sms.Mobile, &sms.Body, &sms.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending SMS row: %w", err)
		}
		pending = append(pending, sms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending SMS rows: %w", err)
	}
	return pending, nil
}

func (r *PendingSMSRepository) Delete(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tag, err := r.pg.Pool.Exec(ctx,
		`DELETE FROM pending_sms WHERE message_id = ANY($1)`, messageIDs)
	if err != nil {
		return fmt.Errorf("failed to delete pending SMS: %w", err)
	}

	util.Info("Replayed SMS deleted", zap.Int64("rows", tag.RowsAffected()))
	return nil
}
