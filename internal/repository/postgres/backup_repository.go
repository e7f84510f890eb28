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

// BackupRepository keeps a durable last-resort copy of collected credentials,
// written from the cold path so a lost sync queue never loses a user.
type BackupRepository struct {
	pg *client.PostgresClient
}

func NewBackupRepository(pg *client.PostgresClient) *BackupRepository {
	return &BackupRepository{pg: pg}
}

func (r *BackupRepository) Upsert(ctx context.Context, cred *model.BackupCredential) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.pg.Pool.Exec(ctx,
		`INSERT INTO backup_users (mobile, pin_hash, token)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (mobile, token) DO UPDATE SET
		 	pin_hash = EXCLUDED.pin_hash,
		 	created_at = NOW()`,
		cred.Mobile, cred.PINHash, cred.Token)
	if err != nil {
		return fmt.Errorf("failed to upsert backup credential: %w", err)
	}

	util.Debug("Backup credential stored",
		zap.String("mobile", util.MaskMobile(cred.Mobile)),
		zap.String("token", util.MaskToken(cred.Token)))
	return nil
}
