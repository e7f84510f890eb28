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

// BlacklistRepository owns the authoritative blocked-mobile table. The fast
// store carries only a derived copy.
type BlacklistRepository struct {
	pg *client.PostgresClient
}

func NewBlacklistRepository(pg *client.PostgresClient) *BlacklistRepository {
	return &BlacklistRepository{pg: pg}
}

func (r *BlacklistRepository) ListMobiles(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.pg.Pool.Query(ctx, `SELECT mobile FROM blacklist_mobiles ORDER BY mobile`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	defer rows.Close()

	var mobiles []string
	for rows.Next() {
		var mobile string
		if err := rows.Scan(&mobile); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist row: %w", err)
		}
		mobiles = append(mobiles, mobile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blacklist rows: %w", err)
	}
	return mobiles, nil
}

func (r *BlacklistRepository) Add(ctx context.Context, entry *model.BlacklistEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.pg.Pool.Exec(ctx,
		`INSERT INTO blacklist_mobiles (mobile, reason, created_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (mobile) DO UPDATE SET reason = EXCLUDED.reason, created_by = EXCLUDED.created_by`,
		entry.Mobile, entry.Reason, entry.CreatedBy)
	if err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}

	util.Info("Blacklist entry added",
		zap.String("mobile", util.MaskMobile(entry.Mobile)),
		zap.String("created_by", entry.CreatedBy))
	return nil
}

func (r *BlacklistRepository) Remove(ctx context.Context, mobile string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pg.Pool.Exec(ctx, `DELETE FROM blacklist_mobiles WHERE mobile = $1`, mobile)
	if err != nil {
		return fmt.Errorf("failed to remove blacklist entry: %w", err)
	}

	util.Info("Blacklist entry removed",
		zap.String("mobile", util.MaskMobile(mobile)),
		zap.Int64("rows", tag.RowsAffected()))
	return nil
}
