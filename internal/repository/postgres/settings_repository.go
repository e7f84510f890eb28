package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sms-bridge/internal/client"
	"sms-bridge/internal/util"
)

// ErrNoActiveSettings is returned when settings_history has no active row and
// the service should run on static configuration.
var ErrNoActiveSettings = errors.New("no active settings version")

// SettingsRepository reads and writes versioned settings payloads. Exactly
// one row is active at a time; activating a new version deactivates the rest
// in the same transaction.
type SettingsRepository struct {
	pg *client.PostgresClient
}

func NewSettingsRepository(pg *client.PostgresClient) *SettingsRepository {
	return &SettingsRepository{pg: pg}
}

// LoadActive returns the active settings version and its raw JSON payload.
func (r *SettingsRepository) LoadActive(ctx context.Context) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var version int
	var raw []byte
	err := r.pg.Pool.QueryRow(ctx,
		`SELECT version_id, payload FROM settings_history WHERE is_active LIMIT 1`).
		Scan(&version, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrNoActiveSettings
		}
		return 0, nil, fmt.Errorf("failed to load active settings: %w", err)
	}
	return version, raw, nil
}

// SaveAndActivate stores a new payload as the active version and returns its
// version id.
func (r *SettingsRepository) SaveAndActivate(ctx context.Context, raw []byte, createdBy, note string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.pg.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin settings transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE settings_history SET is_active = FALSE WHERE is_active`); err != nil {
		return 0, fmt.Errorf("failed to deactivate settings: %w", err)
	}

	var version int
	err = tx.QueryRow(ctx,
		`INSERT INTO settings_history (payload, is_active, created_by, change_note)
		 VALUES ($1, TRUE, $2, $3)
		 RETURNING version_id`,
		raw, createdBy, note).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to insert settings version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit settings version: %w", err)
	}

	util.Info("Settings version activated",
		zap.Int("version", version),
		zap.String("created_by", createdBy))
	return version, nil
}
