package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sms-bridge/internal/config"
	"sms-bridge/internal/repository/postgres"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
)

// SettingsService loads and activates versioned runtime settings. Readers
// always see a whole snapshot; activation swaps the pointer once the new
// version is durably committed.
type SettingsService struct {
	cfg   *config.Config
	repo  *postgres.SettingsRepository
	store *settings.Store
}

func NewSettingsService(cfg *config.Config, repo *postgres.SettingsRepository, store *settings.Store) *SettingsService {
	return &SettingsService{cfg: cfg, repo: repo, store: store}
}

// Load reads the active settings version and swaps it in. With no active row
// the service runs on static configuration defaults.
func (s *SettingsService) Load(ctx context.Context) error {
	version, raw, err := s.repo.LoadActive(ctx)
	if err != nil {
		if errors.Is(err, postgres.ErrNoActiveSettings) {
			util.Info("No stored settings; using configuration defaults")
			return nil
		}
		return err
	}

	snap, err := settings.FromPayload(settings.Default(s.cfg), version, raw)
	if err != nil {
		return fmt.Errorf("failed to apply settings version %d: %w", version, err)
	}

	s.store.Swap(snap)
	util.Info("Settings loaded", zap.Int("version", version))
	return nil
}

// Update validates, persists and activates a new settings payload, then
// swaps the live snapshot. Returns the new version id.
func (s *SettingsService) Update(ctx context.Context, raw json.RawMessage, createdBy, note string) (int, error) {
	// Reject payloads the overlay cannot apply before persisting them.
	if _, err := settings.FromPayload(settings.Default(s.cfg), 0, raw); err != nil {
		return 0, err
	}

	version, err := s.repo.SaveAndActivate(ctx, raw, createdBy, note)
	if err != nil {
		return 0, err
	}

	snap, err := settings.FromPayload(settings.Default(s.cfg), version, raw)
	if err != nil {
		return 0, err
	}
	s.store.Swap(snap)

	util.Info("Settings updated", zap.Int("version", version), zap.String("created_by", createdBy))
	return version, nil
}
