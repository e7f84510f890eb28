package service

import (
	"context"

	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// BlacklistService mutates the authoritative durable blacklist and rebuilds
// the fast-store set after every change.
type BlacklistService struct {
	store   model.BlacklistStore
	cache   model.BlacklistCache
	auditor *Auditor
}

func NewBlacklistService(store model.BlacklistStore, cache model.BlacklistCache, auditor *Auditor) *BlacklistService {
	return &BlacklistService{store: store, cache: cache, auditor: auditor}
}

func (s *BlacklistService) Add(ctx context.Context, mobile, reason, createdBy string) error {
	mobile = util.NormalizeMobile(mobile)
	if !util.IsValidMobile(mobile) {
		return ErrInvalidMobile
	}

	if err := s.store.Add(ctx, &model.BlacklistEntry{
		Mobile:    mobile,
		Reason:    reason,
		CreatedBy: createdBy,
	}); err != nil {
		return err
	}

	if err := s.ReloadCache(ctx); err != nil {
		return err
	}

	s.auditor.Emit(ctx, model.EventBlacklistUpdated, map[string]interface{}{
		"action": "add",
		"mobile": util.MaskMobile(mobile),
	})
	return nil
}

func (s *BlacklistService) Remove(ctx context.Context, mobile string) error {
	mobile = util.NormalizeMobile(mobile)

	if err := s.store.Remove(ctx, mobile); err != nil {
		return err
	}
	if err := s.ReloadCache(ctx); err != nil {
		return err
	}

	s.auditor.Emit(ctx, model.EventBlacklistUpdated, map[string]interface{}{
		"action": "remove",
		"mobile": util.MaskMobile(mobile),
	})
	return nil
}

// ReloadCache rebuilds the fast-store set from the durable table. Called at
// startup, after recovery, and after every mutation.
func (s *BlacklistService) ReloadCache(ctx context.Context) error {
	mobiles, err := s.store.ListMobiles(ctx)
	if err != nil {
		return err
	}
	if err := s.cache.Reload(ctx, mobiles); err != nil {
		return err
	}

	util.Debug("Blacklist cache rebuilt", zap.Int("mobiles", len(mobiles)))
	return nil
}
