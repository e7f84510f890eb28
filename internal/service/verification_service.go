package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/service/validation"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
)

// VerificationService processes inbound SMS through the validation pipeline
// and consumes verification flags on credential submission.
type VerificationService struct {
	pipeline      *validation.Pipeline
	settings      *settings.Store
	challenges    model.ChallengeCache
	verifications model.VerificationCache
	pending       model.PendingSMSStore
	auditor       *Auditor
	gate          FallbackGate
}

func NewVerificationService(pipeline *validation.Pipeline, store *settings.Store,
	challenges model.ChallengeCache, verifications model.VerificationCache,
	pending model.PendingSMSStore, auditor *Auditor) *VerificationService {

	return &VerificationService{
		pipeline:      pipeline,
		settings:      store,
		challenges:    challenges,
		verifications: verifications,
		pending:       pending,
		auditor:       auditor,
	}
}

// SetGate wires the availability gate. The gate's owner replays captured SMS
// through this service, so it is constructed after it.
func (s *VerificationService) SetGate(gate FallbackGate) {
	s.gate = gate
}

func (s *VerificationService) fallbackActive() bool {
	return s.gate != nil && s.gate.FallbackActive()
}

// ReceiveSMS validates one inbound message. While the fast store is down the
// message is captured durably instead and ErrFallbackActive is returned; the
// gateway gets a 202 and the message is replayed on recovery.
func (s *VerificationService) ReceiveSMS(ctx context.Context, sms *model.InboundSMS) (*validation.Result, error) {
	if s.fallbackActive() {
		if err := s.pending.Append(ctx, &model.PendingSMS{
			MessageID:  sms.MessageID,
			Mobile:     util.NormalizeMobile(sms.Mobile),
			Body:       sms.Body,
			ReceivedAt: sms.ReceivedAt,
		}); err != nil {
			return nil, err
		}
		return nil, ErrFallbackActive
	}
	return s.process(ctx, sms)
}

// ReplaySMS runs a captured message through the pipeline during recovery.
// The fallback gate is deliberately not consulted: replay happens before the
// manager returns to normal operation.
func (s *VerificationService) ReplaySMS(ctx context.Context, sms *model.PendingSMS) error {
	_, err := s.process(ctx, &model.InboundSMS{
		MessageID:  sms.MessageID,
		Mobile:     sms.Mobile,
		Body:       sms.Body,
		ReceivedAt: sms.ReceivedAt,
	})
	return err
}

func (s *VerificationService) process(ctx context.Context, sms *model.InboundSMS) (*validation.Result, error) {
	snap := s.settings.Current()
	mobile := util.NormalizeMobile(sms.Mobile)

	result, err := s.pipeline.Run(ctx, snap, mobile, sms.Body)
	if err != nil {
		return nil, err
	}

	if !result.Passed {
		s.auditor.Emit(ctx, model.EventSMSFailed, map[string]interface{}{
			"mobile":       util.MaskMobile(mobile),
			"failed_stage": result.FailedStage.String(),
			"stages":       result.StageVector(),
		})
		return result, nil
	}

	if err := s.challenges.ConsumeChallenge(ctx, result.Token, mobile, snap.VerifiedTTL); err != nil {
		if errors.Is(err, model.ErrChallengeNotFound) {
			// Consumed between lookup and consume; report it as a token
			// lookup failure so the caller sees a coherent vector.
			result.Passed = false
			result.FailedStage = validation.StageTokenLookup
			for i := range result.Stages {
				if result.Stages[i].Stage == validation.StageTokenLookup {
					result.Stages[i].Status = validation.StatusFail
					result.Stages[i].Reason = "unknown or expired token"
				}
			}
			s.auditor.Emit(ctx, model.EventSMSFailed, map[string]interface{}{
				"mobile":       util.MaskMobile(mobile),
				"failed_stage": result.FailedStage.String(),
				"stages":       result.StageVector(),
			})
			return result, nil
		}
		return nil, err
	}

	s.auditor.Emit(ctx, model.EventSMSVerified, map[string]interface{}{
		"mobile": util.MaskMobile(mobile),
		"token":  util.MaskToken(result.Token),
	})

	util.Info("Mobile verified",
		zap.String("mobile", util.MaskMobile(mobile)),
		zap.String("message_id", sms.MessageID))
	return result, nil
}

// SubmitPIN consumes the verification flag exactly once and queues the
// credential for sync. Absent flag and token mismatch are indistinguishable
// to the caller.
func (s *VerificationService) SubmitPIN(ctx context.Context, mobile, pin, token string) error {
	if s.fallbackActive() {
		return ErrFallbackActive
	}

	mobile = util.NormalizeMobile(mobile)
	if !util.IsValidMobile(mobile) {
		return ErrInvalidMobile
	}

	item := &model.SyncItem{Mobile: mobile, PIN: pin, Token: token}
	if err := s.verifications.ConsumeVerification(ctx, mobile, token, item); err != nil {
		if errors.Is(err, model.ErrVerificationNotFound) || errors.Is(err, model.ErrTokenMismatch) {
			return ErrNotVerified
		}
		return err
	}

	// The cold-path worker reads the PIN from this event to build the
	// durable backup row, then strips it before archiving.
	s.auditor.Emit(ctx, model.EventPINCollected, map[string]interface{}{
		"mobile": mobile,
		"token":  token,
		"pin":    pin,
	})

	util.Info("Credential collected",
		zap.String("mobile", util.MaskMobile(mobile)),
		zap.String("token", util.MaskToken(token)))
	return nil
}
